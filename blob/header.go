// Package blob implements the large-value splitter (spec §4.B): values
// exceeding a configured maximum are split into a header plus numbered part
// entries; smaller values are stored as a single plain entry.
package blob

import "encoding/binary"

const (
	magicByte      byte = 0xff
	headerVersion  byte = 1
	flagCompressed byte = 1 << 0

	// maxParts is the hard ceiling on part count (spec §4.B: "fails with
	// valueTooLarge if more than 254 parts would be needed").
	maxParts = 254
)

// header is the fixed-layout prefix written at the base key when a value
// has been split (spec §6: "magic byte 0xFF, u8 version, u32 total-length,
// u16 part-count, u8 flags").
type header struct {
	totalLength uint32
	partCount   uint16
	compressed  bool
}

func (h header) encode() []byte {
	buf := make([]byte, 8)
	buf[0] = magicByte
	buf[1] = headerVersion
	binary.BigEndian.PutUint32(buf[2:6], h.totalLength)
	binary.BigEndian.PutUint16(buf[6:8], h.partCount)
	flags := byte(0)
	if h.compressed {
		flags |= flagCompressed
	}
	return append(buf, flags)
}

// decodeHeader returns (h, isSplitHeader). A value that is not a split
// header (no magic byte match) returns isSplitHeader=false so callers can
// treat the bytes as a plain, unsplit value.
func decodeHeader(b []byte) (header, bool) {
	if len(b) != 9 || b[0] != magicByte {
		return header{}, false
	}
	return header{
		totalLength: binary.BigEndian.Uint32(b[2:6]),
		partCount:   binary.BigEndian.Uint16(b[6:8]),
		compressed:  b[8]&flagCompressed != 0,
	}, true
}

func partKey(prefix []byte, part uint16) []byte {
	k := make([]byte, len(prefix)+2)
	copy(k, prefix)
	binary.BigEndian.PutUint16(k[len(prefix):], part)
	return k
}
