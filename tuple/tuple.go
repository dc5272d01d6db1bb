// Package tuple implements the order-preserving byte/tuple codec (spec
// §4.A): packing a typed sequence of field values into a byte string whose
// lexicographic order matches the tuple's natural per-field order, with an
// exact inverse unpack.
package tuple

import (
	"github.com/google/uuid"
)

// Tuple is an ordered sequence of values drawn from the supported element
// set: int64, string, []byte, uuid.UUID, bool, Tuple (nested), or nil.
type Tuple []any

// type tags. Ordering across tags matters: it defines the cross-type sort
// order used when tuples of differing shape are compared (same-schema
// comparisons, the only ones the engine relies on for correctness per
// spec §4.A, stay within one tag and are governed by that tag's encoding).
const (
	tagNull  byte = 0x00
	tagBytes byte = 0x01
	tagString byte = 0x02
	tagNestedStart byte = 0x05
	tagNestedEnd   byte = 0x06
	tagInt   byte = 0x0c
	tagFalse byte = 0x26
	tagTrue  byte = 0x27
	tagUUID  byte = 0x30
)

const escapeByte = 0x00
const escapeFollow = 0xff
const terminator = 0x00

// Pack encodes t into an order-preserving byte string.
func Pack(t Tuple) []byte {
	var out []byte
	for _, v := range t {
		out = appendValue(out, v)
	}
	return out
}

// PackOne encodes a single value as it would appear embedded in a Tuple;
// used by the record encoder's covering-value bitmap (spec §4.D), which
// packs fields one at a time rather than as a single combined tuple.
func PackOne(v any) []byte {
	return appendValue(nil, v)
}

// UnpackOne decodes a single leading value from b, returning the decoded
// value and the unconsumed remainder.
func UnpackOne(b []byte) (any, []byte, error) {
	return unpackValue(b)
}

func appendValue(out []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		out = append(out, tagNull)
	case int64:
		out = append(out, tagInt)
		out = appendUint64(out, uint64(x)^signBit)
	case int:
		return appendValue(out, int64(x))
	case string:
		out = append(out, tagString)
		out = appendEscaped(out, []byte(x))
		out = append(out, terminator)
	case []byte:
		out = append(out, tagBytes)
		out = appendEscaped(out, x)
		out = append(out, terminator)
	case bool:
		if x {
			out = append(out, tagTrue)
		} else {
			out = append(out, tagFalse)
		}
	case uuid.UUID:
		out = append(out, tagUUID)
		out = append(out, x[:]...)
	case Tuple:
		out = append(out, tagNestedStart)
		for _, e := range x {
			out = appendValue(out, e)
		}
		out = append(out, tagNestedEnd)
	default:
		panic(&MalformedTupleError{Reason: "unsupported element type"})
	}
	return out
}

const signBit = uint64(1) << 63

func appendUint64(out []byte, v uint64) []byte {
	return append(out,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// appendEscaped writes b with every 0x00 byte doubled to 0x00 0xFF so that
// the terminator (a lone 0x00) remains unambiguous and the escaped form
// still sorts correctly relative to other escaped strings.
func appendEscaped(out, b []byte) []byte {
	for _, c := range b {
		out = append(out, c)
		if c == escapeByte {
			out = append(out, escapeFollow)
		}
	}
	return out
}

// MalformedTupleError is returned by Unpack when the input bytes do not
// conform to the tuple wire format (spec §4.A).
type MalformedTupleError struct {
	Reason string
}

func (e *MalformedTupleError) Error() string {
	return "malformed tuple: " + e.Reason
}

// Unpack decodes a byte string produced by Pack back into a Tuple.
func Unpack(b []byte) (Tuple, error) {
	t, rest, err := unpackSequence(b, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &MalformedTupleError{Reason: "trailing bytes"}
	}
	return t, nil
}

// unpackSequence decodes values until input is exhausted (nested=false) or
// a tagNestedEnd is encountered (nested=true), returning unconsumed bytes.
func unpackSequence(b []byte, nested bool) (Tuple, []byte, error) {
	var out Tuple
	for len(b) > 0 {
		if nested && b[0] == tagNestedEnd {
			return out, b[1:], nil
		}
		v, rest, err := unpackValue(b)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, v)
		b = rest
	}
	if nested {
		return nil, nil, &MalformedTupleError{Reason: "unterminated nested tuple"}
	}
	return out, b, nil
}

func unpackValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, &MalformedTupleError{Reason: "empty input"}
	}
	tag := b[0]
	b = b[1:]
	switch tag {
	case tagNull:
		return nil, b, nil
	case tagFalse:
		return false, b, nil
	case tagTrue:
		return true, b, nil
	case tagInt:
		if len(b) < 8 {
			return nil, nil, &MalformedTupleError{Reason: "truncated int"}
		}
		var u uint64
		for i := 0; i < 8; i++ {
			u = u<<8 | uint64(b[i])
		}
		return int64(u ^ signBit), b[8:], nil
	case tagUUID:
		if len(b) < 16 {
			return nil, nil, &MalformedTupleError{Reason: "truncated uuid"}
		}
		var id uuid.UUID
		copy(id[:], b[:16])
		return id, b[16:], nil
	case tagBytes, tagString:
		raw, rest, err := unescapeUntilTerminator(b)
		if err != nil {
			return nil, nil, err
		}
		if tag == tagString {
			return string(raw), rest, nil
		}
		return raw, rest, nil
	case tagNestedStart:
		inner, rest, err := unpackSequence(b, true)
		if err != nil {
			return nil, nil, err
		}
		if inner == nil {
			inner = Tuple{}
		}
		return inner, rest, nil
	default:
		return nil, nil, &MalformedTupleError{Reason: "unknown type tag"}
	}
}

func unescapeUntilTerminator(b []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == escapeByte {
			if i+1 < len(b) && b[i+1] == escapeFollow {
				out = append(out, escapeByte)
				i++
				continue
			}
			// lone 0x00 is the terminator, including one that ends the input
			return out, b[i+1:], nil
		}
		out = append(out, c)
	}
	return nil, nil, &MalformedTupleError{Reason: "unterminated string/bytes"}
}
