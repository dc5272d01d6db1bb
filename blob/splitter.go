package blob

import (
	"context"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
)

// Config configures a Splitter (spec §6: Split config).
type Config struct {
	MaxValueSize int
	Enabled      bool
}

// DefaultConfig matches spec §4.B's default maxValueSize (~90 KiB).
func DefaultConfig() Config {
	return Config{MaxValueSize: 90 * 1024, Enabled: true}
}

// Splitter writes/reads/deletes a possibly-split value. baseKey holds the
// whole value (enabled=false, or enabled with a value at or below
// MaxValueSize) or a header (enabled with a larger value); partPrefix is
// the key prefix under which numbered parts live when split.
type Splitter struct {
	cfg Config
}

func New(cfg Config) *Splitter {
	return &Splitter{cfg: cfg}
}

// Write stores v at baseKey, splitting across partPrefix.<i> if needed.
// Any previously-written parts under partPrefix are cleared first (spec
// §4.B: "Overwrite must delete previous parts before writing new ones").
func (s *Splitter) Write(ctx context.Context, txn kv.Transaction, baseKey, partPrefix []byte, v []byte) error {
	s.clearParts(ctx, txn, partPrefix)

	if !s.cfg.Enabled || len(v) <= s.cfg.MaxValueSize {
		txn.SetValue(baseKey, v)
		return nil
	}

	partSize := s.cfg.MaxValueSize
	if partSize <= 0 {
		partSize = 1
	}
	partCount := (len(v) + partSize - 1) / partSize
	if partCount > maxParts {
		return engineerr.New(engineerr.ValueTooLarge, "value requires more than the maximum number of parts",
			"parts", partCount, "max", maxParts)
	}

	h := header{totalLength: uint32(len(v)), partCount: uint16(partCount)}
	txn.SetValue(baseKey, h.encode())

	for i := 0; i < partCount; i++ {
		start := i * partSize
		end := start + partSize
		if end > len(v) {
			end = len(v)
		}
		txn.SetValue(partKey(partPrefix, uint16(i)), v[start:end])
	}
	return nil
}

// Read reassembles the value at baseKey, returning nil if absent.
func (s *Splitter) Read(ctx context.Context, txn kv.Transaction, baseKey, partPrefix []byte) ([]byte, error) {
	raw, err := txn.GetValue(ctx, baseKey, false)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	h, split := decodeHeader(raw)
	if !split {
		return raw, nil
	}

	out := make([]byte, 0, h.totalLength)
	for i := uint16(0); i < h.partCount; i++ {
		part, err := txn.GetValue(ctx, partKey(partPrefix, i), false)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

// Delete removes the base key and sweeps all parts under partPrefix.
func (s *Splitter) Delete(ctx context.Context, txn kv.Transaction, baseKey, partPrefix []byte) error {
	txn.Clear(baseKey)
	s.clearParts(ctx, txn, partPrefix)
	return nil
}

func (s *Splitter) clearParts(ctx context.Context, txn kv.Transaction, partPrefix []byte) {
	end := append(append([]byte{}, partPrefix...), 0xff, 0xff)
	txn.ClearRange(partPrefix, end)
}

// IsSplit reports whether the value at baseKey is currently stored split.
func (s *Splitter) IsSplit(ctx context.Context, txn kv.Transaction, baseKey []byte) (bool, error) {
	raw, err := txn.GetValue(ctx, baseKey, false)
	if err != nil {
		return false, err
	}
	_, split := decodeHeader(raw)
	return split, nil
}

// GetSize returns the logical size of the value at baseKey without reading
// the parts, using the header's total-length field when split.
func (s *Splitter) GetSize(ctx context.Context, txn kv.Transaction, baseKey []byte) (int, error) {
	raw, err := txn.GetValue(ctx, baseKey, false)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	if h, split := decodeHeader(raw); split {
		return int(h.totalLength), nil
	}
	return len(raw), nil
}
