// Package itemstore composes the tuple codec and the blob splitter into
// item-level read/write/delete/exists over a transaction (spec §4.C), with
// transparent zstd compression above a configurable threshold.
package itemstore

import (
	"context"

	"github.com/klauspost/compress/zstd"

	"github.com/recordstore/engine/blob"
	"github.com/recordstore/engine/kv"
)

const (
	rawPrefix        byte = 0x00
	compressedPrefix byte = 0x01
)

// Config configures an ItemStore.
type Config struct {
	Split                 blob.Config
	CompressionThreshold   int // bytes; 0 disables compression
}

// DefaultConfig mirrors the splitter's default and compresses values over
// 1 KiB, matching the pack's folio/erigon-family use of klauspost/compress
// for value-at-rest compression (see DESIGN.md).
func DefaultConfig() Config {
	return Config{Split: blob.DefaultConfig(), CompressionThreshold: 1024}
}

// Store is a single-type's item storage: codec + splitter + compression.
type Store struct {
	cfg      Config
	splitter *blob.Splitter
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func New(cfg Config) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, splitter: blob.New(cfg.Split), encoder: enc, decoder: dec}, nil
}

// Write stores bytes at baseKey (splitting across partPrefix if large),
// compressing first when the plaintext exceeds CompressionThreshold.
func (s *Store) Write(ctx context.Context, txn kv.Transaction, baseKey, partPrefix, value []byte) error {
	framed := s.frame(value)
	return s.splitter.Write(ctx, txn, baseKey, partPrefix, framed)
}

func (s *Store) Read(ctx context.Context, txn kv.Transaction, baseKey, partPrefix []byte) ([]byte, error) {
	framed, err := s.splitter.Read(ctx, txn, baseKey, partPrefix)
	if err != nil || framed == nil {
		return framed, err
	}
	return s.unframe(framed)
}

func (s *Store) Delete(ctx context.Context, txn kv.Transaction, baseKey, partPrefix []byte) error {
	return s.splitter.Delete(ctx, txn, baseKey, partPrefix)
}

func (s *Store) Exists(ctx context.Context, txn kv.Transaction, baseKey []byte) (bool, error) {
	v, err := txn.GetValue(ctx, baseKey, false)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// frame prepends the single-byte raw/compressed header (spec §4.C).
func (s *Store) frame(v []byte) []byte {
	if s.cfg.CompressionThreshold <= 0 || len(v) <= s.cfg.CompressionThreshold {
		return append([]byte{rawPrefix}, v...)
	}
	compressed := s.encoder.EncodeAll(v, make([]byte, 0, len(v)))
	return append([]byte{compressedPrefix}, compressed...)
}

func (s *Store) unframe(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, nil
	}
	header, body := framed[0], framed[1:]
	if header == rawPrefix {
		return body, nil
	}
	return s.decoder.DecodeAll(body, nil)
}
