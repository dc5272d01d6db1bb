// Package directory adapts the record storage engine onto a directory
// layer (spec §4.E): static and dynamic (partitioned) record-type paths
// resolve to byte-prefix subspaces, cached after first resolution.
package directory

import (
	"context"
	"encoding/binary"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/tuple"
)

// Path is a directory path — a sequence of logical path segments, mirroring
// opa/storage.Path's []string shape (see DESIGN.md).
type Path []string

func (p Path) key() string { return strings.Join(p, "/") }

// Template is a record type's declared directory path, where any segment
// of the form "{field}" is a partition placeholder resolved at query time
// from a Binding.
type Template []string

// Binding maps a partition field's key to its concrete string value for one
// Resolve call.
type Binding map[string]string

// Resolve substitutes every "{field}" placeholder in t using binding,
// failing with MissingPartitionBinding if any placeholder is unbound.
func (t Template) Resolve(binding Binding) (Path, error) {
	out := make(Path, len(t))
	for i, seg := range t {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			field := seg[1 : len(seg)-1]
			v, ok := binding[field]
			if !ok {
				return nil, engineerr.New(engineerr.MissingPartitionBinding,
					"directory path requires a binding for partition field",
					"field", field, "template", []string(t))
			}
			out[i] = v
		} else {
			out[i] = seg
		}
	}
	return out, nil
}

// IsDynamic reports whether the template contains any partition
// placeholder.
func (t Template) IsDynamic() bool {
	for _, seg := range t {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			return true
		}
	}
	return false
}

const metaKeyPrefix = "\x00_dir_meta\x00"

// counterKeySuffix names the reserved meta key holding the high-water mark
// of allocated directory IDs. It is read-then-incremented inside the same
// transaction as each allocation, so the allocator's durable state — not a
// process-local counter — is the single source of truth for "has this ID
// ever been handed out", the way a store-lifetime FDB-style directory layer
// allocates fresh prefixes (spec glossary: "directory layer").
const counterKeySuffix = "\x00_dir_counter\x00"

// Layer maps string path tuples to byte-prefix subspaces, persisting the
// allocation table (and the ID high-water mark) under root and caching
// resolved prefixes in-process (spec §4.E).
type Layer struct {
	root  []byte
	cache *lru.Cache[string, []byte]
}

// New returns a Layer whose own bookkeeping lives under root. The ID
// high-water mark is read back from store-durable state on each
// allocation rather than cached here, so a second New() against the same
// underlying store (e.g. after a process restart) can never hand out a
// prefix already allocated by a prior process run.
func New(root []byte, cacheSize int) (*Layer, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Layer{root: root, cache: c}, nil
}

func (l *Layer) counterKey() []byte {
	return append(append([]byte{}, l.root...), []byte(counterKeySuffix)...)
}

func (l *Layer) metaKey(path Path) []byte {
	return append(append([]byte{}, l.root...), append([]byte(metaKeyPrefix), tuple.Pack(toTuple(path))...)...)
}

func toTuple(path Path) tuple.Tuple {
	t := make(tuple.Tuple, len(path))
	for i, s := range path {
		t[i] = s
	}
	return t
}

// lookup returns the persisted prefix for path, or nil if not allocated.
func (l *Layer) lookup(ctx context.Context, txn kv.Transaction, path Path) ([]byte, error) {
	if v, ok := l.cache.Get(path.key()); ok {
		return v, nil
	}
	v, err := txn.GetValue(ctx, l.metaKey(path), false)
	if err != nil || v == nil {
		return nil, err
	}
	l.cache.Add(path.key(), v)
	return v, nil
}

// nextID reads the persisted high-water mark (non-snapshot, so concurrent
// allocations conflict rather than silently reusing an ID), increments it,
// and writes the new mark back within the same transaction as the caller's
// allocation.
func (l *Layer) nextID(ctx context.Context, txn kv.Transaction) (int64, error) {
	raw, err := txn.GetValue(ctx, l.counterKey(), false)
	if err != nil {
		return 0, err
	}
	var id int64
	if len(raw) == 8 {
		id = int64(binary.BigEndian.Uint64(raw))
	}
	id++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	txn.SetValue(l.counterKey(), buf[:])
	return id, nil
}

func (l *Layer) allocate(ctx context.Context, txn kv.Transaction, path Path) ([]byte, error) {
	id, err := l.nextID(ctx, txn)
	if err != nil {
		return nil, err
	}
	prefix := tuple.Pack(tuple.Tuple{id})
	prefix = append(append([]byte{}, l.root...), append([]byte("\x00_dir\x00"), prefix...)...)
	txn.SetValue(l.metaKey(path), prefix)
	l.cache.Add(path.key(), prefix)
	return prefix, nil
}

// GetOrOpen resolves path to its subspace prefix, allocating one on first
// use.
func (l *Layer) GetOrOpen(ctx context.Context, txn kv.Transaction, path Path) ([]byte, error) {
	if p, err := l.lookup(ctx, txn, path); err != nil || p != nil {
		return p, err
	}
	return l.allocate(ctx, txn, path)
}

// CreateDirectory allocates path's prefix, failing if it already exists.
func (l *Layer) CreateDirectory(ctx context.Context, txn kv.Transaction, path Path) ([]byte, error) {
	if p, err := l.lookup(ctx, txn, path); err != nil {
		return nil, err
	} else if p != nil {
		return nil, engineerr.New(engineerr.DirectoryPathError, "directory already exists", "path", []string(path))
	}
	return l.allocate(ctx, txn, path)
}

// OpenDirectory resolves path's existing prefix, failing if absent.
func (l *Layer) OpenDirectory(ctx context.Context, txn kv.Transaction, path Path) ([]byte, error) {
	p, err := l.lookup(ctx, txn, path)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, engineerr.New(engineerr.DirectoryPathError, "directory does not exist", "path", []string(path))
	}
	return p, nil
}

// DirectoryExists reports whether path has been allocated.
func (l *Layer) DirectoryExists(ctx context.Context, txn kv.Transaction, path Path) (bool, error) {
	p, err := l.lookup(ctx, txn, path)
	return p != nil, err
}

// MoveDirectory re-binds path's logical name to newPath, preserving the
// underlying prefix (and therefore all physically-stored data) in place.
func (l *Layer) MoveDirectory(ctx context.Context, txn kv.Transaction, path, newPath Path) error {
	p, err := l.lookup(ctx, txn, path)
	if err != nil {
		return err
	}
	if p == nil {
		return engineerr.New(engineerr.DirectoryPathError, "directory does not exist", "path", []string(path))
	}
	if exists, err := l.DirectoryExists(ctx, txn, newPath); err != nil {
		return err
	} else if exists {
		return engineerr.New(engineerr.DirectoryPathError, "target directory already exists", "path", []string(newPath))
	}

	txn.Clear(l.metaKey(path))
	l.cache.Remove(path.key())
	txn.SetValue(l.metaKey(newPath), p)
	l.cache.Add(newPath.key(), p)
	return nil
}

// RemoveDirectory recursively removes path, every directory below it, and
// all data physically stored under their prefixes.
func (l *Layer) RemoveDirectory(ctx context.Context, txn kv.Transaction, path Path) error {
	p, err := l.lookup(ctx, txn, path)
	if err != nil {
		return err
	}
	if p == nil {
		return engineerr.New(engineerr.DirectoryPathError, "directory does not exist", "path", []string(path))
	}
	begin := l.metaKey(path)
	it := txn.GetRange(ctx, begin, append(append([]byte{}, begin...), 0xff), false, false, 0)
	var found []kv.KeyValue
	for it.Next(ctx) {
		found = append(found, it.KeyValue())
	}
	iterErr := it.Err()
	it.Close()
	if iterErr != nil {
		return iterErr
	}
	for _, e := range found {
		txn.ClearRange(e.Value, append(append([]byte{}, e.Value...), 0xff))
		txn.Clear(e.Key)
	}
	l.cache.Purge()
	return nil
}
