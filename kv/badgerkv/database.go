// Package badgerkv implements kv.Database over dgraph-io/badger/v4, the
// reference backend used for local development, embedded deployments, and
// this module's test suite (spec §1: the wire KV store itself is out of
// scope, but an in-process stand-in exercising the same transactional
// range-scan contract is needed to run anything on top of kv.Database).
package badgerkv

import (
	"context"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/recordstore/engine/kv"
)

// Database wraps a *badger.DB as a kv.Database.
type Database struct {
	db  *badger.DB
	xid uint64
}

// Open opens (creating if absent) a badger-backed Database rooted at dir.
// Pass dir == "" for an in-memory (non-persistent) store, suitable for
// tests.
func Open(dir string) (*Database, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrapError(err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return wrapError(d.db.Close())
}

func (d *Database) CreateTransaction(ctx context.Context) (kv.Transaction, error) {
	id := atomic.AddUint64(&d.xid, 1)
	txn := d.db.NewTransaction(true)
	return &transaction{id: id, underlying: txn, iterTracker: &iteratorTracker{}}, nil
}

type iteratorTracker struct {
	mu   sync.Mutex
	open map[*iterator]struct{}
	done chan struct{}
}

func (t *iteratorTracker) register(it *iterator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		t.open = make(map[*iterator]struct{})
	}
	t.open[it] = struct{}{}
}

func (t *iteratorTracker) unregister(it *iterator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, it)
	if len(t.open) == 0 && t.done != nil {
		close(t.done)
		t.done = nil
	}
}

func (t *iteratorTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
