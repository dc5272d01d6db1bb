// Package kv defines the abstract ordered key-value store contract the
// record storage engine is layered on (spec §6, "Underlying KV store
// interface required"). It is intentionally a pure interface package: the
// underlying store's wire protocol, cluster topology, and storage are out
// of scope (spec §1) — only the transactional, range-scan contract matters
// to everything built on top of it.
package kv

import "context"

// Priority classifies the transaction for the underlying store's scheduler.
type Priority int

const (
	PriorityDefault Priority = iota
	PrioritySystem
	PriorityBatch
)

// ReadPriority classifies read operations within a transaction.
type ReadPriority int

const (
	ReadPriorityNormal ReadPriority = iota
	ReadPriorityHigh
	ReadPriorityLow
)

// Options configures a Transaction per spec §6.
type Options struct {
	Priority           Priority
	ReadPriority       ReadPriority
	TimeoutMs          int
	RetryLimit         int
	MaxRetryDelayMs    int
	ReadCacheDisable   bool
	SnapshotRywDisable bool
	DebugIdentifier    string
	LogTransaction     bool
	Tags               []string
}

// KeyValue is one entry returned by a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Iterator is a lazy, finite, cancellable sequence of key/value pairs
// returned by Transaction.GetRange. Iterators own a background prefetch
// job; Close must unregister it from the owning transaction and cancel any
// outstanding prefetch (spec §5, "Iterators and cancellation").
type Iterator interface {
	// Next advances the iterator. It returns false when the range is
	// exhausted or ctx is done; call Err to distinguish the two.
	Next(ctx context.Context) bool
	KeyValue() KeyValue
	Err() error
	Close()
}

// Transaction is a single strictly-serializable, optimistically-concurrent,
// multi-version transaction handle over the ordered keyspace.
type Transaction interface {
	GetReadVersion(ctx context.Context) (int64, error)
	SetReadVersion(v int64)

	GetValue(ctx context.Context, key []byte, snapshot bool) ([]byte, error)
	SetValue(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	// GetRange returns a half-open [begin, end) range iterator. When
	// reverse is true, entries are yielded from end towards begin.
	GetRange(ctx context.Context, begin, end []byte, snapshot, reverse bool, limit int) Iterator

	AddReadConflictRange(begin, end []byte)
	AddWriteConflictRange(begin, end []byte)

	SetOptions(opts Options)

	Commit(ctx context.Context) (commitVersion int64, err error)
	Cancel()

	// WaitForIteratorsClosed blocks until every Iterator issued by this
	// transaction has been Close()d, or timeout elapses (spec §5).
	WaitForIteratorsClosed(timeout int) error
}

// Database opens Transaction handles against the underlying store.
type Database interface {
	CreateTransaction(ctx context.Context) (Transaction, error)
	Close() error
}
