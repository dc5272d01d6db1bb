// Package indexbuild implements the resumable online indexer (spec §4.I)
// and the mutual (paired forward/reverse) indexer (spec §4.J): batch
// builders that walk a record type's existing records and populate one or
// more indexes without holding a single long-running transaction, using
// rangeset to make progress crash-safe and throttle to back off under load.
package indexbuild

import (
	"context"
	"time"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/metrics"
	"github.com/recordstore/engine/rangeset"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/throttle"
	"github.com/recordstore/engine/tuple"
)

// progressKey is where a build's rangeset.Set is persisted between batches
// (and across restarts), under the type subspace's metadata area.
func progressKey(typeSubspace []byte, buildName string) []byte {
	return append(append([]byte{}, typeSubspace...), []byte("_meta/indexbuild/"+buildName)...)
}

// Config bounds one online build run.
type Config struct {
	ClearFirst    bool
	BatchTimeout  time.Duration
	MaxIterations int // safety cap; 0 means unbounded
}

// Builder drives online index builds for one record type.
type Builder struct {
	DB         kv.Database
	Subspace   []byte
	Specs      []record.FieldSpec
	States     *index.StateManager
	Violations *index.Tracker
	Maintainer *index.Maintainer
	Throttler  *throttle.Throttler
}

// NewBuilder wires a Builder from its collaborators.
func NewBuilder(db kv.Database, subspace []byte, specs []record.FieldSpec, states *index.StateManager, violations *index.Tracker, thr *throttle.Throttler) *Builder {
	return &Builder{
		DB:         db,
		Subspace:   subspace,
		Specs:      specs,
		States:     states,
		Violations: violations,
		Maintainer: index.NewMaintainer(states, violations),
		Throttler:  thr,
	}
}

// BuildOnline drives targets from disabled/writeOnly to readable, scanning
// the record subspace in throttled batches (spec §4.I). buildName namespaces
// the persisted progress, so several concurrent builds over the same
// subspace don't collide.
func (b *Builder) BuildOnline(ctx context.Context, cfg Config, buildName string, targets []index.Descriptor) error {
	for _, d := range targets {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	if err := b.prepareStates(ctx, targets, cfg.ClearFirst); err != nil {
		return err
	}

	rs, err := b.loadProgress(ctx, buildName)
	if err != nil {
		return err
	}
	if rs.IsEmpty() {
		recordsPrefix := index.RecordsPrefix(b.Subspace)
		rs.InsertRange(recordsPrefix, index.EndOfRange(recordsPrefix))
		if err := b.saveProgress(ctx, buildName, rs); err != nil {
			return err
		}
	}

	iterations := 0
	for !rs.IsEmpty() {
		if cfg.MaxIterations > 0 && iterations >= cfg.MaxIterations {
			return engineerr.New(engineerr.NetworkTimeout, "online index build exceeded MaxIterations", "build", buildName)
		}
		iterations++

		begin, end, _ := rs.NextBatchBounds()
		batchSize := b.Throttler.Stats().CurrentBatchSize

		advanced, done, err := b.runBatch(ctx, targets, begin, end, batchSize)
		if err != nil {
			if throttle.IsRetryable(err) {
				b.Throttler.RecordFailure()
				time.Sleep(time.Duration(b.Throttler.Stats().CurrentDelayMs) * time.Millisecond)
				continue
			}
			return err
		}

		b.Throttler.RecordSuccess()
		metrics.IndexBuildBatches.Inc()

		if done {
			rs.MarkProcessed(begin, end)
		} else {
			rs.MarkProcessed(begin, advanced)
		}
		if err := b.saveProgress(ctx, buildName, rs); err != nil {
			return err
		}
	}

	return b.finalize(ctx, targets)
}

// runBatch processes up to batchSize records in [begin, end) in a single
// transaction. advanced is the key just past the last record processed;
// done reports whether the batch reached the end of the range (fewer
// records were found than batchSize).
func (b *Builder) runBatch(ctx context.Context, targets []index.Descriptor, begin, end []byte, batchSize int) (advanced []byte, done bool, err error) {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return nil, false, err
	}

	it := txn.GetRange(ctx, begin, end, false, false, batchSize)
	count := 0
	var lastKey []byte
	for it.Next(ctx) {
		kvPair := it.KeyValue()
		lastKey = kvPair.Key
		count++

		pk, perr := pkFromRecordKey(b.Subspace, kvPair.Key)
		if perr != nil {
			it.Close()
			txn.Cancel()
			return nil, false, perr
		}
		values, derr := record.DecodeFull(kvPair.Value, b.Specs)
		if derr != nil {
			it.Close()
			txn.Cancel()
			return nil, false, derr
		}
		if aerr := b.Maintainer.Apply(ctx, txn, b.Subspace, targets, nil, values, pk); aerr != nil {
			it.Close()
			txn.Cancel()
			return nil, false, aerr
		}
	}
	iterErr := it.Err()
	it.Close()
	if iterErr != nil {
		txn.Cancel()
		return nil, false, iterErr
	}

	if _, err := txn.Commit(ctx); err != nil {
		return nil, false, err
	}

	if count < batchSize {
		return nil, true, nil
	}
	return append(append([]byte{}, lastKey...), 0x00), false, nil
}

func pkFromRecordKey(subspace []byte, key []byte) (tuple.Tuple, error) {
	prefix := index.RecordsPrefix(subspace)
	return tuple.Unpack(key[len(prefix):])
}

func (b *Builder) prepareStates(ctx context.Context, targets []index.Descriptor, clearFirst bool) error {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	for _, d := range targets {
		state, err := b.States.State(ctx, txn, b.Subspace, d.Name)
		if err != nil {
			txn.Cancel()
			return err
		}
		if clearFirst && state != index.Disabled {
			if err := b.States.Disable(ctx, txn, b.Subspace, d.Name); err != nil {
				txn.Cancel()
				return err
			}
			state = index.Disabled
		}
		if clearFirst {
			prefix := index.IndexPrefix(b.Subspace, d.Name)
			txn.ClearRange(prefix, index.EndOfRange(prefix))
		}
		if state == index.Disabled {
			if err := b.States.Enable(ctx, txn, b.Subspace, d.Name); err != nil {
				txn.Cancel()
				return err
			}
		}
	}
	_, err = txn.Commit(ctx)
	return err
}

// finalize transitions every target to readable. If any unique target has
// outstanding uniqueness violations it returns an error before promoting
// anything, so every target stays in writeOnly.
func (b *Builder) finalize(ctx context.Context, targets []index.Descriptor) error {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if txn != nil {
			txn.Cancel()
		}
	}()

	for _, d := range targets {
		if d.IsUnique {
			has, err := b.Violations.HasViolations(ctx, txn, b.Subspace, d.Name)
			if err != nil {
				return err
			}
			if has {
				return engineerr.New(engineerr.UniquenessViolation,
					"index build complete but uniqueness violations remain; index left in writeOnly",
					"index", d.Name)
			}
		}
	}
	for _, d := range targets {
		if err := b.States.MakeReadable(ctx, txn, b.Subspace, d.Name); err != nil {
			return err
		}
	}
	finish := txn
	txn = nil
	_, err = finish.Commit(ctx)
	return err
}

func (b *Builder) loadProgress(ctx context.Context, buildName string) (*rangeset.Set, error) {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Cancel()
	raw, err := txn.GetValue(ctx, progressKey(b.Subspace, buildName), false)
	if err != nil {
		return nil, err
	}
	return rangeset.Unmarshal(raw)
}

func (b *Builder) saveProgress(ctx context.Context, buildName string, rs *rangeset.Set) error {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	blob, err := rs.Marshal()
	if err != nil {
		txn.Cancel()
		return err
	}
	txn.SetValue(progressKey(b.Subspace, buildName), blob)
	_, err = txn.Commit(ctx)
	return err
}
