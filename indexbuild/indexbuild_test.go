package indexbuild

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/kv/badgerkv"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/throttle"
	"github.com/recordstore/engine/tuple"
)

var userSpecs = []record.FieldSpec{{Name: "id"}, {Name: "email"}}

func seedUsers(t *testing.T, db *badgerkv.Database, subspace []byte, n int) {
	t.Helper()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		pk := tuple.Tuple{int64(i)}
		values := record.Values{"id": int64(i), "email": fmt.Sprintf("user%d@x.com", i)}
		txn.SetValue(index.RecordKey(subspace, pk), record.EncodeFull(values, userSpecs))
	}
	_, err = txn.Commit(ctx)
	require.NoError(t, err)
}

// S4: online index build over 200 records with batch size 30 ends readable.
func TestBuildOnlineReachesReadable(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("User/")
	seedUsers(t, db, subspace, 200)

	states, err := index.NewStateManager(64)
	require.NoError(t, err)
	thr := throttle.New(config.Throttle{
		InitialBatchSize: 30, MinBatchSize: 30, MaxBatchSize: 30,
		IncreaseRatio: 1, DecreaseRatio: 1, SuccessesBeforeIncrease: 1,
		MaxDelayMs: 1000,
	})
	builder := NewBuilder(db, subspace, userSpecs, states, index.NewTracker(), thr)

	target := index.Descriptor{Name: "User_email", Kind: index.KindScalar, Fields: []string{"email"}, IsUnique: true}
	err = builder.BuildOnline(ctx, Config{}, "build1", []index.Descriptor{target})
	require.NoError(t, err)

	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer txn.Cancel()
	state, err := states.State(ctx, txn, subspace, "User_email")
	require.NoError(t, err)
	assert.Equal(t, index.Readable, state)

	prefix := index.IndexPrefix(subspace, "User_email")
	it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, 0)
	defer it.Close()
	count := 0
	for it.Next(ctx) {
		count++
	}
	assert.Equal(t, 200, count)
}

// ClearFirst must wipe stale index entries left over from a prior build
// before repopulating the index, not merely cycle the index's state.
func TestBuildOnlineClearFirstRemovesStaleEntries(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("User/")
	seedUsers(t, db, subspace, 5)

	target := index.Descriptor{Name: "User_email", Kind: index.KindScalar, Fields: []string{"email"}}

	// seed a stale entry for an email no current record has, simulating
	// leftover index data from before a schema change or a prior bad build.
	staleKey := index.IndexEntryKey(subspace, "User_email", tuple.Tuple{"stale@x.com"}, tuple.Tuple{int64(999)})
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	txn.SetValue(staleKey, []byte{})
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	states, err := index.NewStateManager(64)
	require.NoError(t, err)
	thr := throttle.New(config.DefaultThrottle())
	builder := NewBuilder(db, subspace, userSpecs, states, index.NewTracker(), thr)

	err = builder.BuildOnline(ctx, Config{ClearFirst: true}, "build-clearfirst", []index.Descriptor{target})
	require.NoError(t, err)

	verifyTxn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer verifyTxn.Cancel()

	val, err := verifyTxn.GetValue(ctx, staleKey, true)
	require.NoError(t, err)
	assert.Nil(t, val, "ClearFirst must remove stale entries predating the build")

	prefix := index.IndexPrefix(subspace, "User_email")
	it := verifyTxn.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, 0)
	defer it.Close()
	count := 0
	for it.Next(ctx) {
		count++
	}
	assert.Equal(t, 5, count, "only the five current records' entries should remain after ClearFirst")
}

func TestBuildOnlineLeavesWriteOnlyOnUnresolvedViolation(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("User/")

	// two users share the same email: a uniqueness violation at build time
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	txn.SetValue(index.RecordKey(subspace, tuple.Tuple{int64(1)}),
		record.EncodeFull(record.Values{"id": int64(1), "email": "dup@x.com"}, userSpecs))
	txn.SetValue(index.RecordKey(subspace, tuple.Tuple{int64(2)}),
		record.EncodeFull(record.Values{"id": int64(2), "email": "dup@x.com"}, userSpecs))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	states, err := index.NewStateManager(64)
	require.NoError(t, err)
	thr := throttle.New(config.DefaultThrottle())
	builder := NewBuilder(db, subspace, userSpecs, states, index.NewTracker(), thr)

	target := index.Descriptor{Name: "User_email", Kind: index.KindScalar, Fields: []string{"email"}, IsUnique: true}
	err = builder.BuildOnline(ctx, Config{}, "build2", []index.Descriptor{target})
	require.Error(t, err)

	verifyTxn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer verifyTxn.Cancel()
	state, err := states.State(ctx, verifyTxn, subspace, "User_email")
	require.NoError(t, err)
	assert.Equal(t, index.WriteOnly, state, "index must not be promoted while violations remain")
}

func TestBuildOnlineResumesFromPersistedProgress(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("User/")
	seedUsers(t, db, subspace, 50)

	states, err := index.NewStateManager(64)
	require.NoError(t, err)
	tracker := index.NewTracker()
	thr := throttle.New(config.Throttle{
		InitialBatchSize: 10, MinBatchSize: 10, MaxBatchSize: 10,
		IncreaseRatio: 1, DecreaseRatio: 1, SuccessesBeforeIncrease: 1,
		MaxDelayMs: 1000,
	})
	builder := NewBuilder(db, subspace, userSpecs, states, tracker, thr)
	target := index.Descriptor{Name: "User_email", Kind: index.KindScalar, Fields: []string{"email"}}

	// artificially stop after a few batches by capping iterations
	err = builder.BuildOnline(ctx, Config{MaxIterations: 2}, "build3", []index.Descriptor{target})
	require.Error(t, err)

	// resuming with the same build name picks up where it left off
	err = builder.BuildOnline(ctx, Config{}, "build3", []index.Descriptor{target})
	require.NoError(t, err)

	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer txn.Cancel()
	prefix := index.IndexPrefix(subspace, "User_email")
	it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, 0)
	defer it.Close()
	count := 0
	for it.Next(ctx) {
		count++
	}
	assert.Equal(t, 50, count, "resumed build must cover every record exactly once")
}
