package indexbuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/kv/badgerkv"
	"github.com/recordstore/engine/logging"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/throttle"
	"github.com/recordstore/engine/tuple"
)

var edgeSpecs = []record.FieldSpec{{Name: "id"}, {Name: "a"}, {Name: "b"}}

func TestBuildMutualSymmetricCanonicalizesBothDirections(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("Edge/")

	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	txn.SetValue(index.RecordKey(subspace, tuple.Tuple{int64(1)}),
		record.EncodeFull(record.Values{"id": int64(1), "a": "alice", "b": "bob"}, edgeSpecs))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	states, err := index.NewStateManager(16)
	require.NoError(t, err)
	builder := NewBuilder(db, subspace, edgeSpecs, states, index.NewTracker(), throttle.New(config.DefaultThrottle()))

	pair := MutualPair{
		Forward:   index.Descriptor{Name: "Edge_fwd", Kind: index.KindScalar, Fields: []string{"a", "b"}},
		Reverse:   index.Descriptor{Name: "Edge_rev", Kind: index.KindScalar, Fields: []string{"a", "b"}},
		Symmetric: true,
	}
	require.NoError(t, builder.BuildMutual(ctx, Config{}, "edge1", pair))

	verify, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer verify.Cancel()

	// canonicalized (min,max) key should be identical on both sides
	fwdPrefix := index.IndexPrefix(subspace, "Edge_fwd")
	revPrefix := index.IndexPrefix(subspace, "Edge_rev")

	fit := verify.GetRange(ctx, fwdPrefix, index.EndOfRange(fwdPrefix), true, false, 0)
	defer fit.Close()
	var fwdKeys [][]byte
	for fit.Next(ctx) {
		fwdKeys = append(fwdKeys, fit.KeyValue().Key)
	}
	require.NoError(t, fit.Err())
	assert.Len(t, fwdKeys, 1, "a symmetric pair records exactly one entry per direction")

	rit := verify.GetRange(ctx, revPrefix, index.EndOfRange(revPrefix), true, false, 0)
	defer rit.Close()
	var revKeys [][]byte
	for rit.Next(ctx) {
		revKeys = append(revKeys, rit.KeyValue().Key)
	}
	require.NoError(t, rit.Err())
	assert.Len(t, revKeys, 1)
}

func TestVerifyMutualSampleLogsNoMismatchWhenConsistent(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	subspace := []byte("Edge/")

	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	txn.SetValue(index.RecordKey(subspace, tuple.Tuple{int64(1)}),
		record.EncodeFull(record.Values{"id": int64(1), "a": "alice", "b": "bob"}, edgeSpecs))
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	states, err := index.NewStateManager(16)
	require.NoError(t, err)
	builder := NewBuilder(db, subspace, edgeSpecs, states, index.NewTracker(), throttle.New(config.DefaultThrottle()))

	pair := MutualPair{
		Forward: index.Descriptor{Name: "Edge_fwd", Kind: index.KindScalar, Fields: []string{"a", "b"}},
		Reverse: index.Descriptor{Name: "Edge_rev", Kind: index.KindScalar, Fields: []string{"b", "a"}},
	}
	require.NoError(t, builder.BuildMutual(ctx, Config{}, "edge2", pair))
	require.NoError(t, builder.VerifyMutualSample(ctx, logging.NewNop(), pair, 10))
}
