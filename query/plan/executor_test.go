package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/itemstore"
	"github.com/recordstore/engine/kv/badgerkv"
	"github.com/recordstore/engine/query"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/tuple"
	"github.com/recordstore/engine/txnrunner"
)

var userSpecs = []record.FieldSpec{{Name: "id"}, {Name: "email"}, {Name: "active"}}

func seedUser(t *testing.T, db *badgerkv.Database, subspace []byte, store *itemstore.Store, id int64, email string, active bool) {
	t.Helper()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	pk := tuple.Tuple{id}
	vals := record.Values{"id": id, "email": email, "active": active}
	require.NoError(t, store.Write(ctx, txn, index.RecordKey(subspace, pk), index.BlobPartsPrefix(subspace, pk), record.EncodeFull(vals, userSpecs)))

	emailIdxPrefix := index.IndexPrefix(subspace, "email")
	_ = emailIdxPrefix
	entryKey := index.IndexEntryKey(subspace, "email", tuple.Tuple{email}, pk)
	txn.SetValue(entryKey, nil)

	_, err = txn.Commit(ctx)
	require.NoError(t, err)
}

func TestExecuteTableScanWithResidualFilter(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	subspace := []byte("t/user/")
	store, err := itemstore.New(itemstore.DefaultConfig())
	require.NoError(t, err)

	seedUser(t, db, subspace, store, 1, "a@x.com", true)
	seedUser(t, db, subspace, store, 2, "b@x.com", false)
	seedUser(t, db, subspace, store, 3, "c@x.com", true)

	node := Node{Op: OpTableScan}
	residual := query.Field(query.ScalarFieldCondition{Field: "active", Operator: query.OpEq, Value: true})

	versions := txnrunner.NewReadVersionCache()
	seq, err := Execute(context.Background(), db, versions, txnrunner.Server(), subspace, userSpecs, store, node, residual)
	require.NoError(t, err)
	assert.Equal(t, 2, seq.Len())
}

func TestExecuteIndexScanNarrowsCandidates(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	subspace := []byte("t/user/")
	store, err := itemstore.New(itemstore.DefaultConfig())
	require.NoError(t, err)

	seedUser(t, db, subspace, store, 1, "a@x.com", true)
	seedUser(t, db, subspace, store, 2, "b@x.com", true)

	node := Node{Op: OpIndexScan, Field: "email"}
	residual := query.AlwaysTrue()

	versions := txnrunner.NewReadVersionCache()
	seq, err := Execute(context.Background(), db, versions, txnrunner.Server(), subspace, userSpecs, store, node, residual)
	require.NoError(t, err)
	assert.Equal(t, 2, seq.Len())
}

func TestResultSequenceIsRestartable(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	subspace := []byte("t/user/")
	store, err := itemstore.New(itemstore.DefaultConfig())
	require.NoError(t, err)
	seedUser(t, db, subspace, store, 1, "a@x.com", true)

	versions := txnrunner.NewReadVersionCache()
	seq, err := Execute(context.Background(), db, versions, txnrunner.Server(), subspace, userSpecs, store, Node{Op: OpTableScan}, query.AlwaysTrue())
	require.NoError(t, err)

	first := seq.All()
	require.Len(t, first, 1)
	_, ok := seq.Next()
	assert.False(t, ok, "sequence exhausted after a full drain")

	seq.Reset()
	second := seq.All()
	assert.Equal(t, first, second)
}

func TestExecuteUpdatesReadVersionCache(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	subspace := []byte("t/user/")
	store, err := itemstore.New(itemstore.DefaultConfig())
	require.NoError(t, err)

	versions := txnrunner.NewReadVersionCache()
	_, err = Execute(context.Background(), db, versions, txnrunner.Server(), subspace, userSpecs, store, Node{Op: OpTableScan}, query.AlwaysTrue())
	require.NoError(t, err)

	assert.NotNil(t, versions.GetCachedVersion(txnrunner.Cached()))
}
