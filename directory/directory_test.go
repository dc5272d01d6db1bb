package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/kv/badgerkv"
)

func TestStaticPathResolvesOnceAndCaches(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)

	l, err := New([]byte("root/"), 16)
	require.NoError(t, err)

	p1, err := l.GetOrOpen(ctx, txn, Path{"app", "users"})
	require.NoError(t, err)
	p2, err := l.GetOrOpen(ctx, txn, Path{"app", "users"})
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	other, err := l.GetOrOpen(ctx, txn, Path{"app", "orders"})
	require.NoError(t, err)
	assert.NotEqual(t, p1, other)
}

func TestCreateFailsIfExists(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	l, err := New([]byte("root/"), 16)
	require.NoError(t, err)

	_, err = l.CreateDirectory(ctx, txn, Path{"a"})
	require.NoError(t, err)
	_, err = l.CreateDirectory(ctx, txn, Path{"a"})
	require.Error(t, err)
}

func TestOpenFailsIfMissing(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	l, err := New([]byte("root/"), 16)
	require.NoError(t, err)

	_, err = l.OpenDirectory(ctx, txn, Path{"missing"})
	require.Error(t, err)
}

func TestMovePreservesPrefix(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	txn, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	l, err := New([]byte("root/"), 16)
	require.NoError(t, err)

	prefix, err := l.CreateDirectory(ctx, txn, Path{"old"})
	require.NoError(t, err)

	require.NoError(t, l.MoveDirectory(ctx, txn, Path{"old"}, Path{"new"}))

	exists, err := l.DirectoryExists(ctx, txn, Path{"old"})
	require.NoError(t, err)
	assert.False(t, exists)

	moved, err := l.OpenDirectory(ctx, txn, Path{"new"})
	require.NoError(t, err)
	assert.Equal(t, prefix, moved)
}

// The ID high-water mark must be store-durable: a fresh Layer instance
// against the same underlying store (standing in for a process restart)
// must never allocate a prefix already handed out by a prior instance.
func TestAllocationSurvivesNewLayerInstance(t *testing.T) {
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l1, err := New([]byte("root/"), 16)
	require.NoError(t, err)
	txn1, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	p1, err := l1.CreateDirectory(ctx, txn1, Path{"app", "a"})
	require.NoError(t, err)
	_, err = txn1.Commit(ctx)
	require.NoError(t, err)

	// a brand-new Layer value, sharing nothing in-process with l1, stands
	// in for a second process opening the same store after a restart.
	l2, err := New([]byte("root/"), 16)
	require.NoError(t, err)
	txn2, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	p2, err := l2.CreateDirectory(ctx, txn2, Path{"app", "b"})
	require.NoError(t, err)
	_, err = txn2.Commit(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2, "a fresh Layer instance must not reuse a prefix already allocated by a prior instance")

	// and the prior allocation must still resolve to the same prefix
	// through the new instance, proving the allocation table itself
	// (not just the counter) survived.
	txn3, err := db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer txn3.Cancel()
	reopened, err := l2.OpenDirectory(ctx, txn3, Path{"app", "a"})
	require.NoError(t, err)
	assert.Equal(t, p1, reopened)
}

func TestTemplateMissingBinding(t *testing.T) {
	tmpl := Template{"tenants", "{tenantID}"}
	_, err := tmpl.Resolve(Binding{})
	require.Error(t, err)

	path, err := tmpl.Resolve(Binding{"tenantID": "t1"})
	require.NoError(t, err)
	assert.Equal(t, Path{"tenants", "t1"}, path)
	assert.True(t, tmpl.IsDynamic())
}
