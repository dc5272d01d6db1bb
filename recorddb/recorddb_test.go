package recorddb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/directory"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/itemstore"
	"github.com/recordstore/engine/kv/badgerkv"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/security"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir, err := directory.New([]byte("root/"), 64)
	require.NoError(t, err)
	states, err := index.NewStateManager(64)
	require.NoError(t, err)
	violations := index.NewTracker()
	store, err := itemstore.New(itemstore.DefaultConfig())
	require.NoError(t, err)
	sec := security.NewDelegate(false)

	return NewSession(db, dir, states, violations, sec, store)
}

var orderSpecs = []record.FieldSpec{{Name: "id"}, {Name: "status"}}

func registerOrder(s *Session) {
	s.Register(RecordDescriptor{
		TypeName:         "Order",
		Specs:            orderSpecs,
		PrimaryKeyFields: []string{"id"},
		Template:         directory.Template{"app", "orders"},
		Indexes: []index.Descriptor{
			{Name: "Order_status", Kind: index.KindScalar, Fields: []string{"status"}},
		},
	})
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	s := newSession(t)
	registerOrder(s)
	ctx := context.Background()

	values := record.Values{"id": int64(1), "status": "open"}
	require.NoError(t, s.Set(ctx, "Order", values, nil))

	got, ok, err := s.Get(ctx, "Order", []any{int64(1)}, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "open", got["status"])

	require.NoError(t, s.Delete(ctx, "Order", []any{int64(1)}, nil, nil))
	_, ok, err = s.Get(ctx, "Order", []any{int64(1)}, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Set must maintain the declared index alongside the record: inserting a
// record populates its index entry, and updating the indexed field moves
// the entry rather than leaving the stale one behind.
func TestSetMaintainsDeclaredIndex(t *testing.T) {
	s := newSession(t)
	registerOrder(s)
	ctx := context.Background()

	// indexes start disabled; enable Order_status so Set captures entries.
	d, err := s.descriptor("Order")
	require.NoError(t, err)
	setup, err := s.db.CreateTransaction(ctx)
	require.NoError(t, err)
	subspace, err := s.resolveSubspace(ctx, setup, d, nil)
	require.NoError(t, err)
	require.NoError(t, s.states.Enable(ctx, setup, subspace, "Order_status"))
	_, err = setup.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "Order", record.Values{"id": int64(1), "status": "open"}, nil))

	txn, err := s.db.CreateTransaction(ctx)
	require.NoError(t, err)

	countEntries := func() int {
		prefix := index.IndexPrefix(subspace, "Order_status")
		it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, 0)
		defer it.Close()
		n := 0
		for it.Next(ctx) {
			n++
		}
		return n
	}
	assert.Equal(t, 1, countEntries())
	txn.Cancel()

	require.NoError(t, s.Set(ctx, "Order", record.Values{"id": int64(1), "status": "closed"}, nil))

	txn2, err := s.db.CreateTransaction(ctx)
	require.NoError(t, err)
	defer txn2.Cancel()
	prefix := index.IndexEntryPrefix(subspace, "Order_status", []any{"open"})
	it := txn2.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, 0)
	defer it.Close()
	stale := 0
	for it.Next(ctx) {
		stale++
	}
	assert.Equal(t, 0, stale, "updating the indexed field must remove the old entry")
}

// DeleteAll requires a partition binding for a dynamically-directoried
// type (spec §6).
func TestDeleteAllRequiresPartitionForDynamicType(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	s.Register(RecordDescriptor{
		TypeName:         "TenantOrder",
		Specs:            []record.FieldSpec{{Name: "tenantID"}, {Name: "id"}},
		PrimaryKeyFields: []string{"tenantID", "id"},
		PartitionFields:  []string{"tenantID"},
		Template:         directory.Template{"tenants", "{tenantID}", "orders"},
	})

	err := s.DeleteAll(ctx, "TenantOrder", nil, nil)
	require.Error(t, err)
	assert.True(t, engineerr.Is(err, engineerr.DirectoryPathError))

	require.NoError(t, s.DeleteAll(ctx, "TenantOrder", directory.Binding{"tenantID": "t1"}, nil))
}

// S8: fetch against a dynamically-directoried type with no partition
// binding fails with DirectoryPathError; with the binding supplied, only
// entries in that partition are visible.
func TestFetchEnforcesPartitionBinding(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	s.Register(RecordDescriptor{
		TypeName:         "TenantOrder",
		Specs:            []record.FieldSpec{{Name: "tenantID"}, {Name: "id"}},
		PrimaryKeyFields: []string{"tenantID", "id"},
		PartitionFields:  []string{"tenantID"},
		Template:         directory.Template{"tenants", "{tenantID}", "orders"},
	})

	require.NoError(t, s.Set(ctx, "TenantOrder", record.Values{"tenantID": "t1", "id": int64(1)}, nil))
	require.NoError(t, s.Set(ctx, "TenantOrder", record.Values{"tenantID": "t2", "id": int64(2)}, nil))

	_, err := s.Fetch("TenantOrder", nil).Execute(ctx)
	require.Error(t, err)
	assert.True(t, engineerr.Is(err, engineerr.DirectoryPathError))

	results, err := s.Fetch("TenantOrder", nil).Partition("tenantID", "t1").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0]["id"])
}
