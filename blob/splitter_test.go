package blob

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/kv/badgerkv"
)

func openTxn(t *testing.T) (kv.Transaction, func()) {
	t.Helper()
	db, err := badgerkv.Open("")
	require.NoError(t, err)
	txn, err := db.CreateTransaction(context.Background())
	require.NoError(t, err)
	return txn, func() { db.Close() }
}

func TestSplitterRoundTripSmall(t *testing.T) {
	txn, closeFn := openTxn(t)
	defer closeFn()

	s := New(Config{MaxValueSize: 100, Enabled: true})
	v := []byte("hello world")
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, txn, []byte("base"), []byte("parts/"), v))

	got, err := s.Read(ctx, txn, []byte("base"), []byte("parts/"))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	split, err := s.IsSplit(ctx, txn, []byte("base"))
	require.NoError(t, err)
	assert.False(t, split)
}

func TestSplitterRoundTripLarge(t *testing.T) {
	txn, closeFn := openTxn(t)
	defer closeFn()

	s := New(Config{MaxValueSize: 1000, Enabled: true})
	v := make([]byte, 200000)
	rand.New(rand.NewSource(7)).Read(v)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, txn, []byte("base"), []byte("parts/"), v))

	got, err := s.Read(ctx, txn, []byte("base"), []byte("parts/"))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	split, err := s.IsSplit(ctx, txn, []byte("base"))
	require.NoError(t, err)
	assert.True(t, split)

	size, err := s.GetSize(ctx, txn, []byte("base"))
	require.NoError(t, err)
	assert.Equal(t, len(v), size)

	require.NoError(t, s.Delete(ctx, txn, []byte("base"), []byte("parts/")))

	it := txn.GetRange(ctx, []byte("parts/"), append([]byte("parts/"), 0xff, 0xff), false, false, 0)
	defer it.Close()
	assert.False(t, it.Next(ctx))

	remaining, err := s.Read(ctx, txn, []byte("base"), []byte("parts/"))
	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestSplitterDisabledNeverSplits(t *testing.T) {
	txn, closeFn := openTxn(t)
	defer closeFn()

	s := New(Config{MaxValueSize: 10, Enabled: false})
	v := make([]byte, 1000)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, txn, []byte("base"), []byte("parts/"), v))

	split, err := s.IsSplit(ctx, txn, []byte("base"))
	require.NoError(t, err)
	assert.False(t, split)
}

func TestSplitterTooManyParts(t *testing.T) {
	txn, closeFn := openTxn(t)
	defer closeFn()

	s := New(Config{MaxValueSize: 1, Enabled: true})
	v := make([]byte, 300)
	ctx := context.Background()
	err := s.Write(ctx, txn, []byte("base"), []byte("parts/"), v)
	require.Error(t, err)
}

func TestSplitterOverwriteClearsOldParts(t *testing.T) {
	txn, closeFn := openTxn(t)
	defer closeFn()

	s := New(Config{MaxValueSize: 10, Enabled: true})
	ctx := context.Background()

	big := make([]byte, 1000)
	require.NoError(t, s.Write(ctx, txn, []byte("base"), []byte("parts/"), big))

	small := []byte("tiny")
	require.NoError(t, s.Write(ctx, txn, []byte("base"), []byte("parts/"), small))

	got, err := s.Read(ctx, txn, []byte("base"), []byte("parts/"))
	require.NoError(t, err)
	assert.Equal(t, small, got)

	it := txn.GetRange(ctx, []byte("parts/"), append([]byte("parts/"), 0xff, 0xff), false, false, 0)
	defer it.Close()
	assert.False(t, it.Next(ctx))
}
