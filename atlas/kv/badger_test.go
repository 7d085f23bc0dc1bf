/*
 * This file is part of Atlas-DB.
 *
 * Atlas-DB is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of
 * the License, or (at your option) any later version.
 *
 * Atlas-DB is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with Atlas-DB. If not, see <https://www.gnu.org/licenses/>.
 */

package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(BadgerOptions{Path: t.TempDir(), SyncWrites: false})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return store
}

// scan collects every pair under prefix through a read-only transaction.
func scan(t *testing.T, store *BadgerStore, prefix []byte) []KeyValue {
	t.Helper()
	txn, err := store.Begin(false)
	require.NoError(t, err)
	defer txn.Discard()

	iter := txn.NewIterator(IteratorOptions{Prefix: prefix, PrefetchValues: true})
	defer func() { _ = iter.Close() }()

	var result []KeyValue
	for iter.Rewind(); iter.Valid(); iter.Next() {
		value, err := iter.Item().ValueCopy()
		require.NoError(t, err)
		result = append(result, KeyValue{Key: iter.Item().KeyCopy(), Value: value})
	}
	return result
}

func put(t *testing.T, store *BadgerStore, key, value string) {
	t.Helper()
	txn, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(context.Background(), []byte(key), []byte(value)))
	require.NoError(t, txn.Commit())
}

func get(t *testing.T, store *BadgerStore, key string) ([]byte, error) {
	t.Helper()
	txn, err := store.Begin(false)
	require.NoError(t, err)
	defer txn.Discard()
	return txn.Get(context.Background(), []byte(key))
}

func TestBadgerTransaction_BasicOperations(t *testing.T) {
	store := newTestStore(t)

	_, err := get(t, store, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	put(t, store, "a", "1")
	value, err := get(t, store, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	txn, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Delete(context.Background(), []byte("a")))
	require.NoError(t, txn.Commit())
	_, err = get(t, store, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBadgerBatch(t *testing.T) {
	store := newTestStore(t)
	put(t, store, "db\x00s1\x00stale", "0")

	batch := store.NewBatch()
	require.NoError(t, batch.Set([]byte("db\x00s1\x00b"), []byte("2")))
	require.NoError(t, batch.Set([]byte("db\x00s1\x00a"), []byte("1")))
	require.NoError(t, batch.Set([]byte("db\x00s2\x00a"), []byte("3")))
	require.NoError(t, batch.Set([]byte("other\x00s1\x00a"), []byte("4")))
	require.NoError(t, batch.Delete([]byte("db\x00s1\x00stale")))
	require.NoError(t, batch.Flush())
	require.NoError(t, batch.Flush(), "flushing an empty batch is a no-op")

	result := scan(t, store, []byte("db\x00s1\x00"))
	require.Len(t, result, 2)
	assert.Equal(t, []byte("db\x00s1\x00a"), result[0].Key)
	assert.Equal(t, []byte("1"), result[0].Value)
	assert.Equal(t, []byte("db\x00s1\x00b"), result[1].Key)

	assert.Len(t, scan(t, store, []byte("db\x00")), 3)
}

func TestBadgerTransaction_Isolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	txn, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, []byte("k"), []byte("v")))

	_, err = get(t, store, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound, "uncommitted writes must not be visible")

	value, err := txn.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, txn.Commit())
	value, err = get(t, store, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestBadgerTransaction_ReadOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	txn, err := store.Begin(false)
	require.NoError(t, err)
	defer txn.Discard()

	assert.ErrorIs(t, txn.Put(ctx, []byte("k"), []byte("v")), ErrReadOnly)
	assert.ErrorIs(t, txn.Delete(ctx, []byte("k")), ErrReadOnly)
	assert.NoError(t, txn.Commit())
}

func TestBadgerIterator_Seek(t *testing.T) {
	store := newTestStore(t)
	for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
		put(t, store, k, k)
	}

	txn, err := store.Begin(false)
	require.NoError(t, err)
	defer txn.Discard()
	iter := txn.NewIterator(IteratorOptions{Prefix: []byte("p/")})
	defer func() { _ = iter.Close() }()

	var keys []string
	for iter.Seek([]byte("p/2")); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Item().Key()))
	}
	assert.Equal(t, []string{"p/2", "p/3"}, keys)
}

func TestBadgerStore_InMemory(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	put(t, store, "k", "v")
	assert.NoError(t, store.RunValueLogGC(0.5))
	size, err := store.Size()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(0))
}
