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

package txn

import (
	"context"
	"testing"
	"time"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/locks"
	"github.com/bottledcode/atlas-locks/atlas/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	store, err := kv.NewBadgerStore(kv.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	runner := sequence.NewSequencedTaskRunner()
	manager, err := locks.NewManager(LevelCount, runner, locks.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	coordinator, err := NewCoordinator(store, runner, manager)
	require.NoError(t, err)

	t.Cleanup(func() {
		coordinator.Close()
		runner.Close()
		_ = store.Close()
	})
	return coordinator
}

func begin(t *testing.T, c *Coordinator, scope Scope) *Transaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	tx, err := c.Begin(ctx, scope)
	require.NoError(t, err)
	return tx
}

// blocked asserts that Begin is still waiting for its locks after a short while.
func blocked(t *testing.T, c *Coordinator, scope Scope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	tx, err := c.Begin(ctx, scope)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, tx)
}

func TestNewCoordinator(t *testing.T) {
	store, err := kv.NewBadgerStore(kv.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runner := sequence.NewSequencedTaskRunner()
	defer runner.Close()

	manager, err := locks.NewManager(2, runner)
	require.NoError(t, err)
	_, err = NewCoordinator(store, runner, manager)
	assert.Error(t, err)

	_, err = NewCoordinator(nil, runner, manager)
	assert.Error(t, err)
}

func TestCoordinator_CommitIsVisible(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()
	scope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}

	tx := begin(t, c, scope)
	require.NoError(t, tx.Put(ctx, "users", []byte("alice"), []byte("1")))
	require.NoError(t, tx.Put(ctx, "users", []byte("bob"), []byte("2")))
	require.NoError(t, tx.Commit())

	tx = begin(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadOnly})
	defer tx.Abort()
	value, err := tx.Get(ctx, "users", []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	items, err := tx.Scan(ctx, "users")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("alice"), items[0].Key)
	assert.Equal(t, []byte("bob"), items[1].Key)

	_, err = tx.Get(ctx, "users", []byte("carol"))
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestCoordinator_AbortDiscardsWrites(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()
	scope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}

	tx := begin(t, c, scope)
	require.NoError(t, tx.Put(ctx, "users", []byte("alice"), []byte("1")))
	tx.Abort()

	tx = begin(t, c, scope)
	defer tx.Abort()
	_, err := tx.Get(ctx, "users", []byte("alice"))
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestTransaction_ScopeChecks(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()

	ro := begin(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadOnly})
	assert.ErrorIs(t, ro.Put(ctx, "users", []byte("k"), []byte("v")), ErrReadOnlyTransaction)
	assert.ErrorIs(t, ro.Delete(ctx, "users", []byte("k")), ErrReadOnlyTransaction)
	_, err := ro.Get(ctx, "orders", []byte("k"))
	assert.ErrorIs(t, err, ErrStoreNotInScope)
	_, err = ro.Scan(ctx, "orders")
	assert.ErrorIs(t, err, ErrStoreNotInScope)

	require.NoError(t, ro.Commit())
	assert.ErrorIs(t, ro.Commit(), ErrTransactionFinished)
	ro.Abort()
	_, err = ro.Get(ctx, "users", []byte("k"))
	assert.ErrorIs(t, err, ErrTransactionFinished)
}

func TestCoordinator_WriterExcludesReaders(t *testing.T) {
	c := newTestCoordinator(t)
	writer := begin(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite})

	readScope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadOnly}
	blocked(t, c, readScope)

	// Other stores of the same database are unaffected
	other := begin(t, c, Scope{Database: "db", Stores: []string{"orders"}, Mode: ReadWrite})
	require.NoError(t, other.Commit())

	require.NoError(t, writer.Commit())
	reader := begin(t, c, readScope)
	reader.Abort()
}

func TestCoordinator_ReadersShare(t *testing.T) {
	c := newTestCoordinator(t)
	scope := Scope{Database: "db", Stores: []string{"users", "orders"}, Mode: ReadOnly}

	first := begin(t, c, scope)
	second := begin(t, c, scope)
	blocked(t, c, Scope{Database: "db", Stores: []string{"orders"}, Mode: ReadWrite})

	first.Abort()
	second.Abort()
	begin(t, c, Scope{Database: "db", Stores: []string{"orders"}, Mode: ReadWrite}).Abort()
}

func TestCoordinator_WaiterIsGranted(t *testing.T) {
	c := newTestCoordinator(t)
	scope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}
	first := begin(t, c, scope)

	result := make(chan *Transaction, 1)
	go func() {
		tx, err := c.Begin(t.Context(), scope)
		assert.NoError(t, err)
		result <- tx
	}()

	select {
	case <-result:
		t.Fatal("second writer started while the first one was running")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Commit())
	select {
	case tx := <-result:
		require.NotNil(t, tx)
		tx.Abort()
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never started")
	}
}

func TestCoordinator_CancelledBeginDoesNotHoldLocks(t *testing.T) {
	c := newTestCoordinator(t)
	scope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}
	first := begin(t, c, scope)

	// Queued behind first; once cancelled it must never be granted.
	blocked(t, c, scope)

	require.NoError(t, first.Commit())
	begin(t, c, scope).Abort()
}

func TestCoordinator_VersionChange(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()

	vc := begin(t, c, Scope{Database: "db", Mode: VersionChange})
	require.NoError(t, vc.Put(ctx, "anything", []byte("k"), []byte("v")))
	_, err := vc.Get(ctx, "bad\x00store", []byte("k"))
	assert.ErrorIs(t, err, ErrStoreNotInScope)

	blocked(t, c, Scope{Database: "db", Stores: []string{"anything"}, Mode: ReadOnly})
	other := begin(t, c, Scope{Database: "db2", Stores: []string{"anything"}, Mode: ReadWrite})
	other.Abort()

	require.NoError(t, vc.Commit())
	ro := begin(t, c, Scope{Database: "db", Stores: []string{"anything"}, Mode: ReadOnly})
	defer ro.Abort()
	value, err := ro.Get(ctx, "anything", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestCoordinator_KeyRanges(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()

	scope := func(lo, hi string) Scope {
		return Scope{
			Database:  "db",
			Stores:    []string{"users"},
			Mode:      ReadWrite,
			KeyRanges: []KeyRange{{Store: "users", Begin: []byte(lo), End: []byte(hi)}},
		}
	}

	ac := begin(t, c, scope("a", "c"))
	cf := begin(t, c, scope("c", "f"))

	require.NoError(t, ac.Put(ctx, "users", []byte("alice"), []byte("1")))
	assert.ErrorIs(t, ac.Put(ctx, "users", []byte("dave"), []byte("2")), ErrKeyNotInScope)
	require.NoError(t, cf.Put(ctx, "users", []byte("dave"), []byte("2")))

	// Same range waits, overlapping ranges are refused
	blocked(t, c, scope("a", "c"))
	_, err := c.Begin(ctx, scope("b", "d"))
	assert.ErrorIs(t, err, locks.ErrOverlappingRanges)

	// Whole store writers wait for ranged writers
	blocked(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite})

	require.NoError(t, ac.Commit())
	require.NoError(t, cf.Commit())

	ro := begin(t, c, Scope{
		Database:  "db",
		Stores:    []string{"users"},
		Mode:      ReadOnly,
		KeyRanges: []KeyRange{{Store: "users", Begin: []byte("a"), End: []byte("c")}},
	})
	defer ro.Abort()
	items, err := ro.Scan(ctx, "users")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []byte("alice"), items[0].Key)
}

func TestCoordinator_Close(t *testing.T) {
	c := newTestCoordinator(t)
	scope := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}
	first := begin(t, c, scope)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Begin(t.Context(), scope)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Begin did not return after Close")
	}

	_, err := c.Begin(t.Context(), scope)
	assert.ErrorIs(t, err, ErrClosed)

	// Started transactions can still finish
	assert.NoError(t, first.Commit())
}

func TestTransaction_ScanKeyRanges(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()

	tx := begin(t, c, Scope{Database: "db", Stores: []string{"users", "users2"}, Mode: ReadWrite})
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, tx.Put(ctx, "users", []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Put(ctx, "users2", []byte("a"), []byte("other")))
	require.NoError(t, tx.Commit())

	ro := begin(t, c, Scope{
		Database: "db",
		Stores:   []string{"users"},
		Mode:     ReadOnly,
		KeyRanges: []KeyRange{
			{Store: "users", Begin: []byte("e"), End: []byte("g")},
			{Store: "users", Begin: []byte("a"), End: []byte("c")},
		},
	})
	defer ro.Abort()

	items, err := ro.Scan(ctx, "users")
	require.NoError(t, err)
	var keys []string
	for _, item := range items {
		keys = append(keys, string(item.Key))
		assert.Equal(t, item.Key, item.Value)
	}
	assert.Equal(t, []string{"a", "b", "e", "f"}, keys)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ro.Scan(cancelled, "users")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_StoreReadersRunAlongsideKeyedWriters(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := t.Context()

	writer := begin(t, c, Scope{
		Database:  "db",
		Stores:    []string{"users"},
		Mode:      ReadWrite,
		KeyRanges: []KeyRange{{Store: "users", Begin: []byte("a"), End: []byte("c")}},
	})
	reader := begin(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadOnly})
	defer reader.Abort()

	require.NoError(t, writer.Put(ctx, "users", []byte("alice"), []byte("1")))
	require.NoError(t, writer.Commit())

	// The reader's snapshot predates the commit
	items, err := reader.Scan(ctx, "users")
	require.NoError(t, err)
	assert.Empty(t, items)

	// Whole store writers still exclude both
	blocked(t, c, Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite})
}
