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
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/locks"
	"go.uber.org/zap"
)

// Transaction is a unit of work holding locks on its Scope. It must end
// with Commit or Abort, which release the locks. Methods may be called from
// any goroutine.
type Transaction struct {
	id          uint64
	coordinator *Coordinator
	scope       Scope
	holder      *locks.LockHolder
	txn         kv.Transaction

	mu       sync.Mutex
	finished bool
}

func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) Scope() Scope {
	return t.scope
}

// Get returns the value stored under key in store.
func (t *Transaction) Get(ctx context.Context, store string, key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkKey(store, key, false); err != nil {
		return nil, err
	}
	return t.txn.Get(ctx, t.key(store, key))
}

func (t *Transaction) Put(ctx context.Context, store string, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkKey(store, key, true); err != nil {
		return err
	}
	return t.txn.Put(ctx, t.key(store, key), value)
}

func (t *Transaction) Delete(ctx context.Context, store string, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkKey(store, key, true); err != nil {
		return err
	}
	return t.txn.Delete(ctx, t.key(store, key))
}

// Scan returns every key-value pair in store, in key order, with keys
// relative to the store. If the scope narrows the store to key ranges, only
// keys inside them are returned.
func (t *Transaction) Scan(ctx context.Context, store string) ([]kv.KeyValue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkStore(store, false); err != nil {
		return nil, err
	}
	prefix := kv.NewKeyBuilder().Database(t.scope.Database).Store(store)
	iter := t.txn.NewIterator(kv.IteratorOptions{Prefix: prefix.Prefix(), PrefetchValues: true})
	defer func() { _ = iter.Close() }()

	ranges := t.scope.keyRangesFor(store)
	if len(ranges) == 0 {
		iter.Rewind()
		return collect(ctx, iter, prefix, nil)
	}

	// Ranges within a store are disjoint, so visiting them in order of their
	// begin keys keeps the result sorted.
	slices.SortFunc(ranges, func(a, b KeyRange) int { return bytes.Compare(a.Begin, b.Begin) })
	var result []kv.KeyValue
	for _, r := range ranges {
		iter.Seek(prefix.Clone().Key(r.Begin).Build())
		items, err := collect(ctx, iter, prefix, prefix.Clone().Key(r.End).Build())
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	return result, nil
}

// collect copies items out of iter until it is exhausted or reaches end.
func collect(ctx context.Context, iter kv.Iterator, prefix *kv.KeyBuilder, end []byte) ([]kv.KeyValue, error) {
	var result []kv.KeyValue
	for ; iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := iter.Item()
		if end != nil && bytes.Compare(item.Key(), end) >= 0 {
			break
		}
		value, err := item.ValueCopy()
		if err != nil {
			return nil, err
		}
		result = append(result, kv.KeyValue{Key: prefix.TrimPrefix(item.KeyCopy()), Value: value})
	}
	return result, nil
}

// Commit applies the transaction's writes and releases its locks. The locks
// are released even if the commit fails.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrTransactionFinished
	}
	err := t.txn.Commit()
	t.finish()
	if err != nil {
		countTransaction(t.scope.Mode, "failed")
		t.coordinator.logger.Warn("Transaction commit failed", zap.Uint64("id", t.id), zap.Error(err))
		return fmt.Errorf("failed to commit transaction %d: %w", t.id, err)
	}
	countTransaction(t.scope.Mode, "committed")
	t.coordinator.logger.Debug("Transaction committed", zap.Uint64("id", t.id))
	return nil
}

// Abort discards the transaction's writes and releases its locks. Aborting
// a finished transaction is a no-op.
func (t *Transaction) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}
	t.txn.Discard()
	t.finish()
	countTransaction(t.scope.Mode, "aborted")
	t.coordinator.logger.Debug("Transaction aborted", zap.Uint64("id", t.id))
}

func (t *Transaction) finish() {
	t.finished = true
	coordinatorTransactionsActive.Dec()
	if !t.coordinator.runner.PostTask(t.holder.Close) {
		t.coordinator.logger.Debug("Runner closed before locks could be released", zap.Uint64("id", t.id))
	}
}

// checkStore verifies that the transaction may access store.
func (t *Transaction) checkStore(store string, write bool) error {
	if t.finished {
		return ErrTransactionFinished
	}
	if !t.scope.includesStore(store) {
		return fmt.Errorf("%w: %q", ErrStoreNotInScope, store)
	}
	if write && t.scope.Mode == ReadOnly {
		return ErrReadOnlyTransaction
	}
	return nil
}

// checkKey verifies that the transaction may access key in store.
func (t *Transaction) checkKey(store string, key []byte, write bool) error {
	if err := t.checkStore(store, write); err != nil {
		return err
	}
	if ranges := t.scope.keyRangesFor(store); len(ranges) > 0 && !inRanges(ranges, key) {
		return fmt.Errorf("%w: %q in %q", ErrKeyNotInScope, key, store)
	}
	return nil
}

func (t *Transaction) key(store string, key []byte) []byte {
	return kv.NewKeyBuilder().Database(t.scope.Database).Store(store).Key(key).Build()
}

func inRanges(ranges []KeyRange, key []byte) bool {
	for _, r := range ranges {
		if r.contains(key) {
			return true
		}
	}
	return false
}
