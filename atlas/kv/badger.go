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
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerOptions configures a BadgerStore
type BadgerOptions struct {
	Path        string
	InMemory    bool
	SyncWrites  bool
	NumVersions int
}

// BadgerStore implements Store interface using BadgerDB
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed store
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(nil). // Badger's own logging would bypass zap
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}
	if opts.NumVersions > 0 {
		badgerOpts = badgerOpts.WithNumVersionsToKeep(opts.NumVersions)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) NewBatch() Batch {
	return &BadgerBatch{
		db:         s.db,
		operations: make([]batchOperation, 0),
	}
}

func (s *BadgerStore) Begin(writable bool) (Transaction, error) {
	return &BadgerTransaction{
		txn:      s.db.NewTransaction(writable),
		writable: writable,
	}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Size() (int64, error) {
	lsm, vlog := s.db.Size()
	return lsm + vlog, nil
}

// RunValueLogGC reclaims value log space until badger reports that there
// is nothing left worth rewriting.
func (s *BadgerStore) RunValueLogGC(discardRatio float64) error {
	if s.db.Opts().InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return err
		}
		options.Logger.Debug("Value log GC rewrote a file", zap.Float64("discard_ratio", discardRatio))
	}
}

func iteratorOptions(opts IteratorOptions) badger.IteratorOptions {
	badgerOpts := badger.DefaultIteratorOptions
	badgerOpts.PrefetchValues = opts.PrefetchValues
	badgerOpts.Prefix = opts.Prefix
	return badgerOpts
}

// BadgerTransaction wraps BadgerDB transaction
type BadgerTransaction struct {
	txn      *badger.Txn
	writable bool
}

func (t *BadgerTransaction) Get(ctx context.Context, key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *BadgerTransaction) Put(ctx context.Context, key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	return t.txn.Set(key, value)
}

func (t *BadgerTransaction) Delete(ctx context.Context, key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	return t.txn.Delete(key)
}

func (t *BadgerTransaction) NewIterator(opts IteratorOptions) Iterator {
	return &BadgerIterator{iter: t.txn.NewIterator(iteratorOptions(opts))}
}

func (t *BadgerTransaction) Commit() error {
	if !t.writable {
		t.txn.Discard()
		return nil
	}
	return t.txn.Commit()
}

func (t *BadgerTransaction) Discard() {
	t.txn.Discard()
}

// batchOperation represents a single operation in a batch
type batchOperation struct {
	opType opType
	key    []byte
	value  []byte // nil only for delete operations
}

type opType int

const (
	opSet opType = iota
	opDelete
)

// BadgerBatch buffers writes and applies them with a badger WriteBatch
type BadgerBatch struct {
	db         *badger.DB
	operations []batchOperation
}

func (b *BadgerBatch) Set(key, value []byte) error {
	b.operations = append(b.operations, batchOperation{
		opType: opSet,
		key:    bytes.Clone(key),
		value:  bytes.Clone(value),
	})
	return nil
}

func (b *BadgerBatch) Delete(key []byte) error {
	b.operations = append(b.operations, batchOperation{
		opType: opDelete,
		key:    bytes.Clone(key),
	})
	return nil
}

func (b *BadgerBatch) Flush() error {
	if len(b.operations) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, op := range b.operations {
		switch op.opType {
		case opSet:
			if err := wb.Set(op.key, op.value); err != nil {
				return err
			}
		case opDelete:
			if err := wb.Delete(op.key); err != nil {
				return err
			}
		}
	}

	if err := wb.Flush(); err != nil {
		return err
	}
	b.operations = b.operations[:0]
	return nil
}

// BadgerIterator wraps BadgerDB iterator
type BadgerIterator struct {
	iter *badger.Iterator
}

func (i *BadgerIterator) Close() error {
	i.iter.Close()
	return nil
}

func (i *BadgerIterator) Rewind() {
	i.iter.Rewind()
}

func (i *BadgerIterator) Seek(key []byte) {
	i.iter.Seek(key)
}

func (i *BadgerIterator) Next() {
	i.iter.Next()
}

func (i *BadgerIterator) Valid() bool {
	return i.iter.Valid()
}

func (i *BadgerIterator) Item() Item {
	return &BadgerItem{item: i.iter.Item()}
}

// BadgerItem wraps BadgerDB item
type BadgerItem struct {
	item *badger.Item
}

func (i *BadgerItem) Key() []byte {
	return i.item.Key()
}

func (i *BadgerItem) KeyCopy() []byte {
	return i.item.KeyCopy(nil)
}

func (i *BadgerItem) ValueCopy() ([]byte, error) {
	return i.item.ValueCopy(nil)
}
