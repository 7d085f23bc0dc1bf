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
	"errors"
	"io"
)

// Store defines the key-value storage the transaction layer runs on
type Store interface {
	// Batch operations for atomic writes
	NewBatch() Batch

	// Transaction support
	Begin(writable bool) (Transaction, error)

	// Lifecycle
	Close() error

	// Statistics
	Size() (int64, error)
}

// Transaction provides snapshot isolated reads and atomic writes
type Transaction interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// NewIterator iterates over the transaction's snapshot. The iterator
	// must be closed before the transaction ends.
	NewIterator(opts IteratorOptions) Iterator

	Commit() error
	Discard()
}

// Batch provides atomic batch operations
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Flush() error
}

// Iterator provides ordered key-value iteration
type Iterator interface {
	io.Closer

	// Navigation
	Rewind()
	Seek(key []byte)
	Next()
	Valid() bool

	// Data access
	Item() Item
}

// Item represents a key-value pair during iteration. Key is only valid
// until the iterator moves.
type Item interface {
	Key() []byte
	KeyCopy() []byte
	ValueCopy() ([]byte, error)
}

// KeyValue is a copied out key-value pair
type KeyValue struct {
	Key   []byte
	Value []byte
}

// IteratorOptions configures iteration behavior
type IteratorOptions struct {
	Prefix         []byte
	PrefetchValues bool
}

var (
	// ErrKeyNotFound is returned when a key doesn't exist
	ErrKeyNotFound = errors.New("key not found")

	// ErrReadOnly is returned when writing through a read-only transaction
	ErrReadOnly = errors.New("transaction is read-only")
)
