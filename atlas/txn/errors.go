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

import "errors"

var (
	// ErrInvalidScope is returned by Begin for a malformed scope
	ErrInvalidScope = errors.New("invalid transaction scope")

	// ErrStoreNotInScope is returned when accessing an object store the
	// transaction did not lock
	ErrStoreNotInScope = errors.New("object store is not in the transaction scope")

	// ErrKeyNotInScope is returned when accessing a key outside the key
	// ranges the transaction locked for that store
	ErrKeyNotInScope = errors.New("key is not in the transaction scope")

	// ErrReadOnlyTransaction is returned when writing through a read-only transaction
	ErrReadOnlyTransaction = errors.New("transaction is read-only")

	// ErrTransactionFinished is returned when using a committed or aborted transaction
	ErrTransactionFinished = errors.New("transaction has already finished")

	// ErrClosed is returned once the coordinator has been closed
	ErrClosed = errors.New("transaction coordinator is closed")
)
