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

package locks

import "errors"

var (
	// ErrInvalidLevel is returned when a request names a level the manager does not have
	ErrInvalidLevel = errors.New("lock level out of range")

	// ErrInvalidRange is returned when a range does not satisfy begin < end
	ErrInvalidRange = errors.New("lock range begin must sort before end")

	// ErrInvalidMode is returned when a request's mode is neither Shared nor Exclusive
	ErrInvalidMode = errors.New("lock mode must be shared or exclusive")

	// ErrOverlappingRanges is returned when a range overlaps another range at the same level
	ErrOverlappingRanges = errors.New("lock ranges at the same level must be disjoint")

	// ErrHolderGone is returned when acquiring on behalf of a nil or closed holder
	ErrHolderGone = errors.New("lock holder is no longer alive")

	// ErrManagerClosed is returned when operating on a closed manager
	ErrManagerClosed = errors.New("lock manager is closed")

	// ErrLockRangeInUse is returned when removing a range that is held or has waiters
	ErrLockRangeInUse = errors.New("lock range is still in use")
)
