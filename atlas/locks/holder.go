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

// HeldLock is a granted lock. It stays granted until Release is called,
// either directly or through the LockHolder that owns it.
type HeldLock struct {
	manager  *Manager
	level    int
	rng      Range
	mode     LockMode
	released bool
}

func (l *HeldLock) Level() int {
	return l.level
}

func (l *HeldLock) Range() Range {
	return l.rng
}

func (l *HeldLock) Mode() LockMode {
	return l.mode
}

// Released reports whether Release has been called.
func (l *HeldLock) Released() bool {
	return l.released
}

// Release gives the lock back to the manager, which may hand it to the
// next waiter. Releasing twice is a no-op, as is releasing after the
// manager has been closed. It must be called on the manager's sequence.
func (l *HeldLock) Release() {
	if l.released {
		return
	}
	l.released = true
	l.manager.releaseLock(l.level, l.rng)
}

// LockHolder owns the locks granted by one or more AcquireLocks calls. The
// manager references holders weakly: once a holder is closed or garbage
// collected, requests it still has queued are discarded without invoking
// their callbacks.
//
// Closing a holder releases everything it holds. A holder that is dropped
// without being closed keeps its granted locks forever, so callers must
// always Close it. LockHolder is not safe for concurrent use; like the
// manager, it belongs to a single sequence.
type LockHolder struct {
	locks  []*HeldLock
	closed bool
}

func NewLockHolder() *LockHolder {
	return &LockHolder{}
}

// Alive reports whether the holder is still interested in its requests.
func (h *LockHolder) Alive() bool {
	return h != nil && !h.closed
}

// Locks returns the locks currently held.
func (h *LockHolder) Locks() []*HeldLock {
	held := make([]*HeldLock, 0, len(h.locks))
	for _, l := range h.locks {
		if !l.released {
			held = append(held, l)
		}
	}
	return held
}

// ReleaseAll releases every held lock but keeps the holder alive, so that
// requests it still has queued can be granted later.
func (h *LockHolder) ReleaseAll() {
	locks := h.locks
	h.locks = nil
	for _, l := range locks {
		l.Release()
	}
}

// Close marks the holder dead and releases every held lock.
func (h *LockHolder) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.ReleaseAll()
}

func (h *LockHolder) add(l *HeldLock) {
	h.locks = append(h.locks, l)
}
