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

// Package locks implements a leveled, disjoint range lock manager.
//
// Locks are requested on half-open byte ranges within independent levels.
// To stay fast without an interval tree, the manager relies on the
// following invariants:
//
//   - All ranges requested at a level are disjoint; they never overlap.
//     Requests violating this are rejected.
//   - Ranges are compared bytewise.
//   - All calls happen on one sequence. Grants that had to wait are
//     reported by posting the caller's callback to that sequence's
//     TaskRunner.
//   - Locks are granted in the order in which they were requested, except
//     that shared waiters at the head of a queue are granted together.
//   - Everything a holder needs is acquired in a single AcquireLocks call.
//     To extend its set of locks, a holder must release what it has and
//     acquire the full set again. This is what keeps the manager free of
//     deadlocks without detecting them.
package locks

import (
	"errors"
	"fmt"
	"slices"
	"time"
	"weak"

	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/atlas/sequence"
	"go.uber.org/zap"
)

// Manager grants shared and exclusive locks on byte ranges. It is not safe
// for concurrent use: every method, and every Release of a lock it handed
// out, must be called from the same goroutine. The manager enforces this
// and panics when called from elsewhere.
type Manager struct {
	levels  []*levelTable
	runner  sequence.TaskRunner
	checker sequence.Checker
	logger  *zap.Logger

	retainRanges bool
	closed       bool

	locksHeld       int64
	requestsWaiting int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager. By default the process
// wide options.Logger is used.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRetainedRanges keeps the state of ranges around after they become
// unused, trading memory for fewer allocations when the same ranges are
// locked over and over. Retained ranges still count towards the overlap
// check, and must be reclaimed with RemoveLockRange.
func WithRetainedRanges() Option {
	return func(m *Manager) {
		m.retainRanges = true
	}
}

// NewManager creates a manager with levelCount independent levels. Callbacks
// for grants that had to wait are posted to runner, which must run tasks on
// the sequence the manager is used from.
func NewManager(levelCount int, runner sequence.TaskRunner, opts ...Option) (*Manager, error) {
	if levelCount <= 0 {
		return nil, fmt.Errorf("level count must be positive, got %d: %w", levelCount, ErrInvalidLevel)
	}
	if runner == nil {
		return nil, errors.New("lock manager requires a task runner")
	}

	registerMetrics()

	m := &Manager{
		levels: make([]*levelTable, levelCount),
		runner: runner,
		logger: options.Logger,
	}
	for i := range m.levels {
		m.levels[i] = newLevelTable()
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

// LevelCount returns the number of levels the manager was created with.
func (m *Manager) LevelCount() int {
	return len(m.levels)
}

// LocksHeld returns the number of granted locks, counting each shared
// holder separately.
func (m *Manager) LocksHeld() int64 {
	m.checker.Check()
	return m.locksHeld
}

// RequestsWaiting returns the number of queued requests, including ones
// whose holder has gone away but which have not been popped yet.
func (m *Manager) RequestsWaiting() int64 {
	m.checker.Check()
	return m.requestsWaiting
}

// AcquireLocks requests every lock in requests on behalf of holder. It
// returns nil if the requests were accepted, in which case onAcquired is
// called exactly once, as soon as all of them have been granted:
//
//   - If every lock is free, onAcquired runs before AcquireLocks returns.
//   - Otherwise it is posted to the manager's task runner once the last
//     lock is granted by a release.
//
// onAcquired is not called if the holder is closed or collected before
// that point. Granted locks are added to the holder.
//
// Requests are validated as a whole before any lock is touched. A level
// out of range, an empty or inverted range, two requested ranges at the
// same level overlapping, or a range overlapping a different range the
// manager already tracks all cause an error, and leave the manager
// unchanged.
func (m *Manager) AcquireLocks(requests []Request, holder *LockHolder, onAcquired func()) error {
	m.checker.Check()

	if m.closed {
		return ErrManagerClosed
	}
	if !holder.Alive() {
		lockManagerAcquisitionsRejected.Inc()
		return ErrHolderGone
	}
	if err := m.validate(requests); err != nil {
		lockManagerAcquisitionsRejected.Inc()
		m.logger.Debug("Rejected lock acquisition",
			zap.Int("requests", len(requests)),
			zap.Error(err))
		return err
	}

	acq := &acquisition{
		remaining:   len(requests),
		synchronous: true,
		holder:      weak.Make(holder),
		callback:    onAcquired,
		runner:      m.runner,
	}
	now := time.Now()
	for _, request := range requests {
		lock := m.levels[request.Level].getOrCreate(request.Range)
		if lock.canBeAcquired(request.Mode) {
			m.grant(lock, request.Level, request.Mode, holder)
			acq.lockGranted()
			continue
		}
		lock.queue.PushBack(&pendingRequest{
			mode:        request.Mode,
			holder:      acq.holder,
			acquisition: acq,
			enqueuedAt:  now,
		})
		m.requestsWaiting++
		lockManagerRequestsWaiting.Inc()
	}
	acq.synchronous = false

	if acq.complete() {
		lockManagerAcquisitionsImmediate.Inc()
		acq.fire()
	} else {
		lockManagerAcquisitionsQueued.Inc()
	}
	return nil
}

// TestLock reports what would happen if request were passed to
// AcquireLocks on its own. It does not modify any state.
func (m *Manager) TestLock(request Request) TestResult {
	m.checker.Check()

	if m.closed || m.checkRequest(request) != nil {
		return TestInvalid
	}
	table := m.levels[request.Level]
	lock, ok := table.get(request.Range)
	if !ok {
		if !table.disjointFromNeighbors(request.Range) {
			return TestInvalid
		}
		return TestFree
	}
	if lock.canBeAcquired(request.Mode) {
		return TestFree
	}
	return TestLocked
}

// RemoveLockRange drops the state of an unused range. It is only useful in
// combination with WithRetainedRanges, as unused ranges are dropped
// automatically otherwise. Removing a range that is not tracked is a no-op.
// Removing a range that is held or has waiters is a caller bug: it panics
// with a development logger and otherwise fails with ErrLockRangeInUse,
// changing nothing.
func (m *Manager) RemoveLockRange(level int, rng Range) error {
	m.checker.Check()

	if m.closed {
		return ErrManagerClosed
	}
	if level < 0 || level >= len(m.levels) {
		return ErrInvalidLevel
	}
	table := m.levels[level]
	lock, ok := table.get(rng)
	if !ok {
		return nil
	}
	if !lock.unused() {
		m.logger.DPanic("Attempted to remove a lock range that is in use",
			zap.Int("level", level),
			zap.Stringer("range", rng),
			zap.Int("held", lock.heldCount),
			zap.Int("waiting", lock.queue.Len()))
		return ErrLockRangeInUse
	}
	table.remove(rng)
	return nil
}

// Close tears the manager down. Queued requests are dropped without their
// callbacks being called, later acquisitions fail and releasing locks
// handed out earlier does nothing.
func (m *Manager) Close() {
	m.checker.Check()

	if m.closed {
		return
	}
	m.closed = true

	if m.requestsWaiting > 0 {
		m.logger.Info("Closing lock manager with queued requests",
			zap.Int64("held", m.locksHeld),
			zap.Int64("waiting", m.requestsWaiting))
	}
	lockManagerLocksHeld.Sub(float64(m.locksHeld))
	lockManagerRequestsWaiting.Sub(float64(m.requestsWaiting))
	m.locksHeld = 0
	m.requestsWaiting = 0
	m.levels = nil
}

func (m *Manager) checkRequest(request Request) error {
	if request.Level < 0 || request.Level >= len(m.levels) {
		return fmt.Errorf("level %d of %d: %w", request.Level, len(m.levels), ErrInvalidLevel)
	}
	if !request.Range.Valid() {
		return fmt.Errorf("range %s: %w", request.Range, ErrInvalidRange)
	}
	if request.Mode != Shared && request.Mode != Exclusive {
		return fmt.Errorf("%s: %w", request.Mode, ErrInvalidMode)
	}
	return nil
}

// validate checks requests without modifying anything, so that a rejected
// acquisition leaves no trace.
func (m *Manager) validate(requests []Request) error {
	for _, request := range requests {
		if err := m.checkRequest(request); err != nil {
			return err
		}
		if !m.levels[request.Level].disjointFromNeighbors(request.Range) {
			return fmt.Errorf("range %s at level %d overlaps a tracked range: %w", request.Range, request.Level, ErrOverlappingRanges)
		}
	}

	sorted := slices.Clone(requests)
	slices.SortFunc(sorted, func(a, b Request) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		return a.Range.Compare(b.Range)
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Level == cur.Level && prev.Range.Overlaps(cur.Range) {
			return fmt.Errorf("ranges %s and %s at level %d: %w", prev.Range, cur.Range, cur.Level, ErrOverlappingRanges)
		}
	}
	return nil
}

func (m *Manager) grant(lock *lockState, level int, mode LockMode, holder *LockHolder) {
	lock.heldCount++
	lock.mode = mode
	m.locksHeld++
	lockManagerLocksHeld.Inc()

	holder.add(&HeldLock{
		manager: m,
		level:   level,
		rng:     lock.rng,
		mode:    mode,
	})
}

// releaseLock gives up one hold on a range. When the last holder leaves,
// waiters are popped in order: a single exclusive waiter, or every shared
// waiter up to the next exclusive one. Waiters whose holder is gone are
// discarded along the way.
func (m *Manager) releaseLock(level int, rng Range) {
	m.checker.Check()

	if m.closed {
		return
	}
	table := m.levels[level]
	lock, ok := table.get(rng)
	if !ok || lock.heldCount == 0 {
		m.logger.DPanic("Released a lock range that is not held",
			zap.Int("level", level),
			zap.Stringer("range", rng))
		return
	}

	lock.heldCount--
	m.locksHeld--
	lockManagerLocksHeld.Dec()
	if lock.heldCount > 0 {
		return
	}

	now := time.Now()
	for lock.queue.Len() > 0 && (lock.heldCount == 0 || lock.frontMode() == Shared) {
		request := lock.popFront()
		m.requestsWaiting--
		lockManagerRequestsWaiting.Dec()

		holder := request.liveHolder()
		if holder == nil {
			lockManagerQueuedGrantsHolderGone.Inc()
			continue
		}

		m.grant(lock, level, request.mode, holder)
		lockManagerQueuedGrantsGranted.Inc()
		lockManagerWaitDurationSeconds.WithLabelValues(request.mode.String()).Observe(now.Sub(request.enqueuedAt).Seconds())
		request.acquisition.lockGranted()

		if request.mode == Exclusive {
			break
		}
	}

	if lock.unused() && !m.retainRanges {
		table.remove(rng)
	}
}

// each calls fn for every tracked range. It is used by tests to inspect
// the tables.
func (m *Manager) each(fn func(level int, l *lockState)) {
	for level, table := range m.levels {
		table.each(func(l *lockState) {
			fn(level, l)
		})
	}
}
