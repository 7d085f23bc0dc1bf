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

// Package txn runs scoped transactions over a kv.Store, isolating them with
// a leveled range lock manager: databases on the first level, object stores
// on the second and key ranges on the third.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/locks"
	"github.com/bottledcode/atlas-locks/atlas/options"
	"github.com/bottledcode/atlas-locks/atlas/sequence"
	"go.uber.org/zap"
)

// Coordinator hands out transactions. It is safe for concurrent use; all
// access to the lock manager is funneled through runner.
type Coordinator struct {
	store   kv.Store
	runner  *sequence.SequencedTaskRunner
	manager *locks.Manager
	logger  *zap.Logger

	nextID    atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// NewCoordinator creates a coordinator. manager must have been created with
// runner as its task runner and at least LevelCount levels.
func NewCoordinator(store kv.Store, runner *sequence.SequencedTaskRunner, manager *locks.Manager) (*Coordinator, error) {
	if store == nil || runner == nil || manager == nil {
		return nil, errors.New("transaction coordinator requires a store, a runner and a lock manager")
	}
	if manager.LevelCount() < LevelCount {
		return nil, fmt.Errorf("lock manager has %d levels, need %d", manager.LevelCount(), LevelCount)
	}

	registerMetrics()

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		runner:  runner,
		manager: manager,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Begin locks everything in scope and starts a transaction. It blocks until
// the locks are granted, ctx is done or the coordinator is closed. When it
// gives up waiting, the queued lock requests are abandoned and never
// granted.
func (c *Coordinator) Begin(ctx context.Context, scope Scope) (*Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	start := time.Now()
	holder := locks.NewLockHolder()
	granted := make(chan struct{})
	var acquireErr error
	err := c.runner.Invoke(ctx, func() {
		acquireErr = c.manager.AcquireLocks(scope.lockRequests(), holder, func() {
			close(granted)
		})
	})
	if errors.Is(err, sequence.ErrRunnerClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		// The acquisition may still run; closing after it drops whatever it gets.
		c.abandon(holder)
		return nil, err
	}
	if acquireErr != nil {
		if errors.Is(acquireErr, locks.ErrManagerClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to lock transaction scope: %w", acquireErr)
	}

	select {
	case <-granted:
	case <-ctx.Done():
		c.abandon(holder)
		countTransaction(scope.Mode, "cancelled")
		return nil, ctx.Err()
	case <-c.done:
		c.abandon(holder)
		return nil, ErrClosed
	}
	coordinatorBeginDurationSeconds.WithLabelValues(scope.Mode.String()).Observe(time.Since(start).Seconds())

	kvTxn, err := c.store.Begin(scope.Mode != ReadOnly)
	if err != nil {
		c.abandon(holder)
		return nil, fmt.Errorf("failed to begin storage transaction: %w", err)
	}

	t := &Transaction{
		id:          c.nextID.Add(1),
		coordinator: c,
		scope:       scope,
		holder:      holder,
		txn:         kvTxn,
	}
	coordinatorTransactionsActive.Inc()
	c.logger.Debug("Transaction started",
		zap.Uint64("id", t.id),
		zap.String("database", scope.Database),
		zap.Strings("stores", scope.Stores),
		zap.Stringer("mode", scope.Mode),
		zap.Duration("wait", time.Since(start)))
	return t, nil
}

// Close makes pending and future Begin calls fail with ErrClosed.
// Transactions that already started can still finish.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// abandon closes holder on the manager's sequence, releasing any locks it
// was granted and dropping its queued requests.
func (c *Coordinator) abandon(holder *locks.LockHolder) {
	if !c.runner.PostTask(holder.Close) {
		c.logger.Debug("Runner closed before locks could be released")
	}
}
