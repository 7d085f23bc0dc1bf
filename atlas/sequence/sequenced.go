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

package sequence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// SequencedTaskRunner executes posted tasks on a single dedicated goroutine.
// The queue is unbounded so that posting never blocks the caller, which
// matters when a task posts follow-up work to its own runner.
type SequencedTaskRunner struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	worker atomic.Int64
	done   chan struct{}
}

// NewSequencedTaskRunner starts a runner and its worker goroutine.
func NewSequencedTaskRunner() *SequencedTaskRunner {
	r := &SequencedTaskRunner{
		done: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

func (r *SequencedTaskRunner) run() {
	defer close(r.done)
	r.worker.Store(goid.Get())

	for {
		r.mu.Lock()
		for len(r.tasks) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return
		}
		task := r.tasks[0]
		r.tasks[0] = nil
		r.tasks = r.tasks[1:]
		r.mu.Unlock()

		task()
	}
}

// PostTask queues task behind every task posted before it.
func (r *SequencedTaskRunner) PostTask(task func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.tasks = append(r.tasks, task)
	r.cond.Signal()
	return true
}

// RunsTasksInCurrentSequence reports whether the caller is the worker
// goroutine, i.e. whether it is currently inside one of this runner's tasks.
func (r *SequencedTaskRunner) RunsTasksInCurrentSequence() bool {
	return r.worker.Load() == goid.Get()
}

// Invoke runs fn on the sequence and waits for it to finish. It must not be
// called from inside a task of the same runner, as that would deadlock.
func (r *SequencedTaskRunner) Invoke(ctx context.Context, fn func()) error {
	if r.RunsTasksInCurrentSequence() {
		panic("Invoke() called from inside its own sequence")
	}

	finished := make(chan struct{})
	if !r.PostTask(func() {
		defer close(finished)
		fn()
	}) {
		return ErrRunnerClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks, lets the already queued ones finish and
// waits for the worker goroutine to exit.
func (r *SequencedTaskRunner) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	<-r.done
}
