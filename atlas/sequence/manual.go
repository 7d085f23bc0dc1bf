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

// ManualTaskRunner queues posted tasks until the owner explicitly runs them.
// It is meant for tests that need to observe the state between a task being
// posted and it being executed. It is not safe for concurrent use.
type ManualTaskRunner struct {
	tasks  []func()
	closed bool
}

// NewManualTaskRunner returns an empty runner.
func NewManualTaskRunner() *ManualTaskRunner {
	return &ManualTaskRunner{}
}

func (r *ManualTaskRunner) PostTask(task func()) bool {
	if r.closed {
		return false
	}
	r.tasks = append(r.tasks, task)
	return true
}

// PendingTasks returns the number of tasks waiting to run.
func (r *ManualTaskRunner) PendingTasks() int {
	return len(r.tasks)
}

// RunPendingTasks runs the tasks that were queued at the time of the call.
// Tasks posted while doing so stay queued. It returns the number of tasks
// that ran.
func (r *ManualTaskRunner) RunPendingTasks() int {
	tasks := r.tasks
	r.tasks = nil
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// RunUntilIdle runs tasks, including ones posted along the way, until the
// queue is empty.
func (r *ManualTaskRunner) RunUntilIdle() int {
	ran := 0
	for len(r.tasks) > 0 {
		ran += r.RunPendingTasks()
	}
	return ran
}

// Close drops every queued task and rejects later posts.
func (r *ManualTaskRunner) Close() {
	r.closed = true
	r.tasks = nil
}
