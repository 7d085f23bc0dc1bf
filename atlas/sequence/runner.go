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

// Package sequence provides the execution context the lock manager relies on:
// a way to post closures that run later, one at a time, on a single logical
// sequence, and a checker asserting that code runs on that sequence.
package sequence

// TaskRunner runs posted tasks asynchronously and in posting order. Tasks
// posted to the same TaskRunner never run concurrently with each other.
type TaskRunner interface {
	// PostTask queues task for execution. It returns false if the runner no
	// longer accepts tasks, in which case task will never run.
	PostTask(task func()) bool
}
