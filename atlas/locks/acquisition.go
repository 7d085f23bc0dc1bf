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

import (
	"weak"

	"github.com/bottledcode/atlas-locks/atlas/sequence"
)

// acquisition tracks one AcquireLocks call until every one of its requests
// has been granted, then fires the caller's callback exactly once.
type acquisition struct {
	remaining int

	// synchronous is set while AcquireLocks is still running. Grants made
	// during that time are reported by AcquireLocks itself.
	synchronous bool

	holder   weak.Pointer[LockHolder]
	callback func()
	runner   sequence.TaskRunner
}

// lockGranted records one grant. When the final grant happens from a
// release cascade, the callback is posted rather than run, so that caller
// code never runs on the manager's stack.
func (a *acquisition) lockGranted() {
	a.remaining--
	if a.remaining > 0 || a.synchronous {
		return
	}
	a.runner.PostTask(a.fire)
}

func (a *acquisition) complete() bool {
	return a.remaining == 0
}

func (a *acquisition) fire() {
	if h := a.holder.Value(); h == nil || !h.Alive() {
		return
	}
	if callback := a.callback; callback != nil {
		a.callback = nil
		callback()
	}
}
