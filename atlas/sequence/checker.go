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
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Checker asserts that a set of calls all happen on the same goroutine.
// Every task of a SequencedTaskRunner executes on one worker goroutine, so
// binding to a goroutine is equivalent to binding to the sequence.
//
// A zero Checker is detached: it binds to whichever goroutine calls it
// first. This allows an object to be constructed on one goroutine and then
// used exclusively from another.
type Checker struct {
	owner atomic.Int64
}

// CalledOnValidSequence binds the checker if it is detached and reports
// whether the caller is the goroutine it is bound to.
func (c *Checker) CalledOnValidSequence() bool {
	current := goid.Get()
	if c.owner.CompareAndSwap(0, current) {
		return true
	}
	return c.owner.Load() == current
}

// Check panics if the caller is not on the bound sequence.
func (c *Checker) Check() {
	if !c.CalledOnValidSequence() {
		panic(fmt.Sprintf("sequence checker bound to goroutine %d called from goroutine %d", c.owner.Load(), goid.Get()))
	}
}

// Detach unbinds the checker, so that the next caller becomes the owner.
func (c *Checker) Detach() {
	c.owner.Store(0)
}
