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
	"container/list"
	"time"
	"weak"

	"github.com/google/btree"
)

// pendingRequest is a request that could not be granted when it was made.
// The holder is referenced weakly so that a queued request never keeps its
// holder alive.
type pendingRequest struct {
	mode        LockMode
	holder      weak.Pointer[LockHolder]
	acquisition *acquisition
	enqueuedAt  time.Time
}

// liveHolder returns the holder if it still exists and has not been closed.
func (p *pendingRequest) liveHolder() *LockHolder {
	h := p.holder.Value()
	if h == nil || !h.Alive() {
		return nil
	}
	return h
}

// lockState is the state tracked for one range at one level.
type lockState struct {
	rng       Range
	heldCount int
	mode      LockMode
	queue     list.List // of *pendingRequest
}

// canBeAcquired reports whether a request for mode can be granted right
// away. Shared requests only join existing shared holders while nobody is
// waiting, so that waiters are served in order.
func (l *lockState) canBeAcquired(mode LockMode) bool {
	return l.heldCount == 0 ||
		(l.queue.Len() == 0 && l.mode == Shared && mode == Shared)
}

func (l *lockState) unused() bool {
	return l.heldCount == 0 && l.queue.Len() == 0
}

func (l *lockState) popFront() *pendingRequest {
	return l.queue.Remove(l.queue.Front()).(*pendingRequest)
}

func (l *lockState) frontMode() LockMode {
	return l.queue.Front().Value.(*pendingRequest).mode
}

const levelTableDegree = 16

// levelTable maps ranges to their lock state for a single level, sorted by
// range so that neighbours can be found for overlap checks.
type levelTable struct {
	tree *btree.BTreeG[*lockState]
}

func newLevelTable() *levelTable {
	return &levelTable{
		tree: btree.NewG(levelTableDegree, func(a, b *lockState) bool {
			return a.rng.Less(b.rng)
		}),
	}
}

func (t *levelTable) get(r Range) (*lockState, bool) {
	return t.tree.Get(&lockState{rng: r})
}

func (t *levelTable) getOrCreate(r Range) *lockState {
	if l, ok := t.get(r); ok {
		return l
	}
	l := &lockState{rng: r}
	t.tree.ReplaceOrInsert(l)
	return l
}

func (t *levelTable) remove(r Range) {
	t.tree.Delete(&lockState{rng: r})
}

func (t *levelTable) len() int {
	return t.tree.Len()
}

// disjointFromNeighbors reports whether r is either tracked already or does
// not overlap the ranges directly before and after it. Tracked ranges are
// pairwise disjoint, so checking the two neighbours is sufficient.
func (t *levelTable) disjointFromNeighbors(r Range) bool {
	pivot := &lockState{rng: r}
	if _, ok := t.tree.Get(pivot); ok {
		return true
	}

	disjoint := true
	t.tree.DescendLessOrEqual(pivot, func(prev *lockState) bool {
		disjoint = !prev.rng.Overlaps(r)
		return false
	})
	if !disjoint {
		return false
	}
	t.tree.AscendGreaterOrEqual(pivot, func(next *lockState) bool {
		disjoint = !next.rng.Overlaps(r)
		return false
	})
	return disjoint
}

// each calls fn for every tracked range in order.
func (t *levelTable) each(fn func(l *lockState)) {
	t.tree.Ascend(func(l *lockState) bool {
		fn(l)
		return true
	})
}
