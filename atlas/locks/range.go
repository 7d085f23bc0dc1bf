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
	"bytes"
	"fmt"
)

// LockMode is the access mode of a lock request.
type LockMode int

const (
	// Shared locks may be held by any number of holders at once.
	Shared LockMode = iota
	// Exclusive locks are held by exactly one holder.
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// Range is the half-open byte range [Begin, End). Ranges are ordered
// bytewise by Begin, with ties broken by End.
//
// The manager keeps the slices it is given, so callers must not modify
// them after handing a Range over. NewRange makes copies.
type Range struct {
	Begin []byte
	End   []byte
}

// NewRange returns a Range holding private copies of begin and end.
func NewRange(begin, end []byte) Range {
	return Range{
		Begin: bytes.Clone(begin),
		End:   bytes.Clone(end),
	}
}

// Valid reports whether Begin sorts strictly before End.
func (r Range) Valid() bool {
	return bytes.Compare(r.Begin, r.End) < 0
}

// Compare returns -1, 0 or +1 depending on whether r sorts before, equal to
// or after o.
func (r Range) Compare(o Range) int {
	if c := bytes.Compare(r.Begin, o.Begin); c != 0 {
		return c
	}
	return bytes.Compare(r.End, o.End)
}

func (r Range) Less(o Range) bool {
	return r.Compare(o) < 0
}

func (r Range) Equal(o Range) bool {
	return r.Compare(o) == 0
}

// Overlaps reports whether r and o share at least one key. Both ranges must
// be valid.
func (r Range) Overlaps(o Range) bool {
	return bytes.Compare(r.Begin, o.End) < 0 && bytes.Compare(o.Begin, r.End) < 0
}

func (r Range) String() string {
	return fmt.Sprintf("[%q, %q)", r.Begin, r.End)
}

// Request asks for Range at Level in the given Mode.
type Request struct {
	Level int
	Range Range
	Mode  LockMode
}

// TestResult is the outcome of Manager.TestLock.
type TestResult int

const (
	// TestInvalid means the request would be rejected.
	TestInvalid TestResult = iota
	// TestLocked means the request would have to wait.
	TestLocked
	// TestFree means the request would be granted immediately.
	TestFree
)

func (r TestResult) String() string {
	switch r {
	case TestInvalid:
		return "invalid"
	case TestLocked:
		return "locked"
	case TestFree:
		return "free"
	default:
		return fmt.Sprintf("TestResult(%d)", int(r))
	}
}
