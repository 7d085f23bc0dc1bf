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

package txn

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/bottledcode/atlas-locks/atlas/kv"
	"github.com/bottledcode/atlas-locks/atlas/locks"
)

// Lock levels used by the coordinator.
const (
	LevelDatabase = iota
	LevelObjectStore
	LevelKeyRange

	// LevelCount is the number of levels a Manager passed to
	// NewCoordinator must have.
	LevelCount
)

// Mode is the access mode of a transaction.
type Mode int

const (
	// ReadOnly transactions share every lock they take.
	ReadOnly Mode = iota
	// ReadWrite transactions lock their object stores exclusively, or only
	// their key ranges when the scope names any.
	ReadWrite
	// VersionChange transactions lock the whole database exclusively and
	// may touch any object store in it.
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ReadOnly, ReadWrite, VersionChange} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction mode %q", s)
}

// KeyRange narrows a transaction's locks within one object store to the
// half-open key range [Begin, End).
type KeyRange struct {
	Store string
	Begin []byte
	End   []byte
}

func (r KeyRange) contains(key []byte) bool {
	return bytes.Compare(key, r.Begin) >= 0 && bytes.Compare(key, r.End) < 0
}

// Scope names everything a transaction may touch. All of it is locked up
// front when the transaction begins.
type Scope struct {
	Database  string
	Stores    []string
	Mode      Mode
	KeyRanges []KeyRange
}

// Validate checks that the scope is well formed.
func (s Scope) Validate() error {
	if !kv.ValidName(s.Database) {
		return fmt.Errorf("%w: invalid database name %q", ErrInvalidScope, s.Database)
	}
	switch s.Mode {
	case ReadOnly, ReadWrite:
		if len(s.Stores) == 0 {
			return fmt.Errorf("%w: %s transaction needs at least one object store", ErrInvalidScope, s.Mode)
		}
	case VersionChange:
		if len(s.KeyRanges) > 0 {
			return fmt.Errorf("%w: versionchange transactions cannot name key ranges", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidScope, s.Mode)
	}

	seen := make(map[string]struct{}, len(s.Stores))
	for _, store := range s.Stores {
		if !kv.ValidName(store) {
			return fmt.Errorf("%w: invalid object store name %q", ErrInvalidScope, store)
		}
		if _, ok := seen[store]; ok {
			return fmt.Errorf("%w: object store %q listed twice", ErrInvalidScope, store)
		}
		seen[store] = struct{}{}
	}

	for _, r := range s.KeyRanges {
		if _, ok := seen[r.Store]; !ok {
			return fmt.Errorf("%w: key range on %q", ErrStoreNotInScope, r.Store)
		}
		if bytes.Compare(r.Begin, r.End) >= 0 {
			return fmt.Errorf("%w: empty key range [%q, %q)", ErrInvalidScope, r.Begin, r.End)
		}
	}
	return nil
}

// includesStore reports whether the transaction may touch store.
func (s Scope) includesStore(store string) bool {
	if s.Mode == VersionChange {
		return kv.ValidName(store)
	}
	return slices.Contains(s.Stores, store)
}

// keyRangesFor returns the key ranges narrowing access to store, if any.
func (s Scope) keyRangesFor(store string) []KeyRange {
	var ranges []KeyRange
	for _, r := range s.KeyRanges {
		if r.Store == store {
			ranges = append(ranges, r)
		}
	}
	return ranges
}

// lockRequests translates the scope into requests for the lock manager.
//
// A ReadWrite scope narrowed by key ranges holds its object stores Shared
// and only its key ranges Exclusive. Whole store readers therefore run
// alongside it and are isolated from its writes by their storage snapshot,
// not by locks. Whole store writers hold the store Exclusive and wait for
// both.
func (s Scope) lockRequests() []locks.Request {
	databaseMode := locks.Shared
	if s.Mode == VersionChange {
		databaseMode = locks.Exclusive
	}
	db := kv.NewKeyBuilder().Database(s.Database)
	begin, end := db.Bounds()
	requests := []locks.Request{{
		Level: LevelDatabase,
		Range: locks.NewRange(begin, end),
		Mode:  databaseMode,
	}}
	if s.Mode == VersionChange {
		return requests
	}

	for _, store := range s.Stores {
		mode := locks.Shared
		if s.Mode == ReadWrite && len(s.keyRangesFor(store)) == 0 {
			mode = locks.Exclusive
		}
		begin, end := db.Clone().Store(store).Bounds()
		requests = append(requests, locks.Request{
			Level: LevelObjectStore,
			Range: locks.NewRange(begin, end),
			Mode:  mode,
		})
	}

	keyMode := locks.Shared
	if s.Mode == ReadWrite {
		keyMode = locks.Exclusive
	}
	for _, r := range s.KeyRanges {
		store := db.Clone().Store(r.Store)
		requests = append(requests, locks.Request{
			Level: LevelKeyRange,
			Range: locks.NewRange(
				store.Clone().Key(r.Begin).Build(),
				store.Clone().Key(r.End).Build()),
			Mode: keyMode,
		})
	}
	return requests
}
