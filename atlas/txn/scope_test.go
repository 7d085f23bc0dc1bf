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
	"testing"

	"github.com/bottledcode/atlas-locks/atlas/locks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr error
	}{
		{
			name:  "read only",
			scope: Scope{Database: "db", Stores: []string{"a", "b"}, Mode: ReadOnly},
		},
		{
			name:  "version change without stores",
			scope: Scope{Database: "db", Mode: VersionChange},
		},
		{
			name:    "empty database",
			scope:   Scope{Stores: []string{"a"}, Mode: ReadOnly},
			wantErr: ErrInvalidScope,
		},
		{
			name:    "separator in database",
			scope:   Scope{Database: "d\x00b", Stores: []string{"a"}, Mode: ReadOnly},
			wantErr: ErrInvalidScope,
		},
		{
			name:    "no stores",
			scope:   Scope{Database: "db", Mode: ReadWrite},
			wantErr: ErrInvalidScope,
		},
		{
			name:    "duplicate store",
			scope:   Scope{Database: "db", Stores: []string{"a", "a"}, Mode: ReadWrite},
			wantErr: ErrInvalidScope,
		},
		{
			name:    "empty store name",
			scope:   Scope{Database: "db", Stores: []string{""}, Mode: ReadWrite},
			wantErr: ErrInvalidScope,
		},
		{
			name:    "unknown mode",
			scope:   Scope{Database: "db", Stores: []string{"a"}, Mode: Mode(7)},
			wantErr: ErrInvalidScope,
		},
		{
			name: "key range outside stores",
			scope: Scope{Database: "db", Stores: []string{"a"}, Mode: ReadWrite,
				KeyRanges: []KeyRange{{Store: "b", Begin: []byte("x"), End: []byte("y")}}},
			wantErr: ErrStoreNotInScope,
		},
		{
			name: "empty key range",
			scope: Scope{Database: "db", Stores: []string{"a"}, Mode: ReadWrite,
				KeyRanges: []KeyRange{{Store: "a", Begin: []byte("y"), End: []byte("y")}}},
			wantErr: ErrInvalidScope,
		},
		{
			name: "key ranges in version change",
			scope: Scope{Database: "db", Mode: VersionChange,
				KeyRanges: []KeyRange{{Store: "a", Begin: []byte("x"), End: []byte("y")}}},
			wantErr: ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestScope_LockRequests(t *testing.T) {
	dbRange := locks.NewRange([]byte("db\x00"), []byte("db\x01"))
	usersRange := locks.NewRange([]byte("db\x00users\x00"), []byte("db\x00users\x01"))

	t.Run("read only", func(t *testing.T) {
		requests := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadOnly}.lockRequests()
		require.Len(t, requests, 2)
		assert.Equal(t, locks.Request{Level: LevelDatabase, Range: dbRange, Mode: locks.Shared}, requests[0])
		assert.Equal(t, locks.Request{Level: LevelObjectStore, Range: usersRange, Mode: locks.Shared}, requests[1])
	})

	t.Run("read write", func(t *testing.T) {
		requests := Scope{Database: "db", Stores: []string{"users"}, Mode: ReadWrite}.lockRequests()
		require.Len(t, requests, 2)
		assert.Equal(t, locks.Shared, requests[0].Mode)
		assert.Equal(t, locks.Exclusive, requests[1].Mode)
	})

	t.Run("version change", func(t *testing.T) {
		requests := Scope{Database: "db", Mode: VersionChange}.lockRequests()
		require.Len(t, requests, 1)
		assert.Equal(t, locks.Request{Level: LevelDatabase, Range: dbRange, Mode: locks.Exclusive}, requests[0])
	})

	t.Run("key ranges", func(t *testing.T) {
		requests := Scope{
			Database:  "db",
			Stores:    []string{"users"},
			Mode:      ReadWrite,
			KeyRanges: []KeyRange{{Store: "users", Begin: []byte("a"), End: []byte("m")}},
		}.lockRequests()
		require.Len(t, requests, 3)
		assert.Equal(t, locks.Shared, requests[1].Mode)
		assert.Equal(t, locks.Request{
			Level: LevelKeyRange,
			Range: locks.NewRange([]byte("db\x00users\x00a"), []byte("db\x00users\x00m")),
			Mode:  locks.Exclusive,
		}, requests[2])
	})
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ReadOnly, ReadWrite, VersionChange} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("bogus")
	assert.Error(t, err)
}
