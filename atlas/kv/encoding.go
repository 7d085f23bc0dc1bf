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

package kv

import (
	"bytes"
	"strings"
)

// KeyBuilder constructs hierarchical keys of the form
// database \x00 store \x00 key. Names may not contain the separator so that
// every database and store owns a contiguous, non-overlapping key range.
type KeyBuilder struct {
	database string
	store    string
	key      []byte
	hasStore bool
	hasKey   bool
}

const keySeparator = 0x00

// NewKeyBuilder creates a new key builder
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// ValidName reports whether name can be used as a database or store name.
func ValidName(name string) bool {
	return name != "" && strings.IndexByte(name, keySeparator) < 0
}

func (kb *KeyBuilder) Database(name string) *KeyBuilder {
	kb.database = name
	return kb
}

func (kb *KeyBuilder) Store(name string) *KeyBuilder {
	kb.store = name
	kb.hasStore = true
	return kb
}

func (kb *KeyBuilder) Key(key []byte) *KeyBuilder {
	kb.key = key
	kb.hasKey = true
	return kb
}

// Prefix returns the encoded database, or database and store, including the
// trailing separator.
func (kb *KeyBuilder) Prefix() []byte {
	var buf bytes.Buffer
	buf.WriteString(kb.database)
	buf.WriteByte(keySeparator)
	if kb.hasStore {
		buf.WriteString(kb.store)
		buf.WriteByte(keySeparator)
	}
	return buf.Bytes()
}

// Build returns the full encoded key.
func (kb *KeyBuilder) Build() []byte {
	prefix := kb.Prefix()
	if !kb.hasKey {
		return prefix
	}
	out := make([]byte, 0, len(prefix)+len(kb.key))
	out = append(out, prefix...)
	return append(out, kb.key...)
}

// Bounds returns the half-open key range [begin, end) that contains every
// key under Prefix.
func (kb *KeyBuilder) Bounds() (begin, end []byte) {
	begin = kb.Prefix()
	return begin, PrefixEnd(begin)
}

// Clone returns a copy that can be extended independently.
func (kb *KeyBuilder) Clone() *KeyBuilder {
	clone := *kb
	if kb.key != nil {
		clone.key = bytes.Clone(kb.key)
	}
	return &clone
}

func (kb *KeyBuilder) String() string {
	parts := []string{kb.database}
	if kb.hasStore {
		parts = append(parts, kb.store)
	}
	if kb.hasKey {
		parts = append(parts, string(kb.key))
	}
	return strings.Join(parts, "/")
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// TrimPrefix strips the database and store prefix from an encoded key.
func (kb *KeyBuilder) TrimPrefix(key []byte) []byte {
	return bytes.TrimPrefix(key, kb.Prefix())
}
