// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package tuple

import (
	"strings"
	"sync"
)

// Subspace is an immutable byte prefix plus operations to extend it with
// tuple elements. All persisted keys of one logical scope share a Subspace
// (spec glossary: Subspace).
type Subspace struct {
	prefix []byte
}

// FromBytes wraps an already-computed prefix (e.g. a directory-layer
// allocated short prefix) as a Subspace.
func FromBytes(prefix []byte) Subspace {
	cp := make([]byte, len(prefix))
	copy(cp, prefix)
	return Subspace{prefix: cp}
}

// Bytes returns the subspace's raw byte prefix.
func (s Subspace) Bytes() []byte { return s.prefix }

// Sub extends the subspace with one additional tuple element.
func (s Subspace) Sub(elem any) Subspace {
	var buf []byte
	buf = append(buf, s.prefix...)
	appendOne(&buf, elem)
	return Subspace{prefix: buf}
}

func appendOne(dst *[]byte, elem any) {
	*dst = append(*dst, Pack(Tuple{elem})...)
}

// Pack packs t and appends it after the subspace prefix.
func (s Subspace) Pack(t Tuple) []byte {
	out := make([]byte, 0, len(s.prefix)+16)
	out = append(out, s.prefix...)
	out = append(out, Pack(t)...)
	return out
}

// Raw concatenates suffix directly onto the subspace prefix, with no tuple
// encoding. Used by rangeset, whose stored keys are themselves arbitrary
// already-encoded byte strings (interval boundaries into the flat
// keyspace) rather than tuple elements: since the prefix has a fixed
// length, ordinary byte concatenation alone preserves lexicographic order
// within the subspace, so no escaping is needed.
func (s Subspace) Raw(suffix []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(suffix))
	out = append(out, s.prefix...)
	out = append(out, suffix...)
	return out
}

// Range returns the half-open [begin, end) byte range covering every key
// that lives directly under this subspace.
func (s Subspace) Range() (begin, end []byte) {
	begin = append([]byte{}, s.prefix...)
	end = Successor(rangeCeiling(s.prefix))
	return begin, end
}

// rangeCeiling returns the prefix with 0xFF appended, so that Successor of
// it is strictly greater than any key starting with prefix. Using a single
// 0xff sentinel byte (outside the tag-byte range used by Pack) keeps the
// range end independent of which element tags happen to sort highest.
func rangeCeiling(prefix []byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = 0xff
	return out
}

// Contains reports whether key falls within this subspace's byte range.
func (s Subspace) Contains(key []byte) bool {
	if len(key) < len(s.prefix) {
		return false
	}
	for i, c := range s.prefix {
		if key[i] != c {
			return false
		}
	}
	return true
}

// pathCache memoizes Subspace prefixes built from FromPath, process-wide,
// guarded by a short-held mutex (spec §9: "global singletons... process-wide
// with an explicit clear for tests").
type pathCache struct {
	mu    sync.Mutex
	byKey map[string]Subspace
}

var defaultPathCache = &pathCache{byKey: make(map[string]Subspace)}

// FromPath splits path on "/" and builds a Subspace whose elements are the
// segments, in order, memoized process-wide so that repeated calls with the
// same path return byte-equal prefixes and hit the cache (spec 4.C, E6).
func FromPath(path string) Subspace {
	defaultPathCache.mu.Lock()
	if s, ok := defaultPathCache.byKey[path]; ok {
		defaultPathCache.mu.Unlock()
		return s
	}
	defaultPathCache.mu.Unlock()

	segments := strings.Split(path, "/")
	s := Subspace{}
	for _, seg := range segments {
		s = s.Sub(seg)
	}

	defaultPathCache.mu.Lock()
	// Last writer wins for equal values: if another goroutine raced us,
	// both computed the same bytes, so overwriting is harmless.
	defaultPathCache.byKey[path] = s
	defaultPathCache.mu.Unlock()
	return s
}

// ClearPathCache drops all memoized FromPath results. Intended for tests.
func ClearPathCache() {
	defaultPathCache.mu.Lock()
	defaultPathCache.byKey = make(map[string]Subspace)
	defaultPathCache.mu.Unlock()
}
