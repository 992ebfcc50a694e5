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

package metadata

import "fmt"

// EnumMetadata describes an enum-typed field: a type name plus an ordered,
// unique list of case names.
type EnumMetadata struct {
	TypeName string
	Cases    []string
}

// Validate checks the "cases are unique within the metadata" invariant.
func (e EnumMetadata) Validate() error {
	if len(e.Cases) == 0 {
		return fmt.Errorf("metadata: enum %q has no cases", e.TypeName)
	}
	seen := make(map[string]struct{}, len(e.Cases))
	for _, c := range e.Cases {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("metadata: enum %q has duplicate case %q", e.TypeName, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// HasCase reports whether name is a declared case.
func (e EnumMetadata) HasCase(name string) bool {
	for _, c := range e.Cases {
		if c == name {
			return true
		}
	}
	return false
}
