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

// Package metadata implements the immutable schema model (spec 3, 4.B):
// Schema, Entity, Attribute, Index, FormerIndex, EnumMetadata,
// SchemaVersion.
package metadata

import "fmt"

// SchemaVersion is an ordered (major, minor, patch) triple. Total order is
// lexicographic, modeled directly on erigon-lib/kv's
// DBSchemaVersion = types.VersionReply{Major, Minor, Patch}.
type SchemaVersion struct {
	Major, Minor, Patch int64
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other, lexicographically over (Major, Minor, Patch).
func (v SchemaVersion) Compare(other SchemaVersion) int {
	if v.Major != other.Major {
		return cmp64(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmp64(v.Minor, other.Minor)
	}
	return cmp64(v.Patch, other.Patch)
}

func (v SchemaVersion) Less(other SchemaVersion) bool { return v.Compare(other) < 0 }
func (v SchemaVersion) String() string                { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ZeroVersion is the default version absent any persisted state.
var ZeroVersion = SchemaVersion{}
