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

// Schema is a set of Entities, a set of Indexes, and a mapping
// name -> FormerIndex (spec 3). Schema is built once at process start and
// never mutated (the Store is the only consumer of its IndexesFor facade,
// spec 4.B).
type Schema struct {
	Version       SchemaVersion
	entities      []*Entity
	entityByName  map[string]*Entity
	indexes       []Index // insertion order preserved
	indexByName   map[string]Index
	formerIndexes map[string]FormerIndex
}

// NewSchema validates and constructs a Schema.
//
// Invariants enforced:
//   - entity names are unique
//   - index names are unique and disjoint from former-index names whose
//     removedVersion >= schema.version
//   - every index's own invariants (metadata/index.go validate)
//   - global scope indexes require the entity's primary key to start with
//     the first name in the index root's FieldNames(), taken as the
//     partition field (DESIGN.md Open Question 3)
func NewSchema(version SchemaVersion, entities []*Entity, indexes []Index, formerIndexes []FormerIndex) (*Schema, error) {
	entityByName := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if _, dup := entityByName[e.Name]; dup {
			return nil, fmt.Errorf("metadata: duplicate entity name %q", e.Name)
		}
		entityByName[e.Name] = e
	}

	formerByName := make(map[string]FormerIndex, len(formerIndexes))
	for _, f := range formerIndexes {
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, dup := formerByName[f.Name]; dup {
			return nil, fmt.Errorf("metadata: duplicate former index name %q", f.Name)
		}
		formerByName[f.Name] = f
	}

	indexByName := make(map[string]Index, len(indexes))
	for _, idx := range indexes {
		if _, dup := indexByName[idx.Name]; dup {
			return nil, fmt.Errorf("metadata: duplicate index name %q", idx.Name)
		}
		if former, ok := formerByName[idx.Name]; ok && former.RemovedVersion.Compare(version) >= 0 {
			return nil, fmt.Errorf("metadata: index name %q collides with former index removed at %s >= schema version %s", idx.Name, former.RemovedVersion, version)
		}

		// Validate against every applicable entity's PK field set.
		applicable := applicableEntities(idx, entities)
		if len(applicable) == 0 {
			return nil, fmt.Errorf("metadata: index %q applies to no known entity", idx.Name)
		}
		for _, e := range applicable {
			if err := idx.validate(e.PrimaryKeyFields); err != nil {
				return nil, err
			}
			if idx.Scope == ScopeGlobal && len(idx.Root.FieldNames()) > 0 {
				partitionField := idx.Root.FieldNames()[0]
				if len(e.PrimaryKeyFields) == 0 || e.PrimaryKeyFields[0] != partitionField {
					return nil, fmt.Errorf("metadata: index %q: global scope requires entity %q primary key to start with partition field %q", idx.Name, e.Name, partitionField)
				}
			}
		}

		indexByName[idx.Name] = idx
	}

	return &Schema{
		Version:       version,
		entities:      entities,
		entityByName:  entityByName,
		indexes:       indexes,
		indexByName:   indexByName,
		formerIndexes: formerByName,
	}, nil
}

func applicableEntities(idx Index, entities []*Entity) []*Entity {
	var out []*Entity
	for _, e := range entities {
		if idx.AppliesTo(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Entity looks up an entity by name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	e, ok := s.entityByName[name]
	return e, ok
}

// Entities returns every entity in the schema, in declaration order.
func (s *Schema) Entities() []*Entity { return s.entities }

// Index looks up an index by name.
func (s *Schema) Index(name string) (Index, bool) {
	idx, ok := s.indexByName[name]
	return idx, ok
}

// Indexes returns every index in the schema, in declaration (insertion)
// order.
func (s *Schema) Indexes() []Index { return s.indexes }

// FormerIndex looks up a former index marker by name.
func (s *Schema) FormerIndex(name string) (FormerIndex, bool) {
	f, ok := s.formerIndexes[name]
	return f, ok
}

// FormerIndexes returns all former-index markers.
func (s *Schema) FormerIndexes() map[string]FormerIndex { return s.formerIndexes }

// IndexesFor returns all indexes whose RecordTypes is either nil or
// contains recordName, in a deterministic order (insertion order within
// the schema). This is the only source of truth consulted by the Store
// during writes (spec 4.B, testable property 10).
func (s *Schema) IndexesFor(recordName string) []Index {
	var out []Index
	for _, idx := range s.indexes {
		if idx.AppliesTo(recordName) {
			out = append(out, idx)
		}
	}
	return out
}
