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

import (
	"fmt"

	"github.com/erigontech/recordlayer/keyexpr"
)

// Attribute describes one entity field: name, optionality, whether it
// participates in the primary key, and optional enum metadata.
type Attribute struct {
	Name       string
	Optional   bool
	PrimaryKey bool
	Enum       *EnumMetadata
}

// Entity is an immutable record-type description: name, ordered
// attributes, ordered primary-key field names, and the canonical
// primaryKeyExpression derived from those fields.
type Entity struct {
	Name             string
	Attributes       []Attribute
	PrimaryKeyFields []string

	primaryKeyExpr keyexpr.KeyExpression
	attrByName     map[string]Attribute
}

// NewEntity validates and constructs an Entity. Invariants enforced here:
//   - at most one primary-key flag per field name (derived from
//     PrimaryKeyFields, which is the single source of truth)
//   - every primary-key field name appears in the attribute set
func NewEntity(name string, attrs []Attribute, pkFields []string) (*Entity, error) {
	attrByName := make(map[string]Attribute, len(attrs))
	for _, a := range attrs {
		if _, dup := attrByName[a.Name]; dup {
			return nil, fmt.Errorf("metadata: entity %q has duplicate field %q", name, a.Name)
		}
		if a.Enum != nil {
			if err := a.Enum.Validate(); err != nil {
				return nil, fmt.Errorf("metadata: entity %q field %q: %w", name, a.Name, err)
			}
		}
		attrByName[a.Name] = a
	}
	if len(pkFields) == 0 {
		return nil, fmt.Errorf("metadata: entity %q declares no primary-key fields", name)
	}
	children := make([]keyexpr.KeyExpression, len(pkFields))
	for i, f := range pkFields {
		if _, ok := attrByName[f]; !ok {
			return nil, fmt.Errorf("metadata: entity %q primary-key field %q absent from attribute set", name, f)
		}
		children[i] = keyexpr.Field{Name: f}
	}
	var pkExpr keyexpr.KeyExpression
	if len(children) == 1 {
		pkExpr = children[0]
	} else {
		pkExpr = keyexpr.Concatenate{Children: children}
	}

	// Mark attributes that are part of the primary key, materializing the
	// "at most one primary-key flag per field name" invariant as a derived
	// fact rather than something the caller can independently misstate.
	pkSet := make(map[string]struct{}, len(pkFields))
	for _, f := range pkFields {
		pkSet[f] = struct{}{}
	}
	for i, a := range attrs {
		_, isPK := pkSet[a.Name]
		attrs[i].PrimaryKey = isPK
		attrByName[a.Name] = attrs[i]
	}

	return &Entity{
		Name:             name,
		Attributes:       attrs,
		PrimaryKeyFields: append([]string{}, pkFields...),
		primaryKeyExpr:   pkExpr,
		attrByName:       attrByName,
	}, nil
}

// PrimaryKeyExpression returns the canonical key expression derived from
// PrimaryKeyFields.
func (e *Entity) PrimaryKeyExpression() keyexpr.KeyExpression { return e.primaryKeyExpr }

// Attribute looks up a field by name.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	a, ok := e.attrByName[name]
	return a, ok
}

// HasField reports whether name is a declared field.
func (e *Entity) HasField(name string) bool {
	_, ok := e.attrByName[name]
	return ok
}
