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

// Package keyexpr implements KeyExpression (spec 4.A): the polymorphic
// description of how record fields map to ordered tuple-column lists.
package keyexpr

import "github.com/erigontech/recordlayer/tuple"

// Record is the "Recordable metadata" collaborator contract from spec §6:
// the engine only ever reaches into an application record through this
// interface, never via reflection.
type Record interface {
	// RecordName returns the entity/record-type name.
	RecordName() string
	// ExtractField returns the tuple elements for fieldName (dotted paths
	// address nested sub-records). ok is false if the field is absent.
	ExtractField(fieldName string) (values []any, ok bool, err error)
	// ExtractPrimaryKey returns the primary key tuple; it must exactly
	// match evaluating the entity's primaryKeyExpression (spec §6).
	ExtractPrimaryKey() (tuple.Tuple, error)
	// SubRecord resolves a nested sub-record reached by fieldPath, for use
	// by the Nested expression variant. ok is false if absent.
	SubRecord(fieldPath string) (sub Record, ok bool, err error)
}

// KeyExpression evaluates a record into an ordered sequence of tuple
// columns (spec 4.A).
type KeyExpression interface {
	// Evaluate must never fail for well-typed records; a missing optional
	// nested field yields an absent column only if the expression is
	// declared nested-optional, otherwise it fails with MissingField.
	Evaluate(rec Record) (tuple.Tuple, error)
	// ColumnCount equals the length of any successful Evaluate call.
	ColumnCount() int
	// FieldNames returns the set of dotted paths this expression reads,
	// used by the covering-field disjointness check (spec 4.B).
	FieldNames() []string
}
