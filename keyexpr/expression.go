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

package keyexpr

import (
	"fmt"

	"github.com/google/btree"

	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// Field addresses a single field by (possibly dotted) name.
type Field struct {
	Name string
}

func (f Field) Evaluate(rec Record) (tuple.Tuple, error) {
	values, ok, err := rec.ExtractField(f.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rlerrors.New(rlerrors.MissingField, f.Name)
	}
	out := make(tuple.Tuple, len(values))
	copy(out, values)
	return out, nil
}

func (f Field) ColumnCount() int     { return 1 }
func (f Field) FieldNames() []string { return []string{f.Name} }

// Concatenate flattens an ordered list of children; its column count is the
// sum of its children's.
type Concatenate struct {
	Children []KeyExpression
}

func (c Concatenate) Evaluate(rec Record) (tuple.Tuple, error) {
	var out tuple.Tuple
	for _, child := range c.Children {
		cols, err := child.Evaluate(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cols...)
	}
	return out, nil
}

func (c Concatenate) ColumnCount() int {
	n := 0
	for _, child := range c.Children {
		n += child.ColumnCount()
	}
	return n
}

func (c Concatenate) FieldNames() []string {
	return orderedUnion(c.Children)
}

// RangeBoundary encodes which side of a Range column interval a key
// belongs to, so that range queries can use prefix scans (spec 4.A).
type RangeBoundary byte

const (
	RangeBoundaryClosed RangeBoundary = 0
	RangeBoundaryOpen   RangeBoundary = 1
)

// Range addresses a single field whose value is a half-open or closed
// interval. It materializes as three tuple columns: lo, hi, and the
// boundary flag as an int64. The flag is an ordinary packed column, not a
// raw trailing byte of the index key.
type Range struct {
	Field    string
	Boundary RangeBoundary
}

func (r Range) Evaluate(rec Record) (tuple.Tuple, error) {
	values, ok, err := rec.ExtractField(r.Field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rlerrors.New(rlerrors.MissingField, r.Field)
	}
	if len(values) != 2 {
		return nil, rlerrors.New(rlerrors.InvalidArgument, r.Field).
			WithValues("2 columns (lo, hi)", fmt.Sprintf("%d columns", len(values)))
	}
	return tuple.Tuple{values[0], values[1], int64(r.Boundary)}, nil
}

func (r Range) ColumnCount() int     { return 3 }
func (r Range) FieldNames() []string { return []string{r.Field} }

// Nested evaluates a child expression against a sub-record reached by a
// field path. Optional controls MissingField semantics: if Optional is
// true, an absent sub-record yields a column of nils (ColumnCount wide)
// instead of failing.
type Nested struct {
	Path     string
	Child    KeyExpression
	Optional bool
}

func (n Nested) Evaluate(rec Record) (tuple.Tuple, error) {
	sub, ok, err := rec.SubRecord(n.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if n.Optional {
			return make(tuple.Tuple, n.Child.ColumnCount()), nil
		}
		return nil, rlerrors.New(rlerrors.MissingField, n.Path)
	}
	return n.Child.Evaluate(sub)
}

func (n Nested) ColumnCount() int { return n.Child.ColumnCount() }

func (n Nested) FieldNames() []string {
	out := make([]string, 0, len(n.Child.FieldNames()))
	for _, f := range n.Child.FieldNames() {
		out = append(out, n.Path+"."+f)
	}
	return out
}

// orderedUnion returns the deterministic, deduplicated union of every
// child's FieldNames, ordered lexicographically via a google/btree scan so
// that evolution/covering checks get reproducible error messages.
func orderedUnion(children []KeyExpression) []string {
	tr := btree.NewG(32, func(a, b string) bool { return a < b })
	for _, child := range children {
		for _, name := range child.FieldNames() {
			tr.ReplaceOrInsert(name)
		}
	}
	out := make([]string, 0, tr.Len())
	tr.Ascend(func(item string) bool {
		out = append(out, item)
		return true
	})
	return out
}
