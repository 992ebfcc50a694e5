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

package rlerrors

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// EvolutionKind enumerates the schema-evolution error shapes from spec 4.G.
type EvolutionKind int

const (
	RecordTypeDeleted EvolutionKind = iota
	FieldDeleted
	FieldTypeChanged
	RequiredFieldAdded
	EnumValueDeleted
	IndexDeletedWithoutFormerIndex
	IndexFormatChanged
)

func (k EvolutionKind) String() string {
	switch k {
	case RecordTypeDeleted:
		return "recordTypeDeleted"
	case FieldDeleted:
		return "fieldDeleted"
	case FieldTypeChanged:
		return "fieldTypeChanged"
	case RequiredFieldAdded:
		return "requiredFieldAdded"
	case EnumValueDeleted:
		return "enumValueDeleted"
	case IndexDeletedWithoutFormerIndex:
		return "indexDeletedWithoutFormerIndex"
	case IndexFormatChanged:
		return "indexFormatChanged"
	default:
		return "unknown"
	}
}

// EvolutionError is one accumulated validation failure. Old/New are the
// kind-specific payloads (e.g. "optional"/"required", or a deleted enum
// case list rendered as a string).
type EvolutionError struct {
	Kind   EvolutionKind
	Entity string
	Field  string // empty for entity/index-level errors
	Index  string // empty for entity/field-level errors
	Old    string
	New    string
}

func (e EvolutionError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteByte('(')
	sb.WriteString(e.Entity)
	if e.Field != "" {
		fmt.Fprintf(&sb, ".%s", e.Field)
	}
	if e.Index != "" {
		fmt.Fprintf(&sb, " index=%s", e.Index)
	}
	if e.Old != "" || e.New != "" {
		fmt.Fprintf(&sb, " old=%q new=%q", e.Old, e.New)
	}
	sb.WriteByte(')')
	return sb.String()
}

// ValidationResult accumulates evolution errors and warnings. It is a
// monoid: the zero value is Valid, AddError flips IsValid false and
// appends, AddWarning always preserves validity (spec 4.G).
type ValidationResult struct {
	errors   []EvolutionError
	warnings []string
}

// IsValid reports whether no error has been accumulated.
func (r *ValidationResult) IsValid() bool { return len(r.errors) == 0 }

// Errors returns the accumulated evolution errors, in the order they were
// added (validator rule order, spec 4.G).
func (r *ValidationResult) Errors() []EvolutionError { return r.errors }

// Warnings returns the accumulated warning strings.
func (r *ValidationResult) Warnings() []string { return r.warnings }

// AddError appends an evolution error and marks the result invalid.
func (r *ValidationResult) AddError(e EvolutionError) {
	r.errors = append(r.errors, e)
}

// AddWarning appends a warning without affecting validity.
func (r *ValidationResult) AddWarning(msg string) {
	r.warnings = append(r.warnings, msg)
}

// Err folds all accumulated errors into a single error via multierr, or
// returns nil if the result is valid.
func (r *ValidationResult) Err() error {
	var err error
	for _, e := range r.errors {
		err = multierr.Append(err, e)
	}
	return err
}

// Equal reports deep equality of two ValidationResults, used by the
// determinism property test (spec §8, property 9).
func (r *ValidationResult) Equal(other *ValidationResult) bool {
	if len(r.errors) != len(other.errors) || len(r.warnings) != len(other.warnings) {
		return false
	}
	for i := range r.errors {
		if r.errors[i] != other.errors[i] {
			return false
		}
	}
	for i := range r.warnings {
		if r.warnings[i] != other.warnings[i] {
			return false
		}
	}
	return true
}
