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

// Package rlerrors defines the operational error kinds used across the
// record layer (spec §7) plus the schema-evolution ValidationResult monoid.
package rlerrors

import "fmt"

// Kind identifies an operational failure mode. Kinds are compared with
// errors.Is, never by string matching.
type Kind struct {
	name string
}

func (k Kind) String() string { return k.name }

var (
	InvalidArgument       = Kind{"invalidArgument"}
	InvalidKey            = Kind{"invalidKey"}
	InvalidSerializedData = Kind{"invalidSerializedData"}
	SerializationFailed   = Kind{"serializationFailed"}
	IndexNotFound         = Kind{"indexNotFound"}
	InvalidRank           = Kind{"invalidRank"}
	MigrationInProgress   = Kind{"migrationInProgress"}
	NoMigrationPath       = Kind{"noMigrationPath"}
	UniquenessViolation   = Kind{"uniquenessViolation"}
	InternalError         = Kind{"internalError"}
	// MissingField is raised by keyexpr.Field and keyexpr.Range when a field
	// is absent, and by keyexpr.Nested when a sub-record is absent and the
	// expression was not declared nested-optional (spec 4.A).
	MissingField = Kind{"missingField"}
)

// Error is the operational error carrying an identifier, a kind, and
// (where relevant) the two conflicting values, as required by spec §7:
// "User-visible failures carry: the offending identifier..., the kind, and,
// where relevant, the two conflicting values".
type Error struct {
	Kind       Kind
	Identifier string
	Old        any
	New        any
	Err        error
}

func (e *Error) Error() string {
	if e.Old != nil || e.New != nil {
		return fmt.Sprintf("%s: %s (old=%v, new=%v)", e.Kind, e.Identifier, e.Old, e.New)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Identifier, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Identifier)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, SomeKindSentinel) by comparing Kind values
// wrapped as *Error against a bare Kind target is not idiomatic, so Is
// instead compares against other *Error values sharing the same Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error for the given kind and offending identifier.
func New(kind Kind, identifier string) *Error {
	return &Error{Kind: kind, Identifier: identifier}
}

// Wrap constructs an *Error that also carries an underlying cause.
func Wrap(kind Kind, identifier string, err error) *Error {
	return &Error{Kind: kind, Identifier: identifier, Err: err}
}

// WithValues attaches the conflicting old/new (or expected/actual) values.
func (e *Error) WithValues(old, new any) *Error {
	e.Old = old
	e.New = new
	return e
}

// Sentinel returns an *Error usable as an errors.Is target for kind.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind, Identifier: "*"} }
