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

// Package evolution implements the schema evolution validator (spec 4.G):
// seven ordered rules comparing an old and a new metadata.Schema, folded
// into an rlerrors.ValidationResult.
package evolution

import (
	"fmt"
	"sort"

	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
)

// Options gates the three rules that are sometimes intentional (spec 4.G).
type Options struct {
	AllowIndexRebuilds  bool
	AllowFieldAdditions bool
	AllowOptionalFields bool
}

// Validate compares oldSchema to newSchema and returns the accumulated
// ValidationResult, applying the seven rules in spec order. Calling
// Validate twice on the same inputs yields equal results (spec §8 property
// 9): the function reads only its two argument schemas and opts, and never
// consults wall-clock time or other ambient state.
func Validate(oldSchema, newSchema *metadata.Schema, opts Options) *rlerrors.ValidationResult {
	result := &rlerrors.ValidationResult{}

	newEntities := make(map[string]*metadata.Entity, len(newSchema.Entities()))
	for _, e := range newSchema.Entities() {
		newEntities[e.Name] = e
	}

	for _, oldEntity := range oldSchema.Entities() {
		newEntity, ok := newEntities[oldEntity.Name]
		if !ok {
			// Rule 1: entity deletion forbidden.
			result.AddError(rlerrors.EvolutionError{
				Kind:   rlerrors.RecordTypeDeleted,
				Entity: oldEntity.Name,
			})
			continue
		}
		validateEntity(result, oldEntity, newEntity, opts)
	}

	validateIndexes(result, oldSchema, newSchema, opts)
	return result
}

func validateEntity(result *rlerrors.ValidationResult, oldEntity, newEntity *metadata.Entity, opts Options) {
	for _, oldAttr := range oldEntity.Attributes {
		newAttr, ok := newEntity.Attribute(oldAttr.Name)
		if !ok {
			// Rule 2: field deletion forbidden.
			result.AddError(rlerrors.EvolutionError{
				Kind:   rlerrors.FieldDeleted,
				Entity: oldEntity.Name,
				Field:  oldAttr.Name,
			})
			continue
		}

		// Rule 3: required narrowing forbidden (optional -> required),
		// unless explicitly allowed. The reverse direction is always safe.
		if oldAttr.Optional && !newAttr.Optional && !opts.AllowOptionalFields {
			result.AddError(rlerrors.EvolutionError{
				Kind:   rlerrors.FieldTypeChanged,
				Entity: oldEntity.Name,
				Field:  oldAttr.Name,
				Old:    "optional",
				New:    "required",
			})
		}

		// Rule 5: enum shrinkage forbidden.
		if oldAttr.Enum != nil && newAttr.Enum != nil {
			var deleted []string
			for _, c := range oldAttr.Enum.Cases {
				if !newAttr.Enum.HasCase(c) {
					deleted = append(deleted, c)
				}
			}
			if len(deleted) > 0 {
				sort.Strings(deleted)
				result.AddError(rlerrors.EvolutionError{
					Kind:   rlerrors.EnumValueDeleted,
					Entity: oldEntity.Name,
					Field:  oldAttr.Name,
					New:    fmt.Sprint(deleted),
				})
			}
		}
	}

	// Rule 4: added required fields forbidden, unless explicitly allowed.
	for _, newAttr := range newEntity.Attributes {
		if _, existed := oldEntity.Attribute(newAttr.Name); existed {
			continue
		}
		if !newAttr.Optional && !opts.AllowFieldAdditions {
			result.AddError(rlerrors.EvolutionError{
				Kind:   rlerrors.RequiredFieldAdded,
				Entity: newEntity.Name,
				Field:  newAttr.Name,
			})
		}
	}
}

func validateIndexes(result *rlerrors.ValidationResult, oldSchema, newSchema *metadata.Schema, opts Options) {
	for _, oldIdx := range oldSchema.Indexes() {
		newIdx, ok := newSchema.Index(oldIdx.Name)
		if !ok {
			// Rule 6: index deletions need a FormerIndex marker.
			if _, hasFormer := newSchema.FormerIndex(oldIdx.Name); !hasFormer {
				result.AddError(rlerrors.EvolutionError{
					Kind:  rlerrors.IndexDeletedWithoutFormerIndex,
					Index: oldIdx.Name,
				})
			}
			continue
		}

		// Rule 7: index format stability (kind + root column count). Only
		// these two are compared: a change to the root expression's
		// structure that keeps both is accepted without error. A caller that opted into allowIndexRebuilds is demoted to a
		// warning, since it has already committed to rebuilding the index
		// as part of this evolution.
		if oldIdx.Kind != newIdx.Kind || oldIdx.Root.ColumnCount() != newIdx.Root.ColumnCount() {
			old := fmt.Sprintf("kind=%s cols=%d", oldIdx.Kind, oldIdx.Root.ColumnCount())
			newDesc := fmt.Sprintf("kind=%s cols=%d", newIdx.Kind, newIdx.Root.ColumnCount())
			if opts.AllowIndexRebuilds {
				result.AddWarning(fmt.Sprintf("index %q format changed (%s -> %s), rebuild required", oldIdx.Name, old, newDesc))
				continue
			}
			result.AddError(rlerrors.EvolutionError{
				Kind:  rlerrors.IndexFormatChanged,
				Index: oldIdx.Name,
				Old:   old,
				New:   newDesc,
			})
		}
	}
}
