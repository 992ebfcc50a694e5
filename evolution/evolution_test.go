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

package evolution_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/evolution"
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
)

func mustEntity(t *testing.T, name string, attrs []metadata.Attribute, pk []string) *metadata.Entity {
	e, err := metadata.NewEntity(name, attrs, pk)
	require.NoError(t, err)
	return e
}

func mustSchema(t *testing.T, entities []*metadata.Entity, indexes []metadata.Index, former []metadata.FormerIndex) *metadata.Schema {
	s, err := metadata.NewSchema(metadata.SchemaVersion{Major: 1}, entities, indexes, former)
	require.NoError(t, err)
	return s
}

// TestE2EvolutionHappyPath covers the literal E2 scenario: adding an
// optional field and a new index is valid; adding the same field as
// required without allowFieldAdditions is not.
func TestE2EvolutionHappyPath(t *testing.T) {
	oldEntity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "name"},
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{oldEntity}, []metadata.Index{
		{Name: "by_name", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "name"}},
	}, nil)

	newEntityOptional := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "name"},
		{Name: "email", Optional: true},
	}, []string{"id"})
	newSchemaOptional := mustSchema(t, []*metadata.Entity{newEntityOptional}, []metadata.Index{
		{Name: "by_name", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "name"}},
		{Name: "by_email", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "email"}},
	}, nil)

	result := evolution.Validate(oldSchema, newSchemaOptional, evolution.Options{})
	require.True(t, result.IsValid())
	require.Empty(t, result.Errors())

	newEntityRequired := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "name"},
		{Name: "email"},
	}, []string{"id"})
	newSchemaRequired := mustSchema(t, []*metadata.Entity{newEntityRequired}, []metadata.Index{
		{Name: "by_name", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "name"}},
		{Name: "by_email", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "email"}},
	}, nil)

	result2 := evolution.Validate(oldSchema, newSchemaRequired, evolution.Options{AllowFieldAdditions: false})
	require.False(t, result2.IsValid())
	require.Len(t, result2.Errors(), 1)
	require.Equal(t, rlerrors.RequiredFieldAdded, result2.Errors()[0].Kind)
	require.Equal(t, "email", result2.Errors()[0].Field)
}

// TestE3FormerIndexRequirement covers the literal E3 scenario: deleting an
// index without a FormerIndex marker is an error.
func TestE3FormerIndexRequirement(t *testing.T) {
	entity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "x"},
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{entity}, []metadata.Index{
		{Name: "by_legacy", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "x"}},
	}, nil)
	newSchema := mustSchema(t, []*metadata.Entity{entity}, nil, nil)

	result := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.False(t, result.IsValid())
	require.Len(t, result.Errors(), 1)
	require.Equal(t, rlerrors.IndexDeletedWithoutFormerIndex, result.Errors()[0].Kind)
	require.Equal(t, "by_legacy", result.Errors()[0].Index)

	formerSchema := mustSchema(t, []*metadata.Entity{entity}, nil, []metadata.FormerIndex{
		{Name: "by_legacy", AddedVersion: metadata.SchemaVersion{Major: 1}, RemovedVersion: metadata.SchemaVersion{Major: 2}},
	})
	result2 := evolution.Validate(oldSchema, formerSchema, evolution.Options{})
	require.True(t, result2.IsValid())
}

// TestValidationIsDeterministic covers testable property 9.
func TestValidationIsDeterministic(t *testing.T) {
	entity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{entity}, nil, nil)
	newSchema := mustSchema(t, nil, nil, nil)

	r1 := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	r2 := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.True(t, r1.Equal(r2))
}

// TestEntityDeletionForbidden covers rule 1.
func TestEntityDeletionForbidden(t *testing.T) {
	entity := mustEntity(t, "U", []metadata.Attribute{{Name: "id", PrimaryKey: true}}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{entity}, nil, nil)
	newSchema := mustSchema(t, nil, nil, nil)

	result := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.False(t, result.IsValid())
	require.Equal(t, rlerrors.RecordTypeDeleted, result.Errors()[0].Kind)
}

// TestFieldDeletionAndRequiredNarrowingForbidden covers rules 2 and 3.
func TestFieldDeletionAndRequiredNarrowingForbidden(t *testing.T) {
	oldEntity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "nickname", Optional: true},
		{Name: "bio", Optional: true},
	}, []string{"id"})
	newEntity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "bio"}, // narrowed to required; nickname deleted
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{oldEntity}, nil, nil)
	newSchema := mustSchema(t, []*metadata.Entity{newEntity}, nil, nil)

	result := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.False(t, result.IsValid())

	var kinds []rlerrors.EvolutionKind
	for _, e := range result.Errors() {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, rlerrors.FieldDeleted)
	require.Contains(t, kinds, rlerrors.FieldTypeChanged)

	// allowOptionalFields permits the narrowing but not the deletion.
	result2 := evolution.Validate(oldSchema, newSchema, evolution.Options{AllowOptionalFields: true})
	require.Len(t, result2.Errors(), 1)
	require.Equal(t, rlerrors.FieldDeleted, result2.Errors()[0].Kind)
}

// TestEnumShrinkageForbidden covers rule 5.
func TestEnumShrinkageForbidden(t *testing.T) {
	oldEntity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "status", Enum: &metadata.EnumMetadata{TypeName: "Status", Cases: []string{"active", "banned", "pending"}}},
	}, []string{"id"})
	newEntity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "status", Enum: &metadata.EnumMetadata{TypeName: "Status", Cases: []string{"active"}}},
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{oldEntity}, nil, nil)
	newSchema := mustSchema(t, []*metadata.Entity{newEntity}, nil, nil)

	result := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.False(t, result.IsValid())
	require.Equal(t, rlerrors.EnumValueDeleted, result.Errors()[0].Kind)
}

// TestIndexFormatChanged covers rule 7, including the allowIndexRebuilds
// demotion to a warning.
func TestIndexFormatChanged(t *testing.T) {
	entity := mustEntity(t, "U", []metadata.Attribute{
		{Name: "id", PrimaryKey: true},
		{Name: "x"},
	}, []string{"id"})
	oldSchema := mustSchema(t, []*metadata.Entity{entity}, []metadata.Index{
		{Name: "by_x", Kind: metadata.IndexValue, Root: keyexpr.Field{Name: "x"}},
	}, nil)
	newSchema := mustSchema(t, []*metadata.Entity{entity}, []metadata.Index{
		{Name: "by_x", Kind: metadata.IndexUnique, Root: keyexpr.Field{Name: "x"}},
	}, nil)

	result := evolution.Validate(oldSchema, newSchema, evolution.Options{})
	require.False(t, result.IsValid())
	require.Equal(t, rlerrors.IndexFormatChanged, result.Errors()[0].Kind)

	result2 := evolution.Validate(oldSchema, newSchema, evolution.Options{AllowIndexRebuilds: true})
	require.True(t, result2.IsValid())
	require.NotEmpty(t, result2.Warnings())
}
