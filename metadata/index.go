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

// IndexKind enumerates index plug-in types (spec 3).
type IndexKind int

const (
	IndexValue IndexKind = iota
	IndexUnique
	IndexCount
	IndexSum
	IndexMin
	IndexMax
	IndexRank
	IndexVector
	IndexSpatial
	IndexVersion
)

func (k IndexKind) String() string {
	switch k {
	case IndexValue:
		return "value"
	case IndexUnique:
		return "unique"
	case IndexCount:
		return "count"
	case IndexSum:
		return "sum"
	case IndexMin:
		return "min"
	case IndexMax:
		return "max"
	case IndexRank:
		return "rank"
	case IndexVector:
		return "vector"
	case IndexSpatial:
		return "spatial"
	case IndexVersion:
		return "version"
	default:
		return "unknown"
	}
}

// IndexScope is partition (lives inside each tenant's subspace) or global
// (shared top-level subspace).
type IndexScope int

const (
	ScopePartition IndexScope = iota
	ScopeGlobal
)

// RankOrder controls rank index direction.
type RankOrder int

const (
	RankAscending RankOrder = iota
	RankDescending
)

// ScoreType tags the numeric type of a rank index's trailing score column.
type ScoreType int

const (
	ScoreInt32 ScoreType = iota
	ScoreInt64
	ScoreFloat32
	ScoreFloat64
)

// IndexOptions is the options bag referenced by spec 3: unique flag,
// rank-order, bucket size, score-type tag, HNSW params, spatial params.
type IndexOptions struct {
	Unique             bool
	RankOrder          RankOrder
	ScoreType          ScoreType
	BucketSize         int64 // default 100, spec 4.F
	RankLevels         int   // default 3 (L), spec 4.F
	ReplaceOnDuplicate bool

	HNSW    *HNSWParams
	Spatial *SpatialParams
}

// HNSWParams is the vector-index metadata shape (spec 4.L: "metadata shape
// only; algorithm itself is external").
type HNSWParams struct {
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	Metric         string
}

// SpatialParams configures the S2-backed spatial index plug-in (spec 4.K).
type SpatialParams struct {
	MinLevel int
	MaxLevel int
	MaxCells int
}

// Index is an immutable index description.
type Index struct {
	Name        string
	Kind        IndexKind
	Root        keyexpr.KeyExpression
	Covering    []string // covering field list, optional
	RecordTypes []string // applicability set; nil = universal
	Scope       IndexScope
	Options     IndexOptions
}

// AppliesTo reports whether this index applies to recordName: its
// applicability set is nil (universal) or contains recordName (spec 4.B).
func (i Index) AppliesTo(recordName string) bool {
	if i.RecordTypes == nil {
		return true
	}
	for _, n := range i.RecordTypes {
		if n == recordName {
			return true
		}
	}
	return false
}

// validate enforces these Index invariants from spec 3:
//
//	unique => kind in {value}
//	covering => covering fields disjoint from root expression's fields and
//	            primary-key fields
//
// The rank-score column shape is not checked here or by any caller. The
// global-scope primary-key rule (DESIGN.md Open Question 3) is checked by
// NewSchema, not by validate.
func (i Index) validate(entityPKFields []string) error {
	if i.Options.Unique && i.Kind != IndexValue {
		return fmt.Errorf("metadata: index %q: unique flag only valid for kind=value, got kind=%s", i.Name, i.Kind)
	}
	if i.Covering != nil {
		rootFields := make(map[string]struct{})
		for _, f := range i.Root.FieldNames() {
			rootFields[f] = struct{}{}
		}
		pkFields := make(map[string]struct{}, len(entityPKFields))
		for _, f := range entityPKFields {
			pkFields[f] = struct{}{}
		}
		for _, c := range i.Covering {
			if _, ok := rootFields[c]; ok {
				return fmt.Errorf("metadata: index %q: covering field %q overlaps root expression", i.Name, c)
			}
			if _, ok := pkFields[c]; ok {
				return fmt.Errorf("metadata: index %q: covering field %q overlaps primary key", i.Name, c)
			}
		}
	}
	return nil
}

// FormerIndex persists a scalar record of a previously-live index name to
// prevent accidental name reuse after removal (spec 3).
type FormerIndex struct {
	Name           string
	AddedVersion   SchemaVersion
	RemovedVersion SchemaVersion
	EarlierName    string // optional
}

func (f FormerIndex) validate() error {
	if f.RemovedVersion.Compare(f.AddedVersion) < 0 {
		return fmt.Errorf("metadata: former index %q: removedVersion %s precedes addedVersion %s", f.Name, f.RemovedVersion, f.AddedVersion)
	}
	return nil
}
