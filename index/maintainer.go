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

// Package index implements the generic index-maintainer framework (spec
// 4.E): one Maintainer per metadata.Index, dispatched by Index.Kind, each
// driving its own region of the keyspace from inside the Store's
// transaction.
package index

import (
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// Maintainer drives one index to reflect record changes (spec 4.E).
type Maintainer interface {
	// Update reflects a single record change; oldRec/newRec are nil for
	// insert/delete respectively. Must be idempotent with respect to the
	// emitted index keys for any given record state.
	Update(tx kv.RwTx, oldRec, newRec keyexpr.Record) error
	// ScanForBuild populates the index from an existing record, called
	// only by the online indexer.
	ScanForBuild(tx kv.RwTx, rec keyexpr.Record) error
}

// New dispatches on idx.Kind to construct the matching Maintainer, rooted
// at sub (spec 4.E: "Dispatch is by Index.kind").
func New(idx metadata.Index, sub tuple.Subspace, table string) (Maintainer, error) {
	if table == "" {
		table = kv.DefaultTable
	}
	base := base{idx: idx, sub: sub, table: table}
	switch idx.Kind {
	case metadata.IndexValue:
		return &valueMaintainer{base: base, unique: false}, nil
	case metadata.IndexUnique:
		return &valueMaintainer{base: base, unique: true}, nil
	case metadata.IndexCount:
		return &aggregateMaintainer{base: base, kind: metadata.IndexCount}, nil
	case metadata.IndexSum:
		return &aggregateMaintainer{base: base, kind: metadata.IndexSum}, nil
	case metadata.IndexMin:
		return &aggregateMaintainer{base: base, kind: metadata.IndexMin}, nil
	case metadata.IndexMax:
		return &aggregateMaintainer{base: base, kind: metadata.IndexMax}, nil
	case metadata.IndexRank:
		return newRankMaintainer(base), nil
	case metadata.IndexSpatial:
		return &spatialMaintainer{base: base}, nil
	case metadata.IndexVector:
		return &vectorMaintainer{base: base}, nil
	default:
		return nil, rlerrors.New(rlerrors.InvalidArgument, idx.Name)
	}
}

type base struct {
	idx   metadata.Index
	sub   tuple.Subspace
	table string
}

func (b *base) evaluate(rec keyexpr.Record) (tuple.Tuple, error) {
	return b.idx.Root.Evaluate(rec)
}

func (b *base) primaryKey(rec keyexpr.Record) (tuple.Tuple, error) {
	return rec.ExtractPrimaryKey()
}

// split separates a root evaluation's columns into the leading "group"
// columns and the trailing value column, for the aggregate and rank index
// kinds whose root's last column is the scored/summed field.
func split(cols tuple.Tuple) (group tuple.Tuple, value any) {
	if len(cols) == 0 {
		return nil, nil
	}
	return cols[:len(cols)-1], cols[len(cols)-1]
}
