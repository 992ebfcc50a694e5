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

package index

import (
	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/spatial"
	"github.com/erigontech/recordlayer/tuple"
)

// spatialMaintainer indexes a record under the single S2 cell containing its
// (lat, lon) point at the index's MaxLevel (16 when no spatial params are
// set). MinLevel is not used, and no multi-cell covering is written (spec
// 4.K is scoped as an independent library; this maintainer is the thin
// wiring between it and the Store's per-record update cycle).
type spatialMaintainer struct {
	base
}

func (m *spatialMaintainer) cellKeys(rec keyexpr.Record, pk tuple.Tuple) ([][]byte, error) {
	cols, err := m.evaluate(rec)
	if err != nil {
		return nil, err
	}
	if len(cols) < 2 {
		return nil, nil
	}
	lat, _ := cols[0].(float64)
	lon, _ := cols[1].(float64)
	params := m.idx.Options.Spatial
	minLevel, maxLevel := 4, 16
	if params != nil {
		minLevel, maxLevel = params.MinLevel, params.MaxLevel
	}
	cell := spatial.CellFromLatLon(lat, lon, maxLevel)
	_ = minLevel
	keys := make([][]byte, 0, 1)
	keys = append(keys, m.sub.Pack(tuple.Tuple{int64(cell), pk}))
	return keys, nil
}

func (m *spatialMaintainer) Update(tx kv.RwTx, oldRec, newRec keyexpr.Record) error {
	if oldRec != nil {
		pk, err := m.primaryKey(oldRec)
		if err != nil {
			return err
		}
		keys, err := m.cellKeys(oldRec, pk)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Clear(m.table, k); err != nil {
				return err
			}
		}
	}
	if newRec != nil {
		pk, err := m.primaryKey(newRec)
		if err != nil {
			return err
		}
		keys, err := m.cellKeys(newRec, pk)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.SetValue(m.table, k, tuple.Pack(pk)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *spatialMaintainer) ScanForBuild(tx kv.RwTx, rec keyexpr.Record) error {
	return m.Update(tx, nil, rec)
}
