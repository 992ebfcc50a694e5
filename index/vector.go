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
	"github.com/erigontech/recordlayer/vector"
)

// vectorMaintainer stores the raw vector alongside its primary key; the
// HNSW graph itself is metadata-only per spec 4.L ("algorithm itself is
// external") — this maintainer only keeps the vector payload addressable
// by primary key for whatever external ANN index consumes
// metadata.HNSWParams.
type vectorMaintainer struct {
	base
}

func (m *vectorMaintainer) Update(tx kv.RwTx, oldRec, newRec keyexpr.Record) error {
	if oldRec != nil {
		pk, err := m.primaryKey(oldRec)
		if err != nil {
			return err
		}
		if err := tx.Clear(m.table, m.sub.Pack(pk)); err != nil {
			return err
		}
	}
	if newRec == nil {
		return nil
	}
	pk, err := m.primaryKey(newRec)
	if err != nil {
		return err
	}
	cols, err := m.evaluate(newRec)
	if err != nil {
		return err
	}
	payload, err := vector.Encode(cols)
	if err != nil {
		return err
	}
	return tx.SetValue(m.table, m.sub.Pack(pk), payload)
}

func (m *vectorMaintainer) ScanForBuild(tx kv.RwTx, rec keyexpr.Record) error {
	return m.Update(tx, nil, rec)
}
