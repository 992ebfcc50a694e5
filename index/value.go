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
	"bytes"

	"github.com/erigontech/recordlayer/keyexpr"
	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// valueMaintainer backs both value and unique index kinds: the index key is
// root-columns followed by the primary key, so lookups by root value return
// every matching primary key in primary-key order. Unique additionally
// enforces at most one primary key per root value (spec 4.D, 4.E).
type valueMaintainer struct {
	base
	unique bool
}

func (m *valueMaintainer) key(cols, pk tuple.Tuple) []byte {
	return m.sub.Pack(append(append(tuple.Tuple{}, cols...), pk...))
}

func (m *valueMaintainer) Update(tx kv.RwTx, oldRec, newRec keyexpr.Record) error {
	var oldKey, newKey []byte
	var pk, newCols tuple.Tuple
	var err error

	if oldRec != nil {
		pk, err = m.primaryKey(oldRec)
		if err != nil {
			return err
		}
		cols, err := m.evaluate(oldRec)
		if err != nil {
			return err
		}
		oldKey = m.key(cols, pk)
	}
	if newRec != nil {
		pk, err = m.primaryKey(newRec)
		if err != nil {
			return err
		}
		cols, err := m.evaluate(newRec)
		if err != nil {
			return err
		}
		newCols, newKey = cols, m.key(cols, pk)
	}

	if oldKey != nil && bytes.Equal(oldKey, newKey) {
		return nil
	}
	if oldKey != nil {
		if err := tx.Clear(m.table, oldKey); err != nil {
			return err
		}
	}
	if newKey == nil {
		return nil
	}

	if m.unique {
		if err := m.checkUnique(tx, newCols, pk); err != nil {
			return err
		}
	}
	return tx.SetValue(m.table, newKey, tuple.Pack(pk))
}

// checkUnique scans every index entry whose columns equal cols: an entry
// under a different primary key makes the write a uniqueness violation
// unless ReplaceOnDuplicate is set, in which case the write proceeds and the
// existing entry is left in place (spec 4.D: "Fails with
// UniquenessViolation if a unique value index already contains the new key
// with a different primary key").
func (m *valueMaintainer) checkUnique(tx kv.RwTx, cols, pk tuple.Tuple) error {
	begin, end := tuple.FromBytes(m.sub.Pack(cols)).Range()
	it, err := tx.GetRange(m.table, begin, end, 0)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		pair, ok, err := it.Next()
		if err != nil || !ok {
			return err
		}
		existingPK, err := tuple.Unpack(pair.Value)
		if err != nil {
			return err
		}
		if tuple.Compare(tuple.Pack(existingPK), tuple.Pack(pk)) != 0 && !m.idx.Options.ReplaceOnDuplicate {
			return rlerrors.New(rlerrors.UniquenessViolation, m.idx.Name)
		}
	}
}

func (m *valueMaintainer) ScanForBuild(tx kv.RwTx, rec keyexpr.Record) error {
	return m.Update(tx, nil, rec)
}
