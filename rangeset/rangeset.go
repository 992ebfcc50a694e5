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

// Package rangeset implements the persisted disjoint byte-interval set
// (spec 3, 4.I): one key per interval under a dedicated subspace, with no
// in-memory shadow copy (spec §9: "avoid an in-memory shadow copy to keep
// multi-process safety"). Every operation re-reads neighboring keys inside
// the caller's own transaction and compacts on write.
package rangeset

import (
	"bytes"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/tuple"
)

// Range is a half-open byte interval [Begin, End).
type Range struct {
	Begin, End []byte
}

// RangeSet is a persisted set of disjoint, non-adjacent byte-intervals
// rooted at sub.
type RangeSet struct {
	sub   tuple.Subspace
	table string
}

// New constructs a RangeSet rooted at sub, storing its interval keys in
// table (defaults to kv.DefaultTable when table=="" ).
func New(sub tuple.Subspace, table string) *RangeSet {
	if table == "" {
		table = kv.DefaultTable
	}
	return &RangeSet{sub: sub, table: table}
}

func (rs *RangeSet) key(begin []byte) []byte { return rs.sub.Raw(begin) }

// storedInterval is one interval as read back from the KV store, with its
// raw storage key retained so Insert can clear it precisely.
type storedInterval struct {
	storageKey []byte
	begin, end []byte
}

// scanOverlapping returns every stored interval whose [begin,end) overlaps
// or touches [b,e) — i.e. end >= b and begin <= e — read within tx. The
// scan reads the whole subspace and filters, since the kv.Tx contract has
// no "seek to last key <= b" primitive; its cost grows with the number of
// stored intervals.
func (rs *RangeSet) scanOverlapping(tx kv.Tx, b, e []byte) ([]storedInterval, error) {
	begin, end := rs.sub.Range()
	it, err := tx.GetRange(rs.table, begin, end, 0)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []storedInterval
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ib := pair.Key[len(rs.sub.Bytes()):]
		ie := pair.Value
		if bytes.Compare(ie, b) >= 0 && bytes.Compare(ib, e) <= 0 {
			out = append(out, storedInterval{storageKey: append([]byte{}, pair.Key...), begin: append([]byte{}, ib...), end: append([]byte{}, ie...)})
		}
	}
	return out, nil
}

// Insert merges [b, e) into the set: any existing interval overlapping or
// adjacent to [b, e) is cleared and re-written as one merged interval,
// atomically within tx (spec 4.I). Insert is commutative and idempotent
// (testable property 6).
func (rs *RangeSet) Insert(tx kv.RwTx, b, e []byte) error {
	if bytes.Compare(b, e) >= 0 {
		return nil
	}
	overlapping, err := rs.scanOverlapping(tx, b, e)
	if err != nil {
		return err
	}

	mergedBegin, mergedEnd := append([]byte{}, b...), append([]byte{}, e...)
	for _, iv := range overlapping {
		if bytes.Compare(iv.begin, mergedBegin) < 0 {
			mergedBegin = iv.begin
		}
		if bytes.Compare(iv.end, mergedEnd) > 0 {
			mergedEnd = iv.end
		}
		if err := tx.Clear(rs.table, iv.storageKey); err != nil {
			return err
		}
	}

	return tx.SetValue(rs.table, rs.key(mergedBegin), mergedEnd)
}

// MissingRanges returns the gaps inside [fullBegin, fullEnd) not yet
// covered by any stored interval, in order, inclusive of any prefix or
// suffix gap (spec 4.I).
func (rs *RangeSet) MissingRanges(tx kv.Tx, fullBegin, fullEnd []byte) ([]Range, error) {
	begin, end := rs.sub.Range()
	it, err := tx.GetRange(rs.table, begin, end, 0)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var stored []storedInterval
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ib := pair.Key[len(rs.sub.Bytes()):]
		ie := pair.Value
		if bytes.Compare(ie, fullBegin) <= 0 || bytes.Compare(ib, fullEnd) >= 0 {
			continue // entirely outside the requested window
		}
		stored = append(stored, storedInterval{begin: ib, end: ie})
	}

	var missing []Range
	cursor := append([]byte{}, fullBegin...)
	for _, iv := range stored {
		b, e := iv.begin, iv.end
		if bytes.Compare(b, fullBegin) < 0 {
			b = fullBegin
		}
		if bytes.Compare(e, fullEnd) > 0 {
			e = fullEnd
		}
		if bytes.Compare(cursor, b) < 0 {
			missing = append(missing, Range{Begin: append([]byte{}, cursor...), End: append([]byte{}, b...)})
		}
		if bytes.Compare(e, cursor) > 0 {
			cursor = e
		}
	}
	if bytes.Compare(cursor, fullEnd) < 0 {
		missing = append(missing, Range{Begin: append([]byte{}, cursor...), End: append([]byte{}, fullEnd...)})
	}
	return missing, nil
}
