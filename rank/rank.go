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

// Package rank implements the Range-Tree rank (leaderboard) index engine
// (spec 4.F): rank-of-score over a hierarchy of bucketed count nodes, with a
// bounded raw scan inside the target bucket for exact tie-breaking.
// Record-at-rank reads and sorts every score entry of the group.
package rank

import (
	"encoding/binary"
	"sort"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

const countSentinel = "_count"

const (
	defaultBucketSize = 100
	defaultLevels     = 3
)

// Index is one rank index's runtime engine, parameterized by its subspace,
// bucket size, level count, order, and score type (spec 4.F).
type Index struct {
	sub        tuple.Subspace
	table      string
	bucketSize int64
	levels     int
	order      metadata.RankOrder
	scoreType  metadata.ScoreType
}

// New constructs a rank engine rooted at sub. bucketSize and levels default
// to 100 and 3 when zero.
func New(sub tuple.Subspace, table string, bucketSize int64, levels int, order metadata.RankOrder, scoreType metadata.ScoreType) *Index {
	if table == "" {
		table = kv.DefaultTable
	}
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	if levels <= 0 {
		levels = defaultLevels
	}
	return &Index{sub: sub, table: table, bucketSize: bucketSize, levels: levels, order: order, scoreType: scoreType}
}

func (r *Index) groupSub(group tuple.Tuple) tuple.Subspace {
	return tuple.FromBytes(r.sub.Pack(group))
}

func (r *Index) countKey(gs tuple.Subspace, level int, bucketStart Score) []byte {
	return gs.Pack(tuple.Tuple{countSentinel, int64(level), bucketStart.TupleElement()})
}

func (r *Index) countLevelRange(gs tuple.Subspace, level int) (begin, end []byte) {
	lvlSub := tuple.FromBytes(gs.Pack(tuple.Tuple{countSentinel, int64(level)}))
	return lvlSub.Range()
}

func (r *Index) entryKey(gs tuple.Subspace, score Score, pk tuple.Tuple) []byte {
	full := append(tuple.Tuple{score.TupleElement()}, pk...)
	return gs.Pack(full)
}

func (r *Index) newScore(typElement any) Score {
	switch r.scoreType {
	case metadata.ScoreInt32:
		return Int32(int32(typElement.(int64)))
	case metadata.ScoreInt64:
		return Int64(typElement.(int64))
	case metadata.ScoreFloat32:
		return Float32(float32(typElement.(float64)))
	default:
		return Float64(typElement.(float64))
	}
}

// Insert writes the score entry and bumps every level's count node by one
// (spec 4.F step 1-2). Must run in the same transaction as the record
// write.
func (r *Index) Insert(tx kv.RwTx, group tuple.Tuple, score Score, pk tuple.Tuple) error {
	gs := r.groupSub(group)
	if err := tx.SetValue(r.table, r.entryKey(gs, score, pk), []byte{}); err != nil {
		return err
	}
	for l := 1; l <= r.levels; l++ {
		b := score.BucketBoundary(r.bucketSize, l)
		if _, err := tx.AtomicOp(r.table, r.countKey(gs, l, b), kv.AtomicAdd, 1); err != nil {
			return err
		}
	}
	return nil
}

// Delete clears the score entry and decrements every level's count node.
func (r *Index) Delete(tx kv.RwTx, group tuple.Tuple, score Score, pk tuple.Tuple) error {
	gs := r.groupSub(group)
	if err := tx.Clear(r.table, r.entryKey(gs, score, pk)); err != nil {
		return err
	}
	for l := 1; l <= r.levels; l++ {
		b := score.BucketBoundary(r.bucketSize, l)
		if _, err := tx.AtomicOp(r.table, r.countKey(gs, l, b), kv.AtomicAdd, -1); err != nil {
			return err
		}
	}
	return nil
}

func decodeCount(v []byte) int64 {
	if len(v) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(v))
}

// sumBetterCounts sums count-node values strictly better than score's
// bucket at level, excluding the bucket score itself falls into (spec 4.F
// steps 1 and 2). Below the top level only buckets inside score's parent
// bucket at level+1 are summed, since the coarser levels already counted
// everything outside it; this is what avoids double counting.
func (r *Index) sumBetterCounts(tx kv.Tx, gs tuple.Subspace, level int, score Score) (int64, error) {
	targetKey := r.countKey(gs, level, score.BucketBoundary(r.bucketSize, level))
	levelBegin, levelEnd := r.countLevelRange(gs, level)
	if level < r.levels {
		levelBegin = r.countKey(gs, level, score.BucketBoundary(r.bucketSize, level+1))
		levelEnd = r.countKey(gs, level, score.NextBucketBoundary(r.bucketSize, level+1))
	}

	var begin, end []byte
	if r.order == metadata.RankDescending {
		begin, end = tuple.Successor(targetKey), levelEnd
	} else {
		begin, end = levelBegin, targetKey
	}

	it, err := tx.GetRange(r.table, begin, end, 0)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var sum int64
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		sum += decodeCount(pair.Value)
	}
	return sum, nil
}

// decodedEntry is one raw score-entry key, decoded back into score + pk.
type decodedEntry struct {
	score Score
	pk    tuple.Tuple
	key   []byte
}

func (r *Index) decodeEntry(gs tuple.Subspace, key []byte) (decodedEntry, bool, error) {
	suffix := key[len(gs.Bytes()):]
	t, err := tuple.Unpack(suffix)
	if err != nil {
		return decodedEntry{}, false, err
	}
	if len(t) == 0 {
		return decodedEntry{}, false, nil
	}
	if s, ok := t[0].(string); ok && s == countSentinel {
		return decodedEntry{}, false, nil
	}
	return decodedEntry{score: r.newScore(t[0]), pk: t[1:], key: key}, true, nil
}

// scanBucket reads every raw entry in score's level-1 bucket and splits it
// into entries strictly better than score, and entries tied on score whose
// pk sorts better than pk (spec 4.F steps 3-4).
func (r *Index) scanBucket(tx kv.Tx, gs tuple.Subspace, score Score, pk tuple.Tuple) (strictlyBetter, tiedBetter int64, err error) {
	lo := score.BucketBoundary(r.bucketSize, 1)
	hi := score.NextBucketBoundary(r.bucketSize, 1)
	begin := gs.Pack(tuple.Tuple{lo.TupleElement()})
	end := gs.Pack(tuple.Tuple{hi.TupleElement()})

	it, ierr := tx.GetRange(r.table, begin, end, 0)
	if ierr != nil {
		return 0, 0, ierr
	}
	defer it.Close()

	// Tie-break always favors the lexicographically smaller primary key,
	// independent of rank order: E1 pins pk=Tuple(2) ahead of pk=Tuple(3)
	// at a tied score under a *descending* rank order, so pk ordering is a
	// fixed secondary sort, not one that flips with score direction.
	pkBetter := func(otherPK tuple.Tuple) bool {
		return tuple.Compare(tuple.Pack(otherPK), tuple.Pack(pk)) < 0
	}

	for {
		pair, ok, nerr := it.Next()
		if nerr != nil {
			return 0, 0, nerr
		}
		if !ok {
			break
		}
		de, valid, derr := r.decodeEntry(gs, pair.Key)
		if derr != nil {
			return 0, 0, derr
		}
		if !valid {
			continue
		}
		switch {
		case de.score.Equal(score):
			if pkBetter(de.pk) {
				tiedBetter++
			}
		case de.score.Better(r.order, score):
			strictlyBetter++
		}
	}
	return strictlyBetter, tiedBetter, nil
}

// RankOf returns the 1-indexed rank of (score, pk) within group (spec 4.F).
func (r *Index) RankOf(tx kv.Tx, group tuple.Tuple, score Score, pk tuple.Tuple) (int64, error) {
	gs := r.groupSub(group)
	var total int64
	for l := r.levels; l >= 2; l-- {
		n, err := r.sumBetterCounts(tx, gs, l, score)
		if err != nil {
			return 0, err
		}
		total += n
	}
	n1, err := r.sumBetterCounts(tx, gs, 1, score)
	if err != nil {
		return 0, err
	}
	total += n1

	strictlyBetter, tiedBetter, err := r.scanBucket(tx, gs, score, pk)
	if err != nil {
		return 0, err
	}
	total += strictlyBetter + tiedBetter
	return total + 1, nil
}

func (r *Index) rawEntryRange(gs tuple.Subspace) (begin, end []byte) {
	return gs.Range()
}

// RecordAtRank returns the primary key and score at the given 1-indexed
// rank within group. Entries are read in full and ordered by the same
// comparator RankOf uses (score per the declared order, ties broken by the
// lexicographically smaller primary key), so the two stay consistent by
// construction — get-record-at-rank ∘ get-rank-of is the identity on
// existing (score, pk) pairs (spec 4.F, property 5).
func (r *Index) RecordAtRank(tx kv.Tx, group tuple.Tuple, rank int64) (tuple.Tuple, Score, error) {
	if rank < 1 {
		return nil, Score{}, rlerrors.New(rlerrors.InvalidRank, "")
	}
	entries, err := r.orderedEntries(tx, group)
	if err != nil {
		return nil, Score{}, err
	}
	if rank > int64(len(entries)) {
		return nil, Score{}, rlerrors.New(rlerrors.InvalidRank, "")
	}
	chosen := entries[rank-1]
	return chosen.pk, chosen.score, nil
}

// orderedEntries returns every score entry in group, best-first per the
// index's declared rank order.
func (r *Index) orderedEntries(tx kv.Tx, group tuple.Tuple) ([]decodedEntry, error) {
	gs := r.groupSub(group)
	begin, end := r.rawEntryRange(gs)
	it, err := tx.GetRange(r.table, begin, end, 0)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []decodedEntry
	for {
		pair, ok, nerr := it.Next()
		if nerr != nil {
			return nil, nerr
		}
		if !ok {
			break
		}
		de, valid, derr := r.decodeEntry(gs, pair.Key)
		if derr != nil {
			return nil, derr
		}
		if valid {
			entries = append(entries, de)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score.Equal(b.score) {
			return tuple.Compare(tuple.Pack(a.pk), tuple.Pack(b.pk)) < 0
		}
		return a.score.Better(r.order, b.score)
	})
	return entries, nil
}

// TotalCount counts the score entries in group, skipping count nodes.
func (r *Index) TotalCount(tx kv.Tx, group tuple.Tuple) (int64, error) {
	gs := r.groupSub(group)
	begin, end := r.rawEntryRange(gs)
	it, err := tx.GetRange(r.table, begin, end, 0)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var total int64
	for {
		pair, ok, nerr := it.Next()
		if nerr != nil {
			return 0, nerr
		}
		if !ok {
			break
		}
		_, valid, derr := r.decodeEntry(gs, pair.Key)
		if derr != nil {
			return 0, derr
		}
		if valid {
			total++
		}
	}
	return total, nil
}
