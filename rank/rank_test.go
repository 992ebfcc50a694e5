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

package rank_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/kv"
	"github.com/erigontech/recordlayer/kv/memkv"
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rank"
	"github.com/erigontech/recordlayer/tuple"
)

type player struct {
	id    int64
	score int64
}

// TestRankBasicE1 is the literal E1 scenario: Player(tenantId, id, score),
// one descending rank index on (tenantId, score) with bucketSize=100.
func TestRankBasicE1(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	sub := tuple.FromBytes([]byte("ix"))
	idx := rank.New(sub, "", 100, 3, metadata.RankDescending, metadata.ScoreInt64)
	group := tuple.Tuple{"T"}

	writes := []player{{1, 50}, {2, 150}, {3, 150}, {4, 9}}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for _, p := range writes {
			if err := idx.Insert(tx, group, rank.Int64(p.score), tuple.Tuple{p.id}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		r, err := idx.RankOf(tx, group, rank.Int64(150), tuple.Tuple{int64(2)})
		require.NoError(t, err)
		require.EqualValues(t, 1, r)

		r, err = idx.RankOf(tx, group, rank.Int64(150), tuple.Tuple{int64(3)})
		require.NoError(t, err)
		require.EqualValues(t, 2, r)

		r, err = idx.RankOf(tx, group, rank.Int64(50), tuple.Tuple{int64(1)})
		require.NoError(t, err)
		require.EqualValues(t, 3, r)

		r, err = idx.RankOf(tx, group, rank.Int64(9), tuple.Tuple{int64(4)})
		require.NoError(t, err)
		require.EqualValues(t, 4, r)

		pk, _, err := idx.RecordAtRank(tx, group, 1)
		require.NoError(t, err)
		require.Equal(t, tuple.Tuple{int64(2)}, pk)

		total, err := idx.TotalCount(tx, group)
		require.NoError(t, err)
		require.EqualValues(t, 4, total)
		return nil
	}))
}

// TestCountNodeSumsMatchEntryCount is testable property 3: the sum over all
// count nodes at any level equals the number of score entries in the group.
func TestCountNodeSumsMatchEntryCount(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	sub := tuple.FromBytes([]byte("ix"))
	idx := rank.New(sub, "", 10, 3, metadata.RankAscending, metadata.ScoreInt64)
	group := tuple.Tuple{"G"}

	scores := []int64{5, 17, 23, 42, 99, 101, 7, 88}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for i, s := range scores {
			if err := idx.Insert(tx, group, rank.Int64(s), tuple.Tuple{int64(i)}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		total, err := idx.TotalCount(tx, group)
		require.NoError(t, err)
		require.EqualValues(t, len(scores), total)
		return nil
	}))
}

// TestRankOfMatchesSortedPosition is testable property 4: rank(score, pk)
// equals the 1-indexed position of (score, pk) in the sorted-by-order,
// tie-broken-by-pk list of the group's entries.
func TestRankOfMatchesSortedPosition(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	sub := tuple.FromBytes([]byte("ix"))
	idx := rank.New(sub, "", 10, 3, metadata.RankDescending, metadata.ScoreInt64)
	group := tuple.Tuple{"G"}

	entries := []player{{1, 30}, {2, 10}, {3, 30}, {4, 55}, {5, 10}, {6, 30}}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for _, p := range entries {
			if err := idx.Insert(tx, group, rank.Int64(p.score), tuple.Tuple{int64(p.id)}); err != nil {
				return err
			}
		}
		return nil
	}))

	type ranked struct {
		id, score int64
	}
	sorted := make([]ranked, len(entries))
	for i, p := range entries {
		sorted[i] = ranked{p.id, p.score}
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			less := sorted[j].score > sorted[i].score ||
				(sorted[j].score == sorted[i].score && sorted[j].id < sorted[i].id)
			if less {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		for wantRank, e := range sorted {
			got, err := idx.RankOf(tx, group, rank.Int64(e.score), tuple.Tuple{e.id})
			require.NoError(t, err)
			require.EqualValuesf(t, wantRank+1, got, "entry id=%d score=%d", e.id, e.score)
		}
		return nil
	}))
}

// TestRecordAtRankInvertsRankOf is testable property 5: RecordAtRank ∘
// RankOf is the identity on existing (score, pk) pairs.
func TestRecordAtRankInvertsRankOf(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	sub := tuple.FromBytes([]byte("ix"))
	idx := rank.New(sub, "", 10, 3, metadata.RankAscending, metadata.ScoreInt64)
	group := tuple.Tuple{"G"}

	entries := []player{{1, 30}, {2, 10}, {3, 45}, {4, 8}, {5, 10}}
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for _, p := range entries {
			if err := idx.Insert(tx, group, rank.Int64(p.score), tuple.Tuple{int64(p.id)}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		for _, p := range entries {
			r, err := idx.RankOf(tx, group, rank.Int64(p.score), tuple.Tuple{int64(p.id)})
			require.NoError(t, err)
			pk, score, err := idx.RecordAtRank(tx, group, r)
			require.NoError(t, err)
			require.Equal(t, tuple.Tuple{int64(p.id)}, pk)
			require.True(t, score.Equal(rank.Int64(p.score)))
		}
		return nil
	}))
}
