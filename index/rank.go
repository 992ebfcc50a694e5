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
	"github.com/erigontech/recordlayer/metadata"
	"github.com/erigontech/recordlayer/rank"
	"github.com/erigontech/recordlayer/tuple"
)

// rankMaintainer adapts rank.Index to the Maintainer contract: the root
// expression's last column is the score, the leading columns are the
// leaderboard group (spec 4.F).
type rankMaintainer struct {
	base
	engine *rank.Index
}

func newRankMaintainer(b base) *rankMaintainer {
	engine := rank.New(b.sub, b.table, b.idx.Options.BucketSize, b.idx.Options.RankLevels, b.idx.Options.RankOrder, b.idx.Options.ScoreType)
	return &rankMaintainer{base: b, engine: engine}
}

func (m *rankMaintainer) toScore(v any) rank.Score {
	switch m.idx.Options.ScoreType {
	case metadata.ScoreInt32:
		return rank.Int32(v.(int32))
	case metadata.ScoreInt64:
		return rank.Int64(v.(int64))
	case metadata.ScoreFloat32:
		return rank.Float32(v.(float32))
	default:
		return rank.Float64(v.(float64))
	}
}

func (m *rankMaintainer) Update(tx kv.RwTx, oldRec, newRec keyexpr.Record) error {
	var oldGroup, newGroup tuple.Tuple
	var oldScore, newScore rank.Score
	var pk tuple.Tuple
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
		g, v := split(cols)
		oldGroup, oldScore = g, m.toScore(v)
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
		g, v := split(cols)
		newGroup, newScore = g, m.toScore(v)
	}

	if oldRec != nil && newRec != nil && bytes.Equal(tuple.Pack(oldGroup), tuple.Pack(newGroup)) && oldScore.Equal(newScore) {
		return nil
	}
	if oldRec != nil {
		if err := m.engine.Delete(tx, oldGroup, oldScore, pk); err != nil {
			return err
		}
	}
	if newRec != nil {
		if err := m.engine.Insert(tx, newGroup, newScore, pk); err != nil {
			return err
		}
	}
	return nil
}

func (m *rankMaintainer) ScanForBuild(tx kv.RwTx, rec keyexpr.Record) error {
	return m.Update(tx, nil, rec)
}
