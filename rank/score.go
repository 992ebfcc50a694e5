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

package rank

import (
	"fmt"
	"math"

	"github.com/erigontech/recordlayer/metadata"
)

// Score is a tuple-encodable leaderboard score, abstracting over the four
// numeric score types spec 4.F allows (int32/int64/float32/float64) behind
// one comparable, bucket-addressable value (spec's "score capability").
type Score struct {
	typ metadata.ScoreType
	i   int64
	f   float64
}

func Int32(v int32) Score     { return Score{typ: metadata.ScoreInt32, i: int64(v)} }
func Int64(v int64) Score     { return Score{typ: metadata.ScoreInt64, i: v} }
func Float32(v float32) Score { return Score{typ: metadata.ScoreFloat32, f: float64(v)} }
func Float64(v float64) Score { return Score{typ: metadata.ScoreFloat64, f: v} }

// Type reports the score's declared numeric type.
func (s Score) Type() metadata.ScoreType { return s.typ }

func (s Score) isFloat() bool {
	return s.typ == metadata.ScoreFloat32 || s.typ == metadata.ScoreFloat64
}

// TupleElement returns the value in the native Go type tuple.Pack expects,
// so that score entries and count-node bucket boundaries sort the same way
// the rest of the keyspace does.
func (s Score) TupleElement() any {
	switch s.typ {
	case metadata.ScoreInt32:
		return int32(s.i)
	case metadata.ScoreInt64:
		return s.i
	case metadata.ScoreFloat32:
		return float32(s.f)
	case metadata.ScoreFloat64:
		return s.f
	default:
		panic(fmt.Sprintf("rank: unknown score type %d", s.typ))
	}
}

func (s Score) asFloat() float64 {
	if s.isFloat() {
		return s.f
	}
	return float64(s.i)
}

func fromFloat(typ metadata.ScoreType, v float64) Score {
	switch typ {
	case metadata.ScoreInt32, metadata.ScoreInt64:
		return Score{typ: typ, i: int64(v)}
	default:
		return Score{typ: typ, f: v}
	}
}

// Less reports whether s sorts strictly before other in natural (ascending)
// numeric order, irrespective of rank order.
func (s Score) Less(other Score) bool { return s.asFloat() < other.asFloat() }

// Equal reports natural-value equality.
func (s Score) Equal(other Score) bool { return s.asFloat() == other.asFloat() }

// BucketBoundary returns floor(score / B^l) * B^l, the start of the bucket
// the score falls into at level l (spec 4.F).
func (s Score) BucketBoundary(bucketSize int64, level int) Score {
	width := math.Pow(float64(bucketSize), float64(level))
	return fromFloat(s.typ, math.Floor(s.asFloat()/width)*width)
}

// NextBucketBoundary returns BucketBoundary + B^l, the exclusive end of the
// score's bucket at level l.
func (s Score) NextBucketBoundary(bucketSize int64, level int) Score {
	width := math.Pow(float64(bucketSize), float64(level))
	return fromFloat(s.typ, math.Floor(s.asFloat()/width)*width+width)
}

// NextScore returns the smallest representable score strictly greater than
// s: +1 for integers, the next representable float toward +Inf for floats.
func (s Score) NextScore() Score {
	if s.isFloat() {
		return Score{typ: s.typ, f: math.Nextafter(s.f, math.Inf(1))}
	}
	return Score{typ: s.typ, i: s.i + 1}
}

// Better reports whether s sorts ahead of other under order (descending:
// higher is better; ascending: lower is better).
func (s Score) Better(order metadata.RankOrder, other Score) bool {
	if order == metadata.RankDescending {
		return other.Less(s)
	}
	return s.Less(other)
}
