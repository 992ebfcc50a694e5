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

// Package vector is the HNSW metadata scaffolding spec 4.L calls for:
// "metadata shape only; algorithm itself is external". It defines the
// parameter shape (metadata.HNSWParams, consumed directly) and a minimal
// wire encoding for the raw vector payload the index maintainer persists
// alongside each primary key, so an external ANN library has something
// concrete to read back.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/erigontech/recordlayer/rlerrors"
	"github.com/erigontech/recordlayer/tuple"
)

// Encode serializes a tuple of float32/float64 columns as a flat
// little-endian float64 vector, length-prefixed.
func Encode(cols tuple.Tuple) ([]byte, error) {
	out := make([]byte, 4, 4+8*len(cols))
	binary.LittleEndian.PutUint32(out, uint32(len(cols)))
	for _, c := range cols {
		var f float64
		switch v := c.(type) {
		case float64:
			f = v
		case float32:
			f = float64(v)
		default:
			return nil, rlerrors.New(rlerrors.InvalidSerializedData, fmt.Sprintf("%T", c))
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		out = append(out, buf...)
	}
	return out, nil
}

// Decode inverts Encode.
func Decode(b []byte) ([]float64, error) {
	if len(b) < 4 {
		return nil, rlerrors.New(rlerrors.InvalidSerializedData, "")
	}
	n := binary.LittleEndian.Uint32(b)
	want := 4 + 8*int(n)
	if len(b) != want {
		return nil, rlerrors.New(rlerrors.InvalidSerializedData, "")
	}
	out := make([]float64, n)
	for i := range out {
		off := 4 + 8*i
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
	}
	return out, nil
}

// Distance computes Euclidean distance between two equal-length vectors,
// the default metric for metadata.HNSWParams.Metric == "l2".
func Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, rlerrors.New(rlerrors.InvalidArgument, "")
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
