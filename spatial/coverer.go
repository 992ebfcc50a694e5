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

package spatial

import (
	"container/heap"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Region is anything a RegionCoverer can cover: a geometric predicate over
// cells (spec 4.K: "mayIntersect the region").
type Region interface {
	MayIntersect(c CellID) bool
	ContainsCell(c CellID) bool
}

// Cap is a circular region on the sphere: center lat/lon in degrees,
// radius in meters.
type Cap struct {
	Lat, Lon float64
	RadiusM  float64
}

const earthRadiusM = 6371010.0

func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

// cellApproxRadiusM estimates a cell's bounding radius from its level, used
// only to decide whether it might intersect a Cap (a conservative, not
// exact, test).
func cellApproxRadiusM(level int) float64 {
	sideLen := 2 * math.Pi * earthRadiusM / 4 / math.Pow(2, float64(level))
	return sideLen * 0.75
}

func (cap Cap) MayIntersect(c CellID) bool {
	lat, lon := c.ToLatLon()
	d := haversineM(cap.Lat, cap.Lon, lat, lon)
	return d <= cap.RadiusM+cellApproxRadiusM(c.Level())
}

func (cap Cap) ContainsCell(c CellID) bool {
	lat, lon := c.ToLatLon()
	d := haversineM(cap.Lat, cap.Lon, lat, lon)
	return d+cellApproxRadiusM(c.Level()) <= cap.RadiusM
}

// candidate is a coverer heap entry, ranked coarsest-level-first so the
// priority queue expands the cheapest (largest) candidates first.
type candidate struct {
	cell CellID
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	return h[i].cell.Level() < h[j].cell.Level() // coarser (smaller level) first
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RegionCoverer computes a bounded set of cells covering a Region (spec
// 4.K): a priority-queue expansion terminated by candidate exhaustion or
// full containment, then normalized and coarsened to at most MaxCells.
type RegionCoverer struct {
	MinLevel int
	MaxLevel int
	MaxCells int
}

// Cover returns a covering of region: every point in region is covered by
// some returned cell, with at most MaxCells cells in the result (after
// coarsening).
func (rc RegionCoverer) Cover(region Region) []CellID {
	var result []CellID
	h := &candidateHeap{}
	heap.Init(h)

	// The 6 faces are independent subtrees of the cell hierarchy, so their
	// initial expansion down to MinLevel runs concurrently; each goroutine
	// owns its own accumulator slice, merged into the shared heap once all
	// 6 complete (spec 4.K: "face initialization expands each of 6 face
	// cells to minLevel").
	perFace := make([][]candidate, 6)
	var g errgroup.Group
	for face := 0; face < 6; face++ {
		face := face
		g.Go(func() error {
			root := cellFromFaceIJ(face, 0, 0, 0)
			perFace[face] = rc.expandFace(region, root, nil)
			return nil
		})
	}
	_ = g.Wait() // expandFace cannot fail; Wait is purely the fan-out barrier

	for _, cands := range perFace {
		for _, c := range cands {
			heap.Push(h, c)
		}
	}

	for h.Len() > 0 && len(result)+h.Len() > rc.MaxCells {
		top := heap.Pop(h).(candidate)
		if region.ContainsCell(top.cell) || top.cell.Level() >= rc.MaxLevel {
			result = append(result, top.cell)
			continue
		}
		for _, child := range top.cell.Children() {
			if region.MayIntersect(child) {
				heap.Push(h, candidate{cell: child})
			}
		}
	}
	for h.Len() > 0 {
		result = append(result, heap.Pop(h).(candidate).cell)
	}

	result = normalize(result)
	return coarsen(result, rc.MaxCells)
}

// expandFace recursively subdivides a face cell down to MinLevel, keeping
// only cells that may intersect region, appending to (and returning) acc
// rather than touching a shared heap directly, so a caller can run one
// face's expansion per goroutine without synchronization (spec 4.K).
func (rc RegionCoverer) expandFace(region Region, cell CellID, acc []candidate) []candidate {
	if !region.MayIntersect(cell) {
		return acc
	}
	if cell.Level() >= rc.MinLevel {
		return append(acc, candidate{cell: cell})
	}
	for _, child := range cell.Children() {
		acc = rc.expandFace(region, child, acc)
	}
	return acc
}

// normalize replaces any group of 4 siblings with their shared parent,
// repeatedly, collapsing fully-covered quads (spec 4.K).
func normalize(cells []CellID) []CellID {
	changed := true
	for changed {
		changed = false
		byParent := map[CellID][]CellID{}
		var singles []CellID
		for _, c := range cells {
			if c.Level() == 0 {
				singles = append(singles, c)
				continue
			}
			p := c.Parent(c.Level() - 1)
			byParent[p] = append(byParent[p], c)
		}
		var merged []CellID
		for parent, kids := range byParent {
			if len(kids) == 4 {
				merged = append(merged, parent)
				changed = true
			} else {
				merged = append(merged, kids...)
			}
		}
		merged = append(merged, singles...)
		cells = merged
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })
	return cells
}

// coarsen pops the finest-level cells and replaces them with parents until
// the result has at most maxCells entries (spec 4.K).
func coarsen(cells []CellID, maxCells int) []CellID {
	for len(cells) > maxCells {
		finestIdx, finestLevel := 0, -1
		for i, c := range cells {
			if l := c.Level(); l > finestLevel {
				finestIdx, finestLevel = i, l
			}
		}
		if finestLevel <= 0 {
			break
		}
		cells[finestIdx] = cells[finestIdx].Parent(finestLevel - 1)
		cells = normalize(cells)
	}
	return cells
}
