// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sortcompute

import "github.com/gogpu/gpusort"

// GroupRange returns the half-open element range [start, end) processed by
// group g under p. Group g covers TilesPerGroup whole tiles, plus one more if
// g < ExtraTileCount; the last group also covers the trailing partial tile.
// Ranges of consecutive groups are contiguous and ascending.
func GroupRange(p gpusort.Params, g uint32) (start, end uint32) {
	firstTile := g*p.TilesPerGroup + min(g, p.ExtraTileCount)
	tiles := p.TilesPerGroup
	if g < p.ExtraTileCount {
		tiles++
	}
	start = firstTile * gpusort.TileSize
	end = start + tiles*gpusort.TileSize
	if g == p.GroupCount-1 {
		end += p.ExtraKeyCount
	}
	return start, end
}

// laneHistogram is one invocation's private digit counters.
type laneHistogram [gpusort.DigitCount]uint32

// laneScan is the workgroup scan scratch: one column of digit counts per
// lane, matching var<workgroup> scan in downsweep.wgsl.
type laneScan [gpusort.ThreadCount]laneHistogram

// exclusiveScanLanes replaces v with its exclusive prefix sum across lanes,
// independently per digit, and returns the per-digit totals. It steps the
// Hillis-Steele scan of the kernels: log2(ThreadCount) rounds, each reading
// the previous round's values before any lane writes.
func exclusiveScanLanes(v *laneScan) laneHistogram {
	counts := *v
	inclusive := *v
	for offset := 1; offset < gpusort.ThreadCount; offset <<= 1 {
		prev := inclusive
		for lane := offset; lane < gpusort.ThreadCount; lane++ {
			for d := range gpusort.DigitCount {
				inclusive[lane][d] += prev[lane-offset][d]
			}
		}
	}
	totals := inclusive[gpusort.ThreadCount-1]
	for lane := range gpusort.ThreadCount {
		for d := range gpusort.DigitCount {
			v[lane][d] = inclusive[lane][d] - counts[lane][d]
		}
	}
	return totals
}

// exclusiveScanSums is the scalar form of exclusiveScanLanes used by the
// spine kernel.
func exclusiveScanSums(v *[gpusort.ThreadCount]uint32) uint32 {
	counts := *v
	inclusive := *v
	for offset := 1; offset < gpusort.ThreadCount; offset <<= 1 {
		prev := inclusive
		for lane := offset; lane < gpusort.ThreadCount; lane++ {
			inclusive[lane] += prev[lane-offset]
		}
	}
	for lane := range gpusort.ThreadCount {
		v[lane] = inclusive[lane] - counts[lane]
	}
	return inclusive[gpusort.ThreadCount-1]
}
