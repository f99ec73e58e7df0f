// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sortcompute

import "github.com/gogpu/gpusort"

// DownsweepGroup scatters the pairs assigned to workgroup g from
// (keysIn, valuesIn) to (keysOut, valuesOut).
// This is the CPU version of downsweep.wgsl.
//
// The digit of every key is recomputed rather than read from Upsweep. A key
// lands at spine[g][d] plus the number of earlier keys with digit d in this
// group's traversal, which visits elements in index order, so each pass is a
// stable partition.
func DownsweepGroup(p gpusort.Params, g uint32, spine, keysIn, valuesIn, keysOut, valuesOut []uint32) {
	start, end := GroupRange(p, g)

	var running laneHistogram
	copy(running[:], spine[g*gpusort.DigitCount:(g+1)*gpusort.DigitCount])

	var digits [gpusort.ThreadCount][gpusort.KeysPerLoop]uint32
	for tile := start; tile < end; tile += gpusort.TileSize {
		// Phase 1: every lane loads its keys and counts their digits.
		var lanes laneScan
		for lane := range uint32(gpusort.ThreadCount) {
			base := tile + lane*gpusort.KeysPerLoop
			for k := range uint32(gpusort.KeysPerLoop) {
				if i := base + k; i < end {
					d := p.Digit(keysIn[i])
					digits[lane][k] = d
					lanes[lane][d]++
				}
			}
		}

		// Phase 2: exclusive scan of the lane counts, per digit.
		totals := exclusiveScanLanes(&lanes)

		// Phase 3: every lane walks its keys in order and scatters them.
		for lane := range uint32(gpusort.ThreadCount) {
			var seen laneHistogram
			base := tile + lane*gpusort.KeysPerLoop
			for k := range uint32(gpusort.KeysPerLoop) {
				i := base + k
				if i >= end {
					break
				}
				d := digits[lane][k]
				dst := running[d] + lanes[lane][d] + seen[d]
				seen[d]++
				keysOut[dst] = keysIn[i]
				valuesOut[dst] = valuesIn[i]
			}
		}

		for d := range gpusort.DigitCount {
			running[d] += totals[d]
		}
	}
}

// Downsweep runs every workgroup of the downsweep kernel.
func Downsweep(p gpusort.Params, spine, keysIn, valuesIn, keysOut, valuesOut []uint32) {
	for g := range p.GroupCount {
		DownsweepGroup(p, g, spine, keysIn, valuesIn, keysOut, valuesOut)
	}
}
