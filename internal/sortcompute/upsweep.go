// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sortcompute

import "github.com/gogpu/gpusort"

// UpsweepGroup counts the digits of the keys assigned to workgroup g and
// writes them to row g of histogram.
// This is the CPU version of upsweep.wgsl.
func UpsweepGroup(p gpusort.Params, g uint32, keys, histogram []uint32) {
	start, end := GroupRange(p, g)

	// Each lane accumulates private counters over all of the group's tiles.
	var lanes laneScan
	for tile := start; tile < end; tile += gpusort.TileSize {
		for lane := range uint32(gpusort.ThreadCount) {
			base := tile + lane*gpusort.KeysPerLoop
			for k := range uint32(gpusort.KeysPerLoop) {
				if i := base + k; i < end {
					lanes[lane][p.Digit(keys[i])]++
				}
			}
		}
	}

	// Tree reduction over lanes in workgroup memory.
	for stride := gpusort.ThreadCount / 2; stride > 0; stride >>= 1 {
		for lane := range stride {
			for d := range gpusort.DigitCount {
				lanes[lane][d] += lanes[lane+stride][d]
			}
		}
	}

	copy(histogram[g*gpusort.DigitCount:(g+1)*gpusort.DigitCount], lanes[0][:])
}

// Upsweep runs every workgroup of the upsweep kernel.
func Upsweep(p gpusort.Params, keys, histogram []uint32) {
	for g := range p.GroupCount {
		UpsweepGroup(p, g, keys, histogram)
	}
}
