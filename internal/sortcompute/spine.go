// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sortcompute

import "github.com/gogpu/gpusort"

// spineEntriesPerLane is the number of digit-major table entries one lane
// owns in the spine kernel.
const spineEntriesPerLane = gpusort.OffsetCount / gpusort.ThreadCount

// Spine computes the exclusive prefix sum of histogram in digit-major,
// group-minor order and writes it, group-major, to spine. Afterwards
// spine[g][d] is the number of keys with a smaller digit plus the number of
// keys with digit d in groups before g.
//
// This is the CPU version of spine.wgsl, which runs as a single workgroup.
// Lane t owns digit-major entries t*8 .. t*8+7, where entry i is digit
// i / MaxGroupCount of group i % MaxGroupCount.
func Spine(histogram, spine []uint32) {
	var local [gpusort.ThreadCount][spineEntriesPerLane]uint32
	var sums [gpusort.ThreadCount]uint32
	for lane := range gpusort.ThreadCount {
		for k := range spineEntriesPerLane {
			v := histogram[flatIndex(lane*spineEntriesPerLane+k)]
			local[lane][k] = v
			sums[lane] += v
		}
	}

	exclusiveScanSums(&sums)

	for lane := range gpusort.ThreadCount {
		running := sums[lane]
		for k := range spineEntriesPerLane {
			spine[flatIndex(lane*spineEntriesPerLane+k)] = running
			running += local[lane][k]
		}
	}
}

// flatIndex maps digit-major entry i to its group-major storage index.
func flatIndex(i int) int {
	d := i / gpusort.MaxGroupCount
	g := i % gpusort.MaxGroupCount
	return g*gpusort.DigitCount + d
}
