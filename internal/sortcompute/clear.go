// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sortcompute

import "github.com/gogpu/gpusort"

// ClearGroups is the workgroup count of the clear kernel: one counter per
// invocation.
const ClearGroups = gpusort.OffsetCount / gpusort.ThreadCount

// ClearOffsetsGroup zeroes the counters owned by workgroup g.
// This is the CPU version of clear_offsets.wgsl.
func ClearOffsetsGroup(g uint32, offsets []uint32) {
	base := g * gpusort.ThreadCount
	clear(offsets[base : base+gpusort.ThreadCount])
}

// ClearOffsets runs every workgroup of the clear kernel.
func ClearOffsets(offsets []uint32) {
	for g := range uint32(ClearGroups) {
		ClearOffsetsGroup(g, offsets)
	}
}
