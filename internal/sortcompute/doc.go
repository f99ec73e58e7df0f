// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sortcompute is the CPU version of the radix sort kernels in
// internal/gpu/shaders. Each kernel is exposed per workgroup so a host
// device can run groups in parallel; within a group the invocations are
// stepped lane by lane between the same barriers the WGSL uses.
//
// Lane layout shared by every kernel: in a tile starting at element s, lane
// t owns elements s + t*KeysPerLoop .. s + t*KeysPerLoop + KeysPerLoop - 1.
package sortcompute
