// Package gpusort sorts (key, value) pairs of 32-bit unsigned integers on a
// parallel compute device with a least-significant-digit radix sort.
//
// # Overview
//
// A sort runs up to eight passes, one per 4-bit digit. Each pass records
// four kernels onto the device queue:
//
//   - ClearOffsets zeroes the histogram Offset Storage instance.
//   - Upsweep counts the digit of every key, one histogram row per group.
//   - Spine turns the histogram into global output offsets, digit-major.
//   - Downsweep ranks every pair within its group and scatters it into the
//     opposite ping-pong slot.
//
// Pairs never return to the host between passes. Passes whose digit does
// not overlap the key mask are skipped entirely and do not flip the slot.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpusort"
//	    "github.com/gogpu/gpusort/backend"
//	    _ "github.com/gogpu/gpusort/backend/host"
//	)
//
//	b, err := backend.InitDefault()
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	bufs, err := b.NewBuffers(len(keys))
//	if err != nil {
//	    return err
//	}
//	defer b.ReleaseBuffers(bufs)
//	_ = b.Upload(ctx, bufs.Keys[0], keys)
//	_ = b.Upload(ctx, bufs.Values[0], values)
//
//	s := gpusort.NewSorter(b.Device())
//	slot, sub, err := s.Sort(bufs, 0, 0xFFFFFFFF, len(keys))
//	if err != nil {
//	    return err
//	}
//	if err := sub.Wait(ctx); err != nil {
//	    return err
//	}
//	sorted, err := b.Download(ctx, bufs.Slot(slot).Keys, len(keys))
//
// # Backends
//
// A Device runs the kernels. Two backends are bundled:
//
//   - backend/wgpu compiles WGSL compute shaders and dispatches them through
//     gogpu/wgpu, either on its own Vulkan device or on a device shared by a
//     host application through gpucontext.
//   - backend/host runs the same kernels on goroutine workgroups with an
//     in-order queue. It is a device implementation, not a fallback: the
//     driver never sorts on the CPU by itself.
//
// # Partitioning
//
// The input is cut into tiles of TileSize elements. At most MaxGroupCount
// groups are dispatched; larger inputs give every group more tiles. The
// first ExtraTileCount groups take one extra whole tile and the last group
// also takes the trailing partial tile.
//
// # Kernel variants
//
// Upsweep and Downsweep read a per-pass parameter block. Some drivers need
// it bound as a read-only storage buffer instead of a uniform block; see
// KernelVariant. Both kernels of a device must use the same delivery.
//
// # Logging
//
// gpusort is silent by default. Call SetLogger to receive lifecycle and
// per-pass records from the driver and every backend.
package gpusort
