// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

// KernelVariant describes how a compiled kernel receives its parameter
// block.
type KernelVariant struct {
	// RequiresBufferWorkaround delivers the parameter block as a read-only
	// storage buffer instead of a uniform block. Some drivers miscompile
	// uniform reads in these kernels. The bytes delivered are identical
	// either way.
	RequiresBufferWorkaround bool
}

// CheckVariants verifies that Upsweep and Downsweep, which share one
// parameter block per pass, agree on its delivery.
func CheckVariants(upsweep, downsweep KernelVariant) error {
	if upsweep.RequiresBufferWorkaround != downsweep.RequiresBufferWorkaround {
		return ErrVariantMismatch
	}
	return nil
}
