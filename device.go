// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"context"
	"fmt"
)

// Stage identifies one of the four sort kernels.
type Stage int

const (
	// StageClearOffsets zeroes the histogram Offset Storage instance.
	StageClearOffsets Stage = iota

	// StageUpsweep builds the per-group digit histogram.
	StageUpsweep

	// StageSpine prefix-sums the histogram in digit-major order.
	StageSpine

	// StageDownsweep ranks and scatters pairs into the opposite slot.
	StageDownsweep

	// StageCount is the number of kernels.
	StageCount
)

// String returns the kernel name used in labels and logs.
func (s Stage) String() string {
	switch s {
	case StageClearOffsets:
		return "clear_offsets"
	case StageUpsweep:
		return "upsweep"
	case StageSpine:
		return "spine"
	case StageDownsweep:
		return "downsweep"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Device is a compute device able to run the four sort kernels against its
// own Offset Storage. The Offset Storage is injected into the device when it
// is constructed and outlives every sort.
type Device interface {
	// Name returns a short identifier for logs.
	Name() string

	// BeginSort opens an encoder for one Sort call.
	BeginSort(label string) (Encoder, error)
}

// Encoder records kernel dispatches. Recorded dispatches execute in order on
// the device queue, and each dispatch observes every write of the dispatch
// recorded before it.
type Encoder interface {
	// ClearOffsets zeroes the histogram instance.
	ClearOffsets() error

	// Upsweep writes one digit histogram row per group for keys.
	Upsweep(p Params, keys Buffer) error

	// Spine replaces the spine instance with the digit-major exclusive
	// prefix sum of the histogram instance.
	Spine() error

	// Downsweep scatters the pairs of src into dst using the spine offsets.
	Downsweep(p Params, src, dst Slot) error

	// Submit hands the recorded work to the device queue without waiting.
	Submit() (Submission, error)

	// Discard drops the recorded work. It is a no-op after Submit.
	Discard()
}

// Submission tracks work handed to a device queue.
type Submission interface {
	// Wait blocks until the work has completed or ctx is done. Returning on
	// ctx only abandons the wait; submitted work still runs to completion.
	Wait(ctx context.Context) error
}

// OffsetReader is implemented by devices that can read back their Offset
// Storage for diagnostics. Callers must wait for outstanding submissions
// first.
type OffsetReader interface {
	ReadOffsets(ctx context.Context) (histogram, spine OffsetTable, err error)
}

// completed is a Submission with no outstanding work.
type completed struct{}

func (completed) Wait(context.Context) error { return nil }

// Completed returns a Submission that is already done.
func Completed() Submission { return completed{} }
