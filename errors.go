// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import "errors"

var (
	// ErrNotInitialized is returned when Offset Storage is used before Init
	// or after Shutdown.
	ErrNotInitialized = errors.New("gpusort: offset storage not initialized")

	// ErrBufferTooSmall is returned by Buffers.Validate when a buffer cannot
	// hold the requested element count.
	ErrBufferTooSmall = errors.New("gpusort: buffer too small")

	// ErrInvalidSlot is returned when a ping-pong index is not 0 or 1, or a
	// buffer in the pair is missing.
	ErrInvalidSlot = errors.New("gpusort: invalid buffer slot")

	// ErrEncoderClosed is returned when an encoder is used after Submit or
	// Discard.
	ErrEncoderClosed = errors.New("gpusort: encoder already submitted")

	// ErrVariantMismatch is returned when Upsweep and Downsweep disagree on
	// how the parameter block is delivered.
	ErrVariantMismatch = errors.New("gpusort: upsweep and downsweep parameter delivery differ")

	// ErrForeignBuffer is returned when a device is handed a buffer created
	// by another backend.
	ErrForeignBuffer = errors.New("gpusort: buffer belongs to another device")
)
