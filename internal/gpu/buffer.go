// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// minBufferSize is the smallest buffer created; zero-sized bindings are
// invalid.
const minBufferSize = 4

// sortBufferUsage is the usage of key and value buffers: bound as storage
// by the kernels, written by uploads and copied out for readback.
const sortBufferUsage = gputypes.BufferUsageStorage |
	gputypes.BufferUsageCopyDst |
	gputypes.BufferUsageCopySrc

// Buffer is a GPU storage buffer of 32-bit elements.
type Buffer struct {
	raw hal.Buffer
	n   int
}

var _ gpusort.Buffer = (*Buffer)(nil)

// NewBuffer creates a storage buffer for n elements on device.
func NewBuffer(device hal.Device, label string, n int) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("gpu: negative buffer size %d", n)
	}
	raw, err := createBuffer(device, label, uint64(n)*4, sortBufferUsage)
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", label, err)
	}
	return &Buffer{raw: raw, n: n}, nil
}

// Len returns the capacity in elements.
func (b *Buffer) Len() int { return b.n }

// Raw returns the HAL buffer.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Size returns the size in bytes of the element range.
func (b *Buffer) Size() uint64 { return uint64(b.n) * 4 }

// Destroy releases the buffer. It is safe to call on a destroyed buffer.
func (b *Buffer) Destroy(device hal.Device) {
	if b.raw != nil {
		device.DestroyBuffer(b.raw)
		b.raw = nil
	}
}

// createBuffer creates a single GPU buffer with a minimum size guarantee.
func createBuffer(device hal.Device, label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if size < minBufferSize {
		size = minBufferSize
	}
	return device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
}

// gpuBuffer unwraps a gpusort.Buffer created by this package.
func gpuBuffer(b gpusort.Buffer) (*Buffer, error) {
	gb, ok := b.(*Buffer)
	if !ok || gb == nil {
		return nil, fmt.Errorf("%w: got %T", gpusort.ErrForeignBuffer, b)
	}
	if gb.raw == nil {
		return nil, fmt.Errorf("gpu: buffer used after Destroy: %w", gpusort.ErrForeignBuffer)
	}
	return gb, nil
}
