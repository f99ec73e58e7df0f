// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"fmt"

	"github.com/gogpu/gpusort"
)

// Buffer is a host device buffer of 32-bit elements.
//
// Kernels write the buffer from the device queue. Callers may only touch
// Data while no submission that uses the buffer is outstanding.
type Buffer struct {
	data []uint32
}

var _ gpusort.Buffer = (*Buffer)(nil)

// NewBuffer allocates a zeroed buffer of n elements.
func NewBuffer(n int) *Buffer {
	return &Buffer{data: make([]uint32, max(n, 0))}
}

// NewBufferFrom wraps data without copying.
func NewBufferFrom(data []uint32) *Buffer {
	return &Buffer{data: data}
}

// Len returns the capacity of the buffer in elements.
func (b *Buffer) Len() int { return len(b.data) }

// Data returns the backing slice.
func (b *Buffer) Data() []uint32 { return b.data }

// NewBuffers allocates both ping-pong slots for n elements.
func NewBuffers(n int) gpusort.Buffers {
	return gpusort.Buffers{
		Keys:   [2]gpusort.Buffer{NewBuffer(n), NewBuffer(n)},
		Values: [2]gpusort.Buffer{NewBuffer(n), NewBuffer(n)},
	}
}

// hostBuffer unwraps a gpusort.Buffer created by this package.
func hostBuffer(b gpusort.Buffer) (*Buffer, error) {
	hb, ok := b.(*Buffer)
	if !ok || hb == nil {
		return nil, fmt.Errorf("%w: got %T", gpusort.ErrForeignBuffer, b)
	}
	return hb, nil
}
