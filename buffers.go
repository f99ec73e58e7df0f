// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import "fmt"

// Buffer is a device buffer of 32-bit elements. Concrete buffers are created
// by a backend and are only meaningful to that backend's Device.
type Buffer interface {
	// Len returns the capacity of the buffer in elements.
	Len() int
}

// Slot is one side of the ping-pong pair: a key buffer and the value buffer
// that travels with it.
type Slot struct {
	Keys   Buffer
	Values Buffer
}

// Buffers holds both ping-pong slots of a sort. The sort reads from one index
// and writes to the other, alternating on every executed pass.
type Buffers struct {
	Keys   [2]Buffer
	Values [2]Buffer
}

// Slot returns the key/value pair at index i (0 or 1).
func (b Buffers) Slot(i int) Slot {
	return Slot{Keys: b.Keys[i&1], Values: b.Values[i&1]}
}

// Validate checks the preconditions Sort relies on but does not check
// itself: start is 0 or 1 and all four buffers hold at least count elements.
func (b Buffers) Validate(start, count int) error {
	if start != 0 && start != 1 {
		return fmt.Errorf("%w: start index %d", ErrInvalidSlot, start)
	}
	for i := range 2 {
		if b.Keys[i] == nil || b.Values[i] == nil {
			return fmt.Errorf("%w: slot %d has a nil buffer", ErrInvalidSlot, i)
		}
		if n := b.Keys[i].Len(); n < count {
			return fmt.Errorf("%w: keys[%d] holds %d elements, need %d", ErrBufferTooSmall, i, n, count)
		}
		if n := b.Values[i].Len(); n < count {
			return fmt.Errorf("%w: values[%d] holds %d elements, need %d", ErrBufferTooSmall, i, n, count)
		}
	}
	return nil
}
