// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/backend"
)

func init() {
	backend.Register(backend.BackendHost, func() backend.SortBackend {
		return NewBackend()
	})
}

// Backend is the backend.SortBackend of the host device.
type Backend struct {
	mu      sync.Mutex
	opts    []DeviceOption
	offsets *OffsetStorage
	device  *Device
}

var _ backend.SortBackend = (*Backend)(nil)

// NewBackend creates an uninitialized host backend. opts are applied to the
// device created by Init.
func NewBackend(opts ...DeviceOption) *Backend {
	return &Backend{opts: opts}
}

// Name returns "host".
func (b *Backend) Name() string { return backend.BackendHost }

// Init creates the Offset Storage and the device. Calling Init on an
// initialized backend is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return nil
	}

	offsets := NewOffsetStorage()
	if err := offsets.Init(); err != nil {
		return fmt.Errorf("host: init offset storage: %w", err)
	}
	dev, err := NewDevice(offsets, b.opts...)
	if err != nil {
		offsets.Shutdown()
		return fmt.Errorf("host: create device: %w", err)
	}
	b.offsets = offsets
	b.device = dev
	return nil
}

// Close stops the device and releases the Offset Storage.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return
	}
	b.device.Close()
	b.offsets.Shutdown()
	b.device = nil
	b.offsets = nil
}

// Device returns the host device, or nil before Init.
func (b *Backend) Device() gpusort.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil
	}
	return b.device
}

// NewBuffers allocates both ping-pong slots for count elements.
func (b *Backend) NewBuffers(count int) (gpusort.Buffers, error) {
	if b.Device() == nil {
		return gpusort.Buffers{}, backend.ErrNotInitialized
	}
	if count < 0 {
		return gpusort.Buffers{}, fmt.Errorf("host: negative buffer size %d", count)
	}
	return NewBuffers(count), nil
}

// ReleaseBuffers is a no-op; host buffers are garbage collected.
func (b *Backend) ReleaseBuffers(gpusort.Buffers) {}

// Upload copies data to the start of dst.
//
// The copy is ordered after every submission made before the call, like a
// queue write on a GPU.
func (b *Backend) Upload(ctx context.Context, dst gpusort.Buffer, data []uint32) error {
	hb, err := b.check(dst, len(data))
	if err != nil {
		return err
	}
	return b.onQueue(ctx, "upload", func() { copy(hb.data, data) })
}

// Download reads the first n elements of src.
func (b *Backend) Download(ctx context.Context, src gpusort.Buffer, n int) ([]uint32, error) {
	hb, err := b.check(src, n)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	if err := b.onQueue(ctx, "download", func() { copy(out, hb.data[:n]) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) check(buf gpusort.Buffer, n int) (*Buffer, error) {
	if b.Device() == nil {
		return nil, backend.ErrNotInitialized
	}
	hb, err := hostBuffer(buf)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > hb.Len() {
		return nil, fmt.Errorf("%w: buffer holds %d, need %d", gpusort.ErrBufferTooSmall, hb.Len(), n)
	}
	return hb, nil
}

// onQueue runs fn on the device queue and waits for it.
func (b *Backend) onQueue(ctx context.Context, label string, fn func()) error {
	b.mu.Lock()
	dev := b.device
	b.mu.Unlock()
	if dev == nil {
		return backend.ErrNotInitialized
	}
	f, err := dev.submit(batch{label: label, commands: []command{
		func(_, _ []uint32) error { fn(); return nil },
	}})
	if err != nil {
		return err
	}
	return f.Wait(ctx)
}
