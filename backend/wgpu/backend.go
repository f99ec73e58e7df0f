// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/backend"
	"github.com/gogpu/gpusort/internal/gpu"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// ErrNoHALProvider is returned by NewFromProvider when the provider does
// not expose its HAL device and queue.
var ErrNoHALProvider = errors.New("wgpu: provider does not expose HAL types")

// halProvider is implemented by device providers that can hand out the
// wgpu HAL objects behind their gpucontext interfaces.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// Backend is the backend.SortBackend on gogpu/wgpu.
type Backend struct {
	mu   sync.Mutex
	opts options

	// instance is set only for a standalone device.
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool
	adapter  string

	dispatcher *gpu.SortDispatcher
	offsets    *gpu.OffsetStorage
	sortDevice *gpu.Device
}

var _ backend.SortBackend = (*Backend)(nil)

// NewBackend creates a backend that opens its own device in Init.
func NewBackend(opts ...Option) *Backend {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend{opts: o}
}

// NewFromProvider creates an initialized backend on the device of
// provider. The device stays owned by the provider; Close only releases
// the pipelines and the Offset Storage.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	if provider == nil {
		return nil, fmt.Errorf("wgpu: nil provider: %w", ErrNoHALProvider)
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device: %w", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue: %w", ErrNoHALProvider)
	}

	b := NewBackend(opts...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device = device
	b.queue = queue
	b.external = true
	b.adapter = "shared"
	if err := b.initSortLocked(); err != nil {
		b.releaseLocked()
		return nil, err
	}
	slogger().Debug("wgpu: using shared GPU device")
	return b, nil
}

// Name returns "wgpu".
func (b *Backend) Name() string { return backend.BackendWGPU }

// Init opens a standalone Vulkan device, preferring discrete and
// integrated GPUs, and builds the pipelines and Offset Storage. Calling
// Init on an initialized backend is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sortDevice != nil {
		return nil
	}
	if err := b.openDeviceLocked(); err != nil {
		b.releaseLocked()
		return fmt.Errorf("%w: %w", backend.ErrBackendNotAvailable, err)
	}
	if err := b.initSortLocked(); err != nil {
		b.releaseLocked()
		return err
	}
	slogger().Info("wgpu: GPU initialized (standalone)", "adapter", b.adapter)
	return nil
}

// openDeviceLocked creates a standalone Vulkan device for compute-only use.
func (b *Backend) openDeviceLocked() error {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	b.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.adapter = selected.Info.Name
	return nil
}

// initSortLocked builds the dispatcher, Offset Storage and sort device on
// b.device.
func (b *Backend) initSortLocked() error {
	dispatcher, err := gpu.NewSortDispatcher(b.device, b.opts.dispatcher)
	if err != nil {
		return err
	}
	if err := dispatcher.Init(); err != nil {
		return fmt.Errorf("wgpu: init pipelines: %w", err)
	}
	b.dispatcher = dispatcher

	offsets := gpu.NewOffsetStorage(b.device)
	if err := offsets.Init(); err != nil {
		return fmt.Errorf("wgpu: init offset storage: %w", err)
	}
	b.offsets = offsets

	b.sortDevice = gpu.NewDevice(b.adapter, b.device, b.queue, dispatcher, offsets, b.opts.submitTimeout)
	return nil
}

// releaseLocked destroys everything the backend owns.
func (b *Backend) releaseLocked() {
	b.sortDevice = nil
	if b.offsets != nil {
		b.offsets.Shutdown()
		b.offsets = nil
	}
	if b.dispatcher != nil {
		b.dispatcher.Close()
		b.dispatcher = nil
	}
	if !b.external && b.device != nil {
		b.device.Destroy()
	}
	b.device = nil
	b.queue = nil
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
}

// Close releases the pipelines, the Offset Storage and, for a standalone
// device, the device itself.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

// Device returns the sort device, or nil before Init.
func (b *Backend) Device() gpusort.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sortDevice == nil {
		return nil
	}
	return b.sortDevice
}

func (b *Backend) ready() (*gpu.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sortDevice == nil {
		return nil, backend.ErrNotInitialized
	}
	return b.sortDevice, nil
}

// NewBuffers allocates both ping-pong slots for count elements.
func (b *Backend) NewBuffers(count int) (gpusort.Buffers, error) {
	dev, err := b.ready()
	if err != nil {
		return gpusort.Buffers{}, err
	}
	var bufs gpusort.Buffers
	for i := range 2 {
		keys, err := gpu.NewBuffer(dev.HalDevice(), fmt.Sprintf("gpusort_keys_%d", i), count)
		if err != nil {
			b.ReleaseBuffers(bufs)
			return gpusort.Buffers{}, err
		}
		bufs.Keys[i] = keys
		values, err := gpu.NewBuffer(dev.HalDevice(), fmt.Sprintf("gpusort_values_%d", i), count)
		if err != nil {
			b.ReleaseBuffers(bufs)
			return gpusort.Buffers{}, err
		}
		bufs.Values[i] = values
	}
	return bufs, nil
}

// ReleaseBuffers destroys buffers created by NewBuffers. Submissions that
// use them must have completed.
func (b *Backend) ReleaseBuffers(bufs gpusort.Buffers) {
	b.mu.Lock()
	device := b.device
	b.mu.Unlock()
	if device == nil {
		return
	}
	for _, buf := range []gpusort.Buffer{bufs.Keys[0], bufs.Keys[1], bufs.Values[0], bufs.Values[1]} {
		if gb, ok := buf.(*gpu.Buffer); ok && gb != nil {
			gb.Destroy(device)
		}
	}
}

// Upload copies data to the start of dst.
func (b *Backend) Upload(ctx context.Context, dst gpusort.Buffer, data []uint32) error {
	dev, err := b.ready()
	if err != nil {
		return err
	}
	return dev.Upload(ctx, dst, data)
}

// Download reads the first n elements of src.
func (b *Backend) Download(ctx context.Context, src gpusort.Buffer, n int) ([]uint32, error) {
	dev, err := b.ready()
	if err != nil {
		return nil, err
	}
	return dev.Download(ctx, src, n)
}
