// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/parallel"
)

// ErrDeviceClosed is returned when work is submitted to a closed Device.
var ErrDeviceClosed = errors.New("host: device closed")

// command is one recorded kernel dispatch. It runs on the queue goroutine
// with the Offset Storage held.
type command func(histogram, spine []uint32) error

// batch is one submission: the commands of an encoder and its fence.
type batch struct {
	label    string
	commands []command
	fence    *fence
}

// Device runs the sort kernels on the CPU.
//
// Submissions execute one at a time in submission order on a dedicated
// queue goroutine, so every kernel observes the writes of all kernels
// submitted before it. Within a kernel, workgroups run in parallel on a
// worker pool.
type Device struct {
	offsets *OffsetStorage
	pool    *parallel.WorkerPool
	opts    deviceOptions

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
	queue  chan batch
	wg     sync.WaitGroup
}

var (
	_ gpusort.Device       = (*Device)(nil)
	_ gpusort.OffsetReader = (*Device)(nil)
)

// NewDevice creates a device bound to offsets. The storage must outlive
// the device; the device does not shut it down.
func NewDevice(offsets *OffsetStorage, opts ...DeviceOption) (*Device, error) {
	if offsets == nil {
		return nil, fmt.Errorf("host: nil offset storage: %w", gpusort.ErrNotInitialized)
	}
	o := defaultDeviceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := gpusort.CheckVariants(o.upsweep, o.downsweep); err != nil {
		return nil, err
	}

	d := &Device{
		offsets: offsets,
		pool:    parallel.NewWorkerPool(o.workers),
		opts:    o,
		queue:   make(chan batch, o.queueSize),
	}
	d.wg.Add(1)
	go d.run()

	slogger().Info("host: device created",
		"name", o.name,
		"workers", d.pool.Workers(),
		"bufferWorkaround", o.upsweep.RequiresBufferWorkaround)
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.opts.name }

// Variants returns the kernel variants of Upsweep and Downsweep.
func (d *Device) Variants() (upsweep, downsweep gpusort.KernelVariant) {
	return d.opts.upsweep, d.opts.downsweep
}

// BeginSort opens an encoder.
func (d *Device) BeginSort(label string) (gpusort.Encoder, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDeviceClosed
	}
	if !d.offsets.Initialized() {
		return nil, gpusort.ErrNotInitialized
	}
	return &encoder{device: d, label: label}, nil
}

// ReadOffsets copies both Offset Storage instances once all previously
// submitted work has completed.
func (d *Device) ReadOffsets(ctx context.Context) (histogram, spine gpusort.OffsetTable, err error) {
	read := func(hist, sp []uint32) error {
		histogram = gpusort.NewOffsetTable(hist)
		spine = gpusort.NewOffsetTable(sp)
		return nil
	}
	f, err := d.submit(batch{label: "read_offsets", commands: []command{read}})
	if err != nil {
		return histogram, spine, err
	}
	if err := f.Wait(ctx); err != nil {
		return gpusort.OffsetTable{}, gpusort.OffsetTable{}, err
	}
	return histogram, spine, nil
}

// Close waits for all submitted work and stops the queue and worker pool.
// Close is safe to call multiple times.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.pool.Close()
	slogger().Debug("host: device closed", "name", d.opts.name)
}

// submit hands b to the queue goroutine and returns its fence.
func (d *Device) submit(b batch) (*fence, error) {
	b.fence = newFence()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.queue <- b
	return b.fence, nil
}

// run is the queue goroutine.
func (d *Device) run() {
	defer d.wg.Done()
	for b := range d.queue {
		b.fence.signal(d.execute(b))
	}
}

// execute runs the commands of one batch in order. The first failing
// command aborts the rest of the batch.
func (d *Device) execute(b batch) error {
	histogram, spine, err := d.offsets.acquire()
	if err != nil {
		return err
	}
	defer d.offsets.release()

	for i, cmd := range b.commands {
		if err := cmd(histogram, spine); err != nil {
			slogger().Warn("host: command failed", "label", b.label, "index", i, "err", err)
			return fmt.Errorf("host: %s: command %d: %w", b.label, i, err)
		}
	}
	return nil
}

// fence is signaled by the queue goroutine when its batch completes.
type fence struct {
	done chan struct{}
	err  error
}

func newFence() *fence {
	return &fence{done: make(chan struct{})}
}

func (f *fence) signal(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the batch has executed or ctx is done.
func (f *fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
