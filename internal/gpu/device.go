// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/sortcompute"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	// DefaultSubmitTimeout bounds a single Submission.Wait.
	DefaultSubmitTimeout = 5 * time.Second

	// paramsBufferSize is the parameter block padded to a 16-byte multiple.
	paramsBufferSize = 32
)

// ErrSubmitTimeout is returned when the GPU does not complete a submission
// in time.
var ErrSubmitTimeout = errors.New("gpu: submission timeout")

// Device implements gpusort.Device on a HAL device and queue.
//
// The queue executes submissions in order, so consecutive sorts on one
// Device never overlap on the Offset Storage.
type Device struct {
	name       string
	device     hal.Device
	queue      hal.Queue
	dispatcher *SortDispatcher
	offsets    *OffsetStorage
	timeout    time.Duration

	// submitMu orders staging writes and Submit pairs from concurrent
	// encoders.
	submitMu sync.Mutex
}

var (
	_ gpusort.Device       = (*Device)(nil)
	_ gpusort.OffsetReader = (*Device)(nil)
)

// NewDevice binds an initialized dispatcher and Offset Storage to queue.
// A zero timeout uses DefaultSubmitTimeout.
func NewDevice(name string, device hal.Device, queue hal.Queue, dispatcher *SortDispatcher, offsets *OffsetStorage, timeout time.Duration) *Device {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Device{
		name:       name,
		device:     device,
		queue:      queue,
		dispatcher: dispatcher,
		offsets:    offsets,
		timeout:    timeout,
	}
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// HalDevice returns the underlying HAL device.
func (d *Device) HalDevice() hal.Device { return d.device }

// HalQueue returns the underlying HAL queue.
func (d *Device) HalQueue() hal.Queue { return d.queue }

// BeginSort opens a command encoder.
func (d *Device) BeginSort(label string) (gpusort.Encoder, error) {
	if !d.dispatcher.Initialized() {
		return nil, gpusort.ErrNotInitialized
	}
	histogram, spine, err := d.offsets.buffers()
	if err != nil {
		return nil, err
	}

	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}
	return &encoder{
		dev:       d,
		label:     label,
		raw:       raw,
		histogram: histogram,
		spine:     spine,
		res:       &submitResources{device: d.device},
	}, nil
}

// ReadOffsets copies both Offset Storage instances to the host. The copy
// is queued after all previous submissions.
func (d *Device) ReadOffsets(ctx context.Context) (histogram, spine gpusort.OffsetTable, err error) {
	hist, sp, err := d.offsets.buffers()
	if err != nil {
		return histogram, spine, err
	}

	staging, err := createBuffer(d.device, "gpusort_offsets_staging", 2*OffsetStorageSize,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return histogram, spine, fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.runCopy(ctx, "gpusort_read_offsets", &submitResources{device: d.device}, func(raw hal.CommandEncoder) {
		raw.TransitionBuffers([]hal.BufferBarrier{
			storageToCopySrc(hist),
			storageToCopySrc(sp),
		})
		raw.CopyBufferToBuffer(hist, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: OffsetStorageSize},
		})
		raw.CopyBufferToBuffer(sp, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: OffsetStorageSize, Size: OffsetStorageSize},
		})
	})
	if err != nil {
		return histogram, spine, err
	}

	readback, err := d.readStaging(staging, 2*OffsetStorageSize)
	if err != nil {
		return histogram, spine, err
	}
	words := BytesToWords(readback)
	return gpusort.NewOffsetTable(words[:gpusort.OffsetCount]),
		gpusort.NewOffsetTable(words[gpusort.OffsetCount:]), nil
}

// submit writes res.writes into their staging buffers and hands res.cmdBuf
// to the queue. On error res is released.
func (d *Device) submit(res *submitResources) (*Submission, error) {
	d.submitMu.Lock()
	for _, w := range res.writes {
		if err := d.queue.WriteBuffer(w.buf, 0, w.data); err != nil {
			d.submitMu.Unlock()
			res.cleanup()
			return nil, fmt.Errorf("gpu: write staging buffer: %w", err)
		}
	}
	index, err := d.queue.Submit([]hal.CommandBuffer{res.cmdBuf})
	d.submitMu.Unlock()
	if err != nil {
		res.cleanup()
		return nil, fmt.Errorf("gpu: submit: %w", err)
	}
	return &Submission{queue: d.queue, index: index, res: res, timeout: d.timeout}, nil
}

// BytesToWords decodes little-endian 32-bit words.
func BytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// WordsToBytes encodes words little-endian.
func WordsToBytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// pendingWrite fills a host-visible staging buffer right before its
// submission.
type pendingWrite struct {
	buf  hal.Buffer
	data []byte
}

// submitResources tracks the per-submission GPU resources for cleanup.
type submitResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	buffers    []hal.Buffer
	writes     []pendingWrite
	cmdBuf     hal.CommandBuffer
}

// cleanup destroys all tracked resources.
func (r *submitResources) cleanup() {
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
		r.cmdBuf = nil
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
	r.bindGroups = nil
	for _, b := range r.buffers {
		r.device.DestroyBuffer(b)
	}
	r.buffers = nil
	r.writes = nil
}

const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// Submission is a command buffer handed to the queue.
type Submission struct {
	mu      sync.Mutex
	queue   hal.Queue
	index   uint64
	res     *submitResources
	timeout time.Duration
	done    bool
}

var _ gpusort.Submission = (*Submission)(nil)

// Wait blocks until the queue reports the submission index as completed.
// The wait is bounded by ctx and the device timeout, whichever ends first.
// Resources are released once the submission has completed; after a
// timeout Wait may be called again.
func (s *Submission) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(s.timeout)
	delay := minPollInterval
	for s.queue.PollCompleted() < s.index {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrSubmitTimeout, s.timeout)
		}
		timer := time.NewTimer(min(delay, time.Until(deadline)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(2*delay, maxPollInterval)
	}
	s.res.cleanup()
	s.done = true
	return nil
}

// encoder records the compute passes of one submission.
type encoder struct {
	dev       *Device
	label     string
	raw       hal.CommandEncoder
	histogram hal.Buffer
	spine     hal.Buffer
	res       *submitResources
	done      bool

	// Upsweep and Downsweep of one pass share a parameter buffer.
	lastParams    gpusort.Params
	lastParamsBuf hal.Buffer
	passes        int
}

var _ gpusort.Encoder = (*encoder)(nil)

func bufferEntry(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: 0,
			Size:   0, // 0 = entire buffer
		},
	}
}

// dispatch records one compute pass of stage followed by a barrier on
// every buffer the pass writes.
func (e *encoder) dispatch(stage gpusort.Stage, groups uint32, entries []gputypes.BindGroupEntry, written ...hal.Buffer) error {
	if e.done {
		return gpusort.ErrEncoderClosed
	}
	pipeline, layout, err := e.dev.dispatcher.stagePipeline(stage)
	if err != nil {
		return err
	}
	label := fmt.Sprintf("%s_%s_%d", e.label, stage, e.passes)
	bg, err := e.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label + "_bg",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group for %s: %w", stage, err)
	}
	e.res.bindGroups = append(e.res.bindGroups, bg)

	pass := e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(groups, 1, 1)
	pass.End()

	barriers := make([]hal.BufferBarrier, len(written))
	for i, buf := range written {
		barriers[i] = hal.BufferBarrier{
			Buffer: buf,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageStorage,
				NewUsage: gputypes.BufferUsageStorage,
			},
		}
	}
	e.raw.TransitionBuffers(barriers)

	slogger().Debug("gpu: dispatched stage",
		"stage", stage.String(),
		"workgroups", groups)
	return nil
}

// paramsBuffer returns the parameter buffer for p, creating a new one when
// p differs from the previous pass. The block travels through a
// host-visible staging buffer that is filled at submit time and copied
// into the device-local parameter buffer ahead of the pass that reads it.
func (e *encoder) paramsBuffer(p gpusort.Params) (hal.Buffer, error) {
	if e.lastParamsBuf != nil && e.lastParams == p {
		return e.lastParamsBuf, nil
	}
	usage := e.dev.dispatcher.paramsUsage()
	buf, err := createBuffer(e.dev.device, fmt.Sprintf("%s_params_%d", e.label, e.passes),
		paramsBufferSize, usage)
	if err != nil {
		return nil, fmt.Errorf("gpu: create params buffer: %w", err)
	}
	e.res.buffers = append(e.res.buffers, buf)

	staging, err := createBuffer(e.dev.device, fmt.Sprintf("%s_params_staging_%d", e.label, e.passes),
		paramsBufferSize, gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpu: create params staging buffer: %w", err)
	}
	e.res.buffers = append(e.res.buffers, staging)

	data := make([]byte, 0, paramsBufferSize)
	data = p.AppendBytes(data)
	data = data[:paramsBufferSize]
	e.res.writes = append(e.res.writes, pendingWrite{buf: staging, data: data})

	e.raw.CopyBufferToBuffer(staging, buf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: paramsBufferSize},
	})
	e.raw.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: buf,
		Usage: hal.BufferUsageTransition{
			OldUsage: gputypes.BufferUsageCopyDst,
			NewUsage: usage &^ gputypes.BufferUsageCopyDst,
		},
	}})

	e.lastParams = p
	e.lastParamsBuf = buf
	return buf, nil
}

func (e *encoder) ClearOffsets() error {
	e.passes++
	return e.dispatch(gpusort.StageClearOffsets, sortcompute.ClearGroups,
		[]gputypes.BindGroupEntry{bufferEntry(0, e.histogram)}, e.histogram)
}

func (e *encoder) Upsweep(p gpusort.Params, keys gpusort.Buffer) error {
	if e.done {
		return gpusort.ErrEncoderClosed
	}
	kb, err := gpuBuffer(keys)
	if err != nil {
		return err
	}
	if kb.Len() < p.Count() {
		return fmt.Errorf("%w: keys hold %d, need %d", gpusort.ErrBufferTooSmall, kb.Len(), p.Count())
	}
	pbuf, err := e.paramsBuffer(p)
	if err != nil {
		return err
	}
	return e.dispatch(gpusort.StageUpsweep, p.GroupCount, []gputypes.BindGroupEntry{
		bufferEntry(0, pbuf),
		bufferEntry(1, kb.raw),
		bufferEntry(2, e.histogram),
	}, e.histogram)
}

func (e *encoder) Spine() error {
	return e.dispatch(gpusort.StageSpine, 1, []gputypes.BindGroupEntry{
		bufferEntry(0, e.histogram),
		bufferEntry(1, e.spine),
	}, e.spine)
}

func (e *encoder) Downsweep(p gpusort.Params, src, dst gpusort.Slot) error {
	if e.done {
		return gpusort.ErrEncoderClosed
	}
	var bufs [4]*Buffer
	for i, b := range []gpusort.Buffer{src.Keys, src.Values, dst.Keys, dst.Values} {
		gb, err := gpuBuffer(b)
		if err != nil {
			return err
		}
		if gb.Len() < p.Count() {
			return fmt.Errorf("%w: buffer %d holds %d, need %d", gpusort.ErrBufferTooSmall, i, gb.Len(), p.Count())
		}
		bufs[i] = gb
	}
	pbuf, err := e.paramsBuffer(p)
	if err != nil {
		return err
	}
	return e.dispatch(gpusort.StageDownsweep, p.GroupCount, []gputypes.BindGroupEntry{
		bufferEntry(0, pbuf),
		bufferEntry(1, e.spine),
		bufferEntry(2, bufs[0].raw),
		bufferEntry(3, bufs[1].raw),
		bufferEntry(4, bufs[2].raw),
		bufferEntry(5, bufs[3].raw),
	}, bufs[2].raw, bufs[3].raw)
}

func (e *encoder) Submit() (gpusort.Submission, error) {
	if e.done {
		return nil, gpusort.ErrEncoderClosed
	}
	e.done = true

	cmdBuf, err := e.raw.EndEncoding()
	if err != nil {
		e.res.cleanup()
		return nil, fmt.Errorf("gpu: end encoding: %w", err)
	}
	e.res.cmdBuf = cmdBuf

	sub, err := e.dev.submit(e.res)
	if err != nil {
		return nil, err
	}
	slogger().Debug("gpu: sort submitted",
		"label", e.label,
		"passes", e.passes,
		"bindGroups", len(e.res.bindGroups))
	return sub, nil
}

func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	e.raw.DiscardEncoding()
	e.res.cleanup()
}
