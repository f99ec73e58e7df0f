// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Upload writes data to the start of dst, ordered after every earlier
// submission. The words go through a host-visible staging buffer because
// sort buffers are device-local. Upload returns once the copy completed.
func (d *Device) Upload(ctx context.Context, dst gpusort.Buffer, data []uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gb, err := gpuBuffer(dst)
	if err != nil {
		return err
	}
	if len(data) > gb.Len() {
		return fmt.Errorf("%w: buffer holds %d, need %d", gpusort.ErrBufferTooSmall, gb.Len(), len(data))
	}
	if len(data) == 0 {
		return nil
	}
	size := uint64(len(data)) * 4

	staging, err := createBuffer(d.device, "gpusort_upload_staging", size,
		gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	res := &submitResources{
		device:  d.device,
		buffers: []hal.Buffer{staging},
		writes:  []pendingWrite{{buf: staging, data: WordsToBytes(data)}},
	}
	return d.runCopy(ctx, "gpusort_upload", res, func(raw hal.CommandEncoder) {
		raw.CopyBufferToBuffer(staging, gb.raw, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: size},
		})
		raw.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: gb.raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageCopyDst,
				NewUsage: gputypes.BufferUsageStorage,
			},
		}})
	})
}

// Download copies the first n elements of src to the host through a
// staging buffer.
func (d *Device) Download(ctx context.Context, src gpusort.Buffer, n int) ([]uint32, error) {
	gb, err := gpuBuffer(src)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > gb.Len() {
		return nil, fmt.Errorf("%w: buffer holds %d, need %d", gpusort.ErrBufferTooSmall, gb.Len(), n)
	}
	if n == 0 {
		return []uint32{}, nil
	}
	size := uint64(n) * 4

	staging, err := createBuffer(d.device, "gpusort_download_staging", size,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.runCopy(ctx, "gpusort_download", &submitResources{device: d.device}, func(raw hal.CommandEncoder) {
		raw.TransitionBuffers([]hal.BufferBarrier{storageToCopySrc(gb.raw)})
		raw.CopyBufferToBuffer(gb.raw, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: size},
		})
	})
	if err != nil {
		return nil, err
	}

	readback, err := d.readStaging(staging, size)
	if err != nil {
		return nil, err
	}
	return BytesToWords(readback), nil
}

// runCopy records a transfer with record, submits it together with res and
// waits for it to complete.
func (d *Device) runCopy(ctx context.Context, label string, res *submitResources, record func(raw hal.CommandEncoder)) error {
	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		res.cleanup()
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		res.cleanup()
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}
	record(raw)
	cmdBuf, err := raw.EndEncoding()
	if err != nil {
		res.cleanup()
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf

	sub, err := d.submit(res)
	if err != nil {
		return err
	}
	return sub.Wait(ctx)
}

// readStaging maps a completed MapRead staging buffer and copies out its
// first size bytes.
func (d *Device) readStaging(staging hal.Buffer, size uint64) ([]byte, error) {
	m, err := d.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("gpu: map staging buffer: %w", err)
	}
	readback := make([]byte, size)
	copy(readback, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("gpu: unmap staging buffer: %w", err)
	}
	return readback, nil
}

// storageToCopySrc orders earlier kernel writes to buf before a copy out
// of it.
func storageToCopySrc(buf hal.Buffer) hal.BufferBarrier {
	return hal.BufferBarrier{
		Buffer: buf,
		Usage: hal.BufferUsageTransition{
			OldUsage: gputypes.BufferUsageStorage,
			NewUsage: gputypes.BufferUsageCopySrc,
		},
	}
}
