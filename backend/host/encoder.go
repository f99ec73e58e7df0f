// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"fmt"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/sortcompute"
)

// encoder records commands for one submission.
type encoder struct {
	device   *Device
	label    string
	commands []command
	done     bool
}

var _ gpusort.Encoder = (*encoder)(nil)

func (e *encoder) record(cmd command) error {
	if e.done {
		return gpusort.ErrEncoderClosed
	}
	e.commands = append(e.commands, cmd)
	return nil
}

// paramsFor returns the parameter block the kernel will read. With the
// buffer workaround the block travels through its byte encoding, exactly
// as a storage-buffer binding would deliver it.
func paramsFor(v gpusort.KernelVariant, p gpusort.Params) func() (gpusort.Params, error) {
	if !v.RequiresBufferWorkaround {
		return func() (gpusort.Params, error) { return p, nil }
	}
	block := p.Bytes()
	return func() (gpusort.Params, error) { return gpusort.ParamsFromBytes(block) }
}

func (e *encoder) ClearOffsets() error {
	pool := e.device.pool
	return e.record(func(histogram, _ []uint32) error {
		pool.Dispatch(sortcompute.ClearGroups, func(g uint32) {
			sortcompute.ClearOffsetsGroup(g, histogram)
		})
		return nil
	})
}

func (e *encoder) Upsweep(p gpusort.Params, keys gpusort.Buffer) error {
	kb, err := hostBuffer(keys)
	if err != nil {
		return err
	}
	if kb.Len() < p.Count() {
		return fmt.Errorf("%w: keys hold %d, need %d", gpusort.ErrBufferTooSmall, kb.Len(), p.Count())
	}
	load := paramsFor(e.device.opts.upsweep, p)
	pool := e.device.pool
	return e.record(func(histogram, _ []uint32) error {
		p, err := load()
		if err != nil {
			return err
		}
		pool.Dispatch(p.GroupCount, func(g uint32) {
			sortcompute.UpsweepGroup(p, g, kb.data, histogram)
		})
		return nil
	})
}

func (e *encoder) Spine() error {
	return e.record(func(histogram, spine []uint32) error {
		sortcompute.Spine(histogram, spine)
		return nil
	})
}

func (e *encoder) Downsweep(p gpusort.Params, src, dst gpusort.Slot) error {
	var bufs [4]*Buffer
	for i, b := range []gpusort.Buffer{src.Keys, src.Values, dst.Keys, dst.Values} {
		hb, err := hostBuffer(b)
		if err != nil {
			return err
		}
		if hb.Len() < p.Count() {
			return fmt.Errorf("%w: buffer %d holds %d, need %d", gpusort.ErrBufferTooSmall, i, hb.Len(), p.Count())
		}
		bufs[i] = hb
	}
	load := paramsFor(e.device.opts.downsweep, p)
	pool := e.device.pool
	return e.record(func(_, spine []uint32) error {
		p, err := load()
		if err != nil {
			return err
		}
		pool.Dispatch(p.GroupCount, func(g uint32) {
			sortcompute.DownsweepGroup(p, g, spine,
				bufs[0].data, bufs[1].data, bufs[2].data, bufs[3].data)
		})
		return nil
	})
}

func (e *encoder) Submit() (gpusort.Submission, error) {
	if e.done {
		return nil, gpusort.ErrEncoderClosed
	}
	e.done = true
	f, err := e.device.submit(batch{label: e.label, commands: e.commands})
	e.commands = nil
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (e *encoder) Discard() {
	e.done = true
	e.commands = nil
}
