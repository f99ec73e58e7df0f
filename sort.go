// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Sorter is the sort driver. It partitions the input, decides which digit
// passes to run and records the kernels of every executed pass onto its
// Device.
//
// Sort calls on one Sorter are serialized. Two Sorters must not share a
// Device's Offset Storage concurrently unless the device queue orders their
// submissions, which both bundled backends do.
type Sorter struct {
	mu     sync.Mutex
	device Device
	opts   sorterOptions
}

// NewSorter creates a sort driver for device.
func NewSorter(device Device, opts ...SorterOption) *Sorter {
	o := defaultSorterOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Sorter{device: device, opts: o}
}

// Device returns the device the sorter dispatches to.
func (s *Sorter) Device() Device { return s.device }

func (s *Sorter) logger() *slog.Logger {
	if s.opts.logger != nil {
		return s.opts.logger
	}
	return Logger()
}

// Sort orders the first count pairs of bufs.Slot(start) by key, restricted
// to the digit passes that overlap keyMask, and returns the index of the slot
// holding the result.
//
// Sort does not wait for the device. The returned Submission must be waited
// on before the result slot is read, and no other writer may touch bufs
// until then. When count is zero or keyMask selects no pass, Sort returns
// start and issues no device work.
//
// Sort does not validate bufs; see Buffers.Validate. The only errors
// returned are device or encoding failures, and Sort then returns start.
// Nothing was submitted, except with WithOffsetDump, where every pass is
// its own submission: passes completed before the failure have run and
// the contents of both slots are undefined.
func (s *Sorter) Sort(bufs Buffers, start int, keyMask uint32, count int) (int, Submission, error) {
	if count <= 0 || keyMask == 0 {
		return start, Completed(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params := NewParams(count)
	if s.opts.dump != nil {
		if r, ok := s.device.(OffsetReader); ok {
			result, err := s.sortWithDump(r, bufs, start, keyMask, params)
			if err != nil {
				return start, nil, err
			}
			return result, Completed(), nil
		}
		s.logger().Warn("gpusort: offset dump requested but device cannot read offsets",
			"device", s.device.Name())
	}

	enc, err := s.device.BeginSort(s.opts.label)
	if err != nil {
		return start, nil, fmt.Errorf("gpusort: begin sort: %w", err)
	}

	result := start
	for pass := range PassCount {
		params.RadixShift = uint32(pass * RadixBits)
		if PassBits(pass)&keyMask == 0 {
			continue
		}
		if err := encodePass(enc, params, bufs.Slot(result), bufs.Slot(result^1)); err != nil {
			enc.Discard()
			return start, nil, fmt.Errorf("gpusort: pass %d: %w", pass, err)
		}
		s.logger().Debug("gpusort: pass recorded",
			"pass", pass,
			"shift", params.RadixShift,
			"groups", params.GroupCount,
			"src", result)
		result ^= 1
	}

	sub, err := enc.Submit()
	if err != nil {
		return start, nil, fmt.Errorf("gpusort: submit: %w", err)
	}
	s.logger().Debug("gpusort: sort submitted",
		"device", s.device.Name(),
		"count", count,
		"mask", fmt.Sprintf("%#08x", keyMask),
		"result", result)
	return result, sub, nil
}

// encodePass records the four kernels of one digit pass in dependency order.
func encodePass(enc Encoder, p Params, src, dst Slot) error {
	if err := enc.ClearOffsets(); err != nil {
		return fmt.Errorf("%s: %w", StageClearOffsets, err)
	}
	if err := enc.Upsweep(p, src.Keys); err != nil {
		return fmt.Errorf("%s: %w", StageUpsweep, err)
	}
	if err := enc.Spine(); err != nil {
		return fmt.Errorf("%s: %w", StageSpine, err)
	}
	if err := enc.Downsweep(p, src, dst); err != nil {
		return fmt.Errorf("%s: %w", StageDownsweep, err)
	}
	return nil
}

// sortWithDump runs every executed pass as its own submission, waits for it
// and dumps both Offset Storage instances. On error it returns start; passes
// that already ran have overwritten both slots.
func (s *Sorter) sortWithDump(r OffsetReader, bufs Buffers, start int, keyMask uint32, params Params) (int, error) {
	ctx := context.Background()
	result := start
	for pass := range PassCount {
		params.RadixShift = uint32(pass * RadixBits)
		if PassBits(pass)&keyMask == 0 {
			continue
		}
		enc, err := s.device.BeginSort(fmt.Sprintf("%s_pass%d", s.opts.label, pass))
		if err != nil {
			return start, fmt.Errorf("gpusort: begin pass %d: %w", pass, err)
		}
		if err := encodePass(enc, params, bufs.Slot(result), bufs.Slot(result^1)); err != nil {
			enc.Discard()
			return start, fmt.Errorf("gpusort: pass %d: %w", pass, err)
		}
		sub, err := enc.Submit()
		if err != nil {
			return start, fmt.Errorf("gpusort: submit pass %d: %w", pass, err)
		}
		if err := sub.Wait(ctx); err != nil {
			return start, fmt.Errorf("gpusort: wait pass %d: %w", pass, err)
		}
		result ^= 1

		hist, spine, err := r.ReadOffsets(ctx)
		if err != nil {
			return start, fmt.Errorf("gpusort: read offsets after pass %d: %w", pass, err)
		}
		if err := s.dumpPass(pass, params, &hist, &spine); err != nil {
			return start, err
		}
	}
	return result, nil
}

func (s *Sorter) dumpPass(pass int, p Params, hist, spine *OffsetTable) error {
	w := s.opts.dump
	fmt.Fprintf(w, "pass %d %s\n", pass, p)
	if err := hist.CheckHistogram(p); err != nil {
		fmt.Fprintf(w, "  histogram invalid: %v\n", err)
		s.logger().Warn("gpusort: histogram check failed", "pass", pass, "err", err)
	}
	if err := spine.CheckSpine(hist); err != nil {
		fmt.Fprintf(w, "  spine invalid: %v\n", err)
		s.logger().Warn("gpusort: spine check failed", "pass", pass, "err", err)
	}
	if _, err := io.WriteString(w, "histogram:\n"); err != nil {
		return err
	}
	if err := hist.Format(w, int(p.GroupCount)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "spine:\n"); err != nil {
		return err
	}
	return spine.Format(w, int(p.GroupCount))
}
