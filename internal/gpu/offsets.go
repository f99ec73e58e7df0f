// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// OffsetStorageSize is the size in bytes of one Offset Storage instance.
const OffsetStorageSize = gpusort.OffsetCount * 4

// OffsetStorage holds the histogram and spine instances on the GPU. It is
// created once per device and shared by every sort recorded on it.
type OffsetStorage struct {
	mu        sync.RWMutex
	device    hal.Device
	histogram hal.Buffer
	spine     hal.Buffer
}

// NewOffsetStorage returns storage for device. Call Init before use.
func NewOffsetStorage(device hal.Device) *OffsetStorage {
	return &OffsetStorage{device: device}
}

// Init creates both GPU buffers. Calling Init on initialized storage is a
// no-op.
func (s *OffsetStorage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histogram != nil {
		return nil
	}

	usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	hist, err := createBuffer(s.device, "gpusort_histogram", OffsetStorageSize, usage)
	if err != nil {
		return fmt.Errorf("gpu: create histogram storage: %w", err)
	}
	spine, err := createBuffer(s.device, "gpusort_spine", OffsetStorageSize, usage)
	if err != nil {
		s.device.DestroyBuffer(hist)
		return fmt.Errorf("gpu: create spine storage: %w", err)
	}
	s.histogram = hist
	s.spine = spine

	slogger().Info("gpu: offset storage created", "bytes", 2*OffsetStorageSize)
	return nil
}

// Shutdown destroys both buffers. Submissions that use them must have
// completed.
func (s *OffsetStorage) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histogram != nil {
		s.device.DestroyBuffer(s.histogram)
		s.histogram = nil
	}
	if s.spine != nil {
		s.device.DestroyBuffer(s.spine)
		s.spine = nil
	}
}

// Initialized reports whether the buffers exist.
func (s *OffsetStorage) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.histogram != nil
}

// buffers returns both instances or gpusort.ErrNotInitialized.
func (s *OffsetStorage) buffers() (histogram, spine hal.Buffer, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.histogram == nil {
		return nil, nil, gpusort.ErrNotInitialized
	}
	return s.histogram, s.spine, nil
}
