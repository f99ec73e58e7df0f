// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"sync"

	"github.com/gogpu/gpusort"
)

// OffsetStorage is the ping-pong Offset Storage of the host device: a
// histogram instance written by Upsweep and a spine instance written by
// Spine, each gpusort.OffsetCount counters.
//
// The storage is created once for the lifetime of the subsystem that sorts,
// not per sort call. Shutdown waits for any kernel currently using it.
type OffsetStorage struct {
	mu        sync.RWMutex
	histogram []uint32
	spine     []uint32
}

// NewOffsetStorage returns storage that must be initialized with Init.
func NewOffsetStorage() *OffsetStorage {
	return &OffsetStorage{}
}

// Init allocates both instances. Calling Init on initialized storage is a
// no-op.
func (s *OffsetStorage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histogram != nil {
		return nil
	}
	s.histogram = make([]uint32, gpusort.OffsetCount)
	s.spine = make([]uint32, gpusort.OffsetCount)
	slogger().Info("host: offset storage created", "counters", 2*gpusort.OffsetCount)
	return nil
}

// Shutdown releases both instances. Kernels recorded afterwards fail with
// gpusort.ErrNotInitialized.
func (s *OffsetStorage) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histogram = nil
	s.spine = nil
}

// Initialized reports whether Init has been called without Shutdown.
func (s *OffsetStorage) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.histogram != nil
}

// acquire locks the storage for one command. The caller must call release.
func (s *OffsetStorage) acquire() (histogram, spine []uint32, err error) {
	s.mu.RLock()
	if s.histogram == nil {
		s.mu.RUnlock()
		return nil, nil, gpusort.ErrNotInitialized
	}
	return s.histogram, s.spine, nil
}

func (s *OffsetStorage) release() { s.mu.RUnlock() }
