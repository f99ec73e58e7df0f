// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"time"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/gpu"
)

// Option configures a Backend during creation.
type Option func(*options)

type options struct {
	dispatcher   gpu.DispatcherConfig
	submitTimeout time.Duration
}

func defaultOptions() options {
	return options{submitTimeout: gpu.DefaultSubmitTimeout}
}

// WithBufferWorkaround compiles Upsweep and Downsweep to read their
// parameter block from a read-only storage buffer instead of a uniform
// block, for drivers that mishandle the uniform binding.
func WithBufferWorkaround() Option {
	return func(o *options) {
		v := gpusort.KernelVariant{RequiresBufferWorkaround: true}
		o.dispatcher.Upsweep = v
		o.dispatcher.Downsweep = v
	}
}

// WithSPIRV compiles the kernels to SPIR-V with naga before creating the
// shader modules.
func WithSPIRV() Option {
	return func(o *options) {
		o.dispatcher.SPIRV = true
	}
}

// WithSubmitTimeout bounds each wait for the GPU.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.submitTimeout = d
		}
	}
}
