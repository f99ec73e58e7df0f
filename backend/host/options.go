// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import "github.com/gogpu/gpusort"

// DeviceOption configures a Device during creation.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	name      string
	workers   int
	queueSize int
	upsweep   gpusort.KernelVariant
	downsweep gpusort.KernelVariant
}

func defaultDeviceOptions() deviceOptions {
	return deviceOptions{
		name:      "host",
		workers:   0, // GOMAXPROCS
		queueSize: 16,
	}
}

// WithName sets the name reported by Device.Name.
func WithName(name string) DeviceOption {
	return func(o *deviceOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithWorkers sets the number of goroutines that execute workgroups.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) DeviceOption {
	return func(o *deviceOptions) {
		o.workers = n
	}
}

// WithQueueSize sets how many submissions may wait on the queue before
// Submit blocks.
func WithQueueSize(n int) DeviceOption {
	return func(o *deviceOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithKernelVariants selects how Upsweep and Downsweep receive their
// parameter block. NewDevice rejects variants that disagree.
func WithKernelVariants(upsweep, downsweep gpusort.KernelVariant) DeviceOption {
	return func(o *deviceOptions) {
		o.upsweep = upsweep
		o.downsweep = downsweep
	}
}

// WithBufferWorkaround makes both kernels read their parameter block from
// a byte buffer, the host analogue of a storage-buffer binding.
func WithBufferWorkaround() DeviceOption {
	v := gpusort.KernelVariant{RequiresBufferWorkaround: true}
	return WithKernelVariants(v, v)
}
