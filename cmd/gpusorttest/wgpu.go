//go:build !nogpu

package main

import (
	"github.com/gogpu/gpusort/backend"
	"github.com/gogpu/gpusort/backend/wgpu"
)

func newWGPU(workaround bool) backend.SortBackend {
	var opts []wgpu.Option
	if workaround {
		opts = append(opts, wgpu.WithBufferWorkaround())
	}
	return wgpu.NewBackend(opts...)
}
