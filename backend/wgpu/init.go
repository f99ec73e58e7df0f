//go:build !nogpu

package wgpu

import "github.com/gogpu/gpusort/backend"

func init() {
	backend.Register(backend.BackendWGPU, func() backend.SortBackend {
		return NewBackend()
	})
}
