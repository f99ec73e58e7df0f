//go:build nogpu

package main

import "github.com/gogpu/gpusort/backend"

func newWGPU(bool) backend.SortBackend { return nil }
