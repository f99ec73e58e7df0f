// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host implements gpusort.Device on the CPU. It runs the same four
// kernels as the WebGPU backend, in their CPU versions from sortcompute,
// with workgroups spread over a worker pool and an in-order queue goroutine
// standing in for the device queue.
//
// Importing the package registers the "host" backend:
//
//	import _ "github.com/gogpu/gpusort/backend/host"
//
// Direct use:
//
//	offsets := host.NewOffsetStorage()
//	if err := offsets.Init(); err != nil {
//		return err
//	}
//	defer offsets.Shutdown()
//
//	dev, err := host.NewDevice(offsets)
//	if err != nil {
//		return err
//	}
//	defer dev.Close()
//
//	s := gpusort.NewSorter(dev)
package host
