// Package backend provides a pluggable sort device abstraction.
//
// A backend bundles a gpusort.Device with the buffer management a caller
// needs around it: creating ping-pong buffers, uploading input and reading
// back results. The driver itself only sees the Device.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import _ "github.com/gogpu/gpusort/backend/host"
//	import _ "github.com/gogpu/gpusort/backend/wgpu"
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request a
// specific backend by name:
//
//	b := backend.Get("host")
//	if err := b.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	bufs, err := b.NewBuffers(count)
//	...
//	s := gpusort.NewSorter(b.Device())
//
// # Available Backends
//
//   - "wgpu": WebGPU compute via gogpu/wgpu (Vulkan, Metal, DX12)
//   - "host": the same kernels on goroutine workgroups (always available)
package backend
