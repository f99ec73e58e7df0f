// Package wgpu provides the WebGPU sort backend using gogpu/wgpu.
//
// The backend runs the four sort kernels as WGSL compute shaders. It
// either opens its own Vulkan device:
//
//	import _ "github.com/gogpu/gpusort/backend/wgpu"
//
//	b := backend.Get(backend.BackendWGPU)
//	if err := b.Init(); err != nil {
//		// no usable adapter
//	}
//
// or shares the device of a host application through a
// gpucontext.DeviceProvider whose implementation also exposes the HAL
// device and queue:
//
//	b, err := wgpu.NewFromProvider(provider)
//
// Building with the nogpu tag leaves the package empty and unregistered.
package wgpu
