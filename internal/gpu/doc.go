// Package gpu runs the sort kernels on a WebGPU HAL device (gogpu/wgpu).
//
// SortDispatcher compiles the four WGSL kernels into compute pipelines.
// OffsetStorage owns the two GPU-resident Offset Storage instances. Device
// combines both with a hal.Queue and implements gpusort.Device: BeginSort
// opens a command encoder, every kernel becomes one compute pass, and
// Submit hands the command buffer to the queue. Host transfers and
// parameter blocks travel through host-visible staging buffers.
//
// The nogpu build tag excludes everything but this comment, for hosts
// without a Vulkan loader.
package gpu
