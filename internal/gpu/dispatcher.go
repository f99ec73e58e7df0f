// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DispatcherConfig selects how the kernels are compiled.
type DispatcherConfig struct {
	// Upsweep and Downsweep are the parameter delivery variants. They must
	// agree because one parameter buffer per pass is bound to both.
	Upsweep   gpusort.KernelVariant
	Downsweep gpusort.KernelVariant

	// SPIRV compiles the WGSL with naga and creates the shader modules from
	// SPIR-V instead of handing WGSL to the HAL.
	SPIRV bool
}

// SortDispatcher owns the compute pipelines of the four sort kernels.
//
// Thread safety: SortDispatcher is safe for concurrent use. Init and Close
// must not race with encoders that use the pipelines.
type SortDispatcher struct {
	mu     sync.RWMutex
	device hal.Device
	config DispatcherConfig

	shaderModules   [gpusort.StageCount]hal.ShaderModule
	bgLayouts       [gpusort.StageCount]hal.BindGroupLayout
	pipelineLayouts [gpusort.StageCount]hal.PipelineLayout
	pipelines       [gpusort.StageCount]hal.ComputePipeline

	initialized bool
}

// NewSortDispatcher creates a dispatcher for device. Init must be called
// before the pipelines are used.
func NewSortDispatcher(device hal.Device, config DispatcherConfig) (*SortDispatcher, error) {
	if err := gpusort.CheckVariants(config.Upsweep, config.Downsweep); err != nil {
		return nil, err
	}
	return &SortDispatcher{device: device, config: config}, nil
}

// Config returns the dispatcher configuration.
func (d *SortDispatcher) Config() DispatcherConfig { return d.config }

// variant returns the kernel variant compiled for stage.
func (d *SortDispatcher) variant(stage gpusort.Stage) gpusort.KernelVariant {
	switch stage {
	case gpusort.StageUpsweep:
		return d.config.Upsweep
	case gpusort.StageDownsweep:
		return d.config.Downsweep
	default:
		return gpusort.KernelVariant{}
	}
}

// paramsUsage returns the usage of per-pass parameter buffers.
func (d *SortDispatcher) paramsUsage() gputypes.BufferUsage {
	if d.config.Upsweep.RequiresBufferWorkaround {
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	}
	return gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
}

// stageBindGroupLayoutEntries returns the layout entries of stage. They
// match the @group(0) @binding(N) declarations of its WGSL exactly.
func stageBindGroupLayoutEntries(stage gpusort.Stage, v gpusort.KernelVariant) []gputypes.BindGroupLayoutEntry {
	params := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	if v.RequiresBufferWorkaround {
		params.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case gpusort.StageClearOffsets:
		// @binding(0) storage(read_write) offsets
		return []gputypes.BindGroupLayoutEntry{storageRW(0)}

	case gpusort.StageUpsweep:
		// @binding(0) params
		// @binding(1) storage(read) keys
		// @binding(2) storage(read_write) histogram
		return []gputypes.BindGroupLayoutEntry{params, storageRO(1), storageRW(2)}

	case gpusort.StageSpine:
		// @binding(0) storage(read) histogram
		// @binding(1) storage(read_write) spine
		return []gputypes.BindGroupLayoutEntry{storageRO(0), storageRW(1)}

	case gpusort.StageDownsweep:
		// @binding(0) params
		// @binding(1) storage(read) spine
		// @binding(2) storage(read) keys_in
		// @binding(3) storage(read) values_in
		// @binding(4) storage(read_write) keys_out
		// @binding(5) storage(read_write) values_out
		return []gputypes.BindGroupLayoutEntry{
			params, storageRO(1), storageRO(2), storageRO(3), storageRW(4), storageRW(5),
		}

	default:
		return nil
	}
}

// shaderModuleSource returns the module source of stage.
func (d *SortDispatcher) shaderModuleSource(stage gpusort.Stage) (hal.ShaderSource, int, error) {
	src, err := ShaderSource(stage, d.variant(stage))
	if err != nil {
		return hal.ShaderSource{}, 0, err
	}
	if !d.config.SPIRV {
		return hal.ShaderSource{WGSL: src}, len(src), nil
	}
	code, err := CompileSPIRVCached(src)
	if err != nil {
		return hal.ShaderSource{}, 0, err
	}
	return hal.ShaderSource{SPIRV: code}, len(code) * 4, nil
}

// Init compiles all kernels and creates their compute pipelines.
// It is safe to call Init multiple times; subsequent calls are no-ops if
// already initialized.
func (d *SortDispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	for i := gpusort.Stage(0); i < gpusort.StageCount; i++ {
		stageName := fmt.Sprintf("gpusort_%s", i)

		// 1. Create shader module.
		source, size, err := d.shaderModuleSource(i)
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("gpu: shader for %s: %w", i, err)
		}
		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  stageName,
			Source: source,
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("gpu: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		// 2. Create bind group layout for this stage's bindings.
		entries := stageBindGroupLayoutEntries(i, d.variant(i))
		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   stageName + "_bgl",
			Entries: entries,
		})
		if err != nil {
			d.destroyPartialInit(i + 1) // module was already stored
			return fmt.Errorf("gpu: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		// 3. Create pipeline layout.
		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            stageName + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		// 4. Create compute pipeline.
		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  stageName,
			Layout: pipelineLayout,
			Compute: hal.ComputeState{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("gpu: pipeline created",
			"stage", i.String(),
			"bindings", len(entries),
			"shader_bytes", size,
			"bufferWorkaround", d.variant(i).RequiresBufferWorkaround)
	}

	if d.config.SPIRV {
		hits, misses := spirvCache.Stats()
		slogger().Info("gpu: sort pipelines initialized",
			"stages", int(gpusort.StageCount),
			"spirv", true,
			"spirvCached", spirvCache.Len(),
			"spirvHits", hits,
			"spirvMisses", misses)
	} else {
		slogger().Info("gpu: sort pipelines initialized",
			"stages", int(gpusort.StageCount),
			"spirv", false)
	}

	d.initialized = true
	return nil
}

// destroyPartialInit cleans up resources for stages [0, upTo) during a
// failed Init.
func (d *SortDispatcher) destroyPartialInit(upTo gpusort.Stage) {
	for j := gpusort.Stage(0); j < upTo; j++ {
		d.destroyStage(j)
	}
}

func (d *SortDispatcher) destroyStage(i gpusort.Stage) {
	if d.pipelines[i] != nil {
		d.device.DestroyComputePipeline(d.pipelines[i])
		d.pipelines[i] = nil
	}
	if d.pipelineLayouts[i] != nil {
		d.device.DestroyPipelineLayout(d.pipelineLayouts[i])
		d.pipelineLayouts[i] = nil
	}
	if d.bgLayouts[i] != nil {
		d.device.DestroyBindGroupLayout(d.bgLayouts[i])
		d.bgLayouts[i] = nil
	}
	if d.shaderModules[i] != nil {
		d.device.DestroyShaderModule(d.shaderModules[i])
		d.shaderModules[i] = nil
	}
}

// Close releases all pipelines. After Close, the dispatcher must be
// re-initialized with Init before use.
func (d *SortDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := gpusort.Stage(0); i < gpusort.StageCount; i++ {
		d.destroyStage(i)
	}
	d.initialized = false
}

// Initialized reports whether Init has completed.
func (d *SortDispatcher) Initialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized
}

// stagePipeline returns the pipeline and layout of stage.
func (d *SortDispatcher) stagePipeline(stage gpusort.Stage) (hal.ComputePipeline, hal.BindGroupLayout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return nil, nil, gpusort.ErrNotInitialized
	}
	return d.pipelines[stage], d.bgLayouts[stage], nil
}
