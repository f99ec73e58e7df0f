// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gpu

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/cache"
	"github.com/gogpu/naga"
)

// Embedded WGSL shader sources.

//go:embed shaders/clear_offsets.wgsl
var clearOffsetsShaderSource string

//go:embed shaders/upsweep.wgsl
var upsweepShaderSource string

//go:embed shaders/spine.wgsl
var spineShaderSource string

//go:embed shaders/downsweep.wgsl
var downsweepShaderSource string

// paramsBindingPlaceholder marks where Upsweep and Downsweep declare their
// parameter block.
const paramsBindingPlaceholder = "{{PARAMS_BINDING}}"

const (
	paramsUniformDecl = "var<uniform> params: Params;"
	paramsStorageDecl = "var<storage, read> params: Params;"
)

// ShaderSource returns the WGSL of stage for the given kernel variant.
func ShaderSource(stage gpusort.Stage, v gpusort.KernelVariant) (string, error) {
	var src string
	switch stage {
	case gpusort.StageClearOffsets:
		return clearOffsetsShaderSource, nil
	case gpusort.StageSpine:
		return spineShaderSource, nil
	case gpusort.StageUpsweep:
		src = upsweepShaderSource
	case gpusort.StageDownsweep:
		src = downsweepShaderSource
	default:
		return "", fmt.Errorf("gpu: no shader for stage %s", stage)
	}
	decl := paramsUniformDecl
	if v.RequiresBufferWorkaround {
		decl = paramsStorageDecl
	}
	return strings.Replace(src, paramsBindingPlaceholder, decl, 1), nil
}

// hasParams reports whether stage binds a parameter block at binding 0.
func hasParams(stage gpusort.Stage) bool {
	return stage == gpusort.StageUpsweep || stage == gpusort.StageDownsweep
}

// CompileSPIRV compiles WGSL source to SPIR-V words with naga.
func CompileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("gpu: compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// spirvCache holds SPIR-V compiled for each distinct kernel source. There
// are at most six sources (two variants each for Upsweep and Downsweep).
var spirvCache = cache.New[uint64, []uint32](16)

// CompileSPIRVCached is CompileSPIRV memoized on the xxhash of src. The
// returned words are shared and must not be modified.
func CompileSPIRVCached(src string) ([]uint32, error) {
	return spirvCache.GetOrCreate(xxhash.Sum64String(src), func() ([]uint32, error) {
		return CompileSPIRV(src)
	})
}
