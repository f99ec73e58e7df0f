// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"encoding/binary"
	"fmt"
)

// Sort engine constants. These must match the constants declared in every
// WGSL kernel under internal/gpu/shaders.
const (
	// ThreadCount is the number of invocations in one workgroup.
	ThreadCount = 128

	// KeysPerLoop is the number of consecutive keys each invocation handles
	// per tile.
	KeysPerLoop = 8

	// TileSize is the number of elements processed by one workgroup per
	// iteration of its tile loop.
	TileSize = ThreadCount * KeysPerLoop

	// MaxGroupCount caps the number of workgroups dispatched for Upsweep and
	// Downsweep. Larger inputs grow TilesPerGroup instead.
	MaxGroupCount = 64

	// RadixBits is the width of one digit.
	RadixBits = 4

	// DigitCount is the number of distinct digit values per pass.
	DigitCount = 1 << RadixBits

	// DigitMask selects one digit from a shifted key.
	DigitMask = DigitCount - 1

	// PassCount is the number of digit passes needed to cover 32-bit keys.
	PassCount = 32 / RadixBits

	// OffsetCount is the number of counters in one Offset Storage instance.
	OffsetCount = MaxGroupCount * DigitCount

	// ParamsSize is the size of the parameter block wire layout in bytes.
	ParamsSize = 5 * 4
)

// Params is the per-pass parameter block consumed by Upsweep and Downsweep.
//
// The field order is the wire layout: five consecutive little-endian u32
// values, 20 bytes, matching struct Params in the WGSL kernels.
type Params struct {
	// RadixShift is the bit offset of the digit sorted by this pass.
	RadixShift uint32

	// TilesPerGroup is the number of whole tiles every group processes.
	TilesPerGroup uint32

	// ExtraTileCount is the number of leading groups that process one
	// additional whole tile.
	ExtraTileCount uint32

	// ExtraKeyCount is the size of the trailing partial tile, processed by
	// the last group.
	ExtraKeyCount uint32

	// GroupCount is the number of dispatched workgroups.
	GroupCount uint32
}

// NewParams partitions count elements into tiles and groups. RadixShift is
// left at zero; the driver sets it per pass.
func NewParams(count int) Params {
	if count < 0 {
		count = 0
	}
	tileCount := uint32(count / TileSize)
	groupCount := min(max(tileCount, 1), MaxGroupCount)
	return Params{
		TilesPerGroup:  tileCount / groupCount,
		ExtraTileCount: tileCount % groupCount,
		ExtraKeyCount:  uint32(count % TileSize),
		GroupCount:     groupCount,
	}
}

// TileCount returns the number of whole tiles described by p.
func (p Params) TileCount() uint32 {
	return p.TilesPerGroup*p.GroupCount + p.ExtraTileCount
}

// Count returns the number of elements described by p.
func (p Params) Count() int {
	return int(p.TileCount())*TileSize + int(p.ExtraKeyCount)
}

// Digit extracts the digit of key selected by p.RadixShift.
func (p Params) Digit(key uint32) uint32 {
	return (key >> p.RadixShift) & DigitMask
}

// Bytes returns the 20-byte wire encoding of p.
func (p Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	p.put(buf)
	return buf
}

// AppendBytes appends the wire encoding of p to dst and returns the result.
func (p Params) AppendBytes(dst []byte) []byte {
	n := len(dst)
	dst = append(dst, make([]byte, ParamsSize)...)
	p.put(dst[n:])
	return dst
}

func (p Params) put(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.RadixShift)
	le.PutUint32(buf[4:8], p.TilesPerGroup)
	le.PutUint32(buf[8:12], p.ExtraTileCount)
	le.PutUint32(buf[12:16], p.ExtraKeyCount)
	le.PutUint32(buf[16:20], p.GroupCount)
}

// ParamsFromBytes decodes a parameter block from its wire encoding.
// Trailing padding after the first ParamsSize bytes is ignored.
func ParamsFromBytes(buf []byte) (Params, error) {
	if len(buf) < ParamsSize {
		return Params{}, fmt.Errorf("gpusort: parameter block is %d bytes, want %d", len(buf), ParamsSize)
	}
	le := binary.LittleEndian
	return Params{
		RadixShift:     le.Uint32(buf[0:4]),
		TilesPerGroup:  le.Uint32(buf[4:8]),
		ExtraTileCount: le.Uint32(buf[8:12]),
		ExtraKeyCount:  le.Uint32(buf[12:16]),
		GroupCount:     le.Uint32(buf[16:20]),
	}, nil
}

// String implements fmt.Stringer.
func (p Params) String() string {
	return fmt.Sprintf("Params{shift=%d tiles/group=%d extraTiles=%d extraKeys=%d groups=%d}",
		p.RadixShift, p.TilesPerGroup, p.ExtraTileCount, p.ExtraKeyCount, p.GroupCount)
}

// PassBits returns the key bits covered by the given pass.
func PassBits(pass int) uint32 {
	return DigitMask << (uint(pass) * RadixBits)
}

// PassesFor returns the indices of the passes that keyMask requires.
func PassesFor(keyMask uint32) []int {
	var passes []int
	for pass := 0; pass < PassCount; pass++ {
		if PassBits(pass)&keyMask != 0 {
			passes = append(passes, pass)
		}
	}
	return passes
}
