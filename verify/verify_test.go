// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package verify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/backend"
	"github.com/gogpu/gpusort/backend/host"
)

func newHostBackend(t *testing.T) *host.Backend {
	t.Helper()
	b := host.NewBackend(host.WithWorkers(4))
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestRunHostBackend(t *testing.T) {
	b := newHostBackend(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"full mask", Config{Sizes: []int{1, 9, 1025, 5000}, Mask: 0xFFFFFFFF, Seed: 1}},
		{"duplicates", Config{Sizes: []int{3000}, Mask: 0xFFFFFFFF, KeyBits: 0xFF, Seed: 2, Trials: 2}},
		{"partial mask", Config{Sizes: []int{4096}, Mask: 0x00000FF0, Seed: 3}},
		{"unaligned mask", Config{Sizes: []int{2048}, Mask: 0x00010001, Seed: 4}},
		{"zero mask", Config{Sizes: []int{100}, Mask: 0, Seed: 5}},
		{"empty input", Config{Sizes: []int{0}, Mask: 0xFFFFFFFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Run(context.Background(), b, tt.cfg)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if err := report.Err(); err != nil {
				t.Fatal(err)
			}
			want := len(tt.cfg.Sizes) * max(tt.cfg.Trials, 1)
			if len(report.Results) != want {
				t.Errorf("%d results, want %d", len(report.Results), want)
			}
			if report.Backend != backend.BackendHost {
				t.Errorf("Backend = %q", report.Backend)
			}
		})
	}
}

func TestRunScaleBoundary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping scale sizes in short mode")
	}
	b := newHostBackend(t)
	boundary := gpusort.MaxGroupCount * gpusort.TileSize
	report, err := Run(context.Background(), b, Config{
		Sizes: []int{boundary, boundary + 1, 2*boundary + 333},
		Mask:  0xFFFFFFFF,
		Seed:  42,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestRunUninitializedBackend(t *testing.T) {
	b := host.NewBackend()
	if _, err := Run(context.Background(), b, Config{Sizes: []int{1}}); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

// brokenDevice wraps a device and corrupts the sort by dropping Spine.
type brokenDevice struct {
	gpusort.Device
}

func (d brokenDevice) BeginSort(label string) (gpusort.Encoder, error) {
	enc, err := d.Device.BeginSort(label)
	if err != nil {
		return nil, err
	}
	return brokenEncoder{enc}, nil
}

type brokenEncoder struct {
	gpusort.Encoder
}

func (brokenEncoder) Spine() error { return nil }

// brokenBackend hands out a brokenDevice that still reads offsets.
type brokenBackend struct {
	*host.Backend
}

func (b brokenBackend) Device() gpusort.Device {
	dev := b.Backend.Device()
	return readerDevice{brokenDevice{dev}, dev.(gpusort.OffsetReader)}
}

type readerDevice struct {
	brokenDevice
	gpusort.OffsetReader
}

func TestRunDetectsBrokenSortAndDumps(t *testing.T) {
	b := brokenBackend{newHostBackend(t)}
	var dump bytes.Buffer
	report, err := Run(context.Background(), b, Config{
		Sizes:       []int{5000},
		Mask:        0x000000FF,
		Seed:        7,
		DumpOffsets: &dump,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", report.Failed())
	}
	if !errors.Is(report.Err(), ErrFailed) {
		t.Errorf("Err() = %v, want ErrFailed", report.Err())
	}
	out := dump.String()
	if !strings.Contains(out, "size=5000") || !strings.Contains(out, "spine:") {
		t.Errorf("dump missing case header or tables:\n%.400s", out)
	}
}

func TestCoveredBits(t *testing.T) {
	tests := []struct {
		mask uint32
		want uint32
	}{
		{0, 0},
		{0x1, 0xF},
		{0x00010001, 0x000F000F},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{0x80000000, 0xF0000000},
	}
	for _, tt := range tests {
		if got := CoveredBits(tt.mask); got != tt.want {
			t.Errorf("CoveredBits(%#x) = %#x, want %#x", tt.mask, got, tt.want)
		}
	}
}

func TestChecksumOrderSensitive(t *testing.T) {
	a := checksum([]uint32{1, 2}, []uint32{0, 1})
	b := checksum([]uint32{2, 1}, []uint32{1, 0})
	if a == b {
		t.Error("checksum should depend on element order")
	}
	if a != checksumPairs([]pair{{1, 0}, {2, 1}}) {
		t.Error("checksum and checksumPairs disagree")
	}
}

func TestSizesIncludeBoundaries(t *testing.T) {
	boundary := gpusort.MaxGroupCount * gpusort.TileSize
	sizes := Sizes()
	for _, want := range []int{1, gpusort.TileSize + 1, boundary, boundary + 1} {
		found := false
		for _, s := range sizes {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Sizes() = %v, missing %d", sizes, want)
		}
	}
}
