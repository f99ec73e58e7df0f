// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"strings"
	"testing"
)

// spineOf computes the digit-major exclusive prefix sum of hist.
func spineOf(hist *OffsetTable) OffsetTable {
	var spine OffsetTable
	var sum uint32
	for d := range DigitCount {
		for g := range MaxGroupCount {
			spine.Counts[g*DigitCount+d] = sum
			sum += hist.At(g, d)
		}
	}
	return spine
}

func TestOffsetTableAccessors(t *testing.T) {
	words := make([]uint32, 40)
	for i := range words {
		words[i] = uint32(i)
	}
	tbl := NewOffsetTable(words)
	if tbl.At(1, 3) != 19 {
		t.Errorf("At(1,3) = %d, want 19", tbl.At(1, 3))
	}
	if row := tbl.Row(2); len(row) != DigitCount || row[0] != 32 || row[7] != 39 || row[8] != 0 {
		t.Errorf("Row(2) = %v", row)
	}
	if tbl.Total() != 39*40/2 {
		t.Errorf("Total() = %d, want %d", tbl.Total(), 39*40/2)
	}
}

func TestCheckHistogram(t *testing.T) {
	p := NewParams(3*TileSize + 1)

	var hist OffsetTable
	hist.Counts[0] = TileSize
	hist.Counts[DigitCount+5] = TileSize
	hist.Counts[2*DigitCount+15] = TileSize + 1
	if err := hist.CheckHistogram(p); err != nil {
		t.Errorf("valid histogram: %v", err)
	}

	bad := hist
	bad.Counts[0]--
	if err := bad.CheckHistogram(p); err == nil {
		t.Error("expected error for a missing key")
	}

	idle := hist
	idle.Counts[0]--
	idle.Counts[3*DigitCount]++
	if err := idle.CheckHistogram(p); err == nil || !strings.Contains(err.Error(), "idle group") {
		t.Errorf("expected idle group error, got %v", err)
	}
}

func TestCheckSpine(t *testing.T) {
	var hist OffsetTable
	for i := range hist.Counts {
		hist.Counts[i] = uint32(i % 5)
	}
	spine := spineOf(&hist)
	if err := spine.CheckSpine(&hist); err != nil {
		t.Errorf("valid spine: %v", err)
	}

	spine.Counts[DigitCount+1]++
	if err := spine.CheckSpine(&hist); err == nil {
		t.Error("expected spine mismatch")
	}

	var zero OffsetTable
	if err := zero.CheckSpine(&hist); err == nil || strings.Count(err.Error(), "spine[") > 8 {
		t.Errorf("expected a capped mismatch list, got %v", err)
	}
}

func TestOffsetTableFormat(t *testing.T) {
	var tbl OffsetTable
	tbl.Counts[DigitCount] = 42
	var sb strings.Builder
	if err := tbl.Format(&sb, 2); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Format wrote %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[1], "group  1:") || !strings.Contains(lines[1], "42") {
		t.Errorf("line 1 = %q", lines[1])
	}

	sb.Reset()
	if err := tbl.Format(&sb, 1000); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(sb.String(), "\n"); n != MaxGroupCount {
		t.Errorf("Format clamps to %d rows, wrote %d", MaxGroupCount, n)
	}
}
