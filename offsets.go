// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// OffsetTable is a host copy of one Offset Storage instance: MaxGroupCount
// rows of DigitCount counters, stored group-major (row g, column d at
// g*DigitCount + d).
type OffsetTable struct {
	Counts [OffsetCount]uint32
}

// NewOffsetTable copies words into a table. Missing trailing words are zero.
func NewOffsetTable(words []uint32) OffsetTable {
	var t OffsetTable
	copy(t.Counts[:], words)
	return t
}

// At returns the counter for group g and digit d.
func (t *OffsetTable) At(g, d int) uint32 {
	return t.Counts[g*DigitCount+d]
}

// Row returns the DigitCount counters of group g.
func (t *OffsetTable) Row(g int) []uint32 {
	return t.Counts[g*DigitCount : (g+1)*DigitCount]
}

// Total returns the sum of all counters.
func (t *OffsetTable) Total() uint64 {
	var sum uint64
	for _, c := range t.Counts {
		sum += uint64(c)
	}
	return sum
}

// CheckHistogram verifies an Upsweep result: every key counted exactly once
// and no counts in rows of groups that were not dispatched.
func (t *OffsetTable) CheckHistogram(p Params) error {
	if got, want := t.Total(), uint64(p.Count()); got != want {
		return fmt.Errorf("gpusort: histogram counts %d keys, want %d", got, want)
	}
	for g := int(p.GroupCount); g < MaxGroupCount; g++ {
		for d, c := range t.Row(g) {
			if c != 0 {
				return fmt.Errorf("gpusort: histogram row %d digit %d = %d for an idle group", g, d, c)
			}
		}
	}
	return nil
}

// CheckSpine verifies t is the digit-major exclusive prefix sum of hist.
func (t *OffsetTable) CheckSpine(hist *OffsetTable) error {
	var errs []error
	var sum uint32
	for d := range DigitCount {
		for g := range MaxGroupCount {
			if got := t.At(g, d); got != sum {
				errs = append(errs, fmt.Errorf("spine[%d][%d] = %d, want %d", g, d, got, sum))
				if len(errs) == 8 {
					return fmt.Errorf("gpusort: spine mismatch: %w", errors.Join(errs...))
				}
			}
			sum += hist.At(g, d)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("gpusort: spine mismatch: %w", errors.Join(errs...))
	}
	return nil
}

// Format writes the first groups rows of t, one group per line, for
// inspection when diagnosing a bad sort.
func (t *OffsetTable) Format(w io.Writer, groups int) error {
	groups = min(max(groups, 0), MaxGroupCount)
	var sb strings.Builder
	for g := range groups {
		fmt.Fprintf(&sb, "group %2d:", g)
		for _, c := range t.Row(g) {
			fmt.Fprintf(&sb, " %8d", c)
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
