// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpusort

import (
	"io"
	"log/slog"
)

// SorterOption configures a Sorter during creation.
//
// Example:
//
//	s := gpusort.NewSorter(dev, gpusort.WithLabel("particles"))
type SorterOption func(*sorterOptions)

// sorterOptions holds optional configuration for Sorter creation.
type sorterOptions struct {
	logger *slog.Logger
	dump   io.Writer
	label  string
}

// defaultSorterOptions returns the default sorter options.
func defaultSorterOptions() sorterOptions {
	return sorterOptions{
		logger: nil, // resolved through Logger() on every call
		label:  "gpusort",
	}
}

// WithLogger sets a logger for this Sorter instead of the package logger.
func WithLogger(l *slog.Logger) SorterOption {
	return func(o *sorterOptions) {
		o.logger = l
	}
}

// WithLabel sets the debug label attached to encoders and GPU resources.
func WithLabel(label string) SorterOption {
	return func(o *sorterOptions) {
		if label != "" {
			o.label = label
		}
	}
}

// WithOffsetDump enables the Offset Storage debug dump. When the device
// implements OffsetReader, every executed pass is submitted and waited on
// separately and both offset tables are written to w. Sort becomes blocking
// in this mode; results are unchanged.
func WithOffsetDump(w io.Writer) SorterOption {
	return func(o *sorterOptions) {
		o.dump = w
	}
}
