// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"log/slog"

	"github.com/gogpu/gpusort"
)

// slogger returns the logger shared with the gpusort package.
func slogger() *slog.Logger { return gpusort.Logger() }
