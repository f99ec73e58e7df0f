//go:build !nogpu

package gpu

import (
	"log/slog"

	"github.com/gogpu/gpusort"
)

// slogger returns the current package logger.
// All logging in internal/gpu goes through this function so that
// gpusort.SetLogger reaches the GPU path too.
func slogger() *slog.Logger { return gpusort.Logger() }
