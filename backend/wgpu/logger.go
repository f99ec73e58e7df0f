//go:build !nogpu

package wgpu

import (
	"log/slog"

	"github.com/gogpu/gpusort"
)

func slogger() *slog.Logger { return gpusort.Logger() }
