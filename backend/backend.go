package backend

import (
	"context"
	"errors"

	"github.com/gogpu/gpusort"
)

// Backend name constants.
const (
	// BackendHost is the name of the goroutine workgroup backend.
	BackendHost = "host"
	// BackendWGPU is the name of the WebGPU backend (gogpu/wgpu).
	BackendWGPU = "wgpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// SortBackend is the interface for sort backends.
//
// Backends must be registered via Register() and are selected via Get() or
// Default(). Every method except Name requires a successful Init.
type SortBackend interface {
	// Name returns the backend identifier (e.g., "host", "wgpu").
	Name() string

	// Init acquires the device and the Offset Storage.
	Init() error

	// Close releases the Offset Storage and, if owned, the device.
	// The backend should not be used after Close is called.
	Close()

	// Device returns the sort device for gpusort.NewSorter.
	Device() gpusort.Device

	// NewBuffers allocates both ping-pong slots for count elements.
	NewBuffers(count int) (gpusort.Buffers, error)

	// ReleaseBuffers frees buffers created by NewBuffers.
	ReleaseBuffers(bufs gpusort.Buffers)

	// Upload copies data to the start of dst.
	Upload(ctx context.Context, dst gpusort.Buffer, data []uint32) error

	// Download reads the first n elements of src. Outstanding submissions
	// that write src must have been waited on.
	Download(ctx context.Context, src gpusort.Buffer, n int) ([]uint32, error)
}
