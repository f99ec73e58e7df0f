package backend

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gpusort"
)

// fakeBackend is a SortBackend whose Init result is configurable.
type fakeBackend struct {
	name    string
	initErr error
	inits   *int
	closed  bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Init() error {
	if f.inits != nil {
		*f.inits++
	}
	return f.initErr
}

func (f *fakeBackend) Close() { f.closed = true }
func (f *fakeBackend) Device() gpusort.Device { return nil }

func (f *fakeBackend) NewBuffers(int) (gpusort.Buffers, error) {
	return gpusort.Buffers{}, ErrNotInitialized
}

func (f *fakeBackend) ReleaseBuffers(gpusort.Buffers) {}

func (f *fakeBackend) Upload(context.Context, gpusort.Buffer, []uint32) error {
	return ErrNotInitialized
}

func (f *fakeBackend) Download(context.Context, gpusort.Buffer, int) ([]uint32, error) {
	return nil, ErrNotInitialized
}

// withBackends registers fakes for the duration of a test.
func withBackends(t *testing.T, fakes ...*fakeBackend) {
	t.Helper()
	for _, f := range fakes {
		Register(f.name, func() SortBackend { return f })
	}
	t.Cleanup(func() {
		for _, f := range fakes {
			Unregister(f.name)
		}
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	withBackends(t, &fakeBackend{name: "test-get"})

	if !IsRegistered("test-get") {
		t.Error("test-get should be registered")
	}
	b := Get("test-get")
	if b == nil {
		t.Fatal("Get(test-get) returned nil")
	}
	if b.Name() != "test-get" {
		t.Errorf("Get(test-get).Name() = %q, want %q", b.Name(), "test-get")
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := Get("nonexistent"); b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestRegistryAvailable(t *testing.T) {
	withBackends(t, &fakeBackend{name: "test-a"}, &fakeBackend{name: "test-b"})

	available := Available()
	for _, name := range []string{"test-a", "test-b"} {
		if !slices.Contains(available, name) {
			t.Errorf("Available() = %v, missing %q", available, name)
		}
	}
	if !slices.IsSorted(available) {
		t.Errorf("Available() = %v, want sorted names", available)
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	withBackends(t, &fakeBackend{name: BackendHost})
	if b := Default(); b == nil || b.Name() != BackendHost {
		t.Fatalf("Default() = %v, want host", b)
	}

	withBackends(t, &fakeBackend{name: BackendWGPU})
	if b := Default(); b == nil || b.Name() != BackendWGPU {
		t.Fatalf("Default() = %v, want wgpu ahead of host", b)
	}
}

func TestRegistryDefaultFallsBackToAnyBackend(t *testing.T) {
	withBackends(t, &fakeBackend{name: "test-only"})
	if b := Default(); b == nil {
		t.Fatal("Default() returned nil with a registered backend")
	}
}

func TestRegistryMustDefault(t *testing.T) {
	withBackends(t, &fakeBackend{name: BackendHost})
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustDefault() panicked: %v", r)
		}
	}()
	if b := MustDefault(); b == nil {
		t.Error("MustDefault() returned nil")
	}
}

// TestRegistryInitDefaultSkipsFailingBackend covers a wgpu backend without
// a usable adapter falling through to host.
func TestRegistryInitDefaultSkipsFailingBackend(t *testing.T) {
	var wgpuInits, hostInits int
	withBackends(t,
		&fakeBackend{name: BackendWGPU, initErr: ErrBackendNotAvailable, inits: &wgpuInits},
		&fakeBackend{name: BackendHost, inits: &hostInits},
	)

	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	defer b.Close()
	if b.Name() != BackendHost {
		t.Errorf("InitDefault() = %q, want host", b.Name())
	}
	if wgpuInits != 1 || hostInits != 1 {
		t.Errorf("inits: wgpu=%d host=%d, want 1 each", wgpuInits, hostInits)
	}
}

func TestRegistryInitDefaultAllFail(t *testing.T) {
	errBoom := errors.New("boom")
	withBackends(t, &fakeBackend{name: BackendHost, initErr: errBoom})

	if _, err := InitDefault(); !errors.Is(err, errBoom) {
		t.Errorf("InitDefault() error = %v, want %v", err, errBoom)
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("test-backend", func() SortBackend { return &fakeBackend{name: "test-backend"} })
	if !IsRegistered("test-backend") {
		t.Error("test-backend should be registered")
	}
	Unregister("test-backend")
	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestRegistryIsRegistered(t *testing.T) {
	if IsRegistered("nonexistent") {
		t.Error("nonexistent should not be registered")
	}
}
