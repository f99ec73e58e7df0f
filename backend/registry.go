package backend

import (
	"maps"
	"slices"
	"sync"
)

// BackendFactory returns an uninitialized sort backend. Factories must not
// touch a device; Init does that.
type BackendFactory func() SortBackend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)

	// backendPriority ranks the bundled backends for Default. A backend
	// that owns a real compute queue outranks the goroutine queue.
	backendPriority = []string{BackendWGPU, BackendHost}
)

// Register makes a sort backend selectable as name. Backend packages call
// it from init, so a blank import is enough to enable one. A second
// registration under the same name wins.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister drops name. Tests use it to restore the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the names of the linked-in sort backends in sorted
// order, for flag help and error messages.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(backends))
}

// IsRegistered reports whether a sort backend named name was linked in.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get builds a fresh, uninitialized backend registered as name, or returns
// nil. Every call yields a new instance with its own device.
func Get(name string) SortBackend {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory()
}

// Default builds the highest ranked registered backend: wgpu before host,
// then any other registration. It does not initialize it, so the result
// may still fail Init; InitDefault falls through to the next one instead.
// It returns nil when nothing is registered.
func Default() SortBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(backends)) {
		if b := backends[name](); b != nil {
			return b
		}
	}
	return nil
}

// MustDefault returns the best available backend or panics if none.
func MustDefault() SortBackend {
	b := Default()
	if b == nil {
		panic("backend: no backends registered")
	}
	return b
}

// InitDefault initializes the best backend that initializes successfully,
// trying them in priority order. A wgpu backend without a usable adapter
// falls through to the next one.
func InitDefault() (SortBackend, error) {
	registryMu.RLock()
	var candidates []BackendFactory
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			candidates = append(candidates, factory)
		}
	}
	registryMu.RUnlock()

	var lastErr error = ErrBackendNotAvailable
	for _, factory := range candidates {
		b := factory()
		if b == nil {
			continue
		}
		if err := b.Init(); err != nil {
			lastErr = err
			continue
		}
		return b, nil
	}
	return nil, lastErr
}
