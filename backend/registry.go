package backend

import (
	"os"
	"slices"
	"strings"

	"github.com/gogpu/gpucontext"
)

// Well-known backend names.
const (
	BackendVulkan   = "vulkan"
	BackendMetal    = "metal"
	BackendDX12     = "dx12"
	BackendGLES     = "gles"
	BackendSoftware = "software"
)

// EnvBackend names the environment variable that overrides the default
// backend selection, e.g. RHI_BACKEND=software.
const EnvBackend = "RHI_BACKEND"

// Factory creates a new backend instance. A factory returns nil when the
// backend cannot run in the current process (for example when its driver
// is not linked in).
type Factory func() Backend

// Priority order for backend selection (first available wins).
// Native GPU APIs come first; software is the fallback.
var backendPriority = []string{BackendVulkan, BackendMetal, BackendDX12, BackendGLES, BackendSoftware}

// registry holds registered backends.
var registry = gpucontext.NewRegistry[Backend](gpucontext.WithPriority(backendPriority...))

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names, in priority order first
// and then alphabetically.
func Available() []string {
	names := registry.Available()
	slices.SortFunc(names, func(a, b string) int {
		pa, pb := priorityOf(a), priorityOf(b)
		if pa != pb {
			return pa - pb
		}
		return strings.Compare(a, b)
	})
	return names
}

func priorityOf(name string) int {
	if i := slices.Index(backendPriority, name); i >= 0 {
		return i
	}
	return len(backendPriority)
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered or cannot run.
func Get(name string) Backend {
	return registry.Get(name)
}

// Default returns the best available backend. The RHI_BACKEND environment
// variable, when set, names the only backend considered. Otherwise the
// priority order is tried first, then every other registered backend.
// Returns nil if no backend is available.
func Default() Backend {
	if name := os.Getenv(EnvBackend); name != "" {
		return Get(name)
	}
	for _, name := range Available() {
		if b := Get(name); b != nil {
			return b
		}
	}
	return nil
}

// MustDefault returns the default backend or panics.
func MustDefault() Backend {
	b := Default()
	if b == nil {
		panic("backend: no backend available")
	}
	return b
}

// InitDefault initializes the default backend based on availability.
func InitDefault() (Backend, error) {
	b := Default()
	if b == nil {
		return nil, ErrBackendNotAvailable
	}

	if err := b.Init(); err != nil {
		return nil, err
	}

	return b, nil
}

// Init initializes the backend registered under name.
func Init(name string) (Backend, error) {
	b := Get(name)
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return b, nil
}
