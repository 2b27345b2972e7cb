package backend

import (
	"errors"

	"github.com/gogpu/rhi"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Backend is the factory boundary between rhi and a concrete graphics API.
//
// Backends must be registered via Register() and are selected via Get()
// or Default(). A backend is created uninitialized; Init opens the driver
// and must succeed before adapters are enumerated.
type Backend interface {
	// Name returns the backend identifier (e.g., "vulkan", "software").
	Name() string

	// Init initializes the backend.
	Init() error

	// Close releases all backend resources. Devices created from the
	// backend must be destroyed first.
	Close()

	// EnumerateAdapters lists the adapters the driver exposes, best first.
	EnumerateAdapters() ([]rhi.Adapter, error)

	// CreateDevice opens a device on one of the enumerated adapters.
	CreateDevice(adapter rhi.Adapter, desc rhi.DeviceDesc) (rhi.Device, error)
}

// AsError converts the sentinel errors of this package into coded rhi
// errors. Other errors are returned unchanged.
func AsError(err error) error {
	switch {
	case errors.Is(err, ErrBackendNotAvailable):
		return rhi.Errorf(rhi.AdapterNotFound, "%w", err)
	case errors.Is(err, ErrNotInitialized):
		return rhi.Errorf(rhi.InvalidOperation, "%w", err)
	}
	return err
}
