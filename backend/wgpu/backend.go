package wgpu

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
)

// variants maps registry names to HAL driver variants. The software
// rasterizer registers itself as the empty backend.
var variants = []struct {
	name    string
	variant gputypes.Backend
}{
	{backend.BackendVulkan, gputypes.BackendVulkan},
	{backend.BackendMetal, gputypes.BackendMetal},
	{backend.BackendDX12, gputypes.BackendDX12},
	{backend.BackendGLES, gputypes.BackendGL},
	{backend.BackendSoftware, gputypes.BackendEmpty},
}

func init() {
	for _, v := range variants {
		name, variant := v.name, v.variant
		backend.Register(name, func() backend.Backend {
			if _, ok := hal.GetBackend(variant); !ok {
				return nil
			}
			return New(name, variant)
		})
	}
	rhi.PropagateLogger(halLogger{})
}

// halLogger forwards the rhi logger to the HAL drivers.
type halLogger struct{}

func (halLogger) SetLogger(l *slog.Logger) { hal.SetLogger(l) }

// Backend drives one HAL driver.
//
// Thread Safety: Backend is safe for concurrent use. Devices created from it
// must be destroyed before Close.
type Backend struct {
	mu       sync.Mutex
	name     string
	variant  gputypes.Backend
	driver   hal.Backend
	instance hal.Instance
	adapters []*Adapter
}

// Compile-time check.
var _ backend.Backend = (*Backend)(nil)

// New returns an uninitialized backend for a HAL driver variant. Init fails
// with backend.ErrBackendNotAvailable when the driver is not linked in.
func New(name string, variant gputypes.Backend) *Backend {
	return &Backend{name: name, variant: variant}
}

// Name returns the registry name of the backend.
func (b *Backend) Name() string { return b.name }

// Variant returns the HAL driver variant.
func (b *Backend) Variant() gputypes.Backend { return b.variant }

// Init creates the HAL instance. Calling Init again is a no-op.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instance != nil {
		return nil
	}

	driver, ok := hal.GetBackend(b.variant)
	if !ok {
		return backend.ErrBackendNotAvailable
	}

	instance, err := driver.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << b.variant,
	})
	if err != nil {
		return rhi.Errorf(rhi.AdapterNotFound, "%s: create instance: %w", b.name, err)
	}

	b.driver = driver
	b.instance = instance
	rhi.Logger().Info("rhi: backend initialized", "backend", b.name, "variant", b.variant)
	return nil
}

// Close destroys the HAL instance. The backend may be initialized again.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instance == nil {
		return
	}
	for _, a := range b.adapters {
		a.exposed.Adapter.Destroy()
	}
	b.adapters = nil
	b.instance.Destroy()
	b.instance = nil
	b.driver = nil
	rhi.Logger().Info("rhi: backend closed", "backend", b.name)
}

// EnumerateAdapters lists the adapters of the driver. The result is cached
// until Close.
func (b *Backend) EnumerateAdapters() ([]rhi.Adapter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.instance == nil {
		return nil, backend.ErrNotInitialized
	}
	if b.adapters == nil {
		for _, exposed := range b.instance.EnumerateAdapters(nil) {
			a := newAdapter(b, exposed)
			rhi.Logger().Info("rhi: adapter found", "adapter", a.info.String())
			b.adapters = append(b.adapters, a)
		}
	}
	if len(b.adapters) == 0 {
		return nil, rhi.Errorf(rhi.AdapterNotFound, "%s: no adapter exposed by the driver", b.name)
	}

	out := make([]rhi.Adapter, len(b.adapters))
	for i, a := range b.adapters {
		out[i] = a
	}
	return out, nil
}

// CreateDevice opens a device on an adapter enumerated by this backend.
func (b *Backend) CreateDevice(adapter rhi.Adapter, desc rhi.DeviceDesc) (rhi.Device, error) {
	b.mu.Lock()
	instance := b.instance
	b.mu.Unlock()

	if instance == nil {
		return nil, backend.ErrNotInitialized
	}
	a, ok := adapter.(*Adapter)
	if !ok || a.backend != b {
		return nil, rhi.NewError(rhi.DeviceNotCompatible, "adapter was not enumerated by this backend")
	}
	d, err := openDevice(a, instance, desc)
	if err != nil {
		return nil, err
	}
	return d, nil
}
