// Package backend provides the pluggable backend registry of rhi.
//
// A backend turns rhi calls into calls on a concrete graphics API. The
// rhi package only defines interfaces; backends implement them and make
// themselves available through this registry.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The wgpu backend registers one name per HAL driver on import:
//
//	import _ "github.com/gogpu/rhi/backend/wgpu"
//
// A registered name only yields a backend when its driver is linked in,
// for example through github.com/gogpu/wgpu/hal/allbackends or
// github.com/gogpu/wgpu/hal/software.
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	// Get the default (best available) backend
//	b := backend.Default()
//
//	// Or request a specific backend
//	b := backend.Get("software")
//
// Setting RHI_BACKEND overrides the default choice.
//
// # Usage
//
//	b, err := backend.InitDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	adapters, _ := b.EnumerateAdapters()
//	dev, _ := b.CreateDevice(adapters[0], rhi.DefaultDeviceDesc())
//	defer dev.Destroy()
//
// # Available Backends
//
// - "vulkan", "metal", "dx12", "gles": native drivers through gogpu/wgpu
// - "software": CPU rasterizer through gogpu/wgpu (always available when linked)
package backend
