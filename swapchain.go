package rhi

import (
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// PresentMode selects how frames reach the display.
type PresentMode = gputypes.PresentMode

const (
	PresentModeFifo        = gputypes.PresentModeFifo
	PresentModeFifoRelaxed = gputypes.PresentModeFifoRelaxed
	PresentModeImmediate   = gputypes.PresentModeImmediate
	PresentModeMailbox     = gputypes.PresentModeMailbox
)

// Swap chain back buffer count limits.
const (
	MinSwapChainBuffers = 2
	MaxSwapChainBuffers = 3
)

// SwapChainDesc describes a swap chain.
type SwapChainDesc struct {
	Label       string
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      gputypes.TextureFormat
	PresentMode PresentMode

	// VSync forces Fifo presentation when the requested mode tears.
	VSync bool
	// HDR requests a wide-gamut float format when Format is left undefined.
	HDR         bool
	RefreshRate uint32

	// DisplayHandle and WindowHandle are the native handles of the target
	// window. Zero handles create a headless surface where the driver allows.
	DisplayHandle uintptr
	WindowHandle  uintptr
}

// DefaultSwapChainDesc returns a 1280x720 double-buffered BGRA8 Fifo
// description.
func DefaultSwapChainDesc() SwapChainDesc {
	return SwapChainDesc{
		Width:       1280,
		Height:      720,
		BufferCount: 2,
		Format:      gputypes.TextureFormatBGRA8Unorm,
		PresentMode: PresentModeFifo,
		VSync:       true,
		RefreshRate: 60,
	}
}

// PresentInfo describes one presentation.
type PresentInfo struct {
	BackBufferIndex uint32
	WaitSemaphores  []SemaphoreSubmit
	WaitForVBlank   bool
}

// SwapChainState is the lifecycle state of a swap chain.
type SwapChainState uint8

const (
	SwapChainUninitialized SwapChainState = iota
	SwapChainInitialized
	SwapChainPresenting
	SwapChainDestroyed
)

// String returns the state name.
func (s SwapChainState) String() string {
	switch s {
	case SwapChainUninitialized:
		return "Uninitialized"
	case SwapChainInitialized:
		return "Initialized"
	case SwapChainPresenting:
		return "Presenting"
	default:
		return "Destroyed"
	}
}

// SwapChain cycles presentable back buffers through a queue.
type SwapChain interface {
	// Initialize validates the description and creates the back buffers.
	Initialize() error

	// Present queues back buffer info.BackBufferIndex for presentation. The
	// buffer must be in the Present state.
	Present(info PresentInfo) error

	// Resize recreates the back buffers with a new size.
	Resize(width, height uint32) error

	// ResizeToWindow resizes to the current size of w.
	ResizeToWindow(w gpucontext.WindowProvider) error

	// Cleanup releases the back buffers. The swap chain cannot be reused.
	Cleanup() error

	GetCurrentBackBufferIndex() uint32
	GetBufferCount() uint32
	GetBackBuffer(index uint32) (Texture, error)
	GetDesc() SwapChainDesc
	State() SwapChainState

	// WaitForPresent blocks until every queued presentation has completed.
	WaitForPresent(timeout time.Duration) error

	IsPresentModeSupported(mode PresentMode) bool
	SupportedFormats() []gputypes.TextureFormat

	NativeHandle() NativeHandle
}
