package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// HandleKind names the kind of native object behind a [NativeHandle].
type HandleKind uint8

const (
	HandleInvalid HandleKind = iota
	HandleAdapter
	HandleDevice
	HandleQueue
	HandleBuffer
	HandleTexture
	HandleTextureView
	HandleSampler
	HandleMemory
	HandleDescriptorSetLayout
	HandleDescriptorPool
	HandleDescriptorSet
	HandleFence
	HandleSemaphore
	HandleEvent
	HandleCommandPool
	HandleCommandBuffer
	HandleShader
	HandlePipeline
	HandleSwapChain
)

var handleKindNames = [...]string{
	"Invalid", "Adapter", "Device", "Queue", "Buffer", "Texture", "TextureView",
	"Sampler", "Memory", "DescriptorSetLayout", "DescriptorPool", "DescriptorSet",
	"Fence", "Semaphore", "Event", "CommandPool", "CommandBuffer", "Shader",
	"Pipeline", "SwapChain",
}

// String returns the kind name.
func (k HandleKind) String() string {
	if int(k) < len(handleKindNames) {
		return handleKindNames[k]
	}
	return fmt.Sprintf("HandleKind(%d)", uint8(k))
}

// NativeHandle is the escape hatch to the backend object behind an RHI
// object. Value is the raw native handle when the driver exposes one; Object
// holds the backend's own Go object (a hal.Buffer, hal.Device, ...) and is
// only meaningful to code that already depends on that backend.
type NativeHandle struct {
	Backend gputypes.Backend
	Kind    HandleKind
	Value   uintptr
	Object  any
}

// IsValid reports whether h refers to a native object.
func (h NativeHandle) IsValid() bool {
	return h.Kind != HandleInvalid && (h.Value != 0 || h.Object != nil)
}

// As returns the raw handle after checking that h belongs to backend and has
// the expected kind. Using a handle with another backend fails
// DeviceNotCompatible.
func (h NativeHandle) As(backend gputypes.Backend, kind HandleKind) (uintptr, error) {
	if !h.IsValid() {
		return 0, NewError(InvalidArgument, "native handle is not valid")
	}
	if h.Backend != backend {
		return 0, Errorf(DeviceNotCompatible, "native handle belongs to %s, not %s", h.Backend, backend)
	}
	if h.Kind != kind {
		return 0, Errorf(InvalidArgument, "native handle is a %s, not a %s", h.Kind, kind)
	}
	return h.Value, nil
}

// String returns a compact description such as "Vulkan:Buffer(0x1234)".
func (h NativeHandle) String() string {
	return fmt.Sprintf("%s:%s(%#x)", h.Backend, h.Kind, h.Value)
}
