package rhi

import (
	"time"

	"github.com/gogpu/gputypes"
)

// QueueRequest asks for Count queues of one type.
type QueueRequest struct {
	Type  QueueType
	Count uint32
}

// DeviceDesc describes a device.
type DeviceDesc struct {
	Label string

	// Queues lists the queues to create. Empty means one graphics queue.
	Queues []QueueRequest

	RequiredFeatures gputypes.Features
	// RequiredLimits defaults to the adapter limits.
	RequiredLimits *gputypes.Limits

	// Memory configures the internal allocator used for committed resources.
	Memory MemoryDesc
}

// DefaultDeviceDesc returns a description with one graphics queue.
func DefaultDeviceDesc() DeviceDesc {
	return DeviceDesc{
		Queues: []QueueRequest{{Type: QueueGraphics, Count: 1}},
	}
}

// Device owns every object it creates. Destroy waits for the queues to go
// idle and destroys all owned objects; later calls on them fail
// InvalidOperation. Once the backend reports device loss every call fails
// DeviceLost.
type Device interface {
	Adapter() Adapter
	Desc() DeviceDesc

	// GetQueue returns the index-th queue of type t.
	GetQueue(t QueueType, index uint32) (Queue, error)
	Queues() []Queue

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	CreateMemory(desc MemoryDesc) (Memory, error)

	CreateDescriptorSetLayout(desc DescriptorSetLayoutDesc) (DescriptorSetLayout, error)
	CreateDescriptorPool(desc DescriptorPoolDesc) (DescriptorPool, error)

	CreateFence(desc FenceDesc) (Fence, error)
	CreateSemaphore(desc SemaphoreDesc) (Semaphore, error)
	CreateEvent(desc EventDesc) (Event, error)

	CreateCommandPool(desc CommandPoolDesc) (CommandPool, error)

	CreateShader(desc ShaderDesc) (Shader, error)
	CreatePipelineState(desc PipelineStateDesc) (PipelineState, error)

	// CreateSwapChain returns an uninitialized swap chain presenting on queue.
	CreateSwapChain(queue Queue, desc SwapChainDesc) (SwapChain, error)

	// WaitIdle waits for every queue of the device.
	WaitIdle(timeout time.Duration) error

	// IsLost reports whether the backend reported device loss.
	IsLost() bool

	NativeHandle() NativeHandle
	Destroy()
}
