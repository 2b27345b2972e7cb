package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// CommandBufferType restricts the commands a buffer may record and the
// queues it may be submitted to.
type CommandBufferType uint8

const (
	CommandBufferGraphics CommandBufferType = iota
	CommandBufferCompute
	CommandBufferTransfer
	// CommandBufferBundle buffers record draw state for replay inside a
	// render pass of a primary buffer. They cannot be submitted.
	CommandBufferBundle
)

// String returns the command buffer type name.
func (t CommandBufferType) String() string {
	switch t {
	case CommandBufferGraphics:
		return "Graphics"
	case CommandBufferCompute:
		return "Compute"
	case CommandBufferTransfer:
		return "Transfer"
	case CommandBufferBundle:
		return "Bundle"
	default:
		return fmt.Sprintf("CommandBufferType(%d)", uint8(t))
	}
}

// CommandPoolFlags configure a command pool.
type CommandPoolFlags uint32

const (
	// CommandPoolTransient hints that buffers are short-lived.
	CommandPoolTransient CommandPoolFlags = 1 << 0
	// CommandPoolResetCommandBuffer allows resetting buffers individually.
	CommandPoolResetCommandBuffer CommandPoolFlags = 1 << 1
)

// Contains reports whether every bit of f is set in p.
func (p CommandPoolFlags) Contains(f CommandPoolFlags) bool { return p&f == f }

// Union returns p | f.
func (p CommandPoolFlags) Union(f CommandPoolFlags) CommandPoolFlags { return p | f }

// Intersect returns p & f.
func (p CommandPoolFlags) Intersect(f CommandPoolFlags) CommandPoolFlags { return p & f }

// String returns the flag names joined by "|".
func (p CommandPoolFlags) String() string {
	return flagString(uint32(p), []string{"Transient", "ResetCommandBuffer"})
}

// CommandPoolDesc describes a command pool.
type CommandPoolDesc struct {
	Label string
	Type  CommandBufferType
	Flags CommandPoolFlags
}

// CommandBufferLevel distinguishes primary buffers from bundles.
type CommandBufferLevel uint8

const (
	CommandBufferPrimary CommandBufferLevel = iota
	CommandBufferSecondary
)

// String returns "Primary" or "Secondary".
func (l CommandBufferLevel) String() string {
	if l == CommandBufferSecondary {
		return "Secondary"
	}
	return "Primary"
}

// CommandBufferUsage describes how a recorded buffer will be submitted.
type CommandBufferUsage uint32

const (
	// CommandBufferOneTimeSubmit buffers become Invalid after they retire.
	CommandBufferOneTimeSubmit CommandBufferUsage = 1 << 0
	// CommandBufferSimultaneousUse allows resubmitting a pending buffer.
	CommandBufferSimultaneousUse CommandBufferUsage = 1 << 1
)

// Contains reports whether every bit of f is set in u.
func (u CommandBufferUsage) Contains(f CommandBufferUsage) bool { return u&f == f }

// Union returns u | f.
func (u CommandBufferUsage) Union(f CommandBufferUsage) CommandBufferUsage { return u | f }

// Intersect returns u & f.
func (u CommandBufferUsage) Intersect(f CommandBufferUsage) CommandBufferUsage { return u & f }

// String returns the flag names joined by "|".
func (u CommandBufferUsage) String() string {
	return flagString(uint32(u), []string{"OneTimeSubmit", "SimultaneousUse"})
}

// CommandBufferAllocateInfo requests command buffers from a pool.
type CommandBufferAllocateInfo struct {
	Level CommandBufferLevel
	Count uint32
	Usage CommandBufferUsage
}

// CommandBufferState is the recording lifecycle state of a command buffer.
type CommandBufferState uint8

const (
	CommandBufferInitial CommandBufferState = iota
	CommandBufferRecording
	CommandBufferExecutable
	CommandBufferPending
	CommandBufferInvalid
)

// String returns the state name.
func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferInitial:
		return "Initial"
	case CommandBufferRecording:
		return "Recording"
	case CommandBufferExecutable:
		return "Executable"
	case CommandBufferPending:
		return "Pending"
	case CommandBufferInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("CommandBufferState(%d)", uint8(s))
	}
}

// Viewport maps normalized device coordinates to the render target.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Scissor clips rasterization to a rectangle.
type Scissor struct {
	X, Y, Width, Height uint32
}

// BarrierType is the kind of a barrier.
type BarrierType uint8

const (
	// BarrierTransition changes the state of a resource range.
	BarrierTransition BarrierType = iota
	// BarrierUAV orders unordered-access writes to a resource.
	BarrierUAV
	// BarrierAliasing hands memory over between two placed resources.
	BarrierAliasing
)

// String returns the barrier type name.
func (t BarrierType) String() string {
	switch t {
	case BarrierTransition:
		return "Transition"
	case BarrierUAV:
		return "UAV"
	case BarrierAliasing:
		return "Aliasing"
	default:
		return fmt.Sprintf("BarrierType(%d)", uint8(t))
	}
}

// BarrierDesc describes one barrier of a ResourceBarrier call.
type BarrierDesc struct {
	Type BarrierType

	// Resource is the transitioned or UAV resource, and the resource that
	// takes over the memory of an aliasing barrier.
	Resource Resource

	// Range selects texture subresources. Ignored for buffers.
	Range SubresourceRange

	// State is the requested state of a transition.
	State ResourceState

	// Before is the resource giving up its memory in an aliasing barrier.
	Before Resource
}

// BufferCopyRegion is one region of a buffer to buffer copy.
type BufferCopyRegion struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// TextureCopyLocation selects a texel position within one subresource.
type TextureCopyLocation struct {
	MipLevel   uint32
	ArrayLayer uint32
	Origin     Origin3D
}

// TextureCopyRegion is one region of a texture to texture copy.
type TextureCopyRegion struct {
	Src  TextureCopyLocation
	Dst  TextureCopyLocation
	Size Extent3D
}

// BufferTextureCopyRegion is one region of a copy between a buffer and a
// texture. A zero BytesPerRow means tightly packed rows.
type BufferTextureCopyRegion struct {
	BufferOffset uint64
	BytesPerRow  uint32
	RowsPerImage uint32
	Texture      TextureCopyLocation
	Size         Extent3D
}

// RenderPassColorAttachment is a color target of a render pass.
type RenderPassColorAttachment struct {
	View          TextureView
	ResolveTarget TextureView
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// RenderPassDepthStencilAttachment is the depth/stencil target of a render pass.
type RenderPassDepthStencilAttachment struct {
	View              TextureView
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	DepthReadOnly     bool
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
	StencilReadOnly   bool
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	Label                  string
	ColorAttachments       []RenderPassColorAttachment
	DepthStencilAttachment *RenderPassDepthStencilAttachment
}

// CommandPool allocates command buffers of one type. A pool and its
// buffers must be used by one goroutine at a time.
type CommandPool interface {
	Desc() CommandPoolDesc

	AllocateCommandBuffers(info CommandBufferAllocateInfo) ([]CommandBuffer, error)

	// FreeCommandBuffers returns buffers to the pool. Pending buffers cannot be freed.
	FreeCommandBuffers(buffers ...CommandBuffer) error

	// Reset returns every buffer of the pool to Initial. It fails while any
	// buffer is in flight.
	Reset() error

	// Trim releases cached backend encoders.
	Trim()

	NativeHandle() NativeHandle
	Destroy()
}

// CommandBuffer records GPU commands for later submission.
//
// Recording operations are valid only in the Recording state and fail
// InvalidOperation otherwise. Recording never blocks on the GPU.
type CommandBuffer interface {
	Pool() CommandPool
	Type() CommandBufferType
	Level() CommandBufferLevel
	Usage() CommandBufferUsage
	State() CommandBufferState

	// IsBundle reports whether the buffer can only be replayed by ExecuteBundle.
	IsBundle() bool

	Begin() error
	End() error

	// Reset returns the buffer to Initial, dropping every recorded reference.
	Reset() error

	BeginRenderPass(desc RenderPassDesc) error
	EndRenderPass() error

	SetViewport(v Viewport) error
	SetScissor(s Scissor) error
	SetPipelineState(p PipelineState) error
	SetDescriptorSet(index uint32, set DescriptorSet, dynamicOffsets ...uint32) error
	SetVertexBuffer(slot uint32, b Buffer, offset uint64) error
	SetIndexBuffer(b Buffer, format gputypes.IndexFormat, offset uint64) error
	PushConstants(offset uint32, data []byte) error

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error
	DrawIndirect(args Buffer, offset uint64) error
	Dispatch(x, y, z uint32) error
	DispatchIndirect(args Buffer, offset uint64) error

	CopyBuffer(src, dst Buffer, regions ...BufferCopyRegion) error
	CopyTexture(src, dst Texture, regions ...TextureCopyRegion) error
	CopyBufferToTexture(src Buffer, dst Texture, regions ...BufferTextureCopyRegion) error
	CopyTextureToBuffer(src Texture, dst Buffer, regions ...BufferTextureCopyRegion) error
	ClearBuffer(b Buffer, offset, size uint64) error

	ResourceBarrier(barriers ...BarrierDesc) error
	TransitionState(b Buffer, state ResourceState) error
	TransitionLayout(t Texture, rng SubresourceRange, state ResourceState) error

	// SetEvent and ResetEvent change e when the buffer retires.
	SetEvent(e Event) error
	ResetEvent(e Event) error

	// ExecuteBundle replays an executable bundle inside the open render pass.
	ExecuteBundle(bundle CommandBuffer) error

	NativeHandle() NativeHandle
}
