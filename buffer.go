package rhi

import "strings"

// ResourceKind distinguishes the resource variants that carry state.
type ResourceKind uint8

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
)

// String returns "Buffer" or "Texture".
func (k ResourceKind) String() string {
	if k == ResourceKindBuffer {
		return "Buffer"
	}
	return "Texture"
}

// Resource is the part shared by buffers and textures.
type Resource interface {
	Kind() ResourceKind
	Label() string
	NativeHandle() NativeHandle
	Destroy()
}

// BufferUsage is the set of ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageVertex          BufferUsage = 1 << 0
	BufferUsageIndex           BufferUsage = 1 << 1
	BufferUsageConstant        BufferUsage = 1 << 2
	BufferUsageShaderResource  BufferUsage = 1 << 3
	BufferUsageUnorderedAccess BufferUsage = 1 << 4
	BufferUsageIndirectArgs    BufferUsage = 1 << 5
	BufferUsageTransferSrc     BufferUsage = 1 << 6
	BufferUsageTransferDst     BufferUsage = 1 << 7
)

var bufferUsageNames = []string{
	"Vertex", "Index", "Constant", "ShaderResource",
	"UnorderedAccess", "IndirectArgs", "TransferSrc", "TransferDst",
}

// Contains reports whether every bit of f is set in u.
func (u BufferUsage) Contains(f BufferUsage) bool { return u&f == f }

// Union returns u | f.
func (u BufferUsage) Union(f BufferUsage) BufferUsage { return u | f }

// Intersect returns u & f.
func (u BufferUsage) Intersect(f BufferUsage) BufferUsage { return u & f }

// String returns the flag names joined by "|".
func (u BufferUsage) String() string {
	return flagString(uint32(u), bufferUsageNames)
}

// flagString renders the set bits of v using names indexed by bit position.
func flagString(v uint32, names []string) string {
	if v == 0 {
		return "None"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// MemoryType selects the heap a resource lives in.
type MemoryType uint8

const (
	// MemoryTypeDefault is device-local memory, not CPU accessible.
	MemoryTypeDefault MemoryType = iota
	// MemoryTypeUpload is CPU-writable memory read by the GPU.
	MemoryTypeUpload
	// MemoryTypeReadback is GPU-writable memory read by the CPU.
	MemoryTypeReadback
	// MemoryTypeCustom uses explicit MemoryPropertyFlags.
	MemoryTypeCustom
)

// String returns the memory type name.
func (t MemoryType) String() string {
	switch t {
	case MemoryTypeDefault:
		return "Default"
	case MemoryTypeUpload:
		return "Upload"
	case MemoryTypeReadback:
		return "Readback"
	case MemoryTypeCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// HostVisible reports whether the CPU can map memory of this type.
func (t MemoryType) HostVisible() bool {
	return t == MemoryTypeUpload || t == MemoryTypeReadback
}

// BufferDesc describes a buffer. It is captured at creation and never changes.
type BufferDesc struct {
	Label string

	// Size in bytes. Must be non-zero.
	Size uint64

	// Stride of structured elements in bytes, 0 for raw buffers.
	Stride uint32

	Usage      BufferUsage
	MemoryType MemoryType

	// AllowCPUAccess requests a mappable buffer in Default memory on
	// adapters with unified memory. Ignored for Upload and Readback.
	AllowCPUAccess bool
}

// AllowedStates returns every state the buffer's usage and memory type permit.
func (d BufferDesc) AllowedStates() ResourceState {
	s := StateCommon
	pairs := []struct {
		u BufferUsage
		s ResourceState
	}{
		{BufferUsageVertex, StateVertexBuffer},
		{BufferUsageIndex, StateIndexBuffer},
		{BufferUsageConstant, StateConstantBuffer},
		{BufferUsageShaderResource, StateShaderResource},
		{BufferUsageUnorderedAccess, StateUnorderedAccess},
		{BufferUsageIndirectArgs, StateIndirectArgument},
		{BufferUsageTransferSrc, StateCopySource},
		{BufferUsageTransferDst, StateCopyDest},
	}
	for _, p := range pairs {
		if d.Usage.Contains(p.u) {
			s |= p.s
		}
	}
	switch d.MemoryType {
	case MemoryTypeUpload:
		s |= StateCopySource
	case MemoryTypeReadback:
		s |= StateCopyDest
	}
	return s
}

// InitialState is the state a freshly created buffer is in: the readable
// subset of GenericRead for Upload memory, CopyDest for Readback memory and
// Common otherwise.
func (d BufferDesc) InitialState() ResourceState {
	switch d.MemoryType {
	case MemoryTypeUpload:
		return StateGenericRead & d.AllowedStates()
	case MemoryTypeReadback:
		return StateCopyDest
	default:
		return StateCommon
	}
}

// Buffer is a linear GPU resource.
type Buffer interface {
	Resource

	// Desc returns the creation description.
	Desc() BufferDesc

	// State returns the committed state: the state asserted by the last
	// transition whose command buffer has finished executing.
	State() ResourceState

	// Map returns the buffer contents for CPU access. The buffer must live in
	// host-visible memory and must not already be mapped.
	Map() ([]byte, error)

	// Unmap ends CPU access started by Map.
	Unmap() error

	// IsMapped reports whether the buffer is currently mapped.
	IsMapped() bool

	// UpdateData writes data at offset through the device queue.
	UpdateData(offset uint64, data []byte) error

	// TransitionState records a transition of the whole buffer into cmd.
	TransitionState(cmd CommandBuffer, state ResourceState) error
}
