package rhi

import (
	"fmt"
	"strconv"
)

// MemoryPropertyFlags describe a memory type.
type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal     MemoryPropertyFlags = 1 << 0
	MemoryPropertyHostVisible     MemoryPropertyFlags = 1 << 1
	MemoryPropertyHostCoherent    MemoryPropertyFlags = 1 << 2
	MemoryPropertyHostCached      MemoryPropertyFlags = 1 << 3
	MemoryPropertyLazilyAllocated MemoryPropertyFlags = 1 << 4
	MemoryPropertyProtected       MemoryPropertyFlags = 1 << 5
)

var memoryPropertyNames = []string{
	"DeviceLocal", "HostVisible", "HostCoherent", "HostCached", "LazilyAllocated", "Protected",
}

// Contains reports whether every bit of f is set in p.
func (p MemoryPropertyFlags) Contains(f MemoryPropertyFlags) bool { return p&f == f }

// Union returns p | f.
func (p MemoryPropertyFlags) Union(f MemoryPropertyFlags) MemoryPropertyFlags { return p | f }

// Intersect returns p & f.
func (p MemoryPropertyFlags) Intersect(f MemoryPropertyFlags) MemoryPropertyFlags { return p & f }

// String returns the flag names joined by "|".
func (p MemoryPropertyFlags) String() string {
	return flagString(uint32(p), memoryPropertyNames)
}

// MemoryTypeInfo describes one memory type exposed by a device.
type MemoryTypeInfo struct {
	Index      int
	Type       MemoryType
	Properties MemoryPropertyFlags
	HeapIndex  int
	// HeapSize is the budget of the heap backing this type.
	HeapSize uint64
	// Available is HeapSize minus resident bytes at the time of the query.
	Available uint64
}

// MemoryDesc configures a memory allocator.
type MemoryDesc struct {
	Label string

	// BlockSize is the size of the blocks sub-allocations are carved from.
	// Defaults to DefaultMemoryBlockSize.
	BlockSize uint64

	// DeviceHeapSize and HostHeapSize are the residency budgets of the
	// device-local and host heaps. Zero selects DefaultHeapSize. On unified
	// memory adapters every type uses the device heap.
	DeviceHeapSize uint64
	HostHeapSize   uint64
}

// Memory allocator defaults.
const (
	DefaultMemoryBlockSize uint64 = 16 << 20
	DefaultHeapSize        uint64 = 256 << 20
	MinMemoryBlockSize     uint64 = 4 << 10
)

// Normalized returns d with zero sizes replaced by their defaults.
func (d MemoryDesc) Normalized() MemoryDesc {
	if d.BlockSize == 0 {
		d.BlockSize = DefaultMemoryBlockSize
	}
	if d.BlockSize < MinMemoryBlockSize {
		d.BlockSize = MinMemoryBlockSize
	}
	if d.DeviceHeapSize == 0 {
		d.DeviceHeapSize = DefaultHeapSize
	}
	if d.HostHeapSize == 0 {
		d.HostHeapSize = DefaultHeapSize
	}
	return d
}

// MemoryAllocationInfo requests a sub-allocation.
type MemoryAllocationInfo struct {
	Label string

	// Size in bytes. Must be non-zero.
	Size uint64

	// Alignment of the returned offset. Zero means 1; otherwise a power of two.
	Alignment uint64

	// Type selects the memory type. For MemoryTypeCustom, Properties picks
	// the best matching type instead.
	Type       MemoryType
	Properties MemoryPropertyFlags

	// Dedicated places the allocation in a block of its own.
	Dedicated bool

	// Pinned excludes the allocation from defragmentation.
	Pinned bool
}

// Allocation is an opaque handle to a sub-allocation. Handles are never
// reused by the allocator; the zero value is never a live allocation.
type Allocation struct {
	id uint64
}

// NewAllocation wraps an allocator-assigned id. Backends use it to mint handles.
func NewAllocation(id uint64) Allocation { return Allocation{id: id} }

// ID returns the allocator-assigned identifier.
func (a Allocation) ID() uint64 { return a.id }

// IsValid reports whether a refers to an allocation at all.
func (a Allocation) IsValid() bool { return a.id != 0 }

// String returns "Allocation(<id>)".
func (a Allocation) String() string { return "Allocation(" + strconv.FormatUint(a.id, 10) + ")" }

// AllocationInfo describes a live allocation.
type AllocationInfo struct {
	Label      string
	Offset     uint64
	Size       uint64
	Type       MemoryType
	TypeIndex  int
	Properties MemoryPropertyFlags
	Block      int
	Dedicated  bool
	Pinned     bool
	Mapped     bool
	Resident   bool
	Priority   float32
}

// MemoryStats summarizes an allocator.
type MemoryStats struct {
	// TotalSize is the size of every block.
	TotalSize uint64
	// UsedSize is the sum of live allocation sizes including alignment padding.
	UsedSize uint64
	// LargestFreeBlock is the largest contiguous free range of any block.
	LargestFreeBlock uint64
	// FreeCount is the number of free ranges.
	FreeCount int
	// Fragmentation is 1 - LargestFreeBlock/free bytes, in [0, 1].
	Fragmentation float64

	BlockCount      int
	AllocationCount int
	ResidentSize    uint64
	EvictionCount   uint64
}

// String returns a human-readable summary.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%d/%d KB used, %d blocks, %d allocations, %.1f%% fragmented, %d evictions]",
		s.UsedSize/1024, s.TotalSize/1024, s.BlockCount, s.AllocationCount,
		s.Fragmentation*100, s.EvictionCount)
}

// Memory owns device memory blocks and sub-allocates them.
//
// Map and Unmap must bracket each CPU access; no Defragment may run in
// between. A range must not be mapped twice concurrently.
type Memory interface {
	Desc() MemoryDesc

	// Allocate returns a sub-range of at least info.Size bytes.
	Allocate(info MemoryAllocationInfo) (Allocation, error)

	// Free releases an allocation. Freeing twice fails InvalidArgument.
	Free(a Allocation) error

	Map(a Allocation) ([]byte, error)
	Unmap(a Allocation) error

	// FlushMappedRange makes CPU writes visible to the GPU for non-coherent memory.
	FlushMappedRange(a Allocation, offset, size uint64) error
	// InvalidateMappedRange makes GPU writes visible to the CPU for non-coherent memory.
	InvalidateMappedRange(a Allocation, offset, size uint64) error

	GetAllocationInfo(a Allocation) (AllocationInfo, error)
	GetStats() MemoryStats

	// MemoryTypes lists the memory types of the device.
	MemoryTypes() []MemoryTypeInfo
	IsMemoryTypeSupported(props MemoryPropertyFlags) bool

	// GetBestMemoryType returns the type that has every required flag and the
	// most preferred flags, breaking ties by available capacity.
	GetBestMemoryType(required, preferred MemoryPropertyFlags) (MemoryTypeInfo, error)

	// Defragment compacts non-pinned allocations and returns how many moved.
	Defragment() (int, error)

	// SetPriority sets the eviction priority of the allocation's block, 0 to 1.
	SetPriority(a Allocation, priority float32) error

	// MakeResident and Evict toggle whether the allocation's block counts
	// against the heap budget. Contents survive eviction.
	MakeResident(a Allocation) error
	Evict(a Allocation) error

	// CreatePlacedBuffer creates a buffer backed by the allocation.
	CreatePlacedBuffer(a Allocation, desc BufferDesc) (Buffer, error)

	NativeHandle() NativeHandle
	Destroy()
}
