package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// DescriptorType is the kind of resource a descriptor binds.
type DescriptorType uint8

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeSampledTexture
	DescriptorTypeStorageTexture
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeReadOnlyStorageBuffer
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBufferDynamic

	descriptorTypeCount
)

var descriptorTypeNames = [...]string{
	"Sampler", "SampledTexture", "StorageTexture", "UniformBuffer",
	"StorageBuffer", "ReadOnlyStorageBuffer", "UniformBufferDynamic", "StorageBufferDynamic",
}

// String returns the descriptor type name.
func (t DescriptorType) String() string {
	if t < descriptorTypeCount {
		return descriptorTypeNames[t]
	}
	return fmt.Sprintf("DescriptorType(%d)", uint8(t))
}

// IsBuffer reports whether the descriptor binds a buffer.
func (t DescriptorType) IsBuffer() bool {
	return t >= DescriptorTypeUniformBuffer && t < descriptorTypeCount
}

// IsTexture reports whether the descriptor binds a texture view.
func (t DescriptorType) IsTexture() bool {
	return t == DescriptorTypeSampledTexture || t == DescriptorTypeStorageTexture
}

// IsDynamic reports whether the descriptor takes a dynamic offset at bind time.
func (t DescriptorType) IsDynamic() bool {
	return t == DescriptorTypeUniformBufferDynamic || t == DescriptorTypeStorageBufferDynamic
}

// RequiredState is the resource state a bound resource must be in when the
// set is used by a draw or dispatch.
func (t DescriptorType) RequiredState() ResourceState {
	switch t {
	case DescriptorTypeSampledTexture, DescriptorTypeReadOnlyStorageBuffer:
		return StateShaderResource
	case DescriptorTypeStorageTexture, DescriptorTypeStorageBuffer, DescriptorTypeStorageBufferDynamic:
		return StateUnorderedAccess
	case DescriptorTypeUniformBuffer, DescriptorTypeUniformBufferDynamic:
		return StateConstantBuffer
	default:
		return StateCommon
	}
}

// DescriptorBindingFlags modify a single binding of a layout.
type DescriptorBindingFlags uint32

const (
	// DescriptorBindingUpdateAfterBind allows updating the binding while a
	// command buffer that uses the set is pending.
	DescriptorBindingUpdateAfterBind DescriptorBindingFlags = 1 << 0
	// DescriptorBindingPartiallyBound allows leaving array elements unwritten.
	DescriptorBindingPartiallyBound DescriptorBindingFlags = 1 << 1
)

// Contains reports whether every bit of f is set in b.
func (b DescriptorBindingFlags) Contains(f DescriptorBindingFlags) bool { return b&f == f }

// Union returns b | f.
func (b DescriptorBindingFlags) Union(f DescriptorBindingFlags) DescriptorBindingFlags { return b | f }

// Intersect returns b & f.
func (b DescriptorBindingFlags) Intersect(f DescriptorBindingFlags) DescriptorBindingFlags { return b & f }

// String returns the flag names joined by "|".
func (b DescriptorBindingFlags) String() string {
	return flagString(uint32(b), []string{"UpdateAfterBind", "PartiallyBound"})
}

// DescriptorRange declares Count consecutive descriptors of one type
// starting at Binding.
type DescriptorRange struct {
	Type    DescriptorType
	Binding uint32
	Count   uint32
	Stages  gputypes.ShaderStages
	Flags   DescriptorBindingFlags
}

// DescriptorSetLayoutDesc describes a descriptor set layout.
type DescriptorSetLayoutDesc struct {
	Label          string
	Ranges         []DescriptorRange
	PushDescriptor bool
}

// DescriptorCounts returns how many descriptors of each type a set of this
// layout consumes.
func (d DescriptorSetLayoutDesc) DescriptorCounts() map[DescriptorType]uint32 {
	counts := make(map[DescriptorType]uint32, len(d.Ranges))
	for _, r := range d.Ranges {
		n := r.Count
		if n == 0 {
			n = 1
		}
		counts[r.Type] += n
	}
	return counts
}

// Range returns the range containing binding.
func (d DescriptorSetLayoutDesc) Range(binding uint32) (DescriptorRange, bool) {
	for _, r := range d.Ranges {
		n := max(r.Count, 1)
		if binding >= r.Binding && binding < r.Binding+n {
			return r, true
		}
	}
	return DescriptorRange{}, false
}

// Validate checks that ranges do not overlap and have known types.
func (d DescriptorSetLayoutDesc) Validate() error {
	for i, r := range d.Ranges {
		if r.Type >= descriptorTypeCount {
			return Errorf(InvalidArgument, "layout %q range %d: unknown descriptor type %d", d.Label, i, r.Type)
		}
		ni := max(r.Count, 1)
		for j := i + 1; j < len(d.Ranges); j++ {
			o := d.Ranges[j]
			nj := max(o.Count, 1)
			if r.Binding < o.Binding+nj && o.Binding < r.Binding+ni {
				return Errorf(InvalidArgument, "layout %q ranges %d and %d overlap", d.Label, i, j)
			}
		}
	}
	return nil
}

// DescriptorSetLayout is the shape of a descriptor set.
type DescriptorSetLayout interface {
	Desc() DescriptorSetLayoutDesc
	NativeHandle() NativeHandle
	Destroy()
}

// DescriptorPoolSize is the capacity of a pool for one descriptor type.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorPoolDesc describes a fixed-capacity descriptor pool.
type DescriptorPoolDesc struct {
	Label     string
	MaxSets   uint32
	PoolSizes []DescriptorPoolSize

	// FreeDescriptorSet allows returning individual sets to the pool.
	FreeDescriptorSet bool
}

// Capacity returns the declared capacity per descriptor type.
func (d DescriptorPoolDesc) Capacity() map[DescriptorType]uint32 {
	c := make(map[DescriptorType]uint32, len(d.PoolSizes))
	for _, s := range d.PoolSizes {
		c[s.Type] += s.Count
	}
	return c
}

// DescriptorPoolStats reports the usage of a pool.
type DescriptorPoolStats struct {
	MaxSets       uint32
	AllocatedSets uint32
	Used          map[DescriptorType]uint32
	Capacity      map[DescriptorType]uint32
}

// DescriptorPool allocates descriptor sets up to a fixed capacity.
type DescriptorPool interface {
	Desc() DescriptorPoolDesc

	// AllocateDescriptorSet fails OutOfMemory once MaxSets or the capacity of
	// any descriptor type in layout would be exceeded. The pool never grows.
	AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error)

	// FreeDescriptorSet returns set to the pool. Requires FreeDescriptorSet.
	FreeDescriptorSet(set DescriptorSet) error

	// Reset reclaims every set. Sets allocated before the reset become invalid.
	Reset() error

	GetStats() DescriptorPoolStats
	NativeHandle() NativeHandle
	Destroy()
}

// DescriptorWrite updates one descriptor of a set. Buffer fields are used
// by buffer types, Texture by texture types and Sampler by samplers.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType

	Buffer Buffer
	Offset uint64
	// Range is the bound size in bytes; zero binds to the end of the buffer.
	Range uint64

	Texture TextureView
	Sampler Sampler
}

// DescriptorSet binds concrete resources to shader slots.
type DescriptorSet interface {
	Layout() DescriptorSetLayout
	Pool() DescriptorPool

	// UpdateDescriptor validates w against the layout and stores it. Updating
	// a set used by a pending command buffer fails InvalidOperation unless the
	// binding is UpdateAfterBind.
	UpdateDescriptor(w DescriptorWrite) error

	// IsValid reports whether the set is still allocated.
	IsValid() bool

	NativeHandle() NativeHandle
}
