package wgpu

import (
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Buffer is a range of a memory block. Committed buffers own a dedicated
// block of the device allocator; placed buffers alias an allocation of a
// user Memory.
type Buffer struct {
	object
	tracked
	desc        rhi.BufferDesc
	memory      *Memory
	alloc       *memAlloc
	raw         hal.Buffer
	offset      uint64
	dedicated   bool
	hostVisible bool
}

// Compile-time check.
var _ rhi.Buffer = (*Buffer)(nil)

func newBuffer(m *Memory, ma *memAlloc, desc rhi.BufferDesc, t rhi.MemoryTypeInfo) *Buffer {
	desc.MemoryType = t.Type
	return &Buffer{
		tracked: newTracked(1, 1, desc.InitialState()),
		desc:    desc,
		memory:  m,
		alloc:   ma,
		raw:     ma.block.raw,
		offset:  ma.span.Offset,
		hostVisible: t.Properties.Contains(rhi.MemoryPropertyHostVisible) &&
			(t.Type != rhi.MemoryTypeDefault || desc.AllowCPUAccess),
	}
}

func validateBufferDesc(desc rhi.BufferDesc) error {
	if desc.Size == 0 {
		return rhi.Errorf(rhi.InvalidArgument, "buffer %q size must be non-zero", desc.Label)
	}
	if desc.MemoryType > rhi.MemoryTypeCustom {
		return rhi.Errorf(rhi.InvalidArgument, "buffer %q has unknown memory type %d", desc.Label, desc.MemoryType)
	}
	return nil
}

// bufferAlignment is the offset alignment a buffer with usage u needs to be
// bound at its start.
func (d *Device) bufferAlignment(u rhi.BufferUsage) uint64 {
	align := uint64(4)
	if u.Contains(rhi.BufferUsageConstant) {
		align = max(align, uint64(d.limits.MinUniformBufferOffsetAlignment))
	}
	if u&(rhi.BufferUsageShaderResource|rhi.BufferUsageUnorderedAccess) != 0 {
		align = max(align, uint64(d.limits.MinStorageBufferOffsetAlignment))
	}
	return align
}

// CreateBuffer creates a committed buffer in a dedicated block.
func (d *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := validateBufferDesc(desc); err != nil {
		return nil, err
	}
	if desc.MemoryType == rhi.MemoryTypeCustom {
		return nil, rhi.Errorf(rhi.InvalidArgument, "buffer %q: custom memory needs Memory.CreatePlacedBuffer", desc.Label)
	}

	ma, err := d.memory.allocate(rhi.MemoryAllocationInfo{
		Label:     desc.Label,
		Size:      desc.Size,
		Alignment: d.bufferAlignment(desc.Usage),
		Type:      desc.MemoryType,
		Dedicated: true,
	})
	if err != nil {
		return nil, err
	}

	d.memory.mu.Lock()
	b := newBuffer(d.memory, ma, desc, d.memory.types[ma.block.typeIndex])
	b.dedicated = true
	ma.buffers = append(ma.buffers, b)
	d.memory.mu.Unlock()

	d.adopt(b, desc.Label)
	return b, nil
}

// Kind returns rhi.ResourceKindBuffer.
func (b *Buffer) Kind() rhi.ResourceKind { return rhi.ResourceKindBuffer }

// Desc returns the creation description. MemoryType reflects the memory
// the buffer was placed in.
func (b *Buffer) Desc() rhi.BufferDesc { return b.desc }

// State returns the committed state.
func (b *Buffer) State() rhi.ResourceState {
	b.dev.stateMu.Lock()
	defer b.dev.stateMu.Unlock()
	return b.committed.Get(0, 0)
}

// Map returns the buffer contents. Mapping twice fails ResourceMapFailed.
func (b *Buffer) Map() ([]byte, error) {
	if err := b.alive("buffer"); err != nil {
		return nil, err
	}
	if !b.hostVisible {
		return nil, rhi.Errorf(rhi.ResourceMapFailed, "buffer %q lives in %s memory and is not host visible",
			b.label, b.desc.MemoryType)
	}
	data, err := b.memory.mapBuffer(b.alloc)
	if err != nil {
		return nil, err
	}
	return data[:b.desc.Size:b.desc.Size], nil
}

// Unmap ends CPU access.
func (b *Buffer) Unmap() error {
	if err := b.alive("buffer"); err != nil {
		return err
	}
	return b.memory.unmapBuffer(b.alloc)
}

// IsMapped reports whether the buffer's allocation is mapped.
func (b *Buffer) IsMapped() bool { return b.memory.isMapped(b.alloc) }

// UpdateData writes data at offset with a HAL queue write. The buffer must
// be host visible.
func (b *Buffer) UpdateData(offset uint64, data []byte) error {
	if err := b.alive("buffer"); err != nil {
		return err
	}
	if !b.hostVisible {
		return rhi.Errorf(rhi.InvalidOperation, "buffer %q is not host visible", b.label)
	}
	if offset > b.desc.Size || uint64(len(data)) > b.desc.Size-offset {
		return rhi.Errorf(rhi.InvalidArgument, "write of %d bytes at %d overflows %d byte buffer %q",
			len(data), offset, b.desc.Size, b.label)
	}
	if len(data) == 0 {
		return nil
	}

	d := b.dev
	d.queueMu.Lock()
	err := d.rawQueue.WriteBuffer(b.raw, b.offset+offset, data)
	d.queueMu.Unlock()
	return d.wrap(err, rhi.Unknown, "write buffer")
}

// TransitionState records a transition of the whole buffer into cmd.
func (b *Buffer) TransitionState(cmd rhi.CommandBuffer, state rhi.ResourceState) error {
	c, err := b.dev.commandBuffer(cmd)
	if err != nil {
		return err
	}
	return c.transition(b, rhi.AllSubresources, state)
}

// NativeHandle returns the HAL buffer of the backing block.
func (b *Buffer) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{
		Backend: b.dev.adapter.info.Backend,
		Kind:    rhi.HandleBuffer,
		Value:   b.raw.NativeHandle(),
		Object:  b.raw,
	}
}

// Destroy releases the buffer. A committed buffer frees its block once the
// work submitted so far has retired.
func (b *Buffer) Destroy() { b.dev.destroyObject(b) }

func (b *Buffer) release() { b.memory.detach(b) }

func (b *Buffer) kindName() string { return "buffer" }

func (b *Buffer) validateState(s rhi.ResourceState) error {
	return rhi.ValidateBufferState(b.desc, s)
}

func (b *Buffer) resolve(rhi.SubresourceRange) (rhi.SubresourceRange, error) {
	return rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}, nil
}

// resident reports whether the block behind a placed buffer counts against
// its heap budget.
func (b *Buffer) resident() bool { return b.memory.resident(b.alloc) }
