package wgpu

import (
	"cmp"
	"errors"
	"math/bits"
	"slices"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/alloc"
)

// blockUsage is the HAL usage of every memory block. Placed buffers narrow
// it through their own rhi usage.
const blockUsage = gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
	gputypes.BufferUsageVertex | gputypes.BufferUsageIndex |
	gputypes.BufferUsageUniform | gputypes.BufferUsageStorage |
	gputypes.BufferUsageIndirect

// memBlock is one HAL buffer carved into allocations.
type memBlock struct {
	id        int
	typeIndex int
	raw       hal.Buffer
	size      uint64
	sub       *alloc.Block
	dedicated bool

	// mapped is the persistent mapping shared by every mapped allocation.
	mapped   []byte
	mapRefs  int
	coherent bool
}

// memAlloc is a live sub-allocation.
type memAlloc struct {
	id        uint64
	label     string
	block     *memBlock
	span      alloc.Span
	align     uint64
	dedicated bool
	pinned    bool
	mapped    bool
	buffers   []*Buffer
}

// Memory sub-allocates HAL buffers. Each memory type has its own blocks and
// each heap its own residency budget.
//
// Thread Safety: Memory is safe for concurrent use.
type Memory struct {
	object
	desc  rhi.MemoryDesc
	types []rhi.MemoryTypeInfo
	heaps []*alloc.Residency

	// evictable is false for the device allocator behind committed buffers.
	evictable bool

	mu        sync.Mutex
	blocks    map[int]*memBlock
	nextBlock int
	allocs    map[uint64]*memAlloc
	nextAlloc uint64
}

// Compile-time check.
var _ rhi.Memory = (*Memory)(nil)

func newMemory(d *Device, desc rhi.MemoryDesc) *Memory {
	desc = desc.Normalized()
	m := &Memory{
		object: object{dev: d, label: desc.Label},
		desc:   desc,
		types:  memoryTypes(d.adapter.info.Type.UnifiedMemory(), desc.DeviceHeapSize, desc.HostHeapSize),
		heaps: []*alloc.Residency{
			heapDevice: alloc.NewResidency(desc.DeviceHeapSize),
			heapHost:   alloc.NewResidency(desc.HostHeapSize),
		},
		blocks: make(map[int]*memBlock),
		allocs: make(map[uint64]*memAlloc),
	}
	return m
}

// CreateMemory creates an allocator whose allocations may back placed buffers.
func (d *Device) CreateMemory(desc rhi.MemoryDesc) (rhi.Memory, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	m := newMemory(d, desc)
	m.evictable = true
	d.adopt(m, m.desc.Label)
	return m, nil
}

// Desc returns the normalized description.
func (m *Memory) Desc() rhi.MemoryDesc { return m.desc }

// Allocate returns a sub-range of at least info.Size bytes.
func (m *Memory) Allocate(info rhi.MemoryAllocationInfo) (rhi.Allocation, error) {
	if err := m.alive("memory"); err != nil {
		return rhi.Allocation{}, err
	}
	a, err := m.allocate(info)
	if err != nil {
		return rhi.Allocation{}, err
	}
	return rhi.NewAllocation(a.id), nil
}

func (m *Memory) allocate(info rhi.MemoryAllocationInfo) (*memAlloc, error) {
	if info.Size == 0 {
		return nil, rhi.NewError(rhi.InvalidArgument, "allocation size must be non-zero")
	}
	align := max(info.Alignment, 1)
	if !alloc.ValidAlignment(align) {
		return nil, rhi.Errorf(rhi.InvalidArgument, "alignment %d is not a power of two", info.Alignment)
	}
	t, err := m.pickType(info)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		b    *memBlock
		span alloc.Span
	)
	dedicated := info.Dedicated || info.Size > m.desc.BlockSize
	if !dedicated {
		for _, cand := range m.sortedBlocksLocked() {
			if cand.dedicated || cand.typeIndex != t.Index {
				continue
			}
			if s, err := cand.sub.Allocate(info.Size, align); err == nil {
				b, span = cand, s
				break
			}
		}
	}
	if b == nil {
		size := m.desc.BlockSize
		if dedicated {
			size = alloc.AlignUp(info.Size, 4)
		}
		b, err = m.createBlockLocked(t, size, dedicated)
		if err != nil {
			return nil, err
		}
		if span, err = b.sub.Allocate(info.Size, align); err != nil {
			m.destroyBlockLocked(b)
			return nil, rhi.Errorf(rhi.OutOfMemory, "allocate %d bytes in a fresh block: %v", info.Size, err)
		}
	}

	m.nextAlloc++
	a := &memAlloc{
		id:        m.nextAlloc,
		label:     info.Label,
		block:     b,
		span:      span,
		align:     align,
		dedicated: dedicated,
		pinned:    info.Pinned,
	}
	m.allocs[a.id] = a
	m.heapOf(b).Touch(b.id)
	return a, nil
}

// pickType resolves the memory type of an allocation request.
func (m *Memory) pickType(info rhi.MemoryAllocationInfo) (rhi.MemoryTypeInfo, error) {
	switch info.Type {
	case rhi.MemoryTypeDefault:
		return m.types[typeDefault], nil
	case rhi.MemoryTypeUpload:
		return m.types[typeUpload], nil
	case rhi.MemoryTypeReadback:
		return m.types[typeReadback], nil
	case rhi.MemoryTypeCustom:
		return m.GetBestMemoryType(info.Properties, 0)
	}
	return rhi.MemoryTypeInfo{}, rhi.Errorf(rhi.InvalidArgument, "unknown memory type %d", info.Type)
}

func (m *Memory) createBlockLocked(t rhi.MemoryTypeInfo, size uint64, dedicated bool) (*memBlock, error) {
	usage := blockUsage
	if t.Properties.Contains(rhi.MemoryPropertyHostVisible) {
		switch t.Type {
		case rhi.MemoryTypeUpload:
			usage |= gputypes.BufferUsageMapWrite
		case rhi.MemoryTypeReadback:
			usage |= gputypes.BufferUsageMapRead
		default:
			usage |= gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
		}
	}

	m.nextBlock++
	b := &memBlock{
		id:        m.nextBlock,
		typeIndex: t.Index,
		size:      size,
		sub:       alloc.NewBlock(size),
		dedicated: dedicated,
	}
	evicted, err := m.heaps[t.HeapIndex].Track(b.id, size, m.canEvictLocked)
	if err != nil {
		return nil, rhi.Errorf(rhi.OutOfMemory, "%d byte block exceeds the %s heap budget: %v", size, t.Type, err)
	}
	m.logEvictions(evicted)

	raw, err := m.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: m.label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		m.heaps[t.HeapIndex].Untrack(b.id)
		return nil, m.dev.wrap(err, rhi.ResourceCreateFailed, "create memory block")
	}
	b.raw = raw
	m.blocks[b.id] = b
	rhi.Logger().Debug("rhi: memory block created", "memory", m.label, "block", b.id, "type", t.Type, "size", size)
	return b, nil
}

// canEvictLocked keeps mapped blocks and the device allocator resident.
func (m *Memory) canEvictLocked(id int) bool {
	b, ok := m.blocks[id]
	return m.evictable && ok && b.mapRefs == 0
}

func (m *Memory) logEvictions(ids []int) {
	for _, id := range ids {
		rhi.Logger().Debug("rhi: memory block evicted", "memory", m.label, "block", id)
	}
}

func (m *Memory) heapOf(b *memBlock) *alloc.Residency {
	return m.heaps[m.types[b.typeIndex].HeapIndex]
}

func (m *Memory) destroyBlockLocked(b *memBlock) {
	delete(m.blocks, b.id)
	m.heapOf(b).Untrack(b.id)
	raw, mapped := b.raw, b.mapRefs > 0
	b.mapped, b.mapRefs = nil, 0
	dev := m.dev.raw
	m.dev.deferRelease(func() {
		if mapped {
			_ = dev.UnmapBuffer(raw)
		}
		dev.DestroyBuffer(raw)
	})
}

func (m *Memory) sortedBlocksLocked() []*memBlock {
	out := make([]*memBlock, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *memBlock) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (m *Memory) lookupLocked(a rhi.Allocation) (*memAlloc, error) {
	ma, ok := m.allocs[a.ID()]
	if !ok {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s is not a live allocation of %q", a, m.label)
	}
	return ma, nil
}

// Free releases an allocation. Allocations backing live placed buffers
// cannot be freed.
func (m *Memory) Free(a rhi.Allocation) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	if n := len(ma.buffers); n > 0 {
		return rhi.Errorf(rhi.InvalidOperation, "%s still backs %d buffers", a, n)
	}
	m.freeLocked(ma)
	return nil
}

func (m *Memory) freeLocked(ma *memAlloc) {
	if ma.mapped {
		m.unmapLocked(ma)
	}
	delete(m.allocs, ma.id)
	b := ma.block
	_ = b.sub.Free(ma.span)
	if b.sub.IsEmpty() && (b.dedicated || m.countBlocksLocked(b.typeIndex) > 1) {
		m.destroyBlockLocked(b)
	}
}

func (m *Memory) countBlocksLocked(typeIndex int) int {
	n := 0
	for _, b := range m.blocks {
		if !b.dedicated && b.typeIndex == typeIndex {
			n++
		}
	}
	return n
}

// Map returns the allocation's bytes. The block is made resident and stays
// resident while mapped.
func (m *Memory) Map(a rhi.Allocation) ([]byte, error) {
	if err := m.alive("memory"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return nil, err
	}
	if ma.mapped {
		return nil, rhi.Errorf(rhi.ResourceMapFailed, "%s is already mapped", a)
	}
	return m.mapLocked(ma)
}

func (m *Memory) mapLocked(ma *memAlloc) ([]byte, error) {
	b := ma.block
	t := m.types[b.typeIndex]
	if !t.Properties.Contains(rhi.MemoryPropertyHostVisible) {
		return nil, rhi.Errorf(rhi.ResourceMapFailed, "%s memory is not host visible", t.Type)
	}
	if b.mapRefs == 0 {
		evicted, err := m.heapOf(b).MakeResident(b.id, m.canEvictLocked)
		if err != nil {
			return nil, rhi.Errorf(rhi.OutOfMemory, "make block %d resident: %v", b.id, err)
		}
		m.logEvictions(evicted)

		mapping, err := m.dev.raw.MapBuffer(b.raw, 0, b.size)
		if err != nil {
			return nil, m.dev.wrap(err, rhi.ResourceMapFailed, "map memory block")
		}
		b.mapped = unsafe.Slice((*byte)(mapping.Ptr), b.size)
		b.coherent = mapping.IsCoherent
	}
	b.mapRefs++
	ma.mapped = true
	m.heapOf(b).Touch(b.id)
	return b.mapped[ma.span.Offset:ma.span.End():ma.span.End()], nil
}

// Unmap ends CPU access to the allocation.
func (m *Memory) Unmap(a rhi.Allocation) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	if !ma.mapped {
		return rhi.Errorf(rhi.ResourceUnmapFailed, "%s is not mapped", a)
	}
	return m.unmapLocked(ma)
}

func (m *Memory) unmapLocked(ma *memAlloc) error {
	b := ma.block
	ma.mapped = false
	b.mapRefs--
	if b.mapRefs > 0 {
		return nil
	}
	b.mapped = nil
	return m.dev.wrap(m.dev.raw.UnmapBuffer(b.raw), rhi.ResourceUnmapFailed, "unmap memory block")
}

// FlushMappedRange validates a range of a mapped allocation. The HAL maps
// coherent memory only, so no cache maintenance is needed.
func (m *Memory) FlushMappedRange(a rhi.Allocation, offset, size uint64) error {
	return m.mappedRange(a, offset, size)
}

// InvalidateMappedRange validates a range of a mapped allocation.
func (m *Memory) InvalidateMappedRange(a rhi.Allocation, offset, size uint64) error {
	return m.mappedRange(a, offset, size)
}

func (m *Memory) mappedRange(a rhi.Allocation, offset, size uint64) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	if !ma.mapped {
		return rhi.Errorf(rhi.InvalidOperation, "%s is not mapped", a)
	}
	if offset > ma.span.Size || size > ma.span.Size-offset {
		return rhi.Errorf(rhi.InvalidArgument, "range %d+%d outside %d byte allocation", offset, size, ma.span.Size)
	}
	if !ma.block.coherent {
		rhi.Logger().Debug("rhi: non-coherent mapping", "memory", m.label, "block", ma.block.id)
	}
	return nil
}

// GetAllocationInfo describes a live allocation.
func (m *Memory) GetAllocationInfo(a rhi.Allocation) (rhi.AllocationInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return rhi.AllocationInfo{}, err
	}
	t := m.types[ma.block.typeIndex]
	heap := m.heapOf(ma.block)
	prio, _ := heap.Priority(ma.block.id)
	return rhi.AllocationInfo{
		Label:      ma.label,
		Offset:     ma.span.Offset,
		Size:       ma.span.Size,
		Type:       t.Type,
		TypeIndex:  t.Index,
		Properties: t.Properties,
		Block:      ma.block.id,
		Dedicated:  ma.dedicated,
		Pinned:     ma.pinned,
		Mapped:     ma.mapped,
		Resident:   heap.IsResident(ma.block.id),
		Priority:   prio,
	}, nil
}

// GetStats summarizes the blocks and residency of the allocator.
func (m *Memory) GetStats() rhi.MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s rhi.MemoryStats
	for _, b := range m.blocks {
		s.TotalSize += b.size
		s.UsedSize += b.sub.Used()
		s.LargestFreeBlock = max(s.LargestFreeBlock, b.sub.LargestFree())
		s.FreeCount += b.sub.FreeCount()
		s.BlockCount++
	}
	s.AllocationCount = len(m.allocs)
	if free := s.TotalSize - s.UsedSize; free > 0 {
		s.Fragmentation = 1 - float64(s.LargestFreeBlock)/float64(free)
	}
	for _, h := range m.heaps {
		hs := h.Stats()
		s.ResidentSize += hs.UsedBytes
		s.EvictionCount += hs.EvictionCount
	}
	return s
}

// MemoryTypes lists the memory types with current availability.
func (m *Memory) MemoryTypes() []rhi.MemoryTypeInfo {
	out := slices.Clone(m.types)
	for i := range out {
		out[i].Available = m.heaps[out[i].HeapIndex].Stats().Available()
	}
	return out
}

// IsMemoryTypeSupported reports whether some type has every flag of props.
func (m *Memory) IsMemoryTypeSupported(props rhi.MemoryPropertyFlags) bool {
	for _, t := range m.types {
		if t.Properties.Contains(props) {
			return true
		}
	}
	return false
}

// GetBestMemoryType returns the type with every required flag and the most
// preferred flags. Ties go to the type with more available bytes.
func (m *Memory) GetBestMemoryType(required, preferred rhi.MemoryPropertyFlags) (rhi.MemoryTypeInfo, error) {
	var (
		best      rhi.MemoryTypeInfo
		bestScore = -1
	)
	for _, t := range m.MemoryTypes() {
		if !t.Properties.Contains(required) {
			continue
		}
		score := bits.OnesCount32(uint32(t.Properties & preferred))
		if score > bestScore || score == bestScore && t.Available > best.Available {
			best, bestScore = t, score
		}
	}
	if bestScore < 0 {
		return rhi.MemoryTypeInfo{}, rhi.Errorf(rhi.InvalidArgument, "no memory type has properties %s", required)
	}
	return best, nil
}

// Defragment compacts every shared block. Pinned allocations and
// allocations backing placed buffers keep their offsets. Contents are moved
// through a scratch buffer on the GPU.
func (m *Memory) Defragment() (int, error) {
	if err := m.alive("memory"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type plan struct {
		block  *memBlock
		owners []*memAlloc
		moves  []alloc.Move
	}
	var plans []plan
	for _, b := range m.sortedBlocksLocked() {
		if b.dedicated {
			continue
		}
		var owners []*memAlloc
		for _, ma := range m.allocs {
			if ma.block == b {
				owners = append(owners, ma)
			}
		}
		slices.SortFunc(owners, func(x, y *memAlloc) int { return cmp.Compare(x.span.Offset, y.span.Offset) })

		items := make([]alloc.Item, len(owners))
		for i, ma := range owners {
			items[i] = alloc.Item{Span: ma.span, Alignment: ma.align, Pinned: ma.pinned || len(ma.buffers) > 0}
		}
		if moves := alloc.Plan(items); len(moves) > 0 {
			if b.mapRefs > 0 {
				return 0, rhi.Errorf(rhi.InvalidOperation, "block %d has mapped allocations", b.id)
			}
			plans = append(plans, plan{b, owners, moves})
		}
	}

	moved := 0
	for _, p := range plans {
		if err := m.relocate(p.block, p.moves); err != nil {
			return moved, err
		}
		if err := p.block.sub.Apply(p.moves); err != nil {
			return moved, rhi.Errorf(rhi.Unknown, "apply compaction of block %d: %v", p.block.id, err)
		}
		for _, mv := range p.moves {
			p.owners[mv.Index].span = mv.To
		}
		moved += len(p.moves)
	}
	if moved > 0 {
		rhi.Logger().Debug("rhi: memory defragmented", "memory", m.label, "moved", moved)
	}
	return moved, nil
}

// relocate copies the moved ranges of b through a scratch buffer and waits
// for the copy to finish.
func (m *Memory) relocate(b *memBlock, moves []alloc.Move) error {
	var total uint64
	for _, mv := range moves {
		total += mv.From.Size
	}
	d := m.dev
	scratch, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: m.label + " defragment",
		Size:  alloc.AlignUp(total, 4),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return d.wrap(err, rhi.OutOfMemory, "create defragment scratch buffer")
	}
	defer d.raw.DestroyBuffer(scratch)

	out := make([]hal.BufferCopy, len(moves))
	in := make([]hal.BufferCopy, len(moves))
	var cursor uint64
	for i, mv := range moves {
		out[i] = hal.BufferCopy{SrcOffset: mv.From.Offset, DstOffset: cursor, Size: mv.From.Size}
		in[i] = hal.BufferCopy{SrcOffset: cursor, DstOffset: mv.To.Offset, Size: mv.From.Size}
		cursor += mv.From.Size
	}

	return d.runOnce(m.label+" defragment", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(b.raw, scratch, out)
		enc.TransitionBuffers([]hal.BufferBarrier{
			{Buffer: scratch, Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopyDst, NewUsage: gputypes.BufferUsageCopySrc}},
			{Buffer: b.raw, Usage: hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopySrc, NewUsage: gputypes.BufferUsageCopyDst}},
		})
		enc.CopyBufferToBuffer(scratch, b.raw, in)
	})
}

// SetPriority sets the eviction priority of the allocation's block.
func (m *Memory) SetPriority(a rhi.Allocation, priority float32) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	return residencyError(m.heapOf(ma.block).SetPriority(ma.block.id, priority))
}

// MakeResident counts the allocation's block against its heap budget again,
// evicting unmapped blocks when needed.
func (m *Memory) MakeResident(a rhi.Allocation) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	evicted, err := m.heapOf(ma.block).MakeResident(ma.block.id, m.canEvictLocked)
	m.logEvictions(evicted)
	return residencyError(err)
}

// Evict releases the budget of the allocation's block. Mapped blocks stay
// resident.
func (m *Memory) Evict(a rhi.Allocation) error {
	if err := m.alive("memory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		return err
	}
	if ma.block.mapRefs > 0 {
		return rhi.Errorf(rhi.InvalidOperation, "block %d is mapped", ma.block.id)
	}
	return residencyError(m.heapOf(ma.block).Evict(ma.block.id))
}

func residencyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, alloc.ErrBudgetExceeded):
		return rhi.Errorf(rhi.OutOfMemory, "%v", err)
	case errors.Is(err, alloc.ErrResidencyClosed):
		return rhi.ErrDestroyed("memory")
	default:
		return rhi.Errorf(rhi.InvalidArgument, "%v", err)
	}
}

// resident reports whether the block behind a is counted against its heap.
func (m *Memory) resident(a *memAlloc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapOf(a.block).IsResident(a.block.id)
}

// CreatePlacedBuffer creates a buffer backed by the allocation. Several
// buffers may alias one allocation.
func (m *Memory) CreatePlacedBuffer(a rhi.Allocation, desc rhi.BufferDesc) (rhi.Buffer, error) {
	if err := m.alive("memory"); err != nil {
		return nil, err
	}
	if err := validateBufferDesc(desc); err != nil {
		return nil, err
	}
	m.mu.Lock()
	ma, err := m.lookupLocked(a)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if desc.Size > ma.span.Size {
		m.mu.Unlock()
		return nil, rhi.Errorf(rhi.InvalidArgument, "buffer of %d bytes does not fit %d byte allocation", desc.Size, ma.span.Size)
	}
	if align := m.dev.bufferAlignment(desc.Usage); ma.span.Offset%align != 0 {
		m.mu.Unlock()
		return nil, rhi.Errorf(rhi.InvalidArgument, "allocation offset %d is not %d byte aligned for usage %s",
			ma.span.Offset, align, desc.Usage)
	}
	t := m.types[ma.block.typeIndex]
	b := newBuffer(m, ma, desc, t)
	ma.buffers = append(ma.buffers, b)
	m.mu.Unlock()

	m.dev.adopt(b, desc.Label)
	return b, nil
}

// detach forgets a placed buffer and, for committed buffers, frees the
// dedicated allocation behind it.
func (m *Memory) detach(b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ma := b.alloc
	ma.buffers = slices.DeleteFunc(ma.buffers, func(x *Buffer) bool { return x == b })
	if b.dedicated {
		if _, ok := m.allocs[ma.id]; ok {
			m.freeLocked(ma)
		}
	}
}

// mapBuffer maps the allocation behind a buffer.
func (m *Memory) mapBuffer(ma *memAlloc) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ma.mapped {
		return nil, rhi.NewError(rhi.ResourceMapFailed, "buffer is already mapped")
	}
	return m.mapLocked(ma)
}

func (m *Memory) unmapBuffer(ma *memAlloc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ma.mapped {
		return rhi.NewError(rhi.ResourceUnmapFailed, "buffer is not mapped")
	}
	return m.unmapLocked(ma)
}

func (m *Memory) isMapped(ma *memAlloc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ma.mapped
}

// NativeHandle returns a handle without a native object; blocks are
// individual HAL buffers.
func (m *Memory) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: m.dev.adapter.info.Backend, Kind: rhi.HandleMemory, Value: uintptr(m.id)}
}

// Destroy destroys the placed buffers and releases every block.
func (m *Memory) Destroy() { m.dev.destroyObject(m) }

func (m *Memory) release() {
	m.mu.Lock()
	var placed []*Buffer
	for _, ma := range m.allocs {
		placed = append(placed, ma.buffers...)
	}
	m.mu.Unlock()

	for _, b := range placed {
		m.dev.destroyObject(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.sortedBlocksLocked() {
		m.destroyBlockLocked(b)
	}
	clear(m.allocs)
	for _, h := range m.heaps {
		h.Close()
	}
}
