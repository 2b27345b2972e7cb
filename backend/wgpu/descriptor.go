package wgpu

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// allStages is the visibility of ranges that leave Stages empty.
const allStages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute

// DescriptorSetLayout is a HAL bind group layout. Array ranges occupy
// consecutive HAL bindings.
type DescriptorSetLayout struct {
	object
	desc rhi.DescriptorSetLayoutDesc
	raw  hal.BindGroupLayout

	// dynamic lists the dynamic slots in binding order.
	dynamic []uint32
}

// Compile-time check.
var _ rhi.DescriptorSetLayout = (*DescriptorSetLayout)(nil)

// layoutEntry maps one descriptor to a HAL layout entry.
func layoutEntry(r rhi.DescriptorRange, binding uint32) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: r.Stages}
	if e.Visibility == 0 {
		e.Visibility = allStages
	}
	switch r.Type {
	case rhi.DescriptorTypeSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case rhi.DescriptorTypeSampledTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case rhi.DescriptorTypeStorageTexture:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        gputypes.TextureFormatRGBA8Unorm,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case rhi.DescriptorTypeUniformBuffer, rhi.DescriptorTypeUniformBufferDynamic:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, HasDynamicOffset: r.Type.IsDynamic()}
	case rhi.DescriptorTypeStorageBuffer, rhi.DescriptorTypeStorageBufferDynamic:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage, HasDynamicOffset: r.Type.IsDynamic()}
	case rhi.DescriptorTypeReadOnlyStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	}
	return e
}

// CreateDescriptorSetLayout creates a layout after validating its ranges.
func (d *Device) CreateDescriptorSetLayout(desc rhi.DescriptorSetLayoutDesc) (rhi.DescriptorSetLayout, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.newLayout(desc)
}

func (d *Device) newLayout(desc rhi.DescriptorSetLayoutDesc) (*DescriptorSetLayout, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	l := &DescriptorSetLayout{desc: desc}
	var entries []gputypes.BindGroupLayoutEntry
	for _, r := range desc.Ranges {
		for i := range max(r.Count, 1) {
			entries = append(entries, layoutEntry(r, r.Binding+i))
			if r.Type.IsDynamic() {
				l.dynamic = append(l.dynamic, r.Binding+i)
			}
		}
	}
	slices.Sort(l.dynamic)

	raw, err := d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: desc.Label, Entries: entries})
	if err != nil {
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create descriptor set layout")
	}
	l.raw = raw
	d.adopt(l, desc.Label)
	return l, nil
}

// Desc returns the creation description.
func (l *DescriptorSetLayout) Desc() rhi.DescriptorSetLayoutDesc { return l.desc }

// NativeHandle returns the HAL bind group layout.
func (l *DescriptorSetLayout) NativeHandle() rhi.NativeHandle {
	return halHandle(l.dev.adapter.info.Backend, rhi.HandleDescriptorSetLayout, l.raw)
}

// Destroy destroys the layout. Sets allocated from it stay usable until
// their pool is reset.
func (l *DescriptorSetLayout) Destroy() { l.dev.destroyObject(l) }

func (l *DescriptorSetLayout) release() {
	d, raw := l.dev.raw, l.raw
	l.dev.deferRelease(func() { d.DestroyBindGroupLayout(raw) })
}

// DescriptorPool hands out descriptor sets up to a fixed capacity.
type DescriptorPool struct {
	object
	desc     rhi.DescriptorPoolDesc
	capacity map[rhi.DescriptorType]uint32

	mu   sync.Mutex
	used map[rhi.DescriptorType]uint32
	sets map[*DescriptorSet]struct{}
}

// Compile-time check.
var _ rhi.DescriptorPool = (*DescriptorPool)(nil)

// CreateDescriptorPool creates a pool. MaxSets must be non-zero.
func (d *Device) CreateDescriptorPool(desc rhi.DescriptorPoolDesc) (rhi.DescriptorPool, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.MaxSets == 0 {
		return nil, rhi.Errorf(rhi.InvalidArgument, "descriptor pool %q: MaxSets must be non-zero", desc.Label)
	}
	p := &DescriptorPool{
		desc:     desc,
		capacity: desc.Capacity(),
		used:     make(map[rhi.DescriptorType]uint32),
		sets:     make(map[*DescriptorSet]struct{}),
	}
	d.adopt(p, desc.Label)
	return p, nil
}

// Desc returns the creation description.
func (p *DescriptorPool) Desc() rhi.DescriptorPoolDesc { return p.desc }

// AllocateDescriptorSet allocates a set for layout. The pool never grows;
// exhausting it fails OutOfMemory and leaves earlier sets untouched.
func (p *DescriptorPool) AllocateDescriptorSet(layout rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	if err := p.alive("descriptor pool"); err != nil {
		return nil, err
	}
	l, ok := layout.(*DescriptorSetLayout)
	if !ok || !p.dev.owns(&l.object) {
		return nil, rhi.NewError(rhi.InvalidArgument, "layout was not created by this device")
	}
	if err := l.alive("descriptor set layout"); err != nil {
		return nil, err
	}

	counts := l.desc.DescriptorCounts()

	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(len(p.sets)) >= p.desc.MaxSets {
		return nil, rhi.Errorf(rhi.OutOfMemory, "descriptor pool %q holds its maximum of %d sets", p.label, p.desc.MaxSets)
	}
	for t, n := range counts {
		if p.used[t]+n > p.capacity[t] {
			return nil, rhi.Errorf(rhi.OutOfMemory, "descriptor pool %q: %d %s descriptors in use, %d more exceed capacity %d",
				p.label, p.used[t], t, n, p.capacity[t])
		}
	}
	for t, n := range counts {
		p.used[t] += n
	}
	s := &DescriptorSet{
		pool:    p,
		layout:  l,
		counts:  counts,
		entries: make(map[uint32]descriptor),
		gen:     1,
	}
	s.valid.Store(true)
	p.sets[s] = struct{}{}
	return s, nil
}

// FreeDescriptorSet returns a set to the pool.
func (p *DescriptorPool) FreeDescriptorSet(set rhi.DescriptorSet) error {
	if err := p.alive("descriptor pool"); err != nil {
		return err
	}
	if !p.desc.FreeDescriptorSet {
		return rhi.Errorf(rhi.InvalidOperation, "descriptor pool %q does not allow freeing individual sets", p.label)
	}
	s, ok := set.(*DescriptorSet)
	if !ok || s.pool != p {
		return rhi.Errorf(rhi.InvalidArgument, "set was not allocated from pool %q", p.label)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sets[s]; !ok {
		return rhi.Errorf(rhi.InvalidArgument, "set was already freed from pool %q", p.label)
	}
	if s.pending.Load() > 0 {
		return rhi.Errorf(rhi.InvalidOperation, "set is used by a pending command buffer")
	}
	p.freeLocked(s)
	return nil
}

func (p *DescriptorPool) freeLocked(s *DescriptorSet) {
	delete(p.sets, s)
	for t, n := range s.counts {
		p.used[t] -= n
	}
	s.invalidate()
}

// Reset reclaims every set. It fails while a set is used by pending work.
func (p *DescriptorPool) Reset() error {
	if err := p.alive("descriptor pool"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.sets {
		if s.pending.Load() > 0 {
			return rhi.Errorf(rhi.InvalidOperation, "descriptor pool %q has sets used by pending command buffers", p.label)
		}
	}
	for s := range p.sets {
		p.freeLocked(s)
	}
	return nil
}

// GetStats reports allocated sets and per-type usage.
func (p *DescriptorPool) GetStats() rhi.DescriptorPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rhi.DescriptorPoolStats{
		MaxSets:       p.desc.MaxSets,
		AllocatedSets: uint32(len(p.sets)),
		Used:          maps.Clone(p.used),
		Capacity:      maps.Clone(p.capacity),
	}
}

// NativeHandle identifies the pool. Pools have no HAL object.
func (p *DescriptorPool) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: p.dev.adapter.info.Backend, Kind: rhi.HandleDescriptorPool, Value: uintptr(p.id)}
}

// Destroy invalidates every set of the pool.
func (p *DescriptorPool) Destroy() { p.dev.destroyObject(p) }

func (p *DescriptorPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.sets {
		p.freeLocked(s)
	}
}

// descriptor is one written slot of a set.
type descriptor struct {
	typ     rhi.DescriptorType
	buffer  *Buffer
	offset  uint64
	size    uint64
	view    *TextureView
	sampler *Sampler
}

// resource returns the stateful resource the slot binds, if any.
func (e descriptor) resource() (stateful, rhi.SubresourceRange) {
	switch {
	case e.buffer != nil:
		return e.buffer, rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}
	case e.view != nil:
		return e.view.texture, e.view.desc.Range
	}
	return nil, rhi.SubresourceRange{}
}

// DescriptorSet records written slots and builds its HAL bind group when a
// batch using it is encoded.
type DescriptorSet struct {
	pool   *DescriptorPool
	layout *DescriptorSetLayout
	counts map[rhi.DescriptorType]uint32

	valid atomic.Bool
	// pending counts submitted batches that use the set.
	pending atomic.Int32

	mu      sync.Mutex
	entries map[uint32]descriptor
	// gen counts updates. group was built from generation groupGen.
	gen      uint64
	group    hal.BindGroup
	groupGen uint64
}

// Compile-time check.
var _ rhi.DescriptorSet = (*DescriptorSet)(nil)

// Layout returns the layout the set was allocated for.
func (s *DescriptorSet) Layout() rhi.DescriptorSetLayout { return s.layout }

// Pool returns the pool the set was allocated from.
func (s *DescriptorSet) Pool() rhi.DescriptorPool { return s.pool }

// IsValid reports whether the set is still allocated.
func (s *DescriptorSet) IsValid() bool { return s.valid.Load() }

// UpdateDescriptor validates w against the layout and stores it in slot
// w.Binding+w.ArrayElement.
func (s *DescriptorSet) UpdateDescriptor(w rhi.DescriptorWrite) error {
	if !s.IsValid() {
		return rhi.NewError(rhi.InvalidOperation, "descriptor set was freed or its pool was reset")
	}
	if err := s.pool.alive("descriptor pool"); err != nil {
		return err
	}
	r, ok := s.layout.desc.Range(w.Binding)
	if !ok {
		return rhi.Errorf(rhi.InvalidArgument, "layout %q has no binding %d", s.layout.label, w.Binding)
	}
	slot := w.Binding + w.ArrayElement
	if slot >= r.Binding+max(r.Count, 1) {
		return rhi.Errorf(rhi.InvalidArgument, "array element %d of binding %d is outside its range of %d",
			w.ArrayElement, w.Binding, max(r.Count, 1))
	}
	if w.Type != r.Type {
		return rhi.Errorf(rhi.InvalidArgument, "binding %d is a %s descriptor, write is %s", w.Binding, r.Type, w.Type)
	}
	if s.pending.Load() > 0 && !r.Flags.Contains(rhi.DescriptorBindingUpdateAfterBind) {
		return rhi.Errorf(rhi.InvalidOperation, "binding %d of a set used by a pending command buffer is not UpdateAfterBind", w.Binding)
	}

	e, err := s.pool.dev.descriptorFor(w)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[slot] = e
	s.gen++
	s.mu.Unlock()
	return nil
}

// descriptorFor validates the resource of a write.
func (d *Device) descriptorFor(w rhi.DescriptorWrite) (descriptor, error) {
	e := descriptor{typ: w.Type}
	switch {
	case w.Type == rhi.DescriptorTypeSampler:
		s, ok := w.Sampler.(*Sampler)
		if !ok || !d.owns(&s.object) {
			return e, rhi.NewError(rhi.InvalidArgument, "sampler write needs a sampler of this device")
		}
		e.sampler = s
	case w.Type.IsTexture():
		v, ok := w.Texture.(*TextureView)
		if !ok || !d.owns(&v.object) {
			return e, rhi.NewError(rhi.InvalidArgument, "texture write needs a texture view of this device")
		}
		need := rhi.TextureUsageShaderResource
		if w.Type == rhi.DescriptorTypeStorageTexture {
			need = rhi.TextureUsageUnorderedAccess
		}
		if !v.texture.desc.Usage.Contains(need) {
			return e, rhi.Errorf(rhi.InvalidArgument, "texture %q lacks %s usage", v.texture.label, need)
		}
		e.view = v
	case w.Type.IsBuffer():
		b, ok := w.Buffer.(*Buffer)
		if !ok || !d.owns(&b.object) {
			return e, rhi.NewError(rhi.InvalidArgument, "buffer write needs a buffer of this device")
		}
		need := rhi.BufferUsageUnorderedAccess
		switch w.Type {
		case rhi.DescriptorTypeUniformBuffer, rhi.DescriptorTypeUniformBufferDynamic:
			need = rhi.BufferUsageConstant
		case rhi.DescriptorTypeReadOnlyStorageBuffer:
			need = rhi.BufferUsageShaderResource
		}
		if !b.desc.Usage.Contains(need) {
			return e, rhi.Errorf(rhi.InvalidArgument, "buffer %q lacks %s usage", b.label, need)
		}
		if w.Offset >= b.desc.Size {
			return e, rhi.Errorf(rhi.InvalidArgument, "offset %d outside %d byte buffer %q", w.Offset, b.desc.Size, b.label)
		}
		size := w.Range
		if size == 0 {
			size = b.desc.Size - w.Offset
		}
		if size > b.desc.Size-w.Offset {
			return e, rhi.Errorf(rhi.InvalidArgument, "range %d+%d overflows %d byte buffer %q", w.Offset, size, b.desc.Size, b.label)
		}
		e.buffer, e.offset, e.size = b, w.Offset, size
	default:
		return e, rhi.Errorf(rhi.InvalidArgument, "unknown descriptor type %d", w.Type)
	}
	return e, nil
}

// complete reports the first slot that is unwritten and not partially bound.
func (s *DescriptorSet) complete() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.layout.desc.Ranges {
		if r.Flags.Contains(rhi.DescriptorBindingPartiallyBound) {
			continue
		}
		for i := range max(r.Count, 1) {
			if _, ok := s.entries[r.Binding+i]; !ok {
				return r.Binding + i, false
			}
		}
	}
	return 0, true
}

// setContents is the contents of a set as seen by one draw or dispatch.
// Later updates of the set do not change what that command binds.
type setContents struct {
	set     *DescriptorSet
	gen     uint64
	entries map[uint32]descriptor
}

// contents returns a copy of the written slots.
func (s *DescriptorSet) contents() setContents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setContents{set: s, gen: s.gen, entries: maps.Clone(s.entries)}
}

// bindGroup returns a HAL bind group for sc. The group of the latest
// contents is cached on the set. Contents that were replaced since sc was
// taken get a transient group; the caller releases it when transient is
// true.
func (s *DescriptorSet) bindGroup(sc setContents) (group hal.BindGroup, transient bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil && s.groupGen == sc.gen {
		return s.group, false, nil
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(sc.entries))
	for slot, e := range sc.entries {
		var res gputypes.BindingResource
		switch {
		case e.buffer != nil:
			res = gputypes.BufferBinding{Buffer: e.buffer.raw.NativeHandle(), Offset: e.buffer.offset + e.offset, Size: e.size}
		case e.view != nil:
			res = gputypes.TextureViewBinding{TextureView: e.view.raw.NativeHandle()}
		case e.sampler != nil:
			res = gputypes.SamplerBinding{Sampler: e.sampler.raw.NativeHandle()}
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: slot, Resource: res})
	}

	d := s.pool.dev
	group, err = d.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   s.layout.label,
		Layout:  s.layout.raw,
		Entries: entries,
	})
	if err != nil {
		return nil, false, d.wrap(err, rhi.ResourceCreateFailed, "create bind group")
	}
	if sc.gen != s.gen {
		return group, true, nil
	}
	if old := s.group; old != nil {
		raw := d.raw
		d.deferRelease(func() { raw.DestroyBindGroup(old) })
	}
	s.group, s.groupGen = group, sc.gen
	return group, false, nil
}

func (s *DescriptorSet) invalidate() {
	s.valid.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if g := s.group; g != nil {
		d := s.pool.dev
		raw := d.raw
		d.deferRelease(func() { raw.DestroyBindGroup(g) })
		s.group = nil
	}
}

// NativeHandle returns the current HAL bind group, which is nil until the
// set is first used by a submitted batch.
func (s *DescriptorSet) NativeHandle() rhi.NativeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return rhi.NativeHandle{Backend: s.pool.dev.adapter.info.Backend, Kind: rhi.HandleDescriptorSet}
	}
	return halHandle(s.pool.dev.adapter.info.Backend, rhi.HandleDescriptorSet, s.group)
}
