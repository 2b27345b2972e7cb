package wgpu

import (
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/track"
)

// CommandPool allocates command buffers and caches the HAL encoders the
// queue worker encodes them with.
type CommandPool struct {
	object
	desc rhi.CommandPoolDesc

	mu       sync.Mutex
	buffers  map[*CommandBuffer]struct{}
	encoders []hal.CommandEncoder
}

// Compile-time check.
var _ rhi.CommandPool = (*CommandPool)(nil)

// CreateCommandPool creates a pool for command buffers of desc.Type.
func (d *Device) CreateCommandPool(desc rhi.CommandPoolDesc) (rhi.CommandPool, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Type > rhi.CommandBufferBundle {
		return nil, rhi.Errorf(rhi.InvalidArgument, "command pool %q has unknown type %d", desc.Label, desc.Type)
	}
	p := &CommandPool{desc: desc, buffers: make(map[*CommandBuffer]struct{})}
	d.adopt(p, desc.Label)
	return p, nil
}

// Desc returns the creation description.
func (p *CommandPool) Desc() rhi.CommandPoolDesc { return p.desc }

// AllocateCommandBuffers allocates info.Count buffers in the Initial state.
// Secondary buffers are bundles and need a graphics or bundle pool.
func (p *CommandPool) AllocateCommandBuffers(info rhi.CommandBufferAllocateInfo) ([]rhi.CommandBuffer, error) {
	if err := p.alive("command pool"); err != nil {
		return nil, err
	}
	if info.Count == 0 {
		return nil, rhi.Errorf(rhi.InvalidArgument, "command pool %q: count must be non-zero", p.label)
	}
	switch info.Level {
	case rhi.CommandBufferPrimary:
		if p.desc.Type == rhi.CommandBufferBundle {
			return nil, rhi.Errorf(rhi.InvalidArgument, "bundle pool %q allocates secondary buffers only", p.label)
		}
	case rhi.CommandBufferSecondary:
		if p.desc.Type != rhi.CommandBufferGraphics && p.desc.Type != rhi.CommandBufferBundle {
			return nil, rhi.Errorf(rhi.InvalidArgument, "%s pool %q cannot allocate bundles", p.desc.Type, p.label)
		}
	default:
		return nil, rhi.Errorf(rhi.InvalidArgument, "unknown command buffer level %d", info.Level)
	}

	out := make([]rhi.CommandBuffer, info.Count)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range out {
		c := &CommandBuffer{
			pool:    p,
			id:      p.dev.nextHandle(),
			level:   info.Level,
			usage:   info.Usage,
			tracker: track.New[stateful](),
			refs:    make(map[owned]struct{}),
			sets:    make(map[*DescriptorSet]struct{}),
		}
		p.buffers[c] = struct{}{}
		out[i] = c
	}
	return out, nil
}

// FreeCommandBuffers returns buffers to the pool. Freed buffers are Invalid.
func (p *CommandPool) FreeCommandBuffers(buffers ...rhi.CommandBuffer) error {
	if err := p.alive("command pool"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := make([]*CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		c, ok := b.(*CommandBuffer)
		if !ok || c.pool != p {
			return rhi.Errorf(rhi.InvalidArgument, "command buffer was not allocated from pool %q", p.label)
		}
		if _, ok := p.buffers[c]; !ok {
			return rhi.Errorf(rhi.InvalidArgument, "command buffer was already freed from pool %q", p.label)
		}
		if c.inFlight() {
			return rhi.Errorf(rhi.InvalidOperation, "command buffer of pool %q is in flight", p.label)
		}
		cs = append(cs, c)
	}
	for _, c := range cs {
		delete(p.buffers, c)
		c.clear(rhi.CommandBufferInvalid)
	}
	return nil
}

// Reset returns every buffer of the pool to Initial.
func (p *CommandPool) Reset() error {
	if err := p.alive("command pool"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.buffers {
		if c.inFlight() {
			return rhi.Errorf(rhi.InvalidOperation, "command pool %q has buffers in flight", p.label)
		}
	}
	for c := range p.buffers {
		c.clear(rhi.CommandBufferInitial)
	}
	return nil
}

// Trim destroys the cached HAL encoders.
func (p *CommandPool) Trim() {
	p.mu.Lock()
	encs := p.encoders
	p.encoders = nil
	p.mu.Unlock()
	for _, e := range encs {
		e.Destroy()
	}
}

// acquire returns a cached HAL encoder or creates one.
func (p *CommandPool) acquire() (hal.CommandEncoder, error) {
	p.mu.Lock()
	if n := len(p.encoders); n > 0 {
		e := p.encoders[n-1]
		p.encoders = p.encoders[:n-1]
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	d := p.dev
	e, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: p.label})
	if err != nil {
		return nil, d.wrap(err, rhi.OutOfMemory, "create command encoder")
	}
	return e, nil
}

// recycle caches e, or destroys it once the pool is gone.
func (p *CommandPool) recycle(e hal.CommandEncoder) {
	p.mu.Lock()
	if !p.destroyed.Load() {
		p.encoders = append(p.encoders, e)
		e = nil
	}
	p.mu.Unlock()
	if e != nil {
		e.Destroy()
	}
}

// NativeHandle identifies the pool. Pools map to a set of HAL encoders
// rather than one object.
func (p *CommandPool) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: p.dev.adapter.info.Backend, Kind: rhi.HandleCommandPool, Value: uintptr(p.id)}
}

// Destroy invalidates the buffers of the pool. Buffers in flight finish
// executing.
func (p *CommandPool) Destroy() { p.dev.destroyObject(p) }

func (p *CommandPool) release() {
	p.mu.Lock()
	for c := range p.buffers {
		if !c.inFlight() {
			c.clear(rhi.CommandBufferInvalid)
		}
	}
	clear(p.buffers)
	p.mu.Unlock()
	p.Trim()
}

// use is a state requirement a bundle hands to the primary buffer that
// executes it.
type use struct {
	res  stateful
	rng  rhi.SubresourceRange
	need rhi.ResourceState
}

type eventOp struct {
	event *Event
	set   bool
}

// passInfo describes the open render pass.
type passInfo struct {
	colors []gputypes.TextureFormat
	depth  gputypes.TextureFormat
}

// CommandBuffer records ops and the resource states they assume. Recording
// never touches the HAL; the queue worker encodes the ops at execution.
type CommandBuffer struct {
	pool  *CommandPool
	id    uint64
	level rhi.CommandBufferLevel
	usage rhi.CommandBufferUsage

	// mu guards state and inflight, which the queue worker changes.
	mu       sync.Mutex
	state    rhi.CommandBufferState
	inflight int

	// Recorded contents. They only change while Recording.
	ops     []op
	tracker *track.Tracker[stateful]
	uses    []use
	refs    map[owned]struct{}
	sets    map[*DescriptorSet]struct{}
	events  []eventOp
	bind    bindings
	pass    *passInfo
}

// Compile-time check.
var _ rhi.CommandBuffer = (*CommandBuffer)(nil)

// nextHandle returns an id for objects that are not owned directly.
func (d *Device) nextHandle() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

// commandBuffer checks that cmd is a command buffer of d.
func (d *Device) commandBuffer(cmd rhi.CommandBuffer) (*CommandBuffer, error) {
	c, ok := cmd.(*CommandBuffer)
	if !ok || c == nil || c.pool.dev != d {
		return nil, rhi.NewError(rhi.InvalidArgument, "command buffer was not allocated on this device")
	}
	return c, nil
}

// Pool returns the pool the buffer was allocated from.
func (c *CommandBuffer) Pool() rhi.CommandPool { return c.pool }

// Type returns the type of the pool.
func (c *CommandBuffer) Type() rhi.CommandBufferType { return c.pool.desc.Type }

// Level returns primary or secondary.
func (c *CommandBuffer) Level() rhi.CommandBufferLevel { return c.level }

// Usage returns the allocation usage.
func (c *CommandBuffer) Usage() rhi.CommandBufferUsage { return c.usage }

// State returns the recording lifecycle state.
func (c *CommandBuffer) State() rhi.CommandBufferState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsBundle reports whether the buffer is a bundle.
func (c *CommandBuffer) IsBundle() bool { return c.bundle() }

func (c *CommandBuffer) bundle() bool {
	return c.level == rhi.CommandBufferSecondary || c.pool.desc.Type == rhi.CommandBufferBundle
}

func (c *CommandBuffer) inFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// clear drops the recorded contents and moves the buffer to s.
func (c *CommandBuffer) clear(s rhi.CommandBufferState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.ops = nil
	c.tracker.Reset()
	c.uses = nil
	clear(c.refs)
	clear(c.sets)
	c.events = nil
	c.bind = bindings{}
	c.pass = nil
}

// Begin starts recording.
func (c *CommandBuffer) Begin() error {
	if err := c.pool.alive("command pool"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != rhi.CommandBufferInitial {
		return rhi.Errorf(rhi.InvalidOperation, "begin: command buffer is %s, not Initial", c.state)
	}
	c.state = rhi.CommandBufferRecording
	return nil
}

// End finishes recording.
func (c *CommandBuffer) End() error {
	if err := c.recording("end"); err != nil {
		return err
	}
	if c.pass != nil {
		return rhi.NewError(rhi.InvalidOperation, "end: a render pass is still open")
	}
	c.mu.Lock()
	c.state = rhi.CommandBufferExecutable
	c.mu.Unlock()
	return nil
}

// Reset returns the buffer to Initial. The pool must allow resetting
// individual buffers.
func (c *CommandBuffer) Reset() error {
	if err := c.pool.alive("command pool"); err != nil {
		return err
	}
	if !c.pool.desc.Flags.Contains(rhi.CommandPoolResetCommandBuffer) {
		return rhi.Errorf(rhi.InvalidOperation, "command pool %q does not allow resetting individual buffers", c.pool.label)
	}
	if c.inFlight() {
		return rhi.NewError(rhi.InvalidOperation, "command buffer is in flight")
	}
	c.clear(rhi.CommandBufferInitial)
	return nil
}

func (c *CommandBuffer) recording(what string) error {
	if err := c.pool.alive("command pool"); err != nil {
		return err
	}
	if s := c.State(); s != rhi.CommandBufferRecording {
		return rhi.Errorf(rhi.InvalidOperation, "%s: command buffer is %s, not Recording", what, s)
	}
	return nil
}

// graphics checks that graphics state may be recorded.
func (c *CommandBuffer) graphics(what string) error {
	if err := c.recording(what); err != nil {
		return err
	}
	if !c.bundle() && c.pool.desc.Type != rhi.CommandBufferGraphics {
		return rhi.Errorf(rhi.InvalidOperation, "%s: %s command buffers cannot record graphics commands", what, c.Type())
	}
	return nil
}

// outside checks that a command recorded outside render passes may be
// recorded. Bundles never record such commands.
func (c *CommandBuffer) outside(what string) error {
	if err := c.recording(what); err != nil {
		return err
	}
	if c.bundle() {
		return rhi.Errorf(rhi.InvalidOperation, "%s: bundles record draw state only", what)
	}
	if c.pass != nil {
		return rhi.Errorf(rhi.InvalidOperation, "%s: not allowed inside a render pass", what)
	}
	return nil
}

// ref keeps o alive for the buffer. Submitting after o is destroyed fails.
func (c *CommandBuffer) ref(o owned) { c.refs[o] = struct{}{} }

// resource checks that r was created by the device and is alive.
func (c *CommandBuffer) resource(r stateful, what string) error {
	if !c.pool.dev.owns(r.base()) {
		return rhi.Errorf(rhi.InvalidArgument, "%s: %s was not created by this device", what, r.kindName())
	}
	return r.base().alive(r.kindName())
}

// stateful resolves an rhi resource to a tracked resource of the device.
func (c *CommandBuffer) stateful(res rhi.Resource, what string) (stateful, error) {
	var r stateful
	switch v := res.(type) {
	case *Buffer:
		if v != nil {
			r = v
		}
	case *Texture:
		if v != nil {
			r = v
		}
	}
	if r == nil {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s: resource was not created by this backend", what)
	}
	return r, c.resource(r, what)
}

func (c *CommandBuffer) buffer(b rhi.Buffer, what string) (*Buffer, error) {
	v, ok := b.(*Buffer)
	if !ok || v == nil {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s: buffer was not created by this backend", what)
	}
	return v, c.resource(v, what)
}

func (c *CommandBuffer) texture(t rhi.Texture, what string) (*Texture, error) {
	v, ok := t.(*Texture)
	if !ok || v == nil {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s: texture was not created by this backend", what)
	}
	return v, c.resource(v, what)
}

func (c *CommandBuffer) view(tv rhi.TextureView, what string) (*TextureView, error) {
	v, ok := tv.(*TextureView)
	if !ok || v == nil || !c.pool.dev.owns(&v.object) {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s: texture view was not created by this device", what)
	}
	if err := v.live(); err != nil {
		return nil, err
	}
	c.ref(v)
	return v, nil
}

// require checks that rng of r satisfies need at this point of the
// recording. Bundles defer the check to ExecuteBundle.
func (c *CommandBuffer) require(r stateful, rng rhi.SubresourceRange, need rhi.ResourceState, what string) error {
	rng, err := r.resolve(rng)
	if err != nil {
		return err
	}
	c.ref(r)
	if c.bundle() {
		c.uses = append(c.uses, use{res: r, rng: rng, need: need})
		return nil
	}
	m, ok := c.tracker.Require(r, c.pool.dev.snapshot(r), rng, need)
	if !ok {
		return rhi.Errorf(rhi.InvalidOperation, "%s: %s %q mip %d layer %d is in state %s, needs %s",
			what, r.kindName(), r.base().label, m.Mip, m.Layer, m.Actual, need)
	}
	return nil
}

// transition records a state change of rng of r.
func (c *CommandBuffer) transition(r stateful, rng rhi.SubresourceRange, state rhi.ResourceState) error {
	if err := c.outside("transition"); err != nil {
		return err
	}
	if err := c.resource(r, "transition"); err != nil {
		return err
	}
	if err := r.validateState(state); err != nil {
		return err
	}
	rng, err := r.resolve(rng)
	if err != nil {
		return err
	}
	c.ref(r)

	ts := c.tracker.Transition(r, c.pool.dev.snapshot(r), rng, state)
	if len(ts) == 0 {
		return nil
	}
	switch v := r.(type) {
	case *Buffer:
		t := ts[0]
		c.ops = append(c.ops, func(x *encoder) error {
			x.cmd().TransitionBuffers(bufferBarriers(v, t.Before, t.After))
			return nil
		})
	case *Texture:
		barriers := make([]hal.TextureBarrier, len(ts))
		for i, t := range ts {
			barriers[i] = hal.TextureBarrier{
				Texture: v.raw,
				Range:   textureRange(t.Range),
				Usage: hal.TextureUsageTransition{
					OldUsage: textureUsageFor(t.Before),
					NewUsage: textureUsageFor(t.After),
				},
			}
		}
		c.ops = append(c.ops, func(x *encoder) error {
			x.cmd().TransitionTextures(barriers)
			return nil
		})
	}
	return nil
}

// TransitionState records a transition of the whole buffer.
func (c *CommandBuffer) TransitionState(b rhi.Buffer, state rhi.ResourceState) error {
	buf, err := c.buffer(b, "transition")
	if err != nil {
		return err
	}
	return c.transition(buf, rhi.AllSubresources, state)
}

// TransitionLayout records a transition of rng of t.
func (c *CommandBuffer) TransitionLayout(t rhi.Texture, rng rhi.SubresourceRange, state rhi.ResourceState) error {
	tex, err := c.texture(t, "transition")
	if err != nil {
		return err
	}
	return c.transition(tex, rng, state)
}

// ResourceBarrier records transition, UAV and aliasing barriers in order.
func (c *CommandBuffer) ResourceBarrier(barriers ...rhi.BarrierDesc) error {
	if err := c.outside("resource barrier"); err != nil {
		return err
	}
	for _, b := range barriers {
		var err error
		switch b.Type {
		case rhi.BarrierTransition:
			err = c.barrierTransition(b)
		case rhi.BarrierUAV:
			err = c.barrierUAV(b)
		case rhi.BarrierAliasing:
			err = c.barrierAliasing(b)
		default:
			err = rhi.Errorf(rhi.InvalidArgument, "unknown barrier type %d", b.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *CommandBuffer) barrierTransition(b rhi.BarrierDesc) error {
	r, err := c.stateful(b.Resource, "transition barrier")
	if err != nil {
		return err
	}
	return c.transition(r, b.Range, b.State)
}

func (c *CommandBuffer) barrierUAV(b rhi.BarrierDesc) error {
	r, err := c.stateful(b.Resource, "UAV barrier")
	if err != nil {
		return err
	}
	if err := c.require(r, b.Range, rhi.StateUnorderedAccess, "UAV barrier"); err != nil {
		return err
	}
	switch v := r.(type) {
	case *Buffer:
		c.ops = append(c.ops, func(x *encoder) error {
			x.cmd().TransitionBuffers(bufferBarriers(v, rhi.StateUnorderedAccess, rhi.StateUnorderedAccess))
			return nil
		})
	case *Texture:
		rng, _ := v.resolve(b.Range)
		c.ops = append(c.ops, func(x *encoder) error {
			x.cmd().TransitionTextures([]hal.TextureBarrier{{
				Texture: v.raw,
				Range:   textureRange(rng),
				Usage: hal.TextureUsageTransition{
					OldUsage: gputypes.TextureUsageStorageBinding,
					NewUsage: gputypes.TextureUsageStorageBinding,
				},
			}})
			return nil
		})
	}
	return nil
}

// barrierAliasing hands memory between placed buffers of one Memory.
// Aliasing needs no HAL work; it only validates the pair.
func (c *CommandBuffer) barrierAliasing(b rhi.BarrierDesc) error {
	after, err := c.buffer(asBuffer(b.Resource), "aliasing barrier")
	if err != nil {
		return err
	}
	if after.dedicated {
		return rhi.Errorf(rhi.InvalidArgument, "aliasing barrier: buffer %q is not placed", after.label)
	}
	c.ref(after)
	if b.Before == nil {
		return nil
	}
	before, err := c.buffer(asBuffer(b.Before), "aliasing barrier")
	if err != nil {
		return err
	}
	if before.dedicated || before.memory != after.memory {
		return rhi.Errorf(rhi.InvalidArgument, "aliasing barrier: buffers %q and %q do not share a Memory",
			before.label, after.label)
	}
	c.ref(before)
	return nil
}

func asBuffer(r rhi.Resource) rhi.Buffer {
	b, _ := r.(rhi.Buffer)
	return b
}

// BeginRenderPass opens a render pass. Color attachments must be in
// RenderTarget, the depth attachment in DepthWrite or, when read-only,
// DepthRead.
func (c *CommandBuffer) BeginRenderPass(desc rhi.RenderPassDesc) error {
	if err := c.outside("begin render pass"); err != nil {
		return err
	}
	if c.pool.desc.Type != rhi.CommandBufferGraphics {
		return rhi.Errorf(rhi.InvalidOperation, "begin render pass: %s command buffers cannot record render passes", c.Type())
	}
	if len(desc.ColorAttachments) == 0 && desc.DepthStencilAttachment == nil {
		return rhi.NewError(rhi.InvalidArgument, "begin render pass: no attachments")
	}

	info := &passInfo{}
	raw := &hal.RenderPassDescriptor{Label: desc.Label}
	for i, a := range desc.ColorAttachments {
		v, err := c.attachment(a.View, rhi.StateRenderTarget, "color attachment")
		if err != nil {
			return err
		}
		ca := hal.RenderPassColorAttachment{
			View:       v.raw,
			LoadOp:     a.LoadOp,
			StoreOp:    a.StoreOp,
			ClearValue: a.ClearValue,
		}
		if a.ResolveTarget != nil {
			rv, err := c.attachment(a.ResolveTarget, rhi.StateResolveDest, "resolve target")
			if err != nil {
				return err
			}
			if rv.desc.Format != v.desc.Format {
				return rhi.Errorf(rhi.InvalidArgument, "color attachment %d: resolve target format differs", i)
			}
			ca.ResolveTarget = rv.raw
		}
		raw.ColorAttachments = append(raw.ColorAttachments, ca)
		info.colors = append(info.colors, v.desc.Format)
	}
	if ds := desc.DepthStencilAttachment; ds != nil {
		need := rhi.StateDepthWrite
		if ds.DepthReadOnly {
			need = rhi.StateDepthRead
		}
		v, err := c.attachment(ds.View, need, "depth attachment")
		if err != nil {
			return err
		}
		raw.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              v.raw,
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			DepthReadOnly:     ds.DepthReadOnly,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
			StencilReadOnly:   ds.StencilReadOnly,
		}
		info.depth = v.desc.Format
	}

	c.pass = info
	c.ops = append(c.ops, func(x *encoder) error {
		x.beginRender(raw)
		return nil
	})
	return nil
}

func (c *CommandBuffer) attachment(tv rhi.TextureView, need rhi.ResourceState, what string) (*TextureView, error) {
	v, err := c.view(tv, what)
	if err != nil {
		return nil, err
	}
	if err := c.require(v.texture, v.desc.Range, need, what); err != nil {
		return nil, err
	}
	return v, nil
}

// EndRenderPass closes the open render pass.
func (c *CommandBuffer) EndRenderPass() error {
	if err := c.recording("end render pass"); err != nil {
		return err
	}
	if c.pass == nil {
		return rhi.NewError(rhi.InvalidOperation, "end render pass: no render pass is open")
	}
	c.pass = nil
	c.ops = append(c.ops, func(x *encoder) error {
		x.endRender()
		return nil
	})
	return nil
}

// SetViewport sets the viewport of later draws.
func (c *CommandBuffer) SetViewport(v rhi.Viewport) error {
	if err := c.graphics("set viewport"); err != nil {
		return err
	}
	if v.Width <= 0 || v.Height <= 0 {
		return rhi.Errorf(rhi.InvalidArgument, "viewport %gx%g must have a positive size", v.Width, v.Height)
	}
	if v.MinDepth < 0 || v.MaxDepth > 1 || v.MinDepth > v.MaxDepth {
		return rhi.Errorf(rhi.InvalidArgument, "viewport depth range [%g, %g] is outside [0, 1]", v.MinDepth, v.MaxDepth)
	}
	c.bind.viewport = &v
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.viewport = &v
		x.changed()
		return nil
	})
	return nil
}

// SetScissor sets the scissor rectangle of later draws.
func (c *CommandBuffer) SetScissor(s rhi.Scissor) error {
	if err := c.graphics("set scissor"); err != nil {
		return err
	}
	c.bind.scissor = &s
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.scissor = &s
		x.changed()
		return nil
	})
	return nil
}

// SetPipelineState binds a graphics or compute pipeline.
func (c *CommandBuffer) SetPipelineState(ps rhi.PipelineState) error {
	p, ok := ps.(*PipelineState)
	if !ok || p == nil || !c.pool.dev.owns(&p.object) {
		return rhi.NewError(rhi.InvalidArgument, "set pipeline state: pipeline was not created by this device")
	}
	var err error
	if p.desc.Kind == rhi.PipelineCompute {
		err = c.computeCapable("set pipeline state")
	} else {
		err = c.graphics("set pipeline state")
	}
	if err != nil {
		return err
	}
	if err := p.alive("pipeline"); err != nil {
		return err
	}
	c.ref(p)
	c.bind.pipeline = p
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.pipeline = p
		x.push = nil
		x.changed()
		return nil
	})
	return nil
}

func (c *CommandBuffer) computeCapable(what string) error {
	if err := c.recording(what); err != nil {
		return err
	}
	if c.bundle() {
		return rhi.Errorf(rhi.InvalidOperation, "%s: bundles record draw state only", what)
	}
	if t := c.pool.desc.Type; t != rhi.CommandBufferGraphics && t != rhi.CommandBufferCompute {
		return rhi.Errorf(rhi.InvalidOperation, "%s: %s command buffers cannot record compute commands", what, t)
	}
	return nil
}

// SetDescriptorSet binds set at index. dynamicOffsets supplies one offset
// per dynamic descriptor of the layout, in binding order.
func (c *CommandBuffer) SetDescriptorSet(index uint32, set rhi.DescriptorSet, dynamicOffsets ...uint32) error {
	if err := c.recording("set descriptor set"); err != nil {
		return err
	}
	if c.pool.desc.Type == rhi.CommandBufferTransfer {
		return rhi.NewError(rhi.InvalidOperation, "set descriptor set: transfer command buffers cannot bind descriptors")
	}
	d := c.pool.dev
	s, ok := set.(*DescriptorSet)
	if !ok || s == nil || s.pool.dev != d {
		return rhi.NewError(rhi.InvalidArgument, "set descriptor set: set was not allocated on this device")
	}
	if !s.IsValid() {
		return rhi.NewError(rhi.InvalidOperation, "set descriptor set: set was freed or its pool was reset")
	}
	if index >= d.limits.MaxBindGroups {
		return rhi.Errorf(rhi.InvalidArgument, "set descriptor set: index %d exceeds the %d sets the device binds",
			index, d.limits.MaxBindGroups)
	}
	if len(dynamicOffsets) != len(s.layout.dynamic) {
		return rhi.Errorf(rhi.InvalidArgument, "set descriptor set: layout %q has %d dynamic descriptors, %d offsets given",
			s.layout.label, len(s.layout.dynamic), len(dynamicOffsets))
	}
	for i, off := range dynamicOffsets {
		r, _ := s.layout.desc.Range(s.layout.dynamic[i])
		align := d.limits.MinStorageBufferOffsetAlignment
		if r.Type == rhi.DescriptorTypeUniformBufferDynamic {
			align = d.limits.MinUniformBufferOffsetAlignment
		}
		if align > 0 && off%align != 0 {
			return rhi.Errorf(rhi.InvalidArgument, "set descriptor set: dynamic offset %d is not a multiple of %d", off, align)
		}
	}

	sb := setBinding{set: s, offsets: slices.Clone(dynamicOffsets)}
	c.sets[s] = struct{}{}
	c.bind.bindSet(index, sb)
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.bindSet(index, sb)
		x.changed()
		return nil
	})
	return nil
}

// SetVertexBuffer binds b to slot. b must be in VertexBuffer state.
func (c *CommandBuffer) SetVertexBuffer(slot uint32, b rhi.Buffer, offset uint64) error {
	if err := c.graphics("set vertex buffer"); err != nil {
		return err
	}
	buf, err := c.buffer(b, "set vertex buffer")
	if err != nil {
		return err
	}
	if slot >= c.pool.dev.limits.MaxVertexBuffers {
		return rhi.Errorf(rhi.InvalidArgument, "vertex buffer slot %d exceeds %d", slot, c.pool.dev.limits.MaxVertexBuffers)
	}
	if offset >= buf.desc.Size {
		return rhi.Errorf(rhi.InvalidArgument, "vertex buffer offset %d outside %d byte buffer %q", offset, buf.desc.Size, buf.label)
	}
	if err := c.require(buf, rhi.AllSubresources, rhi.StateVertexBuffer, "set vertex buffer"); err != nil {
		return err
	}
	v := vertexBinding{buffer: buf, offset: offset}
	c.bind.bindVertex(slot, v)
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.bindVertex(slot, v)
		x.changed()
		return nil
	})
	return nil
}

// SetIndexBuffer binds b as the index buffer. b must be in IndexBuffer state.
func (c *CommandBuffer) SetIndexBuffer(b rhi.Buffer, format gputypes.IndexFormat, offset uint64) error {
	if err := c.graphics("set index buffer"); err != nil {
		return err
	}
	buf, err := c.buffer(b, "set index buffer")
	if err != nil {
		return err
	}
	var size uint64
	switch format {
	case gputypes.IndexFormatUint16:
		size = 2
	case gputypes.IndexFormatUint32:
		size = 4
	default:
		return rhi.Errorf(rhi.InvalidArgument, "unknown index format %d", format)
	}
	if offset%size != 0 || offset >= buf.desc.Size {
		return rhi.Errorf(rhi.InvalidArgument, "index buffer offset %d is misaligned or outside %d byte buffer %q",
			offset, buf.desc.Size, buf.label)
	}
	if err := c.require(buf, rhi.AllSubresources, rhi.StateIndexBuffer, "set index buffer"); err != nil {
		return err
	}
	c.bind.index, c.bind.indexFormat, c.bind.indexOffset = buf, format, offset
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.index, x.state.indexFormat, x.state.indexOffset = buf, format, offset
		x.changed()
		return nil
	})
	return nil
}

// PushConstants writes data at offset of the push constant block of the
// bound pipeline.
func (c *CommandBuffer) PushConstants(offset uint32, data []byte) error {
	if err := c.recording("push constants"); err != nil {
		return err
	}
	p := c.bind.pipeline
	if p == nil {
		return rhi.NewError(rhi.InvalidOperation, "push constants: no pipeline state is set")
	}
	size := p.desc.PushConstantSize
	if offset%4 != 0 || len(data)%4 != 0 || uint64(offset)+uint64(len(data)) > uint64(size) {
		return rhi.Errorf(rhi.InvalidArgument, "push constants: %d bytes at %d do not fit the %d byte block in 4 byte units",
			len(data), offset, size)
	}
	if len(c.bind.push) < int(size) {
		c.bind.push = append(c.bind.push, make([]byte, int(size)-len(c.bind.push))...)
	}
	copy(c.bind.push[offset:], data)
	snapshot := slices.Clone(c.bind.push)
	c.ops = append(c.ops, func(x *encoder) error {
		x.state.push = snapshot
		x.push = nil
		x.changed()
		return nil
	})
	return nil
}

// validateBindings checks the bound pipeline and descriptor sets before a
// draw or dispatch and records the set contents the command will bind.
func (c *CommandBuffer) validateBindings(kind rhi.PipelineKind, what string) error {
	p := c.bind.pipeline
	if p == nil {
		return rhi.Errorf(rhi.InvalidOperation, "%s: no pipeline state is set", what)
	}
	if p.desc.Kind != kind {
		return rhi.Errorf(rhi.InvalidOperation, "%s needs a %s pipeline, %s is set", what, kind, p.desc.Kind)
	}
	frozen := make([]setContents, len(p.layouts))
	for i, l := range p.layouts {
		if i >= len(c.bind.sets) || c.bind.sets[i].set == nil {
			return rhi.Errorf(rhi.InvalidOperation, "%s: descriptor set %d is not bound", what, i)
		}
		s := c.bind.sets[i].set
		if !s.IsValid() {
			return rhi.Errorf(rhi.InvalidOperation, "%s: descriptor set %d was freed", what, i)
		}
		if !compatible(s.layout, l) {
			return rhi.Errorf(rhi.InvalidOperation, "%s: descriptor set %d has layout %q, pipeline expects %q",
				what, i, s.layout.label, l.label)
		}
		if slot, ok := s.complete(); !ok {
			return rhi.Errorf(rhi.InvalidOperation, "%s: binding %d of descriptor set %d is not written", what, slot, i)
		}
		frozen[i] = s.contents()
		for _, e := range frozen[i].entries {
			if e.sampler != nil {
				c.ref(e.sampler)
			}
			r, rng := e.resource()
			if r == nil {
				continue
			}
			if err := c.require(r, rng, e.typ.RequiredState(), what); err != nil {
				return err
			}
			if e.view != nil {
				c.ref(e.view)
			}
		}
	}
	if len(frozen) > 0 {
		c.ops = append(c.ops, func(x *encoder) error {
			x.freeze(frozen)
			return nil
		})
	}
	return nil
}

// compatible reports whether sets of layout a can be used where b is expected.
func compatible(a, b *DescriptorSetLayout) bool {
	return a == b || slices.Equal(a.desc.Ranges, b.desc.Ranges)
}

// drawable validates a draw.
func (c *CommandBuffer) drawable(what string) error {
	if err := c.graphics(what); err != nil {
		return err
	}
	if !c.bundle() && c.pass == nil {
		return rhi.Errorf(rhi.InvalidOperation, "%s: outside a render pass", what)
	}
	if err := c.validateBindings(rhi.PipelineGraphics, what); err != nil {
		return err
	}
	p := c.bind.pipeline
	if pass := c.pass; pass != nil {
		if !slices.Equal(p.desc.ColorFormats, pass.colors) || p.desc.DepthFormat != pass.depth {
			return rhi.Errorf(rhi.InvalidOperation, "%s: pipeline %q attachment formats do not match the render pass", what, p.label)
		}
	}
	for slot := range p.desc.VertexBuffers {
		if slot >= len(c.bind.vertex) || c.bind.vertex[slot].buffer == nil {
			return rhi.Errorf(rhi.InvalidOperation, "%s: vertex buffer slot %d is not bound", what, slot)
		}
	}
	return nil
}

// Draw records a non-indexed draw.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := c.drawable("draw"); err != nil {
		return err
	}
	c.ops = append(c.ops, func(x *encoder) error {
		if err := x.flushRender(); err != nil {
			return err
		}
		x.render.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
		return nil
	})
	return nil
}

// DrawIndexed records an indexed draw.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := c.drawable("draw indexed"); err != nil {
		return err
	}
	if c.bind.index == nil {
		return rhi.NewError(rhi.InvalidOperation, "draw indexed: no index buffer is bound")
	}
	c.ops = append(c.ops, func(x *encoder) error {
		if err := x.flushRender(); err != nil {
			return err
		}
		x.render.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
		return nil
	})
	return nil
}

// indirect validates an indirect argument buffer holding n bytes at offset.
func (c *CommandBuffer) indirect(args rhi.Buffer, offset, n uint64, what string) (*Buffer, error) {
	buf, err := c.buffer(args, what)
	if err != nil {
		return nil, err
	}
	if offset%4 != 0 || offset > buf.desc.Size || buf.desc.Size-offset < n {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s: %d argument bytes at %d do not fit %d byte buffer %q",
			what, n, offset, buf.desc.Size, buf.label)
	}
	if err := c.require(buf, rhi.AllSubresources, rhi.StateIndirectArgument, what); err != nil {
		return nil, err
	}
	return buf, nil
}

// DrawIndirect records a draw whose arguments are read from args.
func (c *CommandBuffer) DrawIndirect(args rhi.Buffer, offset uint64) error {
	if err := c.drawable("draw indirect"); err != nil {
		return err
	}
	buf, err := c.indirect(args, offset, 16, "draw indirect")
	if err != nil {
		return err
	}
	c.ops = append(c.ops, func(x *encoder) error {
		if err := x.flushRender(); err != nil {
			return err
		}
		x.render.DrawIndirect(buf.raw, buf.offset+offset)
		return nil
	})
	return nil
}

// dispatchable validates a dispatch.
func (c *CommandBuffer) dispatchable(what string) error {
	if err := c.computeCapable(what); err != nil {
		return err
	}
	if c.pass != nil {
		return rhi.Errorf(rhi.InvalidOperation, "%s: not allowed inside a render pass", what)
	}
	return c.validateBindings(rhi.PipelineCompute, what)
}

// Dispatch records a compute dispatch of x*y*z workgroups.
func (c *CommandBuffer) Dispatch(x, y, z uint32) error {
	if err := c.dispatchable("dispatch"); err != nil {
		return err
	}
	limit := c.pool.dev.limits.MaxComputeWorkgroupsPerDimension
	if x > limit || y > limit || z > limit {
		return rhi.Errorf(rhi.InvalidArgument, "dispatch %dx%dx%d exceeds %d workgroups per dimension", x, y, z, limit)
	}
	c.ops = append(c.ops, func(e *encoder) error {
		if err := e.flushCompute(); err != nil {
			return err
		}
		e.compute.Dispatch(x, y, z)
		return nil
	})
	return nil
}

// DispatchIndirect records a dispatch whose size is read from args.
func (c *CommandBuffer) DispatchIndirect(args rhi.Buffer, offset uint64) error {
	if err := c.dispatchable("dispatch indirect"); err != nil {
		return err
	}
	buf, err := c.indirect(args, offset, 12, "dispatch indirect")
	if err != nil {
		return err
	}
	c.ops = append(c.ops, func(x *encoder) error {
		if err := x.flushCompute(); err != nil {
			return err
		}
		x.compute.DispatchIndirect(buf.raw, buf.offset+offset)
		return nil
	})
	return nil
}

// copyPair validates the source and destination of a copy.
func (c *CommandBuffer) copyPair(src, dst stateful, srcRng, dstRng rhi.SubresourceRange, what string) error {
	if err := c.require(src, srcRng, rhi.StateCopySource, what); err != nil {
		return err
	}
	return c.require(dst, dstRng, rhi.StateCopyDest, what)
}

// CopyBuffer copies regions from src to dst. Offsets and sizes must be
// multiples of 4.
func (c *CommandBuffer) CopyBuffer(src, dst rhi.Buffer, regions ...rhi.BufferCopyRegion) error {
	if err := c.outside("copy buffer"); err != nil {
		return err
	}
	s, err := c.buffer(src, "copy buffer")
	if err != nil {
		return err
	}
	t, err := c.buffer(dst, "copy buffer")
	if err != nil {
		return err
	}
	raw := make([]hal.BufferCopy, len(regions))
	for i, r := range regions {
		if r.Size == 0 || (r.SrcOffset|r.DstOffset|r.Size)%4 != 0 {
			return rhi.Errorf(rhi.InvalidArgument, "copy buffer region %d: offsets and size must be non-zero multiples of 4", i)
		}
		if r.SrcOffset > s.desc.Size || s.desc.Size-r.SrcOffset < r.Size ||
			r.DstOffset > t.desc.Size || t.desc.Size-r.DstOffset < r.Size {
			return rhi.Errorf(rhi.InvalidArgument, "copy buffer region %d overflows %q or %q", i, s.label, t.label)
		}
		if s == t && r.SrcOffset < r.DstOffset+r.Size && r.DstOffset < r.SrcOffset+r.Size {
			return rhi.Errorf(rhi.InvalidArgument, "copy buffer region %d overlaps itself", i)
		}
		raw[i] = hal.BufferCopy{SrcOffset: s.offset + r.SrcOffset, DstOffset: t.offset + r.DstOffset, Size: r.Size}
	}
	if err := c.copyPair(s, t, rhi.AllSubresources, rhi.AllSubresources, "copy buffer"); err != nil {
		return err
	}
	c.ops = append(c.ops, func(x *encoder) error {
		x.cmd().CopyBufferToBuffer(s.raw, t.raw, raw)
		return nil
	})
	return nil
}

// copyRange returns the subresources a copy location touches.
func copyRange(t *Texture, loc rhi.TextureCopyLocation, depth uint32) rhi.SubresourceRange {
	layers := uint32(1)
	if t.desc.Type != rhi.TextureType3D {
		layers = max(depth, 1)
	}
	return rhi.SubresourceRange{
		BaseMipLevel:    loc.MipLevel,
		MipLevelCount:   1,
		BaseArrayLayer:  loc.ArrayLayer,
		ArrayLayerCount: layers,
	}
}

// checkBox checks that a copy box lies within mip loc.MipLevel of t.
func checkBox(t *Texture, loc rhi.TextureCopyLocation, size rhi.Extent3D, what string) error {
	if loc.MipLevel >= t.desc.MipLevels {
		return rhi.Errorf(rhi.InvalidArgument, "%s: mip %d outside texture %q", what, loc.MipLevel, t.label)
	}
	ext := t.mipExtent(loc.MipLevel)
	z, depth := loc.Origin.Z, ext.Depth
	if t.desc.Type != rhi.TextureType3D {
		z, depth = loc.ArrayLayer, t.desc.ArraySize
	}
	if size.Width == 0 || size.Height == 0 ||
		loc.Origin.X+size.Width > ext.Width || loc.Origin.Y+size.Height > ext.Height ||
		z+max(size.Depth, 1) > depth {
		return rhi.Errorf(rhi.InvalidArgument, "%s: box %+v at %+v outside texture %q mip %d", what, size, loc.Origin, t.label, loc.MipLevel)
	}
	return nil
}

func imageCopy(t *Texture, loc rhi.TextureCopyLocation) hal.ImageCopyTexture {
	z := loc.Origin.Z
	if t.desc.Type != rhi.TextureType3D {
		z = loc.ArrayLayer
	}
	return hal.ImageCopyTexture{
		Texture:  t.raw,
		MipLevel: loc.MipLevel,
		Origin:   hal.Origin3D{X: loc.Origin.X, Y: loc.Origin.Y, Z: z},
		Aspect:   gputypes.TextureAspectAll,
	}
}

func halExtent(e rhi.Extent3D) hal.Extent3D {
	return hal.Extent3D{Width: e.Width, Height: e.Height, DepthOrArrayLayers: max(e.Depth, 1)}
}

// CopyTexture copies regions between textures of the same format.
func (c *CommandBuffer) CopyTexture(src, dst rhi.Texture, regions ...rhi.TextureCopyRegion) error {
	if err := c.outside("copy texture"); err != nil {
		return err
	}
	s, err := c.texture(src, "copy texture")
	if err != nil {
		return err
	}
	t, err := c.texture(dst, "copy texture")
	if err != nil {
		return err
	}
	if s.desc.Format != t.desc.Format {
		return rhi.Errorf(rhi.InvalidArgument, "copy texture: formats %v and %v differ", s.desc.Format, t.desc.Format)
	}
	raw := make([]hal.TextureCopy, len(regions))
	for i, r := range regions {
		if err := checkBox(s, r.Src, r.Size, "copy texture source"); err != nil {
			return err
		}
		if err := checkBox(t, r.Dst, r.Size, "copy texture destination"); err != nil {
			return err
		}
		if err := c.copyPair(s, t, copyRange(s, r.Src, r.Size.Depth), copyRange(t, r.Dst, r.Size.Depth), "copy texture"); err != nil {
			return err
		}
		raw[i] = hal.TextureCopy{SrcBase: imageCopy(s, r.Src), DstBase: imageCopy(t, r.Dst), Size: halExtent(r.Size)}
	}
	c.ops = append(c.ops, func(x *encoder) error {
		x.cmd().CopyTextureToTexture(s.raw, t.raw, raw)
		return nil
	})
	return nil
}

// bufferTextureCopies validates copies between b and t and converts them.
func bufferTextureCopies(b *Buffer, t *Texture, regions []rhi.BufferTextureCopyRegion, what string) ([]hal.BufferTextureCopy, error) {
	bpt := uint64(rhi.BytesPerTexel(t.desc.Format))
	if bpt == 0 {
		return nil, rhi.Errorf(rhi.NotImplemented, "%s: format %v has no linear layout", what, t.desc.Format)
	}
	raw := make([]hal.BufferTextureCopy, len(regions))
	for i, r := range regions {
		if err := checkBox(t, r.Texture, r.Size, what); err != nil {
			return nil, err
		}
		row := uint64(r.BytesPerRow)
		if row == 0 {
			row = uint64(r.Size.Width) * bpt
		}
		rows := uint64(r.RowsPerImage)
		if rows == 0 {
			rows = uint64(r.Size.Height)
		}
		if row < uint64(r.Size.Width)*bpt || rows < uint64(r.Size.Height) {
			return nil, rhi.Errorf(rhi.InvalidArgument, "%s region %d: row pitch %d or image height %d is too small", what, i, row, rows)
		}
		depth := uint64(max(r.Size.Depth, 1))
		need := row*rows*(depth-1) + row*(uint64(r.Size.Height)-1) + uint64(r.Size.Width)*bpt
		if r.BufferOffset > b.desc.Size || b.desc.Size-r.BufferOffset < need {
			return nil, rhi.Errorf(rhi.InvalidArgument, "%s region %d: %d bytes at %d overflow %d byte buffer %q",
				what, i, need, r.BufferOffset, b.desc.Size, b.label)
		}
		raw[i] = hal.BufferTextureCopy{
			BufferLayout: hal.ImageDataLayout{
				Offset:       b.offset + r.BufferOffset,
				BytesPerRow:  uint32(row),
				RowsPerImage: uint32(rows),
			},
			TextureBase: imageCopy(t, r.Texture),
			Size:        halExtent(r.Size),
		}
	}
	return raw, nil
}

// CopyBufferToTexture uploads regions of src into dst.
func (c *CommandBuffer) CopyBufferToTexture(src rhi.Buffer, dst rhi.Texture, regions ...rhi.BufferTextureCopyRegion) error {
	if err := c.outside("copy buffer to texture"); err != nil {
		return err
	}
	s, err := c.buffer(src, "copy buffer to texture")
	if err != nil {
		return err
	}
	t, err := c.texture(dst, "copy buffer to texture")
	if err != nil {
		return err
	}
	raw, err := bufferTextureCopies(s, t, regions, "copy buffer to texture")
	if err != nil {
		return err
	}
	for _, r := range regions {
		if err := c.copyPair(s, t, rhi.AllSubresources, copyRange(t, r.Texture, r.Size.Depth), "copy buffer to texture"); err != nil {
			return err
		}
	}
	c.ops = append(c.ops, func(x *encoder) error {
		x.cmd().CopyBufferToTexture(s.raw, t.raw, raw)
		return nil
	})
	return nil
}

// CopyTextureToBuffer reads regions of src back into dst.
func (c *CommandBuffer) CopyTextureToBuffer(src rhi.Texture, dst rhi.Buffer, regions ...rhi.BufferTextureCopyRegion) error {
	if err := c.outside("copy texture to buffer"); err != nil {
		return err
	}
	s, err := c.texture(src, "copy texture to buffer")
	if err != nil {
		return err
	}
	t, err := c.buffer(dst, "copy texture to buffer")
	if err != nil {
		return err
	}
	raw, err := bufferTextureCopies(t, s, regions, "copy texture to buffer")
	if err != nil {
		return err
	}
	for _, r := range regions {
		if err := c.copyPair(s, t, copyRange(s, r.Texture, r.Size.Depth), rhi.AllSubresources, "copy texture to buffer"); err != nil {
			return err
		}
	}
	c.ops = append(c.ops, func(x *encoder) error {
		x.cmd().CopyTextureToBuffer(s.raw, t.raw, raw)
		return nil
	})
	return nil
}

// ClearBuffer zeroes size bytes at offset. A zero size clears to the end.
func (c *CommandBuffer) ClearBuffer(b rhi.Buffer, offset, size uint64) error {
	if err := c.outside("clear buffer"); err != nil {
		return err
	}
	buf, err := c.buffer(b, "clear buffer")
	if err != nil {
		return err
	}
	if offset > buf.desc.Size {
		return rhi.Errorf(rhi.InvalidArgument, "clear buffer: offset %d outside %d byte buffer %q", offset, buf.desc.Size, buf.label)
	}
	if size == 0 {
		size = buf.desc.Size - offset
	}
	if (offset|size)%4 != 0 || buf.desc.Size-offset < size {
		return rhi.Errorf(rhi.InvalidArgument, "clear buffer: %d bytes at %d are misaligned or overflow %q", size, offset, buf.label)
	}
	if err := c.require(buf, rhi.AllSubresources, rhi.StateCopyDest, "clear buffer"); err != nil {
		return err
	}
	c.ops = append(c.ops, func(x *encoder) error {
		x.cmd().ClearBuffer(buf.raw, buf.offset+offset, size)
		return nil
	})
	return nil
}

func (c *CommandBuffer) eventOp(ev rhi.Event, set bool, what string) error {
	if err := c.outside(what); err != nil {
		return err
	}
	e, ok := ev.(*Event)
	if !ok || e == nil || !c.pool.dev.owns(&e.object) {
		return rhi.Errorf(rhi.InvalidArgument, "%s: event was not created by this device", what)
	}
	if err := e.alive("event"); err != nil {
		return err
	}
	c.ref(e)
	c.events = append(c.events, eventOp{event: e, set: set})
	return nil
}

// SetEvent sets e when the buffer retires.
func (c *CommandBuffer) SetEvent(e rhi.Event) error { return c.eventOp(e, true, "set event") }

// ResetEvent clears e when the buffer retires.
func (c *CommandBuffer) ResetEvent(e rhi.Event) error { return c.eventOp(e, false, "reset event") }

// ExecuteBundle replays an executable bundle inside the open render pass.
// The bundle's state requirements are checked against this buffer.
func (c *CommandBuffer) ExecuteBundle(bundle rhi.CommandBuffer) error {
	if err := c.recording("execute bundle"); err != nil {
		return err
	}
	if c.bundle() || c.pass == nil {
		return rhi.NewError(rhi.InvalidOperation, "execute bundle: needs a primary buffer inside a render pass")
	}
	b, err := c.pool.dev.commandBuffer(bundle)
	if err != nil {
		return err
	}
	if !b.bundle() {
		return rhi.NewError(rhi.InvalidArgument, "execute bundle: command buffer is not a bundle")
	}
	if s := b.State(); s != rhi.CommandBufferExecutable {
		return rhi.Errorf(rhi.InvalidOperation, "execute bundle: bundle is %s, not Executable", s)
	}
	for _, u := range b.uses {
		if err := c.resource(u.res, "execute bundle"); err != nil {
			return err
		}
		if err := c.require(u.res, u.rng, u.need, "execute bundle"); err != nil {
			return err
		}
	}
	for o := range b.refs {
		c.ref(o)
	}
	for s := range b.sets {
		c.sets[s] = struct{}{}
	}

	ops := slices.Clip(b.ops)
	c.ops = append(c.ops, func(x *encoder) error {
		saved := x.state.clone()
		x.state = bindings{}
		x.push = nil
		for _, o := range ops {
			if err := o(x); err != nil {
				return err
			}
		}
		x.state = saved
		x.push = nil
		x.changed()
		return nil
	})
	return nil
}

// NativeHandle identifies the buffer. The HAL command buffer only exists
// while the queue worker encodes it.
func (c *CommandBuffer) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: c.pool.dev.adapter.info.Backend, Kind: rhi.HandleCommandBuffer, Value: uintptr(c.id)}
}

// retire updates the lifecycle state after one submission completed.
// Buffers of pools without ResetCommandBuffer stay Pending once retired
// until the pool is reset.
func (c *CommandBuffer) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.inflight > 0 {
		return
	}
	switch {
	case c.usage.Contains(rhi.CommandBufferOneTimeSubmit) || c.pool.destroyed.Load():
		c.state = rhi.CommandBufferInvalid
	case c.pool.desc.Flags.Contains(rhi.CommandPoolResetCommandBuffer):
		c.state = rhi.CommandBufferExecutable
	}
}
