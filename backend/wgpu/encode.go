package wgpu

import (
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// op is one recorded command. The queue worker replays ops against a HAL
// encoder when the batch that holds the command buffer is executed.
type op func(x *encoder) error

type vertexBinding struct {
	buffer *Buffer
	offset uint64
}

type setBinding struct {
	set     *DescriptorSet
	offsets []uint32
	// contents is what the next draw or dispatch binds. It is filled in
	// by the op recorded with that command.
	contents setContents
}

// bindings is the pipeline state commands draw and dispatch with. Command
// buffers keep one for validation; the encoder keeps one for replay.
type bindings struct {
	pipeline    *PipelineState
	sets        []setBinding
	vertex      []vertexBinding
	index       *Buffer
	indexFormat gputypes.IndexFormat
	indexOffset uint64
	viewport    *rhi.Viewport
	scissor     *rhi.Scissor
	push        []byte
}

func (b *bindings) clone() bindings {
	c := *b
	c.sets = slices.Clone(b.sets)
	c.vertex = slices.Clone(b.vertex)
	c.push = slices.Clone(b.push)
	return c
}

func (b *bindings) bindSet(index uint32, s setBinding) {
	if int(index) >= len(b.sets) {
		b.sets = append(b.sets, make([]setBinding, int(index)+1-len(b.sets))...)
	}
	b.sets[index] = s
}

func (b *bindings) bindVertex(slot uint32, v vertexBinding) {
	if int(slot) >= len(b.vertex) {
		b.vertex = append(b.vertex, make([]vertexBinding, int(slot)+1-len(b.vertex))...)
	}
	b.vertex[slot] = v
}

// encoder replays the ops of one command buffer into a HAL encoder.
type encoder struct {
	dev     *Device
	raw     hal.CommandEncoder
	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder

	state bindings
	// dirty is set when state changed since it was last applied to the
	// open pass.
	dirty bool
	// push is the bind group holding state.push, nil when stale.
	push hal.BindGroup

	// release frees objects created while encoding. It runs after the
	// batch retires.
	release []func()
}

// cmd returns the HAL encoder for commands recorded outside passes.
func (x *encoder) cmd() hal.CommandEncoder {
	x.endCompute()
	return x.raw
}

func (x *encoder) endCompute() {
	if x.compute != nil {
		x.compute.End()
		x.compute = nil
	}
}

func (x *encoder) beginRender(desc *hal.RenderPassDescriptor) {
	x.endCompute()
	x.render = x.raw.BeginRenderPass(desc)
	x.dirty = true
}

func (x *encoder) endRender() {
	if x.render != nil {
		x.render.End()
		x.render = nil
	}
	x.dirty = true
}

// finish closes any pass left open.
func (x *encoder) finish() {
	x.endCompute()
	x.endRender()
}

// changed marks the replay state as needing to be applied again.
func (x *encoder) changed() { x.dirty = true }

// freeze installs the set contents a draw or dispatch was validated with.
func (x *encoder) freeze(frozen []setContents) {
	for i, sc := range frozen {
		sb := &x.state.sets[i]
		if sb.contents.set != sc.set || sb.contents.gen != sc.gen {
			sb.contents = sc
			x.changed()
		}
	}
}

// pushGroup returns a bind group with the current push constants of p.
func (x *encoder) pushGroup(p *PipelineState) (hal.BindGroup, error) {
	if x.push != nil {
		return x.push, nil
	}
	d := x.dev
	size := pushBlockSize(p.desc.PushConstantSize)
	data := make([]byte, size)
	copy(data, x.state.push)

	buf, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: "push constants",
		Size:  size,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, d.wrap(err, rhi.OutOfMemory, "create push constant buffer")
	}
	d.queueMu.Lock()
	err = d.rawQueue.WriteBuffer(buf, 0, data)
	d.queueMu.Unlock()
	if err != nil {
		d.raw.DestroyBuffer(buf)
		return nil, d.wrap(err, rhi.Unknown, "write push constants")
	}

	group, err := d.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "push constants",
		Layout: p.push,
		Entries: []gputypes.BindGroupEntry{{
			Binding:  0,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Size: size},
		}},
	})
	if err != nil {
		d.raw.DestroyBuffer(buf)
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create push constant group")
	}
	x.release = append(x.release, func() {
		d.raw.DestroyBindGroup(group)
		d.raw.DestroyBuffer(buf)
	})
	x.push = group
	return group, nil
}

// groups resolves the bind groups of the bound sets plus the push constant
// group of p.
func (x *encoder) groups(p *PipelineState) ([]hal.BindGroup, [][]uint32, error) {
	n := len(p.layouts)
	if p.push != nil {
		n++
	}
	groups := make([]hal.BindGroup, n)
	offsets := make([][]uint32, n)
	for i := range p.layouts {
		sb := x.state.sets[i]
		g, transient, err := sb.set.bindGroup(sb.contents)
		if err != nil {
			return nil, nil, err
		}
		if transient {
			raw := x.dev.raw
			x.release = append(x.release, func() { raw.DestroyBindGroup(g) })
		}
		groups[i], offsets[i] = g, sb.offsets
	}
	if p.push != nil {
		g, err := x.pushGroup(p)
		if err != nil {
			return nil, nil, err
		}
		groups[len(p.layouts)] = g
	}
	return groups, offsets, nil
}

// flushRender applies the replay state to the open render pass.
func (x *encoder) flushRender() error {
	if !x.dirty {
		return nil
	}
	s, r := &x.state, x.render
	p := s.pipeline
	r.SetPipeline(p.render)
	groups, offsets, err := x.groups(p)
	if err != nil {
		return err
	}
	for i, g := range groups {
		r.SetBindGroup(uint32(i), g, offsets[i])
	}
	for slot, v := range s.vertex {
		if v.buffer != nil {
			r.SetVertexBuffer(uint32(slot), v.buffer.raw, v.buffer.offset+v.offset)
		}
	}
	if s.index != nil {
		r.SetIndexBuffer(s.index.raw, s.indexFormat, s.index.offset+s.indexOffset)
	}
	if v := s.viewport; v != nil {
		r.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
	if sc := s.scissor; sc != nil {
		r.SetScissorRect(sc.X, sc.Y, sc.Width, sc.Height)
	}
	x.dirty = false
	return nil
}

// flushCompute opens a compute pass if needed and applies the replay state.
func (x *encoder) flushCompute() error {
	if x.compute == nil {
		x.compute = x.raw.BeginComputePass(&hal.ComputePassDescriptor{})
		x.dirty = true
	}
	if !x.dirty {
		return nil
	}
	p := x.state.pipeline
	x.compute.SetPipeline(p.compute)
	groups, offsets, err := x.groups(p)
	if err != nil {
		return err
	}
	for i, g := range groups {
		x.compute.SetBindGroup(uint32(i), g, offsets[i])
	}
	x.dirty = false
	return nil
}

// replay runs ops in order and closes passes left open.
func (x *encoder) replay(ops []op) error {
	for _, o := range ops {
		if err := o(x); err != nil {
			x.finish()
			return err
		}
	}
	x.finish()
	return nil
}

// bufferBarriers converts tracked transitions of b to HAL barriers.
func bufferBarriers(b *Buffer, before, after rhi.ResourceState) []hal.BufferBarrier {
	return []hal.BufferBarrier{{
		Buffer: b.raw,
		Usage: hal.BufferUsageTransition{
			OldUsage: bufferUsageFor(before),
			NewUsage: bufferUsageFor(after),
		},
	}}
}

func textureRange(rng rhi.SubresourceRange) hal.TextureRange {
	return hal.TextureRange{
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    rng.BaseMipLevel,
		MipLevelCount:   rng.MipLevelCount,
		BaseArrayLayer:  rng.BaseArrayLayer,
		ArrayLayerCount: rng.ArrayLayerCount,
	}
}

// pushBlockSize rounds a push constant block up to the uniform size granule.
func pushBlockSize(n uint32) uint64 {
	return (uint64(n) + 15) &^ 15
}
