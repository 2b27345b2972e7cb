package wgpu

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

func newUniformLayout(t *testing.T, d *Device) rhi.DescriptorSetLayout {
	t.Helper()
	l, err := d.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Label: "uniforms",
		Ranges: []rhi.DescriptorRange{
			{Type: rhi.DescriptorTypeUniformBuffer, Binding: 0, Count: 1, Stages: gputypes.ShaderStageVertex},
		},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout() error = %v", err)
	}
	return l
}

func TestDescriptorSetLayoutValidation(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name   string
		ranges []rhi.DescriptorRange
	}{
		{"overlap", []rhi.DescriptorRange{
			{Type: rhi.DescriptorTypeUniformBuffer, Binding: 0, Count: 2},
			{Type: rhi.DescriptorTypeSampler, Binding: 1},
		}},
		{"unknown type", []rhi.DescriptorRange{
			{Type: rhi.DescriptorType(200), Binding: 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{Label: tt.name, Ranges: tt.ranges})
			wantCode(t, "CreateDescriptorSetLayout", err, rhi.InvalidArgument)
		})
	}
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := newTestDevice(t)
	layout := newUniformLayout(t, d)

	pool, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{
		Label:     "small",
		MaxSets:   4,
		PoolSizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 2}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}

	var sets []rhi.DescriptorSet
	for i := range 2 {
		s, err := pool.AllocateDescriptorSet(layout)
		if err != nil {
			t.Fatalf("AllocateDescriptorSet(%d) error = %v", i, err)
		}
		sets = append(sets, s)
	}
	_, err = pool.AllocateDescriptorSet(layout)
	wantCode(t, "allocation past capacity", err, rhi.OutOfMemory)

	for i, s := range sets {
		if !s.IsValid() {
			t.Errorf("set %d invalid after a failed allocation", i)
		}
	}
	stats := pool.GetStats()
	if stats.AllocatedSets != 2 || stats.Used[rhi.DescriptorTypeUniformBuffer] != 2 {
		t.Errorf("GetStats() = %+v, want 2 sets using 2 uniform buffers", stats)
	}

	if err := pool.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	for i, s := range sets {
		if s.IsValid() {
			t.Errorf("set %d still valid after Reset", i)
		}
	}
	if _, err := pool.AllocateDescriptorSet(layout); err != nil {
		t.Errorf("AllocateDescriptorSet() after Reset error = %v", err)
	}
}

func TestDescriptorPoolMaxSets(t *testing.T) {
	d := newTestDevice(t)
	layout := newUniformLayout(t, d)

	pool, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{
		MaxSets:   1,
		PoolSizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 8}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	if _, err := pool.AllocateDescriptorSet(layout); err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}
	_, err = pool.AllocateDescriptorSet(layout)
	wantCode(t, "allocation past MaxSets", err, rhi.OutOfMemory)

	_, err = d.CreateDescriptorPool(rhi.DescriptorPoolDesc{})
	wantCode(t, "pool without sets", err, rhi.InvalidArgument)
}

func TestFreeDescriptorSet(t *testing.T) {
	d := newTestDevice(t)
	layout := newUniformLayout(t, d)
	sizes := []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}}

	fixed, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{MaxSets: 1, PoolSizes: sizes})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	s, err := fixed.AllocateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}
	wantCode(t, "free without FreeDescriptorSet", fixed.FreeDescriptorSet(s), rhi.InvalidOperation)

	freeable, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{MaxSets: 1, PoolSizes: sizes, FreeDescriptorSet: true})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	s, err = freeable.AllocateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}
	if err := freeable.FreeDescriptorSet(s); err != nil {
		t.Fatalf("FreeDescriptorSet() error = %v", err)
	}
	if s.IsValid() {
		t.Error("IsValid() = true after FreeDescriptorSet")
	}
	wantCode(t, "double free", freeable.FreeDescriptorSet(s), rhi.InvalidArgument)
	if _, err := freeable.AllocateDescriptorSet(layout); err != nil {
		t.Errorf("AllocateDescriptorSet() after free error = %v", err)
	}
}

func TestUpdateDescriptor(t *testing.T) {
	d := newTestDevice(t)
	layout := newUniformLayout(t, d)
	pool, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{
		MaxSets:   1,
		PoolSizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	set, err := pool.AllocateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}

	ubo := newBufferOf(t, d, "ubo", 256, rhi.MemoryTypeUpload, rhi.BufferUsageConstant)
	vbo := newBufferOf(t, d, "vbo", 256, rhi.MemoryTypeUpload, rhi.BufferUsageVertex)

	tests := []struct {
		name string
		w    rhi.DescriptorWrite
		code rhi.ErrorCode
	}{
		{"ok", rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: ubo}, rhi.Unknown},
		{"missing binding", rhi.DescriptorWrite{Binding: 3, Type: rhi.DescriptorTypeUniformBuffer, Buffer: ubo}, rhi.InvalidArgument},
		{"type mismatch", rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeStorageBuffer, Buffer: ubo}, rhi.InvalidArgument},
		{"missing usage", rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: vbo}, rhi.InvalidArgument},
		{"range overflow", rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: ubo, Offset: 128, Range: 256}, rhi.InvalidArgument},
		{"array element", rhi.DescriptorWrite{Binding: 0, ArrayElement: 1, Type: rhi.DescriptorTypeUniformBuffer, Buffer: ubo}, rhi.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := set.UpdateDescriptor(tt.w)
			if tt.code == rhi.Unknown {
				if err != nil {
					t.Fatalf("UpdateDescriptor() error = %v", err)
				}
				return
			}
			wantCode(t, "UpdateDescriptor", err, tt.code)
		})
	}
}

func TestDescriptorContentsKeepRecordedBindings(t *testing.T) {
	d := newTestDevice(t)
	layout := newUniformLayout(t, d)
	pool, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{
		MaxSets:   1,
		PoolSizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	rs, err := pool.AllocateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}
	set := rs.(*DescriptorSet)

	first := newBufferOf(t, d, "first", 256, rhi.MemoryTypeUpload, rhi.BufferUsageConstant)
	second := newBufferOf(t, d, "second", 256, rhi.MemoryTypeUpload, rhi.BufferUsageConstant)
	write := func(b *Buffer) {
		t.Helper()
		if err := set.UpdateDescriptor(rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: b}); err != nil {
			t.Fatalf("UpdateDescriptor(%q) error = %v", b.label, err)
		}
	}

	write(first)
	recorded := set.contents()
	write(second)
	latest := set.contents()

	if recorded.gen == latest.gen {
		t.Fatalf("contents generation did not change on update: %d", recorded.gen)
	}
	if got := recorded.entries[0].buffer; got != first {
		t.Errorf("recorded contents bind %q, want %q", got.label, first.label)
	}
	if got := latest.entries[0].buffer; got != second {
		t.Errorf("latest contents bind %q, want %q", got.label, second.label)
	}

	tests := []struct {
		name      string
		contents  setContents
		transient bool
	}{
		{"replaced contents", recorded, true},
		{"latest contents", latest, false},
	}
	for _, tt := range tests {
		group, transient, err := set.bindGroup(tt.contents)
		if err != nil {
			t.Fatalf("%s: bindGroup() error = %v", tt.name, err)
		}
		if transient != tt.transient {
			t.Errorf("%s: transient = %v, want %v", tt.name, transient, tt.transient)
		}
		if transient {
			d.raw.DestroyBindGroup(group)
		}
	}

	cached, _, err := set.bindGroup(latest)
	if err != nil {
		t.Fatalf("bindGroup() error = %v", err)
	}
	if h := set.NativeHandle(); h.Object != cached {
		t.Errorf("NativeHandle().Object = %v, want the cached group", h.Object)
	}

	// Destroying the replacement buffer does not touch what was recorded.
	second.Destroy()
	if recorded.entries[0].buffer.destroyed.Load() {
		t.Error("recorded buffer reported destroyed")
	}
}

func TestDrawKeepsRecordedDescriptor(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)
	vs, fs := newTriangleShaders(t, d)
	layout := newGlobalsLayout(t, d)
	p, err := d.CreatePipelineState(rhi.PipelineStateDesc{
		Kind:             rhi.PipelineGraphics,
		Shaders:          []rhi.Shader{vs, fs},
		Layouts:          []rhi.DescriptorSetLayout{layout},
		PushConstantSize: 16,
		ColorFormats:     []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
		Topology:         gputypes.PrimitiveTopologyTriangleList,
	})
	if err != nil {
		t.Fatalf("CreatePipelineState() error = %v", err)
	}
	pool, err := d.CreateDescriptorPool(rhi.DescriptorPoolDesc{
		MaxSets:   1,
		PoolSizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool() error = %v", err)
	}
	set, err := pool.AllocateDescriptorSet(layout)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet() error = %v", err)
	}
	target, err := d.CreateTexture(rhi.TextureDesc{
		Label:  "target",
		Type:   rhi.TextureType2D,
		Format: gputypes.TextureFormatBGRA8Unorm,
		Width:  4,
		Height: 4,
		Usage:  rhi.TextureUsageRenderTarget,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	view, err := target.CreateView(rhi.TextureViewDesc{Label: "target"})
	if err != nil {
		t.Fatalf("CreateView() error = %v", err)
	}

	first := newBufferOf(t, d, "first", 256, rhi.MemoryTypeDefault, rhi.BufferUsageConstant)
	second := newBufferOf(t, d, "second", 256, rhi.MemoryTypeDefault, rhi.BufferUsageConstant)
	write := func(b *Buffer) {
		t.Helper()
		if err := set.UpdateDescriptor(rhi.DescriptorWrite{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: b}); err != nil {
			t.Fatalf("UpdateDescriptor(%q) error = %v", b.label, err)
		}
	}
	write(first)

	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	steps := []struct {
		name string
		err  error
	}{
		{"Begin", c.Begin()},
		{"TransitionState", c.TransitionState(first, rhi.StateConstantBuffer)},
		{"TransitionLayout", c.TransitionLayout(target, rhi.AllSubresources, rhi.StateRenderTarget)},
		{"BeginRenderPass", c.BeginRenderPass(rhi.RenderPassDesc{
			ColorAttachments: []rhi.RenderPassColorAttachment{{
				View:    view,
				LoadOp:  gputypes.LoadOpClear,
				StoreOp: gputypes.StoreOpStore,
			}},
		})},
		{"SetPipelineState", c.SetPipelineState(p)},
		{"SetViewport", c.SetViewport(rhi.Viewport{Width: 4, Height: 4, MaxDepth: 1})},
		{"SetScissor", c.SetScissor(rhi.Scissor{Width: 4, Height: 4})},
		{"SetDescriptorSet", c.SetDescriptorSet(0, set)},
		{"PushConstants", c.PushConstants(0, make([]byte, 16))},
		{"Draw", c.Draw(3, 1, 0, 0)},
		{"EndRenderPass", c.EndRenderPass()},
		{"End", c.End()},
	}
	for _, s := range steps {
		if s.err != nil {
			t.Fatalf("%s() error = %v", s.name, s.err)
		}
	}

	// Rewriting the set after the draw was recorded leaves the draw bound to
	// the first buffer.
	write(second)
	second.Destroy()
	if _, ok := c.refs[first]; !ok {
		t.Errorf("command buffer does not reference %q", first.label)
	}
	if _, ok := c.refs[second]; ok {
		t.Errorf("command buffer references %q, which was written after the draw", second.label)
	}

	if _, err := q.Submit(rhi.SubmitInfo{CommandBuffers: []rhi.CommandBuffer{c}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := q.WaitIdle(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if d.IsLost() {
		t.Fatal("device lost after replaying a draw with a rewritten set")
	}
	if s := first.State(); s != rhi.StateConstantBuffer {
		t.Errorf("State() = %s, want ConstantBuffer", s)
	}
}
