package wgpu

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

const triangleWGSL = `
struct Globals {
    color: vec4<f32>,
}
@group(0) @binding(0) var<uniform> globals: Globals;

struct Push {
    offset: vec4<f32>,
}
@group(1) @binding(0) var<uniform> push: Push;

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(idx) - 1);
    let y = f32(i32(idx & 1u) * 2 - 1);
    return vec4<f32>(x, y, 0.0, 1.0) + push.offset;
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return globals.color;
}
`

func newTriangleShaders(t *testing.T, d *Device) (vs, fs rhi.Shader) {
	t.Helper()
	var err error
	vs, err = d.CreateShader(rhi.ShaderDesc{Label: "vs", Stage: gputypes.ShaderStageVertex, Language: rhi.ShaderLanguageWGSL, Source: triangleWGSL})
	if err != nil {
		t.Fatalf("CreateShader(vertex) error = %v", err)
	}
	fs, err = d.CreateShader(rhi.ShaderDesc{Label: "fs", Stage: gputypes.ShaderStageFragment, Language: rhi.ShaderLanguageWGSL, Source: triangleWGSL})
	if err != nil {
		t.Fatalf("CreateShader(fragment) error = %v", err)
	}
	return vs, fs
}

func newGlobalsLayout(t *testing.T, d *Device) rhi.DescriptorSetLayout {
	t.Helper()
	l, err := d.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Label: "globals",
		Ranges: []rhi.DescriptorRange{
			{Type: rhi.DescriptorTypeUniformBuffer, Binding: 0, Stages: gputypes.ShaderStageFragment},
		},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout() error = %v", err)
	}
	return l
}

func TestCreateShader(t *testing.T) {
	d := newTestDevice(t)
	vs, _ := newTriangleShaders(t, d)

	if s := d.compiled.Stats(); s.Misses != 1 || s.Hits != 1 {
		t.Errorf("compile cache = %+v, want both stages served by one compile", s)
	}
	if ep := vs.Desc().EntryPoint; ep != "vs_main" {
		t.Errorf("EntryPoint = %q, want vs_main", ep)
	}
	r := vs.Reflection()
	if len(r.EntryPoints) != 2 {
		t.Errorf("EntryPoints = %+v, want vs_main and fs_main", r.EntryPoints)
	}
	if len(r.Bindings) != 2 {
		t.Errorf("Bindings = %+v, want globals and push", r.Bindings)
	}

	tests := []struct {
		name string
		desc rhi.ShaderDesc
	}{
		{"empty source", rhi.ShaderDesc{Stage: gputypes.ShaderStageVertex}},
		{"syntax", rhi.ShaderDesc{Stage: gputypes.ShaderStageVertex, Source: "fn broken( {"}},
		{"two stages", rhi.ShaderDesc{Stage: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment, Source: triangleWGSL}},
		{"missing entry point", rhi.ShaderDesc{Stage: gputypes.ShaderStageVertex, Source: triangleWGSL, EntryPoint: "main"}},
		{"entry point of another stage", rhi.ShaderDesc{Stage: gputypes.ShaderStageVertex, Source: triangleWGSL, EntryPoint: "fs_main"}},
		{"compute without entry point", rhi.ShaderDesc{Stage: gputypes.ShaderStageCompute, Source: triangleWGSL}},
		{"not spirv", rhi.ShaderDesc{Stage: gputypes.ShaderStageCompute, Language: rhi.ShaderLanguageSPIRV, Bytecode: []uint32{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateShader(tt.desc)
			wantCode(t, "CreateShader", err, rhi.InvalidArgument)
		})
	}
}

func TestCreatePipelineState(t *testing.T) {
	d := newTestDevice(t)
	vs, fs := newTriangleShaders(t, d)
	layout := newGlobalsLayout(t, d)

	base := rhi.PipelineStateDesc{
		Label:            "triangle",
		Kind:             rhi.PipelineGraphics,
		Shaders:          []rhi.Shader{vs, fs},
		Layouts:          []rhi.DescriptorSetLayout{layout},
		PushConstantSize: 16,
		ColorFormats:     []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
		Topology:         gputypes.PrimitiveTopologyTriangleList,
	}
	p, err := d.CreatePipelineState(base)
	if err != nil {
		t.Fatalf("CreatePipelineState() error = %v", err)
	}
	if k := p.Kind(); k != rhi.PipelineGraphics {
		t.Errorf("Kind() = %v, want Graphics", k)
	}
	if desc := p.Desc(); desc.SampleCount != 1 || desc.DepthCompare != gputypes.CompareFunctionLess {
		t.Errorf("Desc() defaults = %d samples, %v, want 1 sample and Less", desc.SampleCount, desc.DepthCompare)
	}

	storage, err := d.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Ranges: []rhi.DescriptorRange{{Type: rhi.DescriptorTypeStorageBuffer, Binding: 0}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout() error = %v", err)
	}

	tests := []struct {
		name   string
		modify func(*rhi.PipelineStateDesc)
	}{
		{"no layouts", func(p *rhi.PipelineStateDesc) { p.Layouts = nil }},
		{"no push constants", func(p *rhi.PipelineStateDesc) { p.PushConstantSize = 0 }},
		{"unaligned push constants", func(p *rhi.PipelineStateDesc) { p.PushConstantSize = 18 }},
		{"oversized push constants", func(p *rhi.PipelineStateDesc) { p.PushConstantSize = 512 }},
		{"binding type mismatch", func(p *rhi.PipelineStateDesc) { p.Layouts = []rhi.DescriptorSetLayout{storage} }},
		{"shaders swapped", func(p *rhi.PipelineStateDesc) { p.Shaders = []rhi.Shader{fs, vs} }},
		{"compute kind", func(p *rhi.PipelineStateDesc) { p.Kind = rhi.PipelineCompute; p.Shaders = []rhi.Shader{vs} }},
		{"no shaders", func(p *rhi.PipelineStateDesc) { p.Shaders = nil }},
		{"too many groups", func(p *rhi.PipelineStateDesc) {
			p.Layouts = []rhi.DescriptorSetLayout{layout, layout, layout, layout}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := base
			tt.modify(&desc)
			_, err := d.CreatePipelineState(desc)
			wantCode(t, "CreatePipelineState", err, rhi.InvalidArgument)
		})
	}
}

func TestPushConstantsRecording(t *testing.T) {
	d := newTestDevice(t)
	vs, fs := newTriangleShaders(t, d)
	p, err := d.CreatePipelineState(rhi.PipelineStateDesc{
		Kind:             rhi.PipelineGraphics,
		Shaders:          []rhi.Shader{vs, fs},
		Layouts:          []rhi.DescriptorSetLayout{newGlobalsLayout(t, d)},
		PushConstantSize: 16,
		ColorFormats:     []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
	})
	if err != nil {
		t.Fatalf("CreatePipelineState() error = %v", err)
	}

	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	wantCode(t, "PushConstants without a pipeline", c.PushConstants(0, make([]byte, 4)), rhi.InvalidOperation)
	if err := c.SetPipelineState(p); err != nil {
		t.Fatalf("SetPipelineState() error = %v", err)
	}

	tests := []struct {
		name   string
		offset uint32
		size   int
		code   rhi.ErrorCode
	}{
		{"whole block", 0, 16, rhi.Unknown},
		{"tail", 12, 4, rhi.Unknown},
		{"overflow", 12, 8, rhi.InvalidArgument},
		{"unaligned offset", 2, 4, rhi.InvalidArgument},
		{"unaligned size", 0, 3, rhi.InvalidArgument},
	}
	for _, tt := range tests {
		err := c.PushConstants(tt.offset, make([]byte, tt.size))
		if tt.code == rhi.Unknown {
			if err != nil {
				t.Errorf("%s: PushConstants() error = %v", tt.name, err)
			}
			continue
		}
		wantCode(t, tt.name, err, tt.code)
	}

	wantCode(t, "Draw outside a render pass", c.Draw(3, 1, 0, 0), rhi.InvalidOperation)
}

func TestDestroyedShaderKeepsPipeline(t *testing.T) {
	d := newTestDevice(t)
	vs, fs := newTriangleShaders(t, d)
	desc := rhi.PipelineStateDesc{
		Kind:             rhi.PipelineGraphics,
		Shaders:          []rhi.Shader{vs, fs},
		Layouts:          []rhi.DescriptorSetLayout{newGlobalsLayout(t, d)},
		PushConstantSize: 16,
		ColorFormats:     []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
	}
	p, err := d.CreatePipelineState(desc)
	if err != nil {
		t.Fatalf("CreatePipelineState() error = %v", err)
	}
	vs.Destroy()

	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	if err := c.SetPipelineState(p); err != nil {
		t.Errorf("SetPipelineState() after the shader was destroyed error = %v", err)
	}
	_, err = d.CreatePipelineState(desc)
	wantCode(t, "CreatePipelineState with a destroyed shader", err, rhi.InvalidOperation)
}
