package shader

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

const computeWGSL = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(1) @binding(0) var<uniform> scale: f32;

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    dst[id.x] = src[id.x] * scale;
}
`

const textureWGSL = `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var samp: sampler;

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(i32(idx) - 1);
    let y = f32(i32(idx & 1u) * 2 - 1);
    out.position = vec4<f32>(x, y, 0.0, 1.0);
    out.uv = vec2<f32>(x, y);
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(tex, samp, in.uv);
}
`

func TestCompileReflectsCompute(t *testing.T) {
	m, err := Compile(computeWGSL, Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	ep, ok := m.Reflection.EntryPoint("main")
	if !ok {
		t.Fatal("entry point main not reflected")
	}
	if ep.Stage != gputypes.ShaderStageCompute {
		t.Errorf("Stage = %v, want compute", ep.Stage)
	}
	if ep.Workgroup != [3]uint32{64, 1, 1} {
		t.Errorf("Workgroup = %v, want [64 1 1]", ep.Workgroup)
	}

	want := []rhi.BindingInfo{
		{Name: "src", Group: 0, Binding: 0, Type: rhi.DescriptorTypeReadOnlyStorageBuffer},
		{Name: "dst", Group: 0, Binding: 1, Type: rhi.DescriptorTypeStorageBuffer},
		{Name: "scale", Group: 1, Binding: 0, Type: rhi.DescriptorTypeUniformBuffer},
	}
	if len(m.Reflection.Bindings) != len(want) {
		t.Fatalf("Bindings = %+v, want %+v", m.Reflection.Bindings, want)
	}
	for i, b := range m.Reflection.Bindings {
		if b != want[i] {
			t.Errorf("Bindings[%d] = %+v, want %+v", i, b, want[i])
		}
	}
}

func TestCompileReflectsHandles(t *testing.T) {
	m, err := Compile(textureWGSL, Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(m.Reflection.EntryPoints) != 2 {
		t.Fatalf("EntryPoints = %+v, want 2", m.Reflection.EntryPoints)
	}
	if ep, _ := m.Reflection.EntryPoint("fs_main"); ep.Stage != gputypes.ShaderStageFragment {
		t.Errorf("fs_main stage = %v, want fragment", ep.Stage)
	}

	types := map[string]rhi.DescriptorType{}
	for _, b := range m.Reflection.Bindings {
		types[b.Name] = b.Type
	}
	if types["tex"] != rhi.DescriptorTypeSampledTexture {
		t.Errorf("tex type = %v, want SampledTexture", types["tex"])
	}
	if types["samp"] != rhi.DescriptorTypeSampler {
		t.Errorf("samp type = %v, want Sampler", types["samp"])
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   error
	}{
		{"syntax", "fn main( {", ErrSyntax},
		{"unknown identifier", "@compute @workgroup_size(1) fn main() { let x = y; }", ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source, Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Compile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCompileEmitsSPIRV(t *testing.T) {
	m, err := Compile(computeWGSL, Options{EmitSPIRV: true})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(m.SPIRV) == 0 {
		t.Fatal("no SPIR-V emitted")
	}
	const magic = 0x07230203
	if m.SPIRV[0] != magic {
		t.Errorf("SPIRV[0] = %#x, want %#x", m.SPIRV[0], magic)
	}
}

func TestWords(t *testing.T) {
	got := Words([]byte{0x03, 0x02, 0x23, 0x07, 0xff})
	if len(got) != 1 || got[0] != 0x07230203 {
		t.Errorf("Words() = %#x, want [0x7230203]", got)
	}
}

func TestLayout(t *testing.T) {
	m, err := Compile(computeWGSL, Options{})
	if err != nil {
		t.Fatal(err)
	}
	layouts := Layout(m.Reflection, gputypes.ShaderStageCompute)
	if len(layouts) != 2 {
		t.Fatalf("Layout() = %d groups, want 2", len(layouts))
	}
	if len(layouts[0].Ranges) != 2 || len(layouts[1].Ranges) != 1 {
		t.Errorf("ranges per group = %d, %d, want 2, 1", len(layouts[0].Ranges), len(layouts[1].Ranges))
	}
	for _, l := range layouts {
		if err := l.Validate(); err != nil {
			t.Errorf("Validate(%s) error = %v", l.Label, err)
		}
	}
}
