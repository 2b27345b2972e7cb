package wgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// compiledShaders is the number of WGSL modules a device keeps compiled.
const compiledShaders = 64

// maxPushConstantSize bounds the push constant block of a pipeline.
const maxPushConstantSize = 256

// Shader is a HAL shader module with its reflection.
type Shader struct {
	object
	desc       rhi.ShaderDesc
	reflection rhi.ShaderReflection
	raw        hal.ShaderModule
}

// Compile-time check.
var _ rhi.Shader = (*Shader)(nil)

// CreateShader compiles a shader. WGSL is parsed, validated and reflected
// with naga before the HAL sees it. SPIR-V is passed through with a
// reflection holding only the declared entry point.
func (d *Device) CreateShader(desc rhi.ShaderDesc) (rhi.Shader, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	switch desc.Stage {
	case gputypes.ShaderStageVertex, gputypes.ShaderStageFragment, gputypes.ShaderStageCompute:
	default:
		return nil, rhi.Errorf(rhi.InvalidArgument, "shader %q: stage %v is not a single vertex, fragment or compute stage", desc.Label, desc.Stage)
	}

	var (
		src        hal.ShaderSource
		reflection rhi.ShaderReflection
	)
	switch desc.Language {
	case rhi.ShaderLanguageWGSL:
		if desc.Source == "" {
			return nil, rhi.Errorf(rhi.InvalidArgument, "shader %q: empty WGSL source", desc.Label)
		}
		m, err := d.compiled.GetOrCreate(desc.Source, func() (*shader.Module, error) {
			return shader.Compile(desc.Source, shader.Options{})
		})
		if err != nil {
			return nil, rhi.Errorf(rhi.InvalidArgument, "shader %q: %w", desc.Label, err)
		}
		reflection = m.Reflection
		src.WGSL = desc.Source
	case rhi.ShaderLanguageSPIRV:
		if len(desc.Bytecode) == 0 || desc.Bytecode[0] != spirvMagic {
			return nil, rhi.Errorf(rhi.InvalidArgument, "shader %q: bytecode is not SPIR-V", desc.Label)
		}
		if desc.EntryPoint == "" {
			desc.EntryPoint = "main"
		}
		reflection.EntryPoints = []rhi.EntryPointInfo{{Name: desc.EntryPoint, Stage: desc.Stage}}
		src.SPIRV = desc.Bytecode
	default:
		return nil, rhi.Errorf(rhi.InvalidArgument, "shader %q: unknown language %d", desc.Label, desc.Language)
	}

	ep, err := entryPoint(desc, reflection)
	if err != nil {
		return nil, err
	}
	desc.EntryPoint = ep

	raw, err := d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: desc.Label, Source: src})
	if err != nil {
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create shader "+desc.Label)
	}
	s := &Shader{desc: desc, reflection: reflection, raw: raw}
	d.adopt(s, desc.Label)
	return s, nil
}

// entryPoint returns the entry point desc selects: the named one, or the
// only one of the stage when the name is empty.
func entryPoint(desc rhi.ShaderDesc, r rhi.ShaderReflection) (string, error) {
	if desc.EntryPoint != "" {
		ep, ok := r.EntryPoint(desc.EntryPoint)
		if !ok {
			return "", rhi.Errorf(rhi.InvalidArgument, "shader %q has no entry point %q", desc.Label, desc.EntryPoint)
		}
		if ep.Stage != desc.Stage {
			return "", rhi.Errorf(rhi.InvalidArgument, "shader %q: entry point %q is a %v stage, want %v",
				desc.Label, ep.Name, ep.Stage, desc.Stage)
		}
		return ep.Name, nil
	}
	var found []string
	for _, ep := range r.EntryPoints {
		if ep.Stage == desc.Stage {
			found = append(found, ep.Name)
		}
	}
	if len(found) != 1 {
		return "", rhi.Errorf(rhi.InvalidArgument, "shader %q has %d %v entry points; name one", desc.Label, len(found), desc.Stage)
	}
	return found[0], nil
}

// Desc returns the description with the resolved entry point.
func (s *Shader) Desc() rhi.ShaderDesc { return s.desc }

// Reflection returns the entry points and bindings of the shader.
func (s *Shader) Reflection() rhi.ShaderReflection { return s.reflection }

// NativeHandle returns the HAL shader module.
func (s *Shader) NativeHandle() rhi.NativeHandle {
	return halHandle(s.dev.adapter.info.Backend, rhi.HandleShader, s.raw)
}

// Destroy destroys the shader. Pipelines built from it stay valid.
func (s *Shader) Destroy() { s.dev.destroyObject(s) }

func (s *Shader) release() {
	d, raw := s.dev.raw, s.raw
	s.dev.deferRelease(func() { d.DestroyShaderModule(raw) })
}

// PipelineState is a HAL render or compute pipeline. Push constants live
// in a uniform buffer at binding 0 of an extra bind group placed after the
// descriptor set layouts.
type PipelineState struct {
	object
	desc    rhi.PipelineStateDesc
	layouts []*DescriptorSetLayout
	layout  hal.PipelineLayout
	push    hal.BindGroupLayout
	render  hal.RenderPipeline
	compute hal.ComputePipeline
}

// Compile-time check.
var _ rhi.PipelineState = (*PipelineState)(nil)

// CreatePipelineState validates desc against its shaders and builds the
// HAL pipeline.
func (d *Device) CreatePipelineState(desc rhi.PipelineStateDesc) (rhi.PipelineState, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	shaders, err := d.pipelineShaders(desc)
	if err != nil {
		return nil, err
	}
	layouts := make([]*DescriptorSetLayout, len(desc.Layouts))
	for i, l := range desc.Layouts {
		dl, ok := l.(*DescriptorSetLayout)
		if !ok || dl == nil || !d.owns(&dl.object) {
			return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: layout %d was not created by this device", desc.Label, i)
		}
		if err := dl.alive("descriptor set layout"); err != nil {
			return nil, err
		}
		layouts[i] = dl
	}

	if desc.PushConstantSize%4 != 0 || desc.PushConstantSize > maxPushConstantSize {
		return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: push constant size %d is not a multiple of 4 up to %d",
			desc.Label, desc.PushConstantSize, maxPushConstantSize)
	}
	groups := uint32(len(layouts))
	if desc.PushConstantSize > 0 {
		groups++
	}
	if groups > d.limits.MaxBindGroups {
		return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q needs %d bind groups, the device allows %d",
			desc.Label, groups, d.limits.MaxBindGroups)
	}
	for _, s := range shaders {
		if err := checkBindings(desc, s); err != nil {
			return nil, err
		}
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if desc.Kind == rhi.PipelineGraphics && desc.DepthCompare == gputypes.CompareFunctionUndefined {
		desc.DepthCompare = gputypes.CompareFunctionLess
	}

	p := &PipelineState{desc: desc, layouts: layouts}
	if err := d.buildPipeline(p, shaders); err != nil {
		p.destroyRaw(d.raw)
		return nil, err
	}
	d.adopt(p, desc.Label)
	return p, nil
}

// pipelineShaders checks that the shaders of desc fit its kind: one compute
// shader, or a vertex shader and an optional fragment shader.
func (d *Device) pipelineShaders(desc rhi.PipelineStateDesc) ([]*Shader, error) {
	var want []gputypes.ShaderStage
	switch desc.Kind {
	case rhi.PipelineCompute:
		want = []gputypes.ShaderStage{gputypes.ShaderStageCompute}
	case rhi.PipelineGraphics:
		want = []gputypes.ShaderStage{gputypes.ShaderStageVertex, gputypes.ShaderStageFragment}
	default:
		return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: unknown kind %d", desc.Label, desc.Kind)
	}
	if len(desc.Shaders) == 0 || len(desc.Shaders) > len(want) {
		return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: %s pipelines take 1 to %d shaders, got %d",
			desc.Label, desc.Kind, len(want), len(desc.Shaders))
	}
	out := make([]*Shader, len(desc.Shaders))
	for i, sh := range desc.Shaders {
		s, ok := sh.(*Shader)
		if !ok || s == nil || !d.owns(&s.object) {
			return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: shader %d was not created by this device", desc.Label, i)
		}
		if err := s.alive("shader"); err != nil {
			return nil, err
		}
		if s.desc.Stage != want[i] {
			return nil, rhi.Errorf(rhi.InvalidArgument, "pipeline %q: shader %d is a %v shader, want %v",
				desc.Label, i, s.desc.Stage, want[i])
		}
		out[i] = s
	}
	return out, nil
}

// checkBindings checks that every binding s declares is provided by a
// layout of desc with a matching descriptor type.
func checkBindings(desc rhi.PipelineStateDesc, s *Shader) error {
	if need := s.reflection.PushConstantSize; need > desc.PushConstantSize {
		return rhi.Errorf(rhi.InvalidArgument, "pipeline %q: shader %q uses %d bytes of push constants, %d declared",
			desc.Label, s.label, need, desc.PushConstantSize)
	}
	for _, b := range s.reflection.Bindings {
		if int(b.Group) == len(desc.Layouts) && desc.PushConstantSize > 0 &&
			b.Binding == 0 && b.Type == rhi.DescriptorTypeUniformBuffer {
			continue
		}
		if int(b.Group) >= len(desc.Layouts) {
			return rhi.Errorf(rhi.InvalidArgument, "pipeline %q: shader %q binds group %d, only %d layouts given",
				desc.Label, s.label, b.Group, len(desc.Layouts))
		}
		r, ok := desc.Layouts[b.Group].Desc().Range(b.Binding)
		if !ok {
			return rhi.Errorf(rhi.InvalidArgument, "pipeline %q: layout %d has no binding %d for %q",
				desc.Label, b.Group, b.Binding, b.Name)
		}
		if staticType(r.Type) != b.Type {
			return rhi.Errorf(rhi.InvalidArgument, "pipeline %q: binding %d.%d is %s in the layout, %s in shader %q",
				desc.Label, b.Group, b.Binding, r.Type, b.Type, s.label)
		}
	}
	return nil
}

// staticType maps dynamic buffer descriptors to their static type, which
// is what reflection reports.
func staticType(t rhi.DescriptorType) rhi.DescriptorType {
	switch t {
	case rhi.DescriptorTypeUniformBufferDynamic:
		return rhi.DescriptorTypeUniformBuffer
	case rhi.DescriptorTypeStorageBufferDynamic:
		return rhi.DescriptorTypeStorageBuffer
	}
	return t
}

func (d *Device) buildPipeline(p *PipelineState, shaders []*Shader) error {
	desc := p.desc
	bgls := make([]hal.BindGroupLayout, 0, len(p.layouts)+1)
	for _, l := range p.layouts {
		bgls = append(bgls, l.raw)
	}
	if desc.PushConstantSize > 0 {
		push, err := d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: desc.Label + " push constants",
			Entries: []gputypes.BindGroupLayoutEntry{{
				Binding:    0,
				Visibility: allStages,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			}},
		})
		if err != nil {
			return d.wrap(err, rhi.ResourceCreateFailed, "create push constant layout")
		}
		p.push = push
		bgls = append(bgls, push)
	}

	layout, err := d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: desc.Label, BindGroupLayouts: bgls})
	if err != nil {
		return d.wrap(err, rhi.ResourceCreateFailed, "create pipeline layout")
	}
	p.layout = layout

	if desc.Kind == rhi.PipelineCompute {
		cs := shaders[0]
		p.compute, err = d.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   desc.Label,
			Layout:  layout,
			Compute: hal.ComputeState{Module: cs.raw, EntryPoint: cs.desc.EntryPoint},
		})
		return d.wrap(err, rhi.ResourceCreateFailed, "create compute pipeline")
	}

	vs := shaders[0]
	rd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{Module: vs.raw, EntryPoint: vs.desc.EntryPoint, Buffers: desc.VertexBuffers},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{Count: desc.SampleCount, Mask: 0xFFFFFFFF},
	}
	if len(shaders) > 1 {
		fs := shaders[1]
		targets := make([]gputypes.ColorTargetState, len(desc.ColorFormats))
		for i, f := range desc.ColorFormats {
			targets[i] = gputypes.ColorTargetState{Format: f, WriteMask: gputypes.ColorWriteMaskAll}
		}
		rd.Fragment = &hal.FragmentState{Module: fs.raw, EntryPoint: fs.desc.EntryPoint, Targets: targets}
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		rd.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.DepthWrite,
			DepthCompare:      desc.DepthCompare,
			StencilFront:      hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			StencilBack:       hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			StencilReadMask:   0xFF,
			StencilWriteMask:  0xFF,
		}
	}
	p.render, err = d.raw.CreateRenderPipeline(rd)
	return d.wrap(err, rhi.ResourceCreateFailed, "create render pipeline")
}

// Desc returns the description with defaults applied.
func (p *PipelineState) Desc() rhi.PipelineStateDesc { return p.desc }

// Kind returns graphics or compute.
func (p *PipelineState) Kind() rhi.PipelineKind { return p.desc.Kind }

// NativeHandle returns the HAL pipeline.
func (p *PipelineState) NativeHandle() rhi.NativeHandle {
	if p.compute != nil {
		return halHandle(p.dev.adapter.info.Backend, rhi.HandlePipeline, p.compute)
	}
	return halHandle(p.dev.adapter.info.Backend, rhi.HandlePipeline, p.render)
}

// Destroy destroys the pipeline once the batches that use it retire.
func (p *PipelineState) Destroy() { p.dev.destroyObject(p) }

func (p *PipelineState) release() {
	d := p.dev.raw
	p.dev.deferRelease(func() { p.destroyRaw(d) })
}

func (p *PipelineState) destroyRaw(d hal.Device) {
	if p.render != nil {
		d.DestroyRenderPipeline(p.render)
	}
	if p.compute != nil {
		d.DestroyComputePipeline(p.compute)
	}
	if p.layout != nil {
		d.DestroyPipelineLayout(p.layout)
	}
	if p.push != nil {
		d.DestroyBindGroupLayout(p.push)
	}
}
