package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ShaderLanguage is the source format of a shader.
type ShaderLanguage uint8

const (
	ShaderLanguageWGSL ShaderLanguage = iota
	ShaderLanguageSPIRV
)

// String returns "WGSL" or "SPIRV".
func (l ShaderLanguage) String() string {
	if l == ShaderLanguageSPIRV {
		return "SPIRV"
	}
	return "WGSL"
}

// ShaderDesc describes a shader module. WGSL shaders carry Source; SPIR-V
// shaders carry Bytecode.
type ShaderDesc struct {
	Label      string
	Stage      gputypes.ShaderStage
	Language   ShaderLanguage
	Source     string
	Bytecode   []uint32
	EntryPoint string
}

// EntryPointInfo describes one entry point found in a shader.
type EntryPointInfo struct {
	Name      string
	Stage     gputypes.ShaderStage
	Workgroup [3]uint32
}

// BindingInfo describes one resource binding used by a shader.
type BindingInfo struct {
	Name    string
	Group   uint32
	Binding uint32
	Type    DescriptorType
}

// ShaderReflection lists what a shader exposes.
type ShaderReflection struct {
	EntryPoints []EntryPointInfo
	Bindings    []BindingInfo
	// PushConstantSize is the size in bytes of the push constant block, if any.
	PushConstantSize uint32
}

// EntryPoint returns the entry point called name.
func (r ShaderReflection) EntryPoint(name string) (EntryPointInfo, bool) {
	for _, ep := range r.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPointInfo{}, false
}

// Shader is a compiled shader module.
type Shader interface {
	Desc() ShaderDesc
	Reflection() ShaderReflection
	NativeHandle() NativeHandle
	Destroy()
}

// PipelineKind is the bind point of a pipeline.
type PipelineKind uint8

const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
)

// String returns "Graphics" or "Compute".
func (k PipelineKind) String() string {
	switch k {
	case PipelineGraphics:
		return "Graphics"
	case PipelineCompute:
		return "Compute"
	default:
		return fmt.Sprintf("PipelineKind(%d)", uint8(k))
	}
}

// PipelineStateDesc describes a pipeline state object.
type PipelineStateDesc struct {
	Label string
	Kind  PipelineKind

	// Shaders holds one compute shader, or a vertex shader and an optional
	// fragment shader.
	Shaders []Shader

	// Layouts are the descriptor set layouts, indexed by set number.
	Layouts          []DescriptorSetLayout
	PushConstantSize uint32

	ColorFormats  []gputypes.TextureFormat
	DepthFormat   gputypes.TextureFormat
	Topology      gputypes.PrimitiveTopology
	VertexBuffers []gputypes.VertexBufferLayout
	SampleCount   uint32
	DepthWrite    bool
	DepthCompare  gputypes.CompareFunction
	CullMode      gputypes.CullMode
	FrontFace     gputypes.FrontFace
}

// PipelineState is a compiled pipeline bound with SetPipelineState.
type PipelineState interface {
	Desc() PipelineStateDesc
	Kind() PipelineKind
	NativeHandle() NativeHandle
	Destroy()
}
