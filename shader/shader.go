// Package shader is the WGSL front end of rhi. It parses and validates WGSL
// with naga, optionally emits SPIR-V, and reflects entry points and resource
// bindings into an rhi.ShaderReflection.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/rhi"
)

// Compilation errors. Both wrap the naga diagnostic.
var (
	// ErrSyntax is returned when WGSL fails to parse or lower.
	ErrSyntax = errors.New("shader: invalid WGSL")

	// ErrValidation is returned when the lowered module fails validation.
	ErrValidation = errors.New("shader: validation failed")

	// ErrCodegen is returned when SPIR-V generation fails.
	ErrCodegen = errors.New("shader: SPIR-V generation failed")
)

// Options configures Compile.
type Options struct {
	// SkipValidation disables IR validation.
	SkipValidation bool

	// EmitSPIRV also generates SPIR-V words.
	EmitSPIRV bool

	// Debug keeps debug names in generated SPIR-V.
	Debug bool
}

// Module is a compiled WGSL shader.
type Module struct {
	Source     string
	IR         *ir.Module
	SPIRV      []uint32
	Reflection rhi.ShaderReflection
}

// Compile parses, lowers and validates WGSL source and reflects the result.
func Compile(source string, opts Options) (*Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	if !opts.SkipValidation {
		verrs, err := naga.Validate(module)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %w", ErrValidation, verrs[0])
		}
	}

	m := &Module{Source: source, IR: module, Reflection: Reflect(module)}
	if opts.EmitSPIRV {
		code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3, Debug: opts.Debug})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodegen, err)
		}
		m.SPIRV = Words(code)
	}
	return m, nil
}

// Words converts a little-endian SPIR-V byte stream into words. Trailing
// bytes that do not form a whole word are dropped.
func Words(code []byte) []uint32 {
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out
}

// Stage maps a naga stage to a gputypes stage, or 0 for stages rhi does
// not expose.
func Stage(s ir.ShaderStage) gputypes.ShaderStage {
	switch s {
	case ir.StageVertex:
		return gputypes.ShaderStageVertex
	case ir.StageFragment:
		return gputypes.ShaderStageFragment
	case ir.StageCompute:
		return gputypes.ShaderStageCompute
	default:
		return 0
	}
}

// Reflect lists the entry points, resource bindings and push constant size
// of module. Bindings are sorted by group then binding.
func Reflect(module *ir.Module) rhi.ShaderReflection {
	var r rhi.ShaderReflection
	for _, ep := range module.EntryPoints {
		r.EntryPoints = append(r.EntryPoints, rhi.EntryPointInfo{
			Name:      ep.Name,
			Stage:     Stage(ep.Stage),
			Workgroup: ep.Workgroup,
		})
	}

	for _, gv := range module.GlobalVariables {
		switch gv.Space {
		case ir.SpacePushConstant, ir.SpaceImmediate:
			r.PushConstantSize = max(r.PushConstantSize, ir.TypeSize(module, gv.Type))
			continue
		}
		if gv.Binding == nil {
			continue
		}
		t, ok := descriptorType(module, gv)
		if !ok {
			continue
		}
		r.Bindings = append(r.Bindings, rhi.BindingInfo{
			Name:    gv.Name,
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
			Type:    t,
		})
	}
	sort.Slice(r.Bindings, func(i, j int) bool {
		a, b := r.Bindings[i], r.Bindings[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Binding < b.Binding
	})
	return r
}

func descriptorType(module *ir.Module, gv ir.GlobalVariable) (rhi.DescriptorType, bool) {
	switch gv.Space {
	case ir.SpaceUniform:
		return rhi.DescriptorTypeUniformBuffer, true
	case ir.SpaceStorage:
		if gv.Access == ir.StorageRead {
			return rhi.DescriptorTypeReadOnlyStorageBuffer, true
		}
		return rhi.DescriptorTypeStorageBuffer, true
	case ir.SpaceHandle:
		return handleType(module, gv.Type)
	}
	return 0, false
}

func handleType(module *ir.Module, h ir.TypeHandle) (rhi.DescriptorType, bool) {
	if int(h) >= len(module.Types) {
		return 0, false
	}
	switch inner := module.Types[h].Inner.(type) {
	case ir.SamplerType:
		return rhi.DescriptorTypeSampler, true
	case ir.ImageType:
		if inner.Class == ir.ImageClassStorage {
			return rhi.DescriptorTypeStorageTexture, true
		}
		return rhi.DescriptorTypeSampledTexture, true
	case ir.BindingArrayType:
		return handleType(module, inner.Base)
	}
	return 0, false
}

// Layout derives descriptor set layouts from reflected bindings, one per
// group up to the highest group used. Every binding is visible to stages.
func Layout(r rhi.ShaderReflection, stages gputypes.ShaderStages) []rhi.DescriptorSetLayoutDesc {
	var out []rhi.DescriptorSetLayoutDesc
	for _, b := range r.Bindings {
		for uint32(len(out)) <= b.Group {
			out = append(out, rhi.DescriptorSetLayoutDesc{Label: fmt.Sprintf("group %d", len(out))})
		}
		d := &out[b.Group]
		d.Ranges = append(d.Ranges, rhi.DescriptorRange{
			Type:    b.Type,
			Binding: b.Binding,
			Count:   1,
			Stages:  stages,
		})
	}
	return out
}
