package rhi

import (
	"math/bits"
	"strconv"
	"strings"
)

// ResourceState describes how a resource may currently be accessed.
//
// States are bit flags. Read-only states combine freely; each write state
// and Present must stand alone. StateCommon (zero) is the neutral state every
// resource may enter.
type ResourceState uint32

const (
	StateCommon           ResourceState = 0
	StateVertexBuffer     ResourceState = 1 << 0
	StateConstantBuffer   ResourceState = 1 << 1
	StateIndexBuffer      ResourceState = 1 << 2
	StateRenderTarget     ResourceState = 1 << 3
	StateUnorderedAccess  ResourceState = 1 << 4
	StateDepthWrite       ResourceState = 1 << 5
	StateDepthRead        ResourceState = 1 << 6
	StateShaderResource   ResourceState = 1 << 7
	StateIndirectArgument ResourceState = 1 << 8
	StateCopyDest         ResourceState = 1 << 9
	StateCopySource       ResourceState = 1 << 10
	StateResolveDest      ResourceState = 1 << 11
	StateResolveSource    ResourceState = 1 << 12
	StatePresent          ResourceState = 1 << 13

	// StateGenericRead is the union of every read-only buffer state. Upload
	// memory starts and stays in it.
	StateGenericRead = StateVertexBuffer | StateConstantBuffer | StateIndexBuffer |
		StateShaderResource | StateIndirectArgument | StateCopySource

	stateReadOnly = StateGenericRead | StateDepthRead | StateResolveSource
	stateWrite    = StateRenderTarget | StateUnorderedAccess | StateDepthWrite |
		StateCopyDest | StateResolveDest
	stateBufferOnly  = StateVertexBuffer | StateConstantBuffer | StateIndexBuffer | StateIndirectArgument
	stateTextureOnly = StateRenderTarget | StateDepthWrite | StateDepthRead |
		StateResolveDest | StateResolveSource | StatePresent
	stateAll = stateReadOnly | stateWrite | StatePresent
)

var stateNames = []struct {
	s    ResourceState
	name string
}{
	{StateVertexBuffer, "VertexBuffer"},
	{StateConstantBuffer, "ConstantBuffer"},
	{StateIndexBuffer, "IndexBuffer"},
	{StateRenderTarget, "RenderTarget"},
	{StateUnorderedAccess, "UnorderedAccess"},
	{StateDepthWrite, "DepthWrite"},
	{StateDepthRead, "DepthRead"},
	{StateShaderResource, "ShaderResource"},
	{StateIndirectArgument, "IndirectArgument"},
	{StateCopyDest, "CopyDest"},
	{StateCopySource, "CopySource"},
	{StateResolveDest, "ResolveDest"},
	{StateResolveSource, "ResolveSource"},
	{StatePresent, "Present"},
}

// String returns the flag names joined by "|", or "Common".
func (s ResourceState) String() string {
	if s == StateCommon {
		return "Common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := s &^ stateAll; rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// Contains reports whether every bit of f is set in s.
func (s ResourceState) Contains(f ResourceState) bool { return s&f == f }

// Union returns s | f.
func (s ResourceState) Union(f ResourceState) ResourceState { return s | f }

// Intersect returns s & f.
func (s ResourceState) Intersect(f ResourceState) ResourceState { return s & f }

// Without returns s with the bits of f cleared.
func (s ResourceState) Without(f ResourceState) ResourceState { return s &^ f }

// IsReadOnly reports whether s only permits reads. Common counts as read-only.
func (s ResourceState) IsReadOnly() bool { return s&^stateReadOnly == 0 }

// IsWrite reports whether s contains a write state.
func (s ResourceState) IsWrite() bool { return s&stateWrite != 0 }

// Satisfies reports whether a resource in state s may be used as need.
// Common never satisfies a specific use.
func (s ResourceState) Satisfies(need ResourceState) bool {
	return need != StateCommon && s.Contains(need)
}

// wellFormed checks the combination rules shared by every resource kind.
func (s ResourceState) wellFormed() *Error {
	if s&^stateAll != 0 {
		return Errorf(InvalidOperation, "unknown resource state bits in %s", s)
	}
	if s&(stateWrite|StatePresent) != 0 && bits.OnesCount32(uint32(s)) > 1 {
		return Errorf(InvalidOperation, "state %s combines a write or present state with other states", s)
	}
	return nil
}

// ValidateBufferState reports whether a buffer described by desc can enter s.
// Upload memory implicitly permits CopySource and Readback memory CopyDest.
func ValidateBufferState(desc BufferDesc, s ResourceState) error {
	if err := s.wellFormed(); err != nil {
		return err
	}
	if bad := s & stateTextureOnly; bad != 0 {
		return Errorf(InvalidOperation, "state %s is not reachable for buffers", bad)
	}
	if bad := s &^ desc.AllowedStates(); bad != 0 {
		return Errorf(InvalidOperation, "buffer %q usage %s does not permit state %s", desc.Label, desc.Usage, bad)
	}
	return nil
}

// ValidateTextureState reports whether a texture described by desc can enter
// s. Present is reachable only for swap-chain back buffers.
func ValidateTextureState(desc TextureDesc, presentable bool, s ResourceState) error {
	if err := s.wellFormed(); err != nil {
		return err
	}
	if bad := s & stateBufferOnly; bad != 0 {
		return Errorf(InvalidOperation, "state %s is not reachable for textures", bad)
	}
	if s == StatePresent && !presentable {
		return Errorf(InvalidOperation, "texture %q is not owned by a swap chain and cannot enter Present", desc.Label)
	}
	if bad := s &^ (desc.AllowedStates() | StatePresent); bad != 0 {
		return Errorf(InvalidOperation, "texture %q usage %s does not permit state %s", desc.Label, desc.Usage, bad)
	}
	return nil
}
