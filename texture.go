package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// TextureType is the dimensionality of a texture.
type TextureType uint8

const (
	TextureType1D TextureType = iota
	TextureType2D
	TextureType3D
	TextureTypeCube
	TextureType1DArray
	TextureType2DArray
	TextureTypeCubeArray
)

// String returns the texture type name.
func (t TextureType) String() string {
	switch t {
	case TextureType1D:
		return "1D"
	case TextureType2D:
		return "2D"
	case TextureType3D:
		return "3D"
	case TextureTypeCube:
		return "Cube"
	case TextureType1DArray:
		return "1DArray"
	case TextureType2DArray:
		return "2DArray"
	case TextureTypeCubeArray:
		return "CubeArray"
	default:
		return fmt.Sprintf("TextureType(%d)", uint8(t))
	}
}

// TextureUsage is the set of ways a texture may be used.
type TextureUsage uint32

const (
	TextureUsageShaderResource  TextureUsage = 1 << 0
	TextureUsageRenderTarget    TextureUsage = 1 << 1
	TextureUsageDepthStencil    TextureUsage = 1 << 2
	TextureUsageUnorderedAccess TextureUsage = 1 << 3
	TextureUsageTransferSrc     TextureUsage = 1 << 4
	TextureUsageTransferDst     TextureUsage = 1 << 5
)

var textureUsageNames = []string{
	"ShaderResource", "RenderTarget", "DepthStencil",
	"UnorderedAccess", "TransferSrc", "TransferDst",
}

// Contains reports whether every bit of f is set in u.
func (u TextureUsage) Contains(f TextureUsage) bool { return u&f == f }

// Union returns u | f.
func (u TextureUsage) Union(f TextureUsage) TextureUsage { return u | f }

// Intersect returns u & f.
func (u TextureUsage) Intersect(f TextureUsage) TextureUsage { return u & f }

// String returns the flag names joined by "|".
func (u TextureUsage) String() string {
	return flagString(uint32(u), textureUsageNames)
}

// Extent3D is a size in texels.
type Extent3D struct {
	Width, Height, Depth uint32
}

// Origin3D is a texel coordinate.
type Origin3D struct {
	X, Y, Z uint32
}

// TextureDesc describes a texture. It is captured at creation and never changes.
type TextureDesc struct {
	Label  string
	Type   TextureType
	Format gputypes.TextureFormat

	Width  uint32
	Height uint32
	// Depth is the depth of 3D textures and 1 otherwise.
	Depth uint32

	MipLevels   uint32
	ArraySize   uint32
	SampleCount uint32
	Usage       TextureUsage

	// CubeCompatible allows cube views of a 2D array with a multiple of six layers.
	CubeCompatible bool
}

// Normalized returns d with zero depth, mip, layer and sample counts set to 1.
func (d TextureDesc) Normalized() TextureDesc {
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.ArraySize == 0 {
		d.ArraySize = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	return d
}

// AllowedStates returns every state the texture's usage permits.
// Present is not included; it depends on swap-chain ownership.
func (d TextureDesc) AllowedStates() ResourceState {
	s := StateCommon
	if d.Usage.Contains(TextureUsageShaderResource) {
		s |= StateShaderResource
	}
	if d.Usage.Contains(TextureUsageRenderTarget) {
		s |= StateRenderTarget | StateResolveSource | StateResolveDest
	}
	if d.Usage.Contains(TextureUsageDepthStencil) {
		s |= StateDepthWrite | StateDepthRead
	}
	if d.Usage.Contains(TextureUsageUnorderedAccess) {
		s |= StateUnorderedAccess
	}
	if d.Usage.Contains(TextureUsageTransferSrc) {
		s |= StateCopySource | StateResolveSource
	}
	if d.Usage.Contains(TextureUsageTransferDst) {
		s |= StateCopyDest | StateResolveDest
	}
	return s
}

// SubresourceRange selects mip levels and array layers of a texture.
// A zero count means "all remaining".
type SubresourceRange struct {
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// AllSubresources selects every mip level and array layer.
var AllSubresources = SubresourceRange{}

// Resolve clamps zero counts to the remaining levels and layers of a texture
// with the given totals. It fails InvalidArgument when the range lies outside.
func (r SubresourceRange) Resolve(mips, layers uint32) (SubresourceRange, error) {
	if r.BaseMipLevel >= mips || r.BaseArrayLayer >= layers {
		return r, Errorf(InvalidArgument, "subresource range %+v outside %d mips x %d layers", r, mips, layers)
	}
	if r.MipLevelCount == 0 {
		r.MipLevelCount = mips - r.BaseMipLevel
	}
	if r.ArrayLayerCount == 0 {
		r.ArrayLayerCount = layers - r.BaseArrayLayer
	}
	if r.BaseMipLevel+r.MipLevelCount > mips || r.BaseArrayLayer+r.ArrayLayerCount > layers {
		return r, Errorf(InvalidArgument, "subresource range %+v outside %d mips x %d layers", r, mips, layers)
	}
	return r, nil
}

// SubresourceLayout is the linear layout of one subresource when copied to
// or from a buffer.
type SubresourceLayout struct {
	Offset     uint64
	Size       uint64
	RowPitch   uint64
	DepthPitch uint64
}

// TextureViewDesc describes a view onto a texture.
type TextureViewDesc struct {
	Label     string
	Format    gputypes.TextureFormat
	Dimension gputypes.TextureViewDimension
	Range     SubresourceRange
}

// TextureView is a typed window onto texture subresources.
type TextureView interface {
	Texture() Texture
	Desc() TextureViewDesc
	NativeHandle() NativeHandle
	Destroy()
}

// Texture is a multi-dimensional GPU resource.
type Texture interface {
	Resource

	// Desc returns the normalized creation description.
	Desc() TextureDesc

	// State returns the committed state of rng and whether every
	// subresource in rng shares it. For heterogeneous ranges the state of
	// the first subresource is returned.
	State(rng SubresourceRange) (ResourceState, bool)

	// GetTextureSize returns the size of mip level 0.
	GetTextureSize() Extent3D

	// GetSubresourceLayout returns the tightly packed linear layout of one
	// subresource.
	GetSubresourceLayout(mip, layer uint32) (SubresourceLayout, error)

	// CreateView creates a view over a subresource range.
	CreateView(desc TextureViewDesc) (TextureView, error)

	// UpdateData writes tightly packed texel rows into one subresource
	// through the device queue.
	UpdateData(mip, layer uint32, data []byte) error

	// TransitionLayout records a transition of rng into cmd.
	TransitionLayout(cmd CommandBuffer, rng SubresourceRange, state ResourceState) error

	// IsPresentable reports whether the texture is a swap-chain back buffer.
	IsPresentable() bool
}

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	LodMinClamp  float32
	LodMaxClamp  float32
	Compare      gputypes.CompareFunction
	Anisotropy   uint16
}

// Sampler controls how shaders read textures.
type Sampler interface {
	Desc() SamplerDesc
	NativeHandle() NativeHandle
	Destroy()
}

// BytesPerTexel returns the size of one texel (or block) of format, or 0 for
// compressed and unknown formats.
func BytesPerTexel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float, gputypes.TextureFormatRG8Unorm,
		gputypes.TextureFormatRG8Snorm, gputypes.TextureFormatRG8Uint,
		gputypes.TextureFormatRG8Sint, gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	case gputypes.TextureFormatUndefined:
		return 0
	}
	if format <= gputypes.TextureFormatDepth32Float {
		return 4
	}
	return 0
}
