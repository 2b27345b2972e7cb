package wgpu

import (
	"math/bits"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Texture is a HAL texture with per-subresource state tracking.
type Texture struct {
	object
	tracked
	desc        rhi.TextureDesc
	raw         hal.Texture
	presentable bool

	mu    sync.Mutex
	views []*TextureView
}

// Compile-time check.
var _ rhi.Texture = (*Texture)(nil)

func validateTextureDesc(desc rhi.TextureDesc) error {
	fail := func(format string, args ...any) error {
		return rhi.Errorf(rhi.InvalidArgument, "texture %q: "+format, append([]any{desc.Label}, args...)...)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return fail("extent %dx%d must be non-zero", desc.Width, desc.Height)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return fail("format is undefined")
	}
	if desc.Type > rhi.TextureTypeCubeArray {
		return fail("unknown texture type %d", desc.Type)
	}
	if desc.Type != rhi.TextureType3D && desc.Depth != 1 {
		return fail("%s textures have depth 1, got %d", desc.Type, desc.Depth)
	}
	if desc.Type == rhi.TextureType3D && desc.ArraySize != 1 {
		return fail("3D textures cannot be arrays")
	}
	if (desc.Type == rhi.TextureType1D || desc.Type == rhi.TextureType1DArray) && desc.Height != 1 {
		return fail("1D textures have height 1, got %d", desc.Height)
	}
	switch desc.Type {
	case rhi.TextureTypeCube:
		if desc.ArraySize != 6 {
			return fail("cube textures have 6 layers, got %d", desc.ArraySize)
		}
	case rhi.TextureTypeCubeArray:
		if desc.ArraySize%6 != 0 {
			return fail("cube array layer count %d is not a multiple of 6", desc.ArraySize)
		}
	case rhi.TextureType1D, rhi.TextureType2D:
		if desc.ArraySize != 1 {
			return fail("%s textures have one layer, use an array type", desc.Type)
		}
	}
	if (desc.Type == rhi.TextureTypeCube || desc.Type == rhi.TextureTypeCubeArray) && desc.Width != desc.Height {
		return fail("cube faces must be square, got %dx%d", desc.Width, desc.Height)
	}
	if maxMips := uint32(bits.Len32(max(desc.Width, desc.Height, desc.Depth))); desc.MipLevels > maxMips {
		return fail("%d mip levels exceed the %d of a %dx%dx%d texture",
			desc.MipLevels, maxMips, desc.Width, desc.Height, desc.Depth)
	}
	switch desc.SampleCount {
	case 1:
	case 2, 4, 8:
		if desc.MipLevels != 1 || desc.Type != rhi.TextureType2D {
			return fail("multisampled textures must be single-mip 2D textures")
		}
	default:
		return fail("sample count %d is not 1, 2, 4 or 8", desc.SampleCount)
	}
	return nil
}

func textureDimension(t rhi.TextureType) gputypes.TextureDimension {
	switch t {
	case rhi.TextureType1D, rhi.TextureType1DArray:
		return gputypes.TextureDimension1D
	case rhi.TextureType3D:
		return gputypes.TextureDimension3D
	default:
		return gputypes.TextureDimension2D
	}
}

func viewDimension(t rhi.TextureType) gputypes.TextureViewDimension {
	switch t {
	case rhi.TextureType1D:
		return gputypes.TextureViewDimension1D
	case rhi.TextureType3D:
		return gputypes.TextureViewDimension3D
	case rhi.TextureTypeCube:
		return gputypes.TextureViewDimensionCube
	case rhi.TextureTypeCubeArray:
		return gputypes.TextureViewDimensionCubeArray
	case rhi.TextureType1DArray, rhi.TextureType2DArray:
		return gputypes.TextureViewDimension2DArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

// CreateTexture creates a texture in the Common state.
func (d *Device) CreateTexture(desc rhi.TextureDesc) (rhi.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.newTexture(desc.Normalized(), false)
}

func (d *Device) newTexture(desc rhi.TextureDesc, presentable bool) (*Texture, error) {
	if err := validateTextureDesc(desc); err != nil {
		return nil, err
	}
	layers := desc.ArraySize
	if desc.Type == rhi.TextureType3D {
		layers = desc.Depth
	}
	usage := textureUsage(desc.Usage)
	if presentable {
		usage |= gputypes.TextureUsageCopySrc
	}
	raw, err := d.raw.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers},
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.SampleCount,
		Dimension:     textureDimension(desc.Type),
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create texture")
	}

	initial := rhi.StateCommon
	if presentable {
		initial = rhi.StatePresent
	}
	t := &Texture{
		tracked:     newTracked(desc.MipLevels, desc.ArraySize, initial),
		desc:        desc,
		raw:         raw,
		presentable: presentable,
	}
	d.adopt(t, desc.Label)
	return t, nil
}

// Kind returns rhi.ResourceKindTexture.
func (t *Texture) Kind() rhi.ResourceKind { return rhi.ResourceKindTexture }

// Desc returns the normalized creation description.
func (t *Texture) Desc() rhi.TextureDesc { return t.desc }

// State returns the committed state of rng and whether it is uniform. An
// invalid range reports Common and false.
func (t *Texture) State(rng rhi.SubresourceRange) (rhi.ResourceState, bool) {
	r, err := t.resolve(rng)
	if err != nil {
		return rhi.StateCommon, false
	}
	t.dev.stateMu.Lock()
	defer t.dev.stateMu.Unlock()
	return t.committed.Range(r)
}

// GetTextureSize returns the size of mip level 0.
func (t *Texture) GetTextureSize() rhi.Extent3D {
	return rhi.Extent3D{Width: t.desc.Width, Height: t.desc.Height, Depth: t.desc.Depth}
}

// mipExtent returns the size of a mip level.
func (t *Texture) mipExtent(mip uint32) rhi.Extent3D {
	return rhi.Extent3D{
		Width:  max(t.desc.Width>>mip, 1),
		Height: max(t.desc.Height>>mip, 1),
		Depth:  max(t.desc.Depth>>mip, 1),
	}
}

// GetSubresourceLayout returns the layout of one subresource within a
// tightly packed buffer holding every subresource, layer-major.
func (t *Texture) GetSubresourceLayout(mip, layer uint32) (rhi.SubresourceLayout, error) {
	if mip >= t.desc.MipLevels || layer >= t.desc.ArraySize {
		return rhi.SubresourceLayout{}, rhi.Errorf(rhi.InvalidArgument, "subresource mip %d layer %d outside %d mips x %d layers",
			mip, layer, t.desc.MipLevels, t.desc.ArraySize)
	}
	bpt := uint64(rhi.BytesPerTexel(t.desc.Format))
	if bpt == 0 {
		return rhi.SubresourceLayout{}, rhi.Errorf(rhi.NotImplemented, "format %s has no linear layout", t.desc.Format)
	}
	size := func(m uint32) rhi.SubresourceLayout {
		e := t.mipExtent(m)
		row := uint64(e.Width) * bpt
		slice := row * uint64(e.Height)
		return rhi.SubresourceLayout{RowPitch: row, DepthPitch: slice, Size: slice * uint64(e.Depth)}
	}

	var layerSize uint64
	for m := range t.desc.MipLevels {
		layerSize += size(m).Size
	}
	out := size(mip)
	out.Offset = uint64(layer) * layerSize
	for m := range mip {
		out.Offset += size(m).Size
	}
	return out, nil
}

// CreateView creates a view over a subresource range. Zero format and
// dimension inherit from the texture.
func (t *Texture) CreateView(desc rhi.TextureViewDesc) (rhi.TextureView, error) {
	if err := t.alive("texture"); err != nil {
		return nil, err
	}
	rng, err := t.resolve(desc.Range)
	if err != nil {
		return nil, err
	}
	desc.Range = rng
	if desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = t.desc.Format
	}
	if desc.Dimension == gputypes.TextureViewDimensionUndefined {
		desc.Dimension = viewDimension(t.desc.Type)
		if rng.ArrayLayerCount == 1 && desc.Dimension == gputypes.TextureViewDimension2DArray {
			desc.Dimension = gputypes.TextureViewDimension2D
		}
	}
	if (desc.Dimension == gputypes.TextureViewDimensionCube || desc.Dimension == gputypes.TextureViewDimensionCubeArray) &&
		!t.desc.CubeCompatible && t.desc.Type != rhi.TextureTypeCube && t.desc.Type != rhi.TextureTypeCubeArray {
		return nil, rhi.Errorf(rhi.InvalidArgument, "texture %q is not cube compatible", t.label)
	}

	d := t.dev
	raw, err := d.raw.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       desc.Dimension,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    rng.BaseMipLevel,
		MipLevelCount:   rng.MipLevelCount,
		BaseArrayLayer:  rng.BaseArrayLayer,
		ArrayLayerCount: rng.ArrayLayerCount,
	})
	if err != nil {
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create texture view")
	}

	v := &TextureView{texture: t, desc: desc, raw: raw}
	d.adopt(v, desc.Label)
	t.mu.Lock()
	t.views = append(t.views, v)
	t.mu.Unlock()
	return v, nil
}

// UpdateData writes tightly packed texels into one subresource with a HAL
// queue write. The texture needs TransferDst usage.
func (t *Texture) UpdateData(mip, layer uint32, data []byte) error {
	if err := t.alive("texture"); err != nil {
		return err
	}
	if !t.desc.Usage.Contains(rhi.TextureUsageTransferDst) {
		return rhi.Errorf(rhi.InvalidOperation, "texture %q lacks TransferDst usage", t.label)
	}
	layout, err := t.GetSubresourceLayout(mip, layer)
	if err != nil {
		return err
	}
	if uint64(len(data)) != layout.Size {
		return rhi.Errorf(rhi.InvalidArgument, "subresource mip %d layer %d needs %d bytes, got %d",
			mip, layer, layout.Size, len(data))
	}

	e := t.mipExtent(mip)
	d := t.dev
	d.queueMu.Lock()
	err = d.rawQueue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.raw, MipLevel: mip, Origin: hal.Origin3D{Z: layer}, Aspect: gputypes.TextureAspectAll},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(layout.RowPitch), RowsPerImage: e.Height},
		&hal.Extent3D{Width: e.Width, Height: e.Height, DepthOrArrayLayers: e.Depth},
	)
	d.queueMu.Unlock()
	return d.wrap(err, rhi.Unknown, "write texture")
}

// TransitionLayout records a transition of rng into cmd.
func (t *Texture) TransitionLayout(cmd rhi.CommandBuffer, rng rhi.SubresourceRange, state rhi.ResourceState) error {
	c, err := t.dev.commandBuffer(cmd)
	if err != nil {
		return err
	}
	return c.transition(t, rng, state)
}

// IsPresentable reports whether the texture is a swap-chain back buffer.
func (t *Texture) IsPresentable() bool { return t.presentable }

// NativeHandle returns the HAL texture.
func (t *Texture) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{
		Backend: t.dev.adapter.info.Backend,
		Kind:    rhi.HandleTexture,
		Value:   t.raw.NativeHandle(),
		Object:  t.raw,
	}
}

// Destroy destroys the texture and its views.
func (t *Texture) Destroy() { t.dev.destroyObject(t) }

func (t *Texture) release() {
	t.mu.Lock()
	views := slices.Clone(t.views)
	t.views = nil
	t.mu.Unlock()
	for _, v := range views {
		t.dev.destroyObject(v)
	}
	d, raw := t.dev.raw, t.raw
	t.dev.deferRelease(func() { d.DestroyTexture(raw) })
}

func (t *Texture) kindName() string { return "texture" }

func (t *Texture) validateState(s rhi.ResourceState) error {
	return rhi.ValidateTextureState(t.desc, t.presentable, s)
}

func (t *Texture) resolve(rng rhi.SubresourceRange) (rhi.SubresourceRange, error) {
	return rng.Resolve(t.desc.MipLevels, t.desc.ArraySize)
}

// TextureView is a HAL texture view.
type TextureView struct {
	object
	texture *Texture
	desc    rhi.TextureViewDesc
	raw     hal.TextureView
}

// Compile-time check.
var _ rhi.TextureView = (*TextureView)(nil)

// Texture returns the viewed texture.
func (v *TextureView) Texture() rhi.Texture { return v.texture }

// Desc returns the resolved description.
func (v *TextureView) Desc() rhi.TextureViewDesc { return v.desc }

// NativeHandle returns the HAL texture view.
func (v *TextureView) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{
		Backend: v.dev.adapter.info.Backend,
		Kind:    rhi.HandleTextureView,
		Value:   v.raw.NativeHandle(),
		Object:  v.raw,
	}
}

// Destroy destroys the view.
func (v *TextureView) Destroy() { v.dev.destroyObject(v) }

func (v *TextureView) release() {
	t := v.texture
	t.mu.Lock()
	t.views = slices.DeleteFunc(t.views, func(x *TextureView) bool { return x == v })
	t.mu.Unlock()
	d, raw := v.dev.raw, v.raw
	v.dev.deferRelease(func() { d.DestroyTextureView(raw) })
}

// live fails when the view or its texture is gone.
func (v *TextureView) live() error {
	if err := v.alive("texture view"); err != nil {
		return err
	}
	return v.texture.alive("texture")
}

// Sampler is a HAL sampler.
type Sampler struct {
	object
	desc rhi.SamplerDesc
	raw  hal.Sampler
}

// Compile-time check.
var _ rhi.Sampler = (*Sampler)(nil)

// CreateSampler creates a sampler. Zero anisotropy means 1 and a zero
// LodMaxClamp means 32.
func (d *Device) CreateSampler(desc rhi.SamplerDesc) (rhi.Sampler, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Anisotropy == 0 {
		desc.Anisotropy = 1
	}
	if desc.LodMaxClamp == 0 {
		desc.LodMaxClamp = 32
	}
	if desc.LodMinClamp < 0 || desc.LodMaxClamp < desc.LodMinClamp {
		return nil, rhi.Errorf(rhi.InvalidArgument, "sampler %q lod clamp [%g, %g] is invalid",
			desc.Label, desc.LodMinClamp, desc.LodMaxClamp)
	}
	if desc.Anisotropy > 16 {
		return nil, rhi.Errorf(rhi.InvalidArgument, "sampler %q anisotropy %d exceeds 16", desc.Label, desc.Anisotropy)
	}

	raw, err := d.raw.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
		LodMinClamp:  desc.LodMinClamp,
		LodMaxClamp:  desc.LodMaxClamp,
		Compare:      desc.Compare,
		Anisotropy:   desc.Anisotropy,
	})
	if err != nil {
		return nil, d.wrap(err, rhi.ResourceCreateFailed, "create sampler")
	}
	s := &Sampler{desc: desc, raw: raw}
	d.adopt(s, desc.Label)
	return s, nil
}

// Desc returns the description with defaults applied.
func (s *Sampler) Desc() rhi.SamplerDesc { return s.desc }

// NativeHandle returns the HAL sampler.
func (s *Sampler) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{
		Backend: s.dev.adapter.info.Backend,
		Kind:    rhi.HandleSampler,
		Value:   s.raw.NativeHandle(),
		Object:  s.raw,
	}
}

// Destroy destroys the sampler.
func (s *Sampler) Destroy() { s.dev.destroyObject(s) }

func (s *Sampler) release() {
	d, raw := s.dev.raw, s.raw
	s.dev.deferRelease(func() { d.DestroySampler(raw) })
}
