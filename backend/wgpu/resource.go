package wgpu

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/track"
)

// tracked holds the two state views of a buffer or texture. Both are
// guarded by Device.stateMu.
type tracked struct {
	// projected is the state after every submitted batch.
	projected *track.States
	// committed is the state after every retired batch.
	committed *track.States
}

func newTracked(mips, layers uint32, initial rhi.ResourceState) tracked {
	st := track.NewStates(mips, layers, initial)
	return tracked{projected: st, committed: st.Clone()}
}

func (t *tracked) tracking() *tracked { return t }

// stateful is a resource whose state command buffers track.
type stateful interface {
	owned
	tracking() *tracked
	kindName() string
	validateState(s rhi.ResourceState) error
	resolve(rng rhi.SubresourceRange) (rhi.SubresourceRange, error)
}

// snapshot returns a function yielding a copy of the projected state of r,
// as a tracker base.
func (d *Device) snapshot(r stateful) func() *track.States {
	return func() *track.States {
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		return r.tracking().projected.Clone()
	}
}

// bufferUsageFor maps a buffer state to the HAL usage it corresponds to.
func bufferUsageFor(s rhi.ResourceState) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	pairs := []struct {
		s rhi.ResourceState
		u gputypes.BufferUsage
	}{
		{rhi.StateVertexBuffer, gputypes.BufferUsageVertex},
		{rhi.StateIndexBuffer, gputypes.BufferUsageIndex},
		{rhi.StateConstantBuffer, gputypes.BufferUsageUniform},
		{rhi.StateShaderResource, gputypes.BufferUsageStorage},
		{rhi.StateUnorderedAccess, gputypes.BufferUsageStorage},
		{rhi.StateIndirectArgument, gputypes.BufferUsageIndirect},
		{rhi.StateCopyDest, gputypes.BufferUsageCopyDst},
		{rhi.StateCopySource, gputypes.BufferUsageCopySrc},
	}
	for _, p := range pairs {
		if s.Contains(p.s) {
			u |= p.u
		}
	}
	return u
}

// textureUsageFor maps a texture state to the HAL usage it corresponds to.
// Present maps to CopySrc because back buffers are blitted to the surface.
func textureUsageFor(s rhi.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	pairs := []struct {
		s rhi.ResourceState
		u gputypes.TextureUsage
	}{
		{rhi.StateRenderTarget, gputypes.TextureUsageRenderAttachment},
		{rhi.StateDepthWrite, gputypes.TextureUsageRenderAttachment},
		{rhi.StateDepthRead, gputypes.TextureUsageRenderAttachment},
		{rhi.StateShaderResource, gputypes.TextureUsageTextureBinding},
		{rhi.StateUnorderedAccess, gputypes.TextureUsageStorageBinding},
		{rhi.StateCopyDest, gputypes.TextureUsageCopyDst},
		{rhi.StateResolveDest, gputypes.TextureUsageCopyDst},
		{rhi.StateCopySource, gputypes.TextureUsageCopySrc},
		{rhi.StateResolveSource, gputypes.TextureUsageCopySrc},
		{rhi.StatePresent, gputypes.TextureUsageCopySrc},
	}
	for _, p := range pairs {
		if s.Contains(p.s) {
			u |= p.u
		}
	}
	return u
}

// textureUsage maps rhi texture usage flags to HAL usage flags.
func textureUsage(u rhi.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u.Contains(rhi.TextureUsageShaderResource) {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u.Contains(rhi.TextureUsageRenderTarget) || u.Contains(rhi.TextureUsageDepthStencil) {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u.Contains(rhi.TextureUsageUnorderedAccess) {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u.Contains(rhi.TextureUsageTransferSrc) {
		out |= gputypes.TextureUsageCopySrc
	}
	if u.Contains(rhi.TextureUsageTransferDst) {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}
