package wgpu

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// presentableFormats are the formats a swap chain accepts before the
// surface is asked.
var presentableFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatRGB10A2Unorm,
	gputypes.TextureFormatRGBA16Float,
}

var presentModes = []rhi.PresentMode{
	rhi.PresentModeFifo,
	rhi.PresentModeFifoRelaxed,
	rhi.PresentModeImmediate,
	rhi.PresentModeMailbox,
}

// SwapChain renders into its own presentable textures and copies the
// presented one to the acquired surface texture on the queue worker.
type SwapChain struct {
	object
	queue *Queue

	mu      sync.Mutex
	desc    rhi.SwapChainDesc
	mode    rhi.PresentMode
	state   rhi.SwapChainState
	surface hal.Surface
	caps    *hal.SurfaceCapabilities
	buffers []*Texture
	current uint32
	// last is the queue sequence of the newest queued presentation.
	last uint64
	// failure is the error of a failed presentation, reported once.
	failure error
}

// Compile-time check.
var _ rhi.SwapChain = (*SwapChain)(nil)

// CreateSwapChain returns an uninitialized swap chain presenting on queue.
func (d *Device) CreateSwapChain(queue rhi.Queue, desc rhi.SwapChainDesc) (rhi.SwapChain, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	q, ok := queue.(*Queue)
	if !ok || q == nil || q.dev != d {
		return nil, rhi.NewError(rhi.InvalidArgument, "swap chain queue does not belong to this device")
	}
	if t := q.Type(); t != rhi.QueueGraphics && t != rhi.QueuePresent {
		return nil, rhi.Errorf(rhi.InvalidArgument, "%s queues cannot present", t)
	}
	sc := &SwapChain{queue: q, desc: desc, state: rhi.SwapChainUninitialized}
	d.adopt(sc, desc.Label)
	return sc, nil
}

// Initialize validates the description, configures the surface and creates
// the back buffers in the Present state.
func (sc *SwapChain) Initialize() error {
	if err := sc.alive("swap chain"); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state != rhi.SwapChainUninitialized {
		return rhi.Errorf(rhi.InvalidOperation, "swap chain %q is %s", sc.label, sc.state)
	}

	desc := sc.desc
	if desc.Width == 0 || desc.Height == 0 {
		return rhi.Errorf(rhi.InvalidArgument, "swap chain %q: size %dx%d", sc.label, desc.Width, desc.Height)
	}
	if desc.BufferCount < rhi.MinSwapChainBuffers || desc.BufferCount > rhi.MaxSwapChainBuffers {
		return rhi.Errorf(rhi.InvalidBufferCount, "swap chain %q: %d buffers, want %d to %d",
			sc.label, desc.BufferCount, rhi.MinSwapChainBuffers, rhi.MaxSwapChainBuffers)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = gputypes.TextureFormatBGRA8Unorm
		if desc.HDR {
			desc.Format = gputypes.TextureFormatRGBA16Float
		}
	}
	if !slices.Contains(presentableFormats, desc.Format) {
		return rhi.Errorf(rhi.InvalidSurfaceFormat, "swap chain %q: %v is not presentable", sc.label, desc.Format)
	}
	if desc.PresentMode == gputypes.PresentModeUndefined {
		desc.PresentMode = rhi.PresentModeFifo
	}
	if !slices.Contains(presentModes, desc.PresentMode) {
		return rhi.Errorf(rhi.InvalidPresentMode, "swap chain %q: unknown present mode %v", sc.label, desc.PresentMode)
	}
	mode := desc.PresentMode
	if desc.VSync && mode == rhi.PresentModeImmediate {
		mode = rhi.PresentModeFifo
	}

	d := sc.dev
	surface, err := d.instance.CreateSurface(desc.DisplayHandle, desc.WindowHandle)
	if err != nil {
		return rhi.Errorf(rhi.SwapChainCreateFailed, "swap chain %q: create surface: %w", sc.label, err)
	}
	caps := d.adapter.exposed.Adapter.SurfaceCapabilities(surface)
	switch {
	case caps == nil:
		err = rhi.Errorf(rhi.SwapChainCreateFailed, "swap chain %q: adapter cannot present to the surface", sc.label)
	case !slices.Contains(caps.Formats, desc.Format):
		err = rhi.Errorf(rhi.InvalidSurfaceFormat, "swap chain %q: surface does not support %v", sc.label, desc.Format)
	case !slices.Contains(caps.PresentModes, mode):
		err = rhi.Errorf(rhi.InvalidPresentMode, "swap chain %q: surface does not support %v", sc.label, mode)
	}
	if err != nil {
		surface.Destroy()
		return err
	}

	sc.desc, sc.mode, sc.surface, sc.caps = desc, mode, surface, caps
	if err := sc.build(desc.Width, desc.Height); err != nil {
		sc.teardown()
		return rhi.Errorf(rhi.SwapChainCreateFailed, "swap chain %q: %w", sc.label, err)
	}
	sc.state = rhi.SwapChainInitialized
	rhi.Logger().Debug("rhi: swap chain initialized", "label", sc.label,
		"width", desc.Width, "height", desc.Height, "buffers", desc.BufferCount, "mode", mode)
	return nil
}

// build configures the surface for width x height and creates the back
// buffers. Called with sc.mu held.
func (sc *SwapChain) build(width, height uint32) error {
	d := sc.dev
	err := sc.surface.Configure(d.raw, &hal.SurfaceConfiguration{
		Width:       width,
		Height:      height,
		Format:      sc.desc.Format,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		PresentMode: sc.mode,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("configure surface: %w", err)
	}
	for i := range sc.desc.BufferCount {
		t, err := d.newTexture(rhi.TextureDesc{
			Label:  fmt.Sprintf("%s back buffer %d", sc.label, i),
			Type:   rhi.TextureType2D,
			Format: sc.desc.Format,
			Width:  width,
			Height: height,
			Usage:  rhi.TextureUsageRenderTarget | rhi.TextureUsageTransferSrc | rhi.TextureUsageTransferDst,
		}.Normalized(), true)
		if err != nil {
			return err
		}
		sc.buffers = append(sc.buffers, t)
	}
	sc.current = 0
	return nil
}

// destroyBuffers releases the back buffers. Called with sc.mu held.
func (sc *SwapChain) destroyBuffers() {
	for _, t := range sc.buffers {
		sc.dev.destroyObject(t)
	}
	sc.buffers = nil
}

// teardown releases the back buffers and the surface. Called with sc.mu
// held.
func (sc *SwapChain) teardown() {
	sc.destroyBuffers()
	if sc.surface == nil {
		return
	}
	d, surface := sc.dev.raw, sc.surface
	sc.surface = nil
	sc.dev.deferRelease(func() {
		surface.Unconfigure(d)
		surface.Destroy()
	})
}

func (sc *SwapChain) ready(what string) error {
	if err := sc.alive("swap chain"); err != nil {
		return err
	}
	switch sc.state {
	case rhi.SwapChainInitialized, rhi.SwapChainPresenting:
		return nil
	}
	return rhi.Errorf(rhi.InvalidOperation, "%s: swap chain %q is %s", what, sc.label, sc.state)
}

// Present queues back buffer info.BackBufferIndex for presentation after
// info.WaitSemaphores. The index must be the current back buffer index. A
// presentation still queued is waited for first, so a failure of it is
// returned here as PresentFailed.
func (sc *SwapChain) Present(info rhi.PresentInfo) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.ready("present"); err != nil {
		return err
	}
	idx := info.BackBufferIndex
	if count := uint32(len(sc.buffers)); idx >= count {
		return rhi.Errorf(rhi.InvalidArgument, "present: back buffer %d of %d", idx, count)
	}
	if last := sc.last; !sc.queue.completed.Reached(last) {
		sc.mu.Unlock()
		err := sc.dev.wait(sc.queue.completed, last, rhi.Infinite, "present")
		sc.mu.Lock()
		if err != nil {
			return err
		}
		if err := sc.ready("present"); err != nil {
			return err
		}
	}
	if err := sc.takeFailure(); err != nil {
		return err
	}
	if idx != sc.current {
		return rhi.Errorf(rhi.InvalidArgument, "present: back buffer %d is not the current back buffer %d", idx, sc.current)
	}
	back := sc.buffers[idx]

	d := sc.dev
	d.stateMu.Lock()
	projected := back.tracking().projected
	st, uniform := projected.Range(projected.Full())
	d.stateMu.Unlock()
	if !uniform || st != rhi.StatePresent {
		return rhi.Errorf(rhi.InvalidOperation, "present: back buffer %d is %s, want Present", idx, st)
	}
	waits, err := d.semaphores(info.WaitSemaphores)
	if err != nil {
		return err
	}

	surface := sc.surface
	b, err := sc.queue.submit(nil, waits, nil, nil, func(skipped error) {
		if skipped != nil {
			sc.presented(idx, skipped)
			return
		}
		sc.presented(idx, sc.blit(surface, back))
	})
	if err != nil {
		return err
	}
	sc.last = b.seq
	sc.state = rhi.SwapChainPresenting
	return nil
}

// blit copies back to the acquired surface texture and presents it. It runs
// on the queue worker.
func (sc *SwapChain) blit(surface hal.Surface, back *Texture) error {
	d := sc.dev
	acquired, err := surface.AcquireTexture(nil)
	if err != nil {
		return err
	}
	desc := back.desc
	err = d.runOnce(sc.label+" present", func(enc hal.CommandEncoder) {
		enc.CopyTextureToTexture(back.raw, acquired.Texture, []hal.TextureCopy{{
			SrcBase: hal.ImageCopyTexture{Texture: back.raw, Aspect: gputypes.TextureAspectAll},
			DstBase: hal.ImageCopyTexture{Texture: acquired.Texture, Aspect: gputypes.TextureAspectAll},
			Size:    hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		surface.DiscardTexture(acquired.Texture)
		return err
	}
	d.queueMu.Lock()
	err = d.rawQueue.Present(surface, acquired.Texture, nil)
	d.queueMu.Unlock()
	return err
}

// presented ends the presentation of back buffer idx. The current index
// advances only when err is nil.
func (sc *SwapChain) presented(idx uint32, err error) {
	if err != nil {
		sc.fail(err)
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if n := uint32(len(sc.buffers)); n > 0 {
		sc.current = (idx + 1) % n
	}
}

func (sc *SwapChain) fail(err error) {
	rhi.Logger().Warn("rhi: present failed", "label", sc.label, "err", err)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.failure == nil {
		sc.failure = rhi.Errorf(rhi.PresentFailed, "swap chain %q: %w", sc.label, err)
	}
}

// takeFailure returns and clears a recorded presentation failure. Called
// with sc.mu held.
func (sc *SwapChain) takeFailure() error {
	err := sc.failure
	sc.failure = nil
	return err
}

// Resize waits for queued presentations and recreates the back buffers.
func (sc *SwapChain) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return rhi.Errorf(rhi.InvalidArgument, "resize: size %dx%d", width, height)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.ready("resize"); err != nil {
		return err
	}
	last := sc.last
	sc.mu.Unlock()
	err := sc.dev.wait(sc.queue.completed, last, rhi.Infinite, "present")
	sc.mu.Lock()
	if err != nil {
		return err
	}
	if err := sc.ready("resize"); err != nil {
		return err
	}

	sc.destroyBuffers()
	sc.desc.Width, sc.desc.Height = width, height
	if err := sc.build(width, height); err != nil {
		sc.destroyBuffers()
		sc.state = rhi.SwapChainUninitialized
		return rhi.Errorf(rhi.ResizeBuffersFailed, "swap chain %q: %w", sc.label, err)
	}
	sc.state = rhi.SwapChainInitialized
	return nil
}

// ResizeToWindow resizes to the physical pixel size of w.
func (sc *SwapChain) ResizeToWindow(w gpucontext.WindowProvider) error {
	if w == nil {
		return rhi.NewError(rhi.InvalidArgument, "resize to window: nil window")
	}
	width, height := w.Size()
	scale := w.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	pw, ph := float64(width)*scale, float64(height)*scale
	if pw < 1 || ph < 1 {
		return rhi.Errorf(rhi.InvalidArgument, "resize to window: window is %dx%d", width, height)
	}
	return sc.Resize(uint32(pw), uint32(ph))
}

// Cleanup releases the back buffers and the surface. Queued presentations
// finish first.
func (sc *SwapChain) Cleanup() error {
	sc.dev.destroyObject(sc)
	return nil
}

func (sc *SwapChain) release() {
	sc.mu.Lock()
	last := sc.last
	sc.mu.Unlock()
	if sc.dev.check() == nil {
		if err := sc.dev.wait(sc.queue.completed, last, rhi.Infinite, "present"); err != nil {
			rhi.Logger().Warn("rhi: swap chain cleanup", "label", sc.label, "err", err)
		}
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.teardown()
	sc.state = rhi.SwapChainDestroyed
}

// GetCurrentBackBufferIndex returns the index of the buffer to render next.
func (sc *SwapChain) GetCurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

// GetBufferCount returns the number of back buffers.
func (sc *SwapChain) GetBufferCount() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.buffers) > 0 {
		return uint32(len(sc.buffers))
	}
	return sc.desc.BufferCount
}

// GetBackBuffer returns back buffer index.
func (sc *SwapChain) GetBackBuffer(index uint32) (rhi.Texture, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.ready("get back buffer"); err != nil {
		return nil, err
	}
	if index >= uint32(len(sc.buffers)) {
		return nil, rhi.Errorf(rhi.InvalidArgument, "get back buffer: index %d of %d", index, len(sc.buffers))
	}
	return sc.buffers[index], nil
}

// GetDesc returns the description with defaults resolved by Initialize.
func (sc *SwapChain) GetDesc() rhi.SwapChainDesc {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.desc
}

// State returns the lifecycle state.
func (sc *SwapChain) State() rhi.SwapChainState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// WaitForPresent blocks until every queued presentation has run and
// returns the failure of one that did not succeed.
func (sc *SwapChain) WaitForPresent(timeout time.Duration) error {
	if err := sc.alive("swap chain"); err != nil {
		return err
	}
	sc.mu.Lock()
	last := sc.last
	sc.mu.Unlock()
	if err := sc.dev.wait(sc.queue.completed, last, timeout, "present"); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.takeFailure()
}

// IsPresentModeSupported reports whether the surface, or before Initialize
// any surface, can present with mode.
func (sc *SwapChain) IsPresentModeSupported(mode rhi.PresentMode) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.caps != nil {
		return slices.Contains(sc.caps.PresentModes, mode)
	}
	return slices.Contains(presentModes, mode)
}

// SupportedFormats lists the formats the swap chain can present.
func (sc *SwapChain) SupportedFormats() []gputypes.TextureFormat {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.caps == nil {
		return slices.Clone(presentableFormats)
	}
	var out []gputypes.TextureFormat
	for _, f := range presentableFormats {
		if slices.Contains(sc.caps.Formats, f) {
			out = append(out, f)
		}
	}
	return out
}

// NativeHandle returns the HAL surface, nil before Initialize.
func (sc *SwapChain) NativeHandle() rhi.NativeHandle {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	h := rhi.NativeHandle{Backend: sc.dev.adapter.info.Backend, Kind: rhi.HandleSwapChain, Value: uintptr(sc.id)}
	if sc.surface != nil {
		h.Object = sc.surface
		if n, ok := any(sc.surface).(hal.NativeHandle); ok {
			h.Value = n.NativeHandle()
		}
	}
	return h
}
