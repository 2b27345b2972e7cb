package wgpu

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
)

// newTestDevice opens a device on the software HAL. The device and the
// backend are released when the test ends.
func newTestDevice(t *testing.T) *Device {
	t.Helper()

	b := New(backend.BackendSoftware, gputypes.BackendEmpty)
	if err := b.Init(); err != nil {
		t.Skipf("software HAL not available: %v", err)
	}
	t.Cleanup(b.Close)

	adapters, err := b.EnumerateAdapters()
	if err != nil {
		t.Fatalf("EnumerateAdapters() error = %v", err)
	}
	if len(adapters) == 0 {
		t.Skip("software HAL exposes no adapters")
	}
	dev, err := b.CreateDevice(adapters[0], rhi.DefaultDeviceDesc())
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	d := dev.(*Device)
	t.Cleanup(d.Destroy)
	return d
}

// graphicsQueue returns the first graphics queue of d.
func graphicsQueue(t *testing.T, d *Device) *Queue {
	t.Helper()
	q, err := d.GetQueue(rhi.QueueGraphics, 0)
	if err != nil {
		t.Fatalf("GetQueue(Graphics, 0) error = %v", err)
	}
	return q.(*Queue)
}

// newCommandBuffer allocates one primary buffer from a fresh pool of type typ.
func newCommandBuffer(t *testing.T, d *Device, typ rhi.CommandBufferType) *CommandBuffer {
	t.Helper()
	pool, err := d.CreateCommandPool(rhi.CommandPoolDesc{Label: "test", Type: typ, Flags: rhi.CommandPoolResetCommandBuffer})
	if err != nil {
		t.Fatalf("CreateCommandPool() error = %v", err)
	}
	cbs, err := pool.AllocateCommandBuffers(rhi.CommandBufferAllocateInfo{Level: rhi.CommandBufferPrimary, Count: 1})
	if err != nil {
		t.Fatalf("AllocateCommandBuffers() error = %v", err)
	}
	return cbs[0].(*CommandBuffer)
}

func newBufferOf(t *testing.T, d *Device, label string, size uint64, mem rhi.MemoryType, usage rhi.BufferUsage) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(rhi.BufferDesc{Label: label, Size: size, Usage: usage, MemoryType: mem})
	if err != nil {
		t.Fatalf("CreateBuffer(%q) error = %v", label, err)
	}
	return b.(*Buffer)
}

func wantCode(t *testing.T, what string, err error, code rhi.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: error = nil, want %v", what, code)
	}
	if got := rhi.CodeOf(err); got != code {
		t.Fatalf("%s: error code = %v, want %v (%v)", what, got, code, err)
	}
}

func TestDeviceQueues(t *testing.T) {
	d := newTestDevice(t)

	if _, err := d.GetQueue(rhi.QueueGraphics, 0); err != nil {
		t.Fatalf("GetQueue(Graphics, 0) error = %v", err)
	}
	_, err := d.GetQueue(rhi.QueueGraphics, 1)
	wantCode(t, "GetQueue(Graphics, 1)", err, rhi.InvalidArgument)

	if n := len(d.Queues()); n != 1 {
		t.Errorf("len(Queues()) = %d, want 1", n)
	}
	if d.IsLost() {
		t.Error("IsLost() = true on a fresh device")
	}
	if err := d.WaitIdle(time.Second); err != nil {
		t.Errorf("WaitIdle() on an idle device error = %v", err)
	}
}

func TestDeviceDestroy(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "doomed", 64, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)

	d.Destroy()
	d.Destroy()

	_, err := d.CreateBuffer(rhi.BufferDesc{Size: 64})
	wantCode(t, "CreateBuffer after Destroy", err, rhi.InvalidOperation)
	_, err = b.Map()
	wantCode(t, "Map after Destroy", err, rhi.InvalidOperation)
}

func TestCreateBufferValidation(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name string
		desc rhi.BufferDesc
		code rhi.ErrorCode
	}{
		{"zero size", rhi.BufferDesc{Label: "zero"}, rhi.InvalidArgument},
		{"custom memory", rhi.BufferDesc{Label: "custom", Size: 16, MemoryType: rhi.MemoryTypeCustom}, rhi.InvalidArgument},
		{"unknown memory", rhi.BufferDesc{Label: "unknown", Size: 16, MemoryType: rhi.MemoryTypeCustom + 1}, rhi.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateBuffer(tt.desc)
			wantCode(t, "CreateBuffer", err, tt.code)
		})
	}
}

func TestBufferInitialState(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		mem  rhi.MemoryType
		want rhi.ResourceState
	}{
		{rhi.MemoryTypeDefault, rhi.StateCommon},
		{rhi.MemoryTypeReadback, rhi.StateCopyDest},
	}
	for _, tt := range tests {
		b := newBufferOf(t, d, tt.mem.String(), 64, tt.mem, rhi.BufferUsageTransferDst)
		if got := b.State(); got != tt.want {
			t.Errorf("%s buffer State() = %s, want %s", tt.mem, got, tt.want)
		}
	}

	up := newBufferOf(t, d, "upload", 64, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)
	if !up.State().Contains(rhi.StateCopySource) {
		t.Errorf("upload buffer State() = %s, want it to include CopySource", up.State())
	}
}

func TestBufferMap(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "upload", 16, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)

	data, err := b.Map()
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("len(Map()) = %d, want 16", len(data))
	}
	copy(data, []byte("rendering hw api"))
	if !b.IsMapped() {
		t.Error("IsMapped() = false after Map")
	}

	_, err = b.Map()
	wantCode(t, "second Map", err, rhi.ResourceMapFailed)

	if err := b.Unmap(); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	wantCode(t, "second Unmap", b.Unmap(), rhi.ResourceUnmapFailed)

	data, err = b.Map()
	if err != nil {
		t.Fatalf("Map() after Unmap error = %v", err)
	}
	if got := string(data); got != "rendering hw api" {
		t.Errorf("contents after remap = %q, want %q", got, "rendering hw api")
	}
	_ = b.Unmap()
}

func TestBufferMapDeviceLocal(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "gpu", 16, rhi.MemoryTypeDefault, rhi.BufferUsageVertex)

	_, err := b.Map()
	wantCode(t, "Map of Default memory", err, rhi.ResourceMapFailed)
	wantCode(t, "UpdateData of Default memory", b.UpdateData(0, []byte{1, 2, 3, 4}), rhi.InvalidOperation)
}

func TestBufferUpdateDataBounds(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "upload", 16, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)

	if err := b.UpdateData(8, make([]byte, 8)); err != nil {
		t.Errorf("UpdateData(8, 8 bytes) error = %v", err)
	}
	wantCode(t, "UpdateData overflow", b.UpdateData(12, make([]byte, 8)), rhi.InvalidArgument)
	wantCode(t, "UpdateData past end", b.UpdateData(17, nil), rhi.InvalidArgument)
}

func TestDestroyedBuffer(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "gone", 16, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)
	b.Destroy()
	b.Destroy()

	_, err := b.Map()
	wantCode(t, "Map of destroyed buffer", err, rhi.InvalidOperation)
}

func TestDeviceDestroyDrainsQueues(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	const size = 1 << 20
	src := newBufferOf(t, d, "src", size, rhi.MemoryTypeUpload, rhi.BufferUsageTransferSrc)
	dst := newBufferOf(t, d, "dst", size, rhi.MemoryTypeReadback, rhi.BufferUsageTransferDst)
	gate, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	f, err := d.CreateFence(rhi.FenceDesc{})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}

	var last uint64
	for i := range 4 {
		c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
		_ = c.Begin()
		if err := c.CopyBuffer(src, dst, rhi.BufferCopyRegion{Size: size}); err != nil {
			t.Fatalf("CopyBuffer() error = %v", err)
		}
		_ = c.End()
		info := rhi.SubmitInfo{CommandBuffers: []rhi.CommandBuffer{c}, Fence: f}
		if i%2 == 0 {
			info.SignalSemaphores = []rhi.SemaphoreSubmit{{Semaphore: gate, Value: uint64(i/2 + 1)}}
		} else {
			info.WaitSemaphores = []rhi.SemaphoreSubmit{{Semaphore: gate, Value: uint64(i/2 + 1)}}
		}
		if last, err = q.Submit(info); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	d.Destroy()

	if got, want := q.completed.Value(), q.submittedCount(); got != want {
		t.Errorf("completed after Destroy = %d, want %d", got, want)
	}
	if v := f.GetValue(); v < last {
		t.Errorf("fence value after Destroy = %d, want %d", v, last)
	}
}

func TestDeviceDestroyWithBlockedBatch(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	gate, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	_ = c.End()
	_, err = q.Submit(rhi.SubmitInfo{
		CommandBuffers: []rhi.CommandBuffer{c},
		WaitSemaphores: []rhi.SemaphoreSubmit{{Semaphore: gate, Value: 1}},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Destroy() did not return with a batch waiting on an unsignalled semaphore")
	}
	if got := q.completed.Value(); got != 0 {
		t.Errorf("completed = %d, want the blocked batch dropped", got)
	}
}

func TestNativeHandleValue(t *testing.T) {
	d := newTestDevice(t)
	b := newBufferOf(t, d, "buf", 64, rhi.MemoryTypeDefault, rhi.BufferUsageVertex)
	f, err := d.CreateFence(rhi.FenceDesc{})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}

	tests := []struct {
		name string
		h    rhi.NativeHandle
		kind rhi.HandleKind
		raw  any
	}{
		{"device", d.NativeHandle(), rhi.HandleDevice, d.raw},
		{"queue", graphicsQueue(t, d).NativeHandle(), rhi.HandleQueue, d.rawQueue},
		{"buffer", b.NativeHandle(), rhi.HandleBuffer, b.raw},
		{"fence", f.NativeHandle(), rhi.HandleFence, f.(*Fence).raw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.h.Kind != tt.kind || !tt.h.IsValid() {
				t.Fatalf("NativeHandle() = %v, want a valid %v handle", tt.h, tt.kind)
			}
			if tt.h.Object != tt.raw {
				t.Errorf("NativeHandle().Object = %v, want the HAL object", tt.h.Object)
			}
			var want uintptr
			if n, ok := tt.raw.(interface{ NativeHandle() uintptr }); ok {
				want = n.NativeHandle()
			}
			if tt.h.Value != want {
				t.Errorf("NativeHandle().Value = %#x, want %#x", tt.h.Value, want)
			}
			if _, err := tt.h.As(d.adapter.info.Backend, tt.kind); err != nil {
				t.Errorf("As() error = %v", err)
			}
		})
	}
}
