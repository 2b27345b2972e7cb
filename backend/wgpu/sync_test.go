package wgpu

import (
	"testing"
	"time"

	"github.com/gogpu/rhi"
)

func TestFenceSignalAndWait(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateFence(rhi.FenceDesc{Label: "cpu"})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}
	if v := f.GetValue(); v != 0 {
		t.Fatalf("GetValue() = %d, want 0", v)
	}
	wantCode(t, "Wait(1, 0)", f.Wait(1, 0), rhi.TimeoutError)

	done := make(chan error, 1)
	go func() { done <- f.Wait(3, 5*time.Second) }()
	if err := f.Signal(3); err != nil {
		t.Fatalf("Signal(3) error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Wait(3) error = %v", err)
	}

	if err := f.Signal(1); err != nil {
		t.Fatalf("Signal(1) error = %v", err)
	}
	if v := f.GetValue(); v != 3 {
		t.Errorf("GetValue() after lower Signal = %d, want 3", v)
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if v := f.GetValue(); v != 0 {
		t.Errorf("GetValue() after Reset = %d, want 0", v)
	}
}

func TestFenceSignaledAtCreation(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateFence(rhi.FenceDesc{Signaled: true})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}
	if err := f.Wait(1, 0); err != nil {
		t.Errorf("Wait(1, 0) on a signalled fence error = %v", err)
	}
	if s := f.(*Fence).Status(); s != rhi.FenceSignaled {
		t.Errorf("Status() = %v, want Signaled", s)
	}
}

func TestFenceDestroyWakesWaiters(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateFence(rhi.FenceDesc{})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.Wait(1, rhi.Infinite) }()
	time.Sleep(10 * time.Millisecond)
	f.Destroy()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Wait() returned nil after Destroy")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after Destroy")
	}
}

func TestTimelineSemaphore(t *testing.T) {
	d := newTestDevice(t)

	s, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline, InitialValue: 3})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	if v := s.GetValue(); v != 3 {
		t.Fatalf("GetValue() = %d, want 3", v)
	}

	tests := []struct {
		value uint64
		code  rhi.ErrorCode
	}{
		{3, rhi.SyncError},
		{2, rhi.SyncError},
	}
	for _, tt := range tests {
		wantCode(t, "Signal at or below the current value", s.Signal(tt.value), tt.code)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(5, time.Second) }()
	if err := s.Signal(5); err != nil {
		t.Fatalf("Signal(5) error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Wait(5) error = %v", err)
	}
	wantCode(t, "Wait(6, 0)", s.Wait(6, 0), rhi.TimeoutError)
}

func TestBinarySemaphore(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	s, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreBinary})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	wantCode(t, "CPU Signal of binary", s.Signal(1), rhi.InvalidOperation)
	wantCode(t, "CPU Wait of binary", s.Wait(1, 0), rhi.InvalidOperation)

	submit := func(info rhi.SubmitInfo) error {
		c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
		_ = c.Begin()
		_ = c.End()
		info.CommandBuffers = []rhi.CommandBuffer{c}
		_, err := q.Submit(info)
		return err
	}
	sub := []rhi.SemaphoreSubmit{{Semaphore: s}}

	wantCode(t, "wait without a signal", submit(rhi.SubmitInfo{WaitSemaphores: sub}), rhi.SyncError)
	if err := submit(rhi.SubmitInfo{SignalSemaphores: sub}); err != nil {
		t.Fatalf("signal Submit() error = %v", err)
	}
	wantCode(t, "second signal", submit(rhi.SubmitInfo{SignalSemaphores: sub}), rhi.SyncError)
	if err := submit(rhi.SubmitInfo{WaitSemaphores: sub}); err != nil {
		t.Fatalf("wait Submit() error = %v", err)
	}
	if err := q.WaitIdle(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if v := s.GetValue(); v != 0 {
		t.Errorf("GetValue() after the wait consumed the signal = %d, want 0", v)
	}
}

func TestSemaphoreOrdersQueues(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	gate, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	f, err := d.CreateFence(rhi.FenceDesc{})
	if err != nil {
		t.Fatalf("CreateFence() error = %v", err)
	}
	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	_ = c.End()

	v, err := q.Submit(rhi.SubmitInfo{
		CommandBuffers: []rhi.CommandBuffer{c},
		WaitSemaphores: []rhi.SemaphoreSubmit{{Semaphore: gate, Value: 2}},
		Fence:          f,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	wantCode(t, "fence before the gate opens", f.Wait(v, 20*time.Millisecond), rhi.TimeoutError)
	if s := f.(*Fence).Status(); s != rhi.FencePending {
		t.Errorf("Status() = %v, want Pending", s)
	}
	wantCode(t, "Reset of a pending fence", f.Reset(), rhi.InvalidOperation)

	if err := gate.Signal(2); err != nil {
		t.Fatalf("Signal(2) error = %v", err)
	}
	if err := f.Wait(v, 5*time.Second); err != nil {
		t.Fatalf("fence Wait(%d) error = %v", v, err)
	}
}

func TestEvent(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name        string
		manualReset bool
		afterWait   bool
	}{
		{"manual reset", true, true},
		{"auto reset", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := d.CreateEvent(rhi.EventDesc{ManualReset: tt.manualReset})
			if err != nil {
				t.Fatalf("CreateEvent() error = %v", err)
			}
			if e.GetStatus() {
				t.Fatal("GetStatus() = true on a new event")
			}
			wantCode(t, "Wait on an unset event", e.Wait(0), rhi.TimeoutError)

			if err := e.Set(); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := e.Wait(time.Second); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if got := e.GetStatus(); got != tt.afterWait {
				t.Errorf("GetStatus() after Wait = %v, want %v", got, tt.afterWait)
			}
			if err := e.Reset(); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if e.GetStatus() {
				t.Error("GetStatus() = true after Reset")
			}
		})
	}
}

func TestEventSetByCommandBuffer(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	e, err := d.CreateEvent(rhi.EventDesc{ManualReset: true})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	if err := c.SetEvent(e); err != nil {
		t.Fatalf("SetEvent() error = %v", err)
	}
	_ = c.End()
	if e.GetStatus() {
		t.Fatal("event set while recording")
	}
	if _, err := q.Submit(rhi.SubmitInfo{CommandBuffers: []rhi.CommandBuffer{c}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := e.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestBatchSignalsTimeline(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	s, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline, InitialValue: 3})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}
	gate, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
	if err != nil {
		t.Fatalf("CreateSemaphore() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(5, time.Second) }()

	c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
	_ = c.Begin()
	_ = c.End()
	_, err = q.Submit(rhi.SubmitInfo{
		CommandBuffers:   []rhi.CommandBuffer{c},
		WaitSemaphores:   []rhi.SemaphoreSubmit{{Semaphore: gate, Value: 1}},
		SignalSemaphores: []rhi.SemaphoreSubmit{{Semaphore: s, Value: 5}},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if v := s.GetValue(); v != 3 {
		t.Errorf("GetValue() before the batch ran = %d, want 3", v)
	}
	if err := gate.Signal(1); err != nil {
		t.Fatalf("Signal(1) error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Wait(5) error = %v", err)
	}
	if v := s.GetValue(); v < 5 {
		t.Errorf("GetValue() = %d, want at least 5", v)
	}
}

func TestDestroyedWaitSemaphoreSkipsBatch(t *testing.T) {
	d := newTestDevice(t)
	q := graphicsQueue(t, d)

	tests := []struct {
		name    string
		signals bool
	}{
		{"wait only", false},
		{"wait and signal", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
			if err != nil {
				t.Fatalf("CreateSemaphore() error = %v", err)
			}
			out, err := d.CreateSemaphore(rhi.SemaphoreDesc{Type: rhi.SemaphoreTimeline})
			if err != nil {
				t.Fatalf("CreateSemaphore() error = %v", err)
			}
			f, err := d.CreateFence(rhi.FenceDesc{})
			if err != nil {
				t.Fatalf("CreateFence() error = %v", err)
			}
			c := newCommandBuffer(t, d, rhi.CommandBufferGraphics)
			_ = c.Begin()
			_ = c.End()
			info := rhi.SubmitInfo{
				CommandBuffers: []rhi.CommandBuffer{c},
				WaitSemaphores: []rhi.SemaphoreSubmit{{Semaphore: gate, Value: 1}},
				Fence:          f,
			}
			if tt.signals {
				info.SignalSemaphores = []rhi.SemaphoreSubmit{{Semaphore: out, Value: 1}}
			}
			v, err := q.Submit(info)
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			gate.Destroy()

			if err := q.WaitIdle(5 * time.Second); err != nil {
				t.Fatalf("WaitIdle() error = %v", err)
			}
			if d.IsLost() {
				t.Fatal("device lost after a wait semaphore was destroyed")
			}
			if err := f.Wait(v, 0); err != nil {
				t.Errorf("fence Wait(%d) error = %v", v, err)
			}
			if tt.signals {
				if got := out.GetValue(); got != 1 {
					t.Errorf("signal semaphore GetValue() = %d, want 1", got)
				}
			}
			if s := c.State(); s != rhi.CommandBufferExecutable {
				t.Errorf("State() = %s, want Executable", s)
			}
		})
	}
}
