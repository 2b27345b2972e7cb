package wgpu

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/timeline"
)

// Fence is a timeline advanced by queue batches and read on the CPU. It
// owns a HAL fence for interop through NativeHandle.
type Fence struct {
	object
	desc  rhi.FenceDesc
	raw   hal.Fence
	value *timeline.Timeline

	// pending and target are guarded by Device.stateMu.
	pending int
	target  uint64
}

// Compile-time check.
var _ rhi.Fence = (*Fence)(nil)

// CreateFence creates a fence at value 0, or 1 when desc.Signaled is set.
func (d *Device) CreateFence(desc rhi.FenceDesc) (rhi.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	raw, err := d.raw.CreateFence()
	if err != nil {
		return nil, d.wrap(err, rhi.SyncError, "create fence")
	}
	var initial uint64
	if desc.Signaled {
		initial = 1
	}
	f := &Fence{desc: desc, raw: raw, value: timeline.New(initial)}
	d.adopt(f, desc.Label)
	return f, nil
}

// Desc returns the creation description.
func (f *Fence) Desc() rhi.FenceDesc { return f.desc }

// GetValue returns the current value.
func (f *Fence) GetValue() uint64 { return f.value.Value() }

// Signal raises the value. Lower values are ignored.
func (f *Fence) Signal(value uint64) error {
	if err := f.alive("fence"); err != nil {
		return err
	}
	f.value.Signal(value)
	return nil
}

// Wait blocks until the value reaches value or timeout elapses.
func (f *Fence) Wait(value uint64, timeout time.Duration) error {
	if err := f.alive("fence"); err != nil {
		return err
	}
	return f.dev.wait(f.value, value, timeout, "fence")
}

// Reset returns the value to zero.
func (f *Fence) Reset() error {
	if err := f.alive("fence"); err != nil {
		return err
	}
	d := f.dev
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if f.pending > 0 {
		return rhi.Errorf(rhi.InvalidOperation, "fence %q has %d pending submissions", f.label, f.pending)
	}
	f.value.Store(0)
	f.target = 0
	return d.wrap(d.raw.ResetFence(f.raw), rhi.SyncError, "reset fence")
}

// Status reports whether the fence is pending, signalled or unsignalled.
func (f *Fence) Status() rhi.FenceStatus {
	f.dev.stateMu.Lock()
	defer f.dev.stateMu.Unlock()
	switch {
	case f.pending > 0:
		return rhi.FencePending
	case f.value.Value() > 0:
		return rhi.FenceSignaled
	default:
		return rhi.FenceUnsignaled
	}
}

// reserve returns the value the next batch signals. Called with
// Device.stateMu held.
func (f *Fence) reserve() uint64 {
	f.target = max(f.target, f.value.Value()) + 1
	f.pending++
	return f.target
}

// retire signals a reserved value.
func (f *Fence) retire(v uint64) {
	f.dev.stateMu.Lock()
	defer f.dev.stateMu.Unlock()
	f.value.Signal(v)
	f.pending--
}

// NativeHandle returns the HAL fence.
func (f *Fence) NativeHandle() rhi.NativeHandle {
	return halHandle(f.dev.adapter.info.Backend, rhi.HandleFence, f.raw)
}

// Destroy destroys the fence and wakes its waiters.
func (f *Fence) Destroy() { f.dev.destroyObject(f) }

func (f *Fence) release() {
	f.value.Close()
	d, raw := f.dev.raw, f.raw
	f.dev.deferRelease(func() { d.DestroyFence(raw) })
}

// Semaphore orders batches. Binary semaphores count completed signals on
// their timeline and hand out one ticket per signal and per wait.
type Semaphore struct {
	object
	desc  rhi.SemaphoreDesc
	value *timeline.Timeline

	// signals, waits and reserved are guarded by Device.stateMu.
	signals  uint64
	waits    uint64
	reserved uint64

	// consumed counts binary waits that have passed.
	consumed atomic.Uint64
}

// Compile-time check.
var _ rhi.Semaphore = (*Semaphore)(nil)

// CreateSemaphore creates a binary or timeline semaphore.
func (d *Device) CreateSemaphore(desc rhi.SemaphoreDesc) (rhi.Semaphore, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	var initial uint64
	switch desc.Type {
	case rhi.SemaphoreBinary:
	case rhi.SemaphoreTimeline:
		initial = desc.InitialValue
	default:
		return nil, rhi.Errorf(rhi.InvalidArgument, "unknown semaphore type %d", desc.Type)
	}
	s := &Semaphore{desc: desc, value: timeline.New(initial), reserved: initial}
	d.adopt(s, desc.Label)
	return s, nil
}

// Desc returns the creation description.
func (s *Semaphore) Desc() rhi.SemaphoreDesc { return s.desc }

// Type returns binary or timeline.
func (s *Semaphore) Type() rhi.SemaphoreType { return s.desc.Type }

func (s *Semaphore) binary() bool { return s.desc.Type == rhi.SemaphoreBinary }

// GetValue returns the timeline value, or whether a binary semaphore holds
// an unconsumed signal.
func (s *Semaphore) GetValue() uint64 {
	if s.binary() {
		if s.value.Value() > s.consumed.Load() {
			return 1
		}
		return 0
	}
	return s.value.Value()
}

// Signal raises a timeline value from the CPU.
func (s *Semaphore) Signal(value uint64) error {
	if err := s.alive("semaphore"); err != nil {
		return err
	}
	if s.binary() {
		return rhi.Errorf(rhi.InvalidOperation, "binary semaphore %q is signalled by queue submissions only", s.label)
	}
	s.dev.stateMu.Lock()
	defer s.dev.stateMu.Unlock()
	if cur := s.value.Value(); value <= cur {
		return rhi.Errorf(rhi.SyncError, "semaphore %q: signal %d does not exceed current value %d", s.label, value, cur)
	}
	s.value.Signal(value)
	return nil
}

// Wait blocks until a timeline value reaches value.
func (s *Semaphore) Wait(value uint64, timeout time.Duration) error {
	if err := s.alive("semaphore"); err != nil {
		return err
	}
	if s.binary() {
		return rhi.Errorf(rhi.InvalidOperation, "binary semaphore %q is waited on by queue submissions only", s.label)
	}
	return s.dev.wait(s.value, value, timeout, "semaphore")
}

// NativeHandle identifies the semaphore. Semaphores have no HAL object.
func (s *Semaphore) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: s.dev.adapter.info.Backend, Kind: rhi.HandleSemaphore, Value: uintptr(s.id)}
}

// Destroy destroys the semaphore and wakes its waiters. Queued batches
// that still wait on it are skipped.
func (s *Semaphore) Destroy() { s.dev.destroyObject(s) }

func (s *Semaphore) release() { s.value.Close() }

// semLedger stages semaphore tickets for one submission so that a rejected
// submission leaves no trace.
type semLedger map[*Semaphore]*semDelta

type semDelta struct {
	signals  uint64
	waits    uint64
	reserved uint64
}

func (l semLedger) delta(s *Semaphore) *semDelta {
	if d, ok := l[s]; ok {
		return d
	}
	d := &semDelta{signals: s.signals, waits: s.waits, reserved: max(s.reserved, s.value.Value())}
	l[s] = d
	return d
}

// wait returns the value a batch waits for.
func (l semLedger) wait(s *Semaphore, v uint64) (uint64, error) {
	if !s.binary() {
		return v, nil
	}
	d := l.delta(s)
	if d.waits >= d.signals {
		return 0, rhi.Errorf(rhi.SyncError, "binary semaphore %q has no submitted signal to wait for", s.label)
	}
	d.waits++
	return d.waits, nil
}

// signal returns the value a batch signals.
func (l semLedger) signal(s *Semaphore, v uint64) (uint64, error) {
	d := l.delta(s)
	if s.binary() {
		if d.signals != d.waits {
			return 0, rhi.Errorf(rhi.SyncError, "binary semaphore %q is already signalled or has a pending signal", s.label)
		}
		d.signals++
		return d.signals, nil
	}
	if v <= d.reserved {
		return 0, rhi.Errorf(rhi.SyncError, "semaphore %q: signal %d does not exceed %d", s.label, v, d.reserved)
	}
	d.reserved = v
	return v, nil
}

// commit stores the staged tickets. Called with Device.stateMu held.
func (l semLedger) commit() {
	for s, d := range l {
		s.signals, s.waits, s.reserved = d.signals, d.waits, d.reserved
	}
}

// Event is a boolean flag. Auto-reset events clear when a waiter wakes.
type Event struct {
	object
	desc rhi.EventDesc

	mu  sync.Mutex
	set bool
	// ch is closed while the event is set.
	ch chan struct{}
}

// Compile-time check.
var _ rhi.Event = (*Event)(nil)

// CreateEvent creates an event.
func (d *Device) CreateEvent(desc rhi.EventDesc) (rhi.Event, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	e := &Event{desc: desc, ch: make(chan struct{})}
	if desc.Signaled {
		e.set = true
		close(e.ch)
	}
	d.adopt(e, desc.Label)
	return e, nil
}

// Desc returns the creation description.
func (e *Event) Desc() rhi.EventDesc { return e.desc }

// Set sets the event and wakes waiters.
func (e *Event) Set() error {
	if err := e.alive("event"); err != nil {
		return err
	}
	e.signal()
	return nil
}

func (e *Event) signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Reset clears the event.
func (e *Event) Reset() error {
	if err := e.alive("event"); err != nil {
		return err
	}
	e.clear()
	return nil
}

func (e *Event) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// GetStatus reports whether the event is set.
func (e *Event) GetStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set. An auto-reset event is cleared by the
// waiter that observes it.
func (e *Event) Wait(timeout time.Duration) error {
	if err := e.alive("event"); err != nil {
		return err
	}
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		e.mu.Lock()
		if e.set {
			if !e.desc.ManualReset {
				e.set = false
				e.ch = make(chan struct{})
			}
			e.mu.Unlock()
			return nil
		}
		ch := e.ch
		e.mu.Unlock()

		select {
		case <-ch:
		case <-expired:
			return rhi.Errorf(rhi.TimeoutError, "event %q not set within %v", e.label, timeout)
		case <-e.dev.ctx.Done():
			return e.alive("event")
		}
	}
}

// NativeHandle identifies the event. Events have no HAL object.
func (e *Event) NativeHandle() rhi.NativeHandle {
	return rhi.NativeHandle{Backend: e.dev.adapter.info.Backend, Kind: rhi.HandleEvent, Value: uintptr(e.id)}
}

// Destroy destroys the event.
func (e *Event) Destroy() { e.dev.destroyObject(e) }

func (e *Event) release() {}
