// Package timeline provides a monotonic 64-bit counter with blocking,
// deadline-bounded waits. Fences, semaphores and events are built on it.
package timeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when a wait deadline elapses first.
	ErrTimeout = errors.New("timeline: wait timed out")

	// ErrClosed is returned by waits on a closed timeline.
	ErrClosed = errors.New("timeline: closed")
)

// Forever is a timeout that never elapses.
const Forever time.Duration = -1

// Timeline is a counter that waiters can block on until it reaches a value.
//
// Signal only ever raises the value; Store may lower it and is meant for
// resets. Every change wakes all waiters, which re-check their target.
//
// Timeline is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{} // closed and replaced on every change
	closed  bool
}

// New returns a timeline starting at initial.
func New(initial uint64) *Timeline {
	return &Timeline{value: initial, changed: make(chan struct{})}
}

// Value returns the current value.
func (t *Timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Signal raises the value to v. It reports false and leaves the timeline
// unchanged when v is not greater than the current value.
func (t *Timeline) Signal(v uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v <= t.value {
		return false
	}
	t.value = v
	t.notifyLocked()
	return true
}

// Store sets the value unconditionally.
func (t *Timeline) Store(v uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v == t.value {
		return
	}
	t.value = v
	t.notifyLocked()
}

// CompareAndSwap sets the value to next if it is old.
func (t *Timeline) CompareAndSwap(old, next uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != old {
		return false
	}
	if old != next {
		t.value = next
		t.notifyLocked()
	}
	return true
}

func (t *Timeline) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Close wakes every waiter with ErrClosed. Later waits that are not
// already satisfied fail immediately.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.notifyLocked()
}

// Reached reports whether the value is at least v.
func (t *Timeline) Reached(v uint64) bool {
	return t.Value() >= v
}

// Wait blocks until the value reaches v or timeout elapses. A negative
// timeout waits forever; zero only polls.
func (t *Timeline) Wait(v uint64, timeout time.Duration) error {
	if timeout < 0 {
		return t.WaitContext(context.Background(), v)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.WaitContext(ctx, v)
}

// WaitContext blocks until the value reaches v or ctx is done. An expired
// deadline yields ErrTimeout; cancellation yields ctx.Err().
func (t *Timeline) WaitContext(ctx context.Context, v uint64) error {
	for {
		t.mu.Lock()
		if t.value >= v {
			t.mu.Unlock()
			return nil
		}
		if t.closed {
			t.mu.Unlock()
			return ErrClosed
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			if t.Reached(v) {
				return nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
}

// WaitChange blocks until the value differs from seen, the timeline is
// closed, or ctx is done. It returns the value observed.
func (t *Timeline) WaitChange(ctx context.Context, seen uint64) (uint64, error) {
	for {
		t.mu.Lock()
		if t.value != seen {
			v := t.value
			t.mu.Unlock()
			return v, nil
		}
		if t.closed {
			t.mu.Unlock()
			return seen, ErrClosed
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return seen, ErrTimeout
			}
			return seen, ctx.Err()
		}
	}
}
