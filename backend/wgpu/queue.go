package wgpu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/timeline"
	"github.com/gogpu/rhi/internal/track"
)

// Queue validates submissions and hands them to a worker goroutine that
// executes them in order on the shared HAL queue.
type Queue struct {
	dev  *Device
	info rhi.QueueInfo

	// completed is the sequence number of the last retired batch.
	completed *timeline.Timeline
	// submitted is the sequence number of the last accepted batch. It is
	// written with Device.stateMu held.
	submitted atomic.Uint64

	// blocked is set while the worker waits on a semaphore.
	blocked atomic.Bool

	mu      sync.Mutex
	pending []*batch
	wake    chan struct{}
}

// Compile-time check.
var _ rhi.Queue = (*Queue)(nil)

type semWait struct {
	sem   *Semaphore
	value uint64
}

// batch is one accepted submission.
type batch struct {
	seq     uint64
	buffers []*CommandBuffer
	sets    map[*DescriptorSet]struct{}
	waits   []semWait
	signals []semWait
	fence   *Fence
	value   uint64
	// present runs after the buffers completed, or with the error that
	// made the batch skip its work. Swap chains queue presentation as a
	// batch without buffers.
	present func(skipped error)
}

func newQueue(d *Device, info rhi.QueueInfo) *Queue {
	return &Queue{
		dev:       d,
		info:      info,
		completed: timeline.New(0),
		wake:      make(chan struct{}, 1),
	}
}

// Info identifies the queue.
func (q *Queue) Info() rhi.QueueInfo { return q.info }

// Type returns the queue type.
func (q *Queue) Type() rhi.QueueType { return q.info.Type }

func (q *Queue) submittedCount() uint64 { return q.submitted.Load() }

// Submit validates info and queues it for the worker. Validation happens
// entirely before any state changes, so a rejected batch leaves no trace.
func (q *Queue) Submit(info rhi.SubmitInfo) (uint64, error) {
	d := q.dev
	if err := d.check(); err != nil {
		return 0, err
	}
	cbs := make([]*CommandBuffer, 0, len(info.CommandBuffers))
	seen := make(map[*CommandBuffer]bool, len(info.CommandBuffers))
	for i, cmd := range info.CommandBuffers {
		c, err := d.commandBuffer(cmd)
		if err != nil {
			return 0, err
		}
		if seen[c] {
			return 0, rhi.Errorf(rhi.InvalidArgument, "command buffer %d appears twice in one submission", i)
		}
		seen[c] = true
		if c.bundle() {
			return 0, rhi.Errorf(rhi.InvalidOperation, "command buffer %d is a bundle; bundles are executed by primary buffers", i)
		}
		if !q.info.Type.Accepts(c.Type()) {
			return 0, rhi.Errorf(rhi.InvalidOperation, "%s queue cannot execute %s command buffer %d", q.info.Type, c.Type(), i)
		}
		cbs = append(cbs, c)
	}
	var fence *Fence
	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok || f == nil || !d.owns(&f.object) {
			return 0, rhi.NewError(rhi.InvalidArgument, "fence was not created by this device")
		}
		if err := f.alive("fence"); err != nil {
			return 0, err
		}
		fence = f
	}
	waits, err := d.semaphores(info.WaitSemaphores)
	if err != nil {
		return 0, err
	}
	signals, err := d.semaphores(info.SignalSemaphores)
	if err != nil {
		return 0, err
	}
	b, err := q.submit(cbs, waits, signals, fence, nil)
	if err != nil {
		return 0, err
	}
	return b.value, nil
}

func (d *Device) semaphores(subs []rhi.SemaphoreSubmit) ([]semWait, error) {
	out := make([]semWait, len(subs))
	for i, s := range subs {
		sem, ok := s.Semaphore.(*Semaphore)
		if !ok || sem == nil || !d.owns(&sem.object) {
			return nil, rhi.NewError(rhi.InvalidArgument, "semaphore was not created by this device")
		}
		if err := sem.alive("semaphore"); err != nil {
			return nil, err
		}
		out[i] = semWait{sem: sem, value: s.Value}
	}
	return out, nil
}

// submit accepts a validated batch. Device.stateMu orders it against every
// other submission.
func (q *Queue) submit(cbs []*CommandBuffer, waits, signals []semWait, fence *Fence, present func(error)) (*batch, error) {
	d := q.dev
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	for i, c := range cbs {
		if err := q.admit(i, c); err != nil {
			return nil, err
		}
	}
	staged, err := stageStates(cbs)
	if err != nil {
		return nil, err
	}

	ledger := semLedger{}
	b := &batch{buffers: cbs, sets: make(map[*DescriptorSet]struct{}), fence: fence, present: present}
	for _, w := range waits {
		v, err := ledger.wait(w.sem, w.value)
		if err != nil {
			return nil, err
		}
		b.waits = append(b.waits, semWait{sem: w.sem, value: v})
	}
	for _, s := range signals {
		v, err := ledger.signal(s.sem, s.value)
		if err != nil {
			return nil, err
		}
		b.signals = append(b.signals, semWait{sem: s.sem, value: v})
	}

	// Nothing below fails.
	ledger.commit()
	for r, st := range staged {
		r.tracking().projected = st
	}
	for _, c := range cbs {
		c.mu.Lock()
		c.state = rhi.CommandBufferPending
		c.inflight++
		c.mu.Unlock()
		for s := range c.sets {
			b.sets[s] = struct{}{}
		}
	}
	for s := range b.sets {
		s.pending.Add(1)
	}
	if fence != nil {
		b.value = fence.reserve()
	}
	b.seq = q.submitted.Add(1)
	q.enqueue(b)
	return b, nil
}

// admit checks that c may be submitted. Called with Device.stateMu held.
func (q *Queue) admit(i int, c *CommandBuffer) error {
	c.mu.Lock()
	state, inflight := c.state, c.inflight
	c.mu.Unlock()
	switch {
	case state == rhi.CommandBufferExecutable:
	case state == rhi.CommandBufferPending && inflight > 0 && c.usage.Contains(rhi.CommandBufferSimultaneousUse):
	case state == rhi.CommandBufferPending && inflight == 0:
		return rhi.Errorf(rhi.InvalidOperation, "command buffer %d has retired and must be reset through its pool before it is submitted again", i)
	default:
		return rhi.Errorf(rhi.InvalidOperation, "command buffer %d is %s and cannot be submitted", i, state)
	}

	for o := range c.refs {
		if o.base().destroyed.Load() {
			if inflight == 0 {
				c.mu.Lock()
				c.state = rhi.CommandBufferInvalid
				c.mu.Unlock()
			}
			return rhi.Errorf(rhi.InvalidOperation, "command buffer %d references destroyed object %q", i, o.base().label)
		}
		b, ok := o.(*Buffer)
		if !ok {
			continue
		}
		if b.IsMapped() {
			return rhi.Errorf(rhi.InvalidOperation, "command buffer %d uses buffer %q while it is mapped", i, b.label)
		}
		if !b.dedicated && !b.resident() {
			return rhi.Errorf(rhi.DeviceLost, "command buffer %d uses buffer %q whose memory is evicted", i, b.label)
		}
	}
	for s := range c.sets {
		if !s.IsValid() {
			if inflight == 0 {
				c.mu.Lock()
				c.state = rhi.CommandBufferInvalid
				c.mu.Unlock()
			}
			return rhi.Errorf(rhi.InvalidOperation, "command buffer %d uses a freed descriptor set", i)
		}
	}
	return nil
}

// stageStates checks the states each buffer assumes against the projected
// states left by earlier submissions and earlier buffers of the batch. It
// returns the new projections. Called with Device.stateMu held.
func stageStates(cbs []*CommandBuffer) (map[stateful]*track.States, error) {
	staged := make(map[stateful]*track.States)
	for i, c := range cbs {
		for _, r := range c.tracker.Keys() {
			e, _ := c.tracker.Lookup(r)
			st, ok := staged[r]
			if !ok {
				st = r.tracking().projected.Clone()
				staged[r] = st
			}
			if m, ok := e.Verify(st); !ok {
				return nil, rhi.Errorf(rhi.InvalidOperation,
					"command buffer %d assumes %s %q mip %d layer %d is %s, but it will be %s",
					i, r.kindName(), r.base().label, m.Mip, m.Layer, m.Assumed, m.Actual)
			}
			e.Apply(st)
		}
	}
	return staged, nil
}

func (q *Queue) enqueue(b *batch) {
	q.mu.Lock()
	q.pending = append(q.pending, b)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() (*batch, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			b := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return b, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.dev.ctx.Done():
			return nil, false
		}
	}
}

// run executes batches until the device goes away. Only DeviceLost
// failures stop the worker; other failures skip the batch.
func (q *Queue) run() {
	d := q.dev
	defer d.workers.Done()
	for {
		b, ok := q.next()
		if !ok {
			return
		}
		err := q.execute(b)
		switch {
		case err == nil:
		case d.ctx.Err() != nil:
			rhi.Logger().Debug("rhi: batch dropped", "queue", q.info.String(), "seq", b.seq)
			return
		case rhi.CodeOf(err) == rhi.DeviceLost:
			d.markLost(err)
			return
		default:
			q.skip(b, err)
		}
	}
}

// skip retires b without running its commands. Its semaphores and fence
// are still signalled so that later work does not stall.
func (q *Queue) skip(b *batch, err error) {
	rhi.Logger().Warn("rhi: batch skipped", "queue", q.info.String(), "seq", b.seq, "err", err)
	if b.present != nil {
		b.present(err)
	}
	q.retire(b)
}

// execute waits for b's semaphores, encodes and submits its buffers and
// retires it once the HAL reports completion.
func (q *Queue) execute(b *batch) error {
	d := q.dev
	for _, w := range b.waits {
		q.blocked.Store(true)
		err := w.sem.value.WaitContext(d.ctx, w.value)
		q.blocked.Store(false)
		if err != nil {
			if errors.Is(err, timeline.ErrClosed) {
				return rhi.Errorf(rhi.SyncError, "semaphore %q was destroyed before batch %d waited on it", w.sem.label, b.seq)
			}
			return err
		}
		if w.sem.binary() {
			w.sem.consumed.Add(1)
		}
	}

	var cleanup []func()
	defer func() {
		for _, f := range cleanup {
			f()
		}
	}()

	raws := make([]hal.CommandBuffer, 0, len(b.buffers))
	for _, c := range b.buffers {
		enc, err := c.pool.acquire()
		if err != nil {
			return err
		}
		pool := c.pool
		cleanup = append(cleanup, func() { pool.recycle(enc) })

		if err := enc.BeginEncoding(c.pool.label); err != nil {
			return d.wrap(err, rhi.DeviceLost, "begin encoding")
		}
		x := &encoder{dev: d, raw: enc}
		cleanup = append(cleanup, func() {
			for _, f := range x.release {
				f()
			}
		})
		if err := x.replay(c.ops); err != nil {
			enc.DiscardEncoding()
			return err
		}
		raw, err := enc.EndEncoding()
		if err != nil {
			return d.wrap(err, rhi.DeviceLost, "end encoding")
		}
		raws = append(raws, raw)
		cleanup = append(cleanup, func() { d.raw.FreeCommandBuffer(raw) })
	}

	if len(raws) > 0 {
		d.queueMu.Lock()
		idx, err := d.rawQueue.Submit(raws)
		d.queueMu.Unlock()
		if err != nil {
			return d.wrap(err, rhi.DeviceLost, "submit")
		}
		if err := d.await(idx); err != nil {
			return err
		}
	}
	if b.present != nil {
		b.present(nil)
	}
	q.retire(b)
	return nil
}

// retire commits the states of b's buffers and signals its sync objects.
func (q *Queue) retire(b *batch) {
	d := q.dev
	d.stateMu.Lock()
	for _, c := range b.buffers {
		for _, r := range c.tracker.Keys() {
			e, _ := c.tracker.Lookup(r)
			e.Apply(r.tracking().committed)
		}
	}
	d.stateMu.Unlock()

	for s := range b.sets {
		s.pending.Add(-1)
	}
	for _, c := range b.buffers {
		for _, ev := range c.events {
			if ev.set {
				ev.event.signal()
			} else {
				ev.event.clear()
			}
		}
		c.retire()
	}
	for _, s := range b.signals {
		s.sem.value.Signal(s.value)
	}
	if b.fence != nil {
		b.fence.retire(b.value)
	}
	q.completed.Signal(b.seq)
	d.reap(false)
}

// WaitIdle blocks until every batch submitted so far has retired.
func (q *Queue) WaitIdle(timeout time.Duration) error {
	if err := q.dev.check(); err != nil {
		return err
	}
	return q.dev.wait(q.completed, q.submittedCount(), timeout, "queue")
}

// NativeHandle returns the HAL queue, which every queue of the device
// shares.
func (q *Queue) NativeHandle() rhi.NativeHandle {
	return halHandle(q.dev.adapter.info.Backend, rhi.HandleQueue, q.dev.rawQueue)
}

// await polls the HAL queue until submission idx completed.
func (d *Device) await(idx uint64) error {
	delay := 20 * time.Microsecond
	for {
		d.queueMu.Lock()
		done := d.rawQueue.PollCompleted()
		d.queueMu.Unlock()
		if done >= idx {
			return nil
		}
		select {
		case <-d.ctx.Done():
			return context.Cause(d.ctx)
		case <-time.After(delay):
		}
		delay = min(2*delay, time.Millisecond)
	}
}

// runOnce encodes fn into a fresh HAL encoder, submits it and waits for it
// to complete. It is used for device-internal copies.
func (d *Device) runOnce(label string, fn func(enc hal.CommandEncoder)) error {
	enc, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return d.wrap(err, rhi.OutOfMemory, label)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding(label); err != nil {
		return d.wrap(err, rhi.Unknown, label)
	}
	fn(enc)
	raw, err := enc.EndEncoding()
	if err != nil {
		return d.wrap(err, rhi.Unknown, label)
	}
	defer d.raw.FreeCommandBuffer(raw)

	d.queueMu.Lock()
	idx, err := d.rawQueue.Submit([]hal.CommandBuffer{raw})
	d.queueMu.Unlock()
	if err != nil {
		return d.wrap(err, rhi.DeviceLost, label)
	}
	return d.await(idx)
}
