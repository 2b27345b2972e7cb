package wgpu

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/cache"
	"github.com/gogpu/rhi/internal/timeline"
	"github.com/gogpu/rhi/shader"
)

// errDeviceDestroyed is the cancellation cause of a destroyed device.
var errDeviceDestroyed = errors.New("wgpu: device destroyed")

// Device is a logical device opened on a HAL adapter.
//
// Every object created by the device is owned by it and released by
// Destroy. HAL objects of destroyed resources are released once the work
// submitted before the destroy has retired.
//
// Thread Safety: Device is safe for concurrent use. Command pools and the
// buffers they allocate follow the single-writer rule of rhi.CommandPool.
type Device struct {
	adapter  *Adapter
	desc     rhi.DeviceDesc
	instance hal.Instance
	raw      hal.Device
	rawQueue hal.Queue
	limits   gputypes.Limits

	// ctx is cancelled on device loss and on Destroy.
	ctx     context.Context
	cancel  context.CancelCauseFunc
	workers sync.WaitGroup

	// queueMu serializes access to the HAL queue, which every rhi queue
	// shares.
	queueMu sync.Mutex

	// stateMu guards projected and committed resource states together with
	// the submission bookkeeping of fences and semaphores.
	stateMu sync.Mutex

	lost      atomic.Bool
	destroyed atomic.Bool

	mu     sync.Mutex
	nextID uint64
	owned  map[uint64]owned
	graves []grave

	queues []*Queue

	// memory backs committed buffers with dedicated allocations.
	memory *Memory

	// compiled caches WGSL modules by source, so the stages of one source
	// are parsed and validated once.
	compiled *cache.Cache[string, *shader.Module]
}

// Compile-time check.
var _ rhi.Device = (*Device)(nil)

// owned is implemented by every object a device creates.
type owned interface {
	base() *object
	release()
}

// object is embedded by every owned object.
type object struct {
	dev       *Device
	id        uint64
	label     string
	destroyed atomic.Bool
}

func (o *object) base() *object { return o }

// Label returns the debug label.
func (o *object) Label() string { return o.label }

// alive fails DeviceLost once the device is lost and InvalidOperation once
// the object or its device is destroyed.
func (o *object) alive(kind string) error {
	if err := o.dev.check(); err != nil {
		return err
	}
	if o.destroyed.Load() {
		return rhi.ErrDestroyed(kind)
	}
	return nil
}

// grave is a deferred release waiting for the queues to pass marks.
type grave struct {
	release func()
	marks   []uint64
}

func openDevice(a *Adapter, instance hal.Instance, desc rhi.DeviceDesc) (*Device, error) {
	if len(desc.Queues) == 0 {
		desc.Queues = rhi.DefaultDeviceDesc().Queues
	}

	type slot struct {
		info rhi.QueueInfo
	}
	var slots []slot
	used := make(map[uint32]uint32)
	for _, req := range desc.Queues {
		f, ok := a.family(req.Type)
		if !ok {
			return nil, rhi.Errorf(rhi.DeviceNotCompatible, "adapter %q has no queue family for %s queues", a.info.Name, req.Type)
		}
		if req.Count == 0 {
			return nil, rhi.Errorf(rhi.InvalidArgument, "queue request for %s queues has a zero count", req.Type)
		}
		if used[f.Index]+req.Count > f.QueueCount {
			return nil, rhi.Errorf(rhi.InvalidArgument, "family %d exposes %d queues, %d requested",
				f.Index, f.QueueCount, used[f.Index]+req.Count)
		}
		for range req.Count {
			slots = append(slots, slot{rhi.QueueInfo{Type: req.Type, Family: f.Index, Index: used[f.Index]}})
			used[f.Index]++
		}
	}

	if !a.exposed.Features.ContainsAll(desc.RequiredFeatures) {
		return nil, rhi.Errorf(rhi.DeviceNotCompatible, "adapter %q lacks required features %#x",
			a.info.Name, uint64(desc.RequiredFeatures&^a.exposed.Features))
	}
	limits := a.exposed.Capabilities.Limits
	if desc.RequiredLimits != nil {
		limits = *desc.RequiredLimits
	}

	open, err := a.exposed.Adapter.Open(desc.RequiredFeatures, limits)
	if err != nil {
		return nil, rhi.Errorf(halCode(err, rhi.DeviceNotCompatible), "open device on %q: %w", a.info.Name, err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	d := &Device{
		adapter:  a,
		desc:     desc,
		instance: instance,
		raw:      open.Device,
		rawQueue: open.Queue,
		limits:   limits,
		ctx:      ctx,
		cancel:   cancel,
		owned:    make(map[uint64]owned),
		compiled: cache.New[string, *shader.Module](compiledShaders),
	}
	d.memory = newMemory(d, desc.Memory)
	d.memory.label = desc.Label + " committed"

	for _, s := range slots {
		q := newQueue(d, s.info)
		d.queues = append(d.queues, q)
		d.workers.Add(1)
		go q.run()
	}

	logDeviceInfo(d)
	return d, nil
}

// logDeviceInfo logs the adapter a device was opened on.
func logDeviceInfo(d *Device) {
	info := d.adapter.info
	rhi.Logger().Info("rhi: device opened", "label", d.desc.Label, "adapter", info.String(), "queues", len(d.queues))
	if info.Driver != "" {
		rhi.Logger().Debug("rhi: driver", "driver", info.Driver, "vendor", info.Vendor)
	}
}

// Adapter returns the adapter the device was opened on.
func (d *Device) Adapter() rhi.Adapter { return d.adapter }

// Desc returns the description with defaults applied.
func (d *Device) Desc() rhi.DeviceDesc { return d.desc }

// GetQueue returns the index-th queue of type t.
func (d *Device) GetQueue(t rhi.QueueType, index uint32) (rhi.Queue, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	var n uint32
	for _, q := range d.queues {
		if q.info.Type != t {
			continue
		}
		if n == index {
			return q, nil
		}
		n++
	}
	return nil, rhi.Errorf(rhi.InvalidArgument, "device has %d %s queues, index %d requested", n, t, index)
}

// Queues returns every queue of the device in creation order.
func (d *Device) Queues() []rhi.Queue {
	out := make([]rhi.Queue, len(d.queues))
	for i, q := range d.queues {
		out[i] = q
	}
	return out
}

// WaitIdle waits until every queue has retired its submitted batches.
func (d *Device) WaitIdle(timeout time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for _, q := range d.queues {
		left := rhi.Infinite
		if !deadline.IsZero() {
			left = max(time.Until(deadline), 0)
		}
		if err := q.WaitIdle(left); err != nil {
			return err
		}
	}
	return nil
}

// IsLost reports whether the HAL reported device loss.
func (d *Device) IsLost() bool { return d.lost.Load() }

// halHandle wraps a HAL object. Value carries the driver handle when the
// object exposes one.
func halHandle(backend gputypes.Backend, kind rhi.HandleKind, obj any) rhi.NativeHandle {
	h := rhi.NativeHandle{Backend: backend, Kind: kind, Object: obj}
	if n, ok := obj.(hal.NativeHandle); ok {
		h.Value = n.NativeHandle()
	}
	return h
}

// NativeHandle returns the HAL device.
func (d *Device) NativeHandle() rhi.NativeHandle {
	return halHandle(d.adapter.info.Backend, rhi.HandleDevice, d.raw)
}

// Destroy waits for every queue to go idle, then stops the queues and
// releases every owned object and the HAL device. Batches that wait on a
// semaphore nothing can signal any more are dropped.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.drain()
	d.cancel(errDeviceDestroyed)
	d.workers.Wait()

	if !d.lost.Load() {
		if err := d.raw.WaitIdle(); err != nil {
			rhi.Logger().Warn("rhi: device wait idle failed", "err", err)
		}
	}

	d.mu.Lock()
	objs := make([]owned, 0, len(d.owned))
	for _, o := range d.owned {
		objs = append(objs, o)
	}
	d.mu.Unlock()
	slices.SortFunc(objs, func(a, b owned) int {
		if a.base().id > b.base().id {
			return -1
		}
		return 1
	})
	for _, o := range objs {
		d.destroyObject(o)
	}
	d.reap(true)
	d.memory.release()
	d.compiled.Clear()

	d.raw.Destroy()
	rhi.Logger().Info("rhi: device destroyed", "label", d.desc.Label)
}

// drainPoll is how often drain looks at the queues.
const drainPoll = 2 * time.Millisecond

// drain waits until every queue retired the batches it accepted. It gives
// up when the device is lost, or when every busy queue stayed blocked on a
// semaphore wait without progress for a whole poll interval.
func (d *Device) drain() {
	var last uint64
	stalled := false
	for {
		busy, blocked := 0, 0
		var progress uint64
		for _, q := range d.queues {
			done := q.completed.Value()
			progress += done
			if done >= q.submittedCount() {
				continue
			}
			busy++
			if q.blocked.Load() {
				blocked++
			}
		}
		if busy == 0 || d.lost.Load() {
			return
		}
		if blocked == busy && progress == last {
			if stalled {
				rhi.Logger().Warn("rhi: dropping batches blocked on semaphores", "label", d.desc.Label, "queues", busy)
				return
			}
			stalled = true
		} else {
			stalled = false
		}
		last = progress
		time.Sleep(drainPoll)
	}
}

// check fails once the device is lost or destroyed.
func (d *Device) check() error {
	if d.lost.Load() {
		return rhi.NewError(rhi.DeviceLost, "device lost")
	}
	if d.destroyed.Load() {
		return rhi.ErrDestroyed("device")
	}
	return nil
}

// markLost records device loss and wakes every blocked wait.
func (d *Device) markLost(cause error) {
	if !d.lost.CompareAndSwap(false, true) {
		return
	}
	rhi.Logger().Error("rhi: device lost", "label", d.desc.Label, "err", cause)
	d.cancel(cause)
}

// adopt registers o as owned by d.
func (d *Device) adopt(o owned, label string) {
	obj := o.base()
	obj.dev = d
	obj.label = label

	d.mu.Lock()
	d.nextID++
	obj.id = d.nextID
	d.owned[obj.id] = o
	d.mu.Unlock()
}

// destroyObject marks o destroyed and releases it once.
func (d *Device) destroyObject(o owned) {
	obj := o.base()
	if !obj.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	delete(d.owned, obj.id)
	d.mu.Unlock()
	o.release()
}

// deferRelease runs release once every queue has retired the batches
// submitted so far.
func (d *Device) deferRelease(release func()) {
	marks := make([]uint64, len(d.queues))
	idle := true
	for i, q := range d.queues {
		marks[i] = q.submittedCount()
		if q.completed.Value() < marks[i] {
			idle = false
		}
	}
	if idle || d.destroyed.Load() && len(d.queues) == 0 {
		release()
		return
	}
	d.mu.Lock()
	d.graves = append(d.graves, grave{release: release, marks: marks})
	d.mu.Unlock()
}

// reap runs the deferred releases whose marks have been passed, or all of
// them when force is set.
func (d *Device) reap(force bool) {
	d.mu.Lock()
	var due []func()
	keep := d.graves[:0]
	for _, g := range d.graves {
		if force || d.passed(g.marks) {
			due = append(due, g.release)
			continue
		}
		keep = append(keep, g)
	}
	d.graves = keep
	d.mu.Unlock()

	for _, release := range due {
		release()
	}
}

func (d *Device) passed(marks []uint64) bool {
	for i, q := range d.queues {
		if q.completed.Value() < marks[i] {
			return false
		}
	}
	return true
}

// wait blocks on t until it reaches v, the timeout elapses or the device
// goes away.
func (d *Device) wait(t *timeline.Timeline, v uint64, timeout time.Duration, what string) error {
	ctx := d.ctx
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := t.WaitContext(ctx, v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, timeline.ErrTimeout):
		return rhi.Errorf(rhi.TimeoutError, "%s: value %d not reached within %v", what, v, timeout)
	case d.lost.Load():
		return rhi.NewError(rhi.DeviceLost, "device lost")
	default:
		return rhi.ErrDestroyed(what)
	}
}

// owns reports whether o was created by d.
func (d *Device) owns(o *object) bool { return o != nil && o.dev == d }
