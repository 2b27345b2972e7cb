// Package track keeps per-subresource resource states and turns requested
// state changes into barrier lists.
//
// A command buffer owns a Tracker. The first time a resource is touched the
// tracker snapshots the state the resource is expected to have when the
// buffer starts executing; every later transition and use is checked
// against the tracker's local view. At submit, the snapshot of every
// touched subresource is verified against the queue's projected state and
// the final local states become the new projection.
package track

import (
	"fmt"

	"github.com/gogpu/rhi"
)

// States holds one state per (mip level, array layer) of a resource.
// Buffers have a single subresource.
type States struct {
	mips   uint32
	layers uint32
	s      []rhi.ResourceState
}

// NewStates returns states for mips x layers subresources, all set to initial.
func NewStates(mips, layers uint32, initial rhi.ResourceState) *States {
	mips, layers = max(mips, 1), max(layers, 1)
	st := &States{mips: mips, layers: layers, s: make([]rhi.ResourceState, mips*layers)}
	for i := range st.s {
		st.s[i] = initial
	}
	return st
}

// Dims returns the mip and layer counts.
func (st *States) Dims() (mips, layers uint32) { return st.mips, st.layers }

func (st *States) index(mip, layer uint32) int { return int(mip*st.layers + layer) }

// Get returns the state of one subresource.
func (st *States) Get(mip, layer uint32) rhi.ResourceState {
	return st.s[st.index(mip, layer)]
}

// Range returns the state of the first subresource of rng and whether every
// subresource of rng shares it. rng must be resolved.
func (st *States) Range(rng rhi.SubresourceRange) (rhi.ResourceState, bool) {
	first := st.Get(rng.BaseMipLevel, rng.BaseArrayLayer)
	uniform := true
	st.each(rng, func(i int) {
		if st.s[i] != first {
			uniform = false
		}
	})
	return first, uniform
}

// Set sets every subresource of rng to s.
func (st *States) Set(rng rhi.SubresourceRange, s rhi.ResourceState) {
	st.each(rng, func(i int) { st.s[i] = s })
}

// Fill sets every subresource to s.
func (st *States) Fill(s rhi.ResourceState) {
	for i := range st.s {
		st.s[i] = s
	}
}

// Clone returns an independent copy.
func (st *States) Clone() *States {
	c := *st
	c.s = append([]rhi.ResourceState(nil), st.s...)
	return &c
}

// Full returns the range covering every subresource.
func (st *States) Full() rhi.SubresourceRange {
	return rhi.SubresourceRange{MipLevelCount: st.mips, ArrayLayerCount: st.layers}
}

func (st *States) each(rng rhi.SubresourceRange, fn func(i int)) {
	for m := rng.BaseMipLevel; m < rng.BaseMipLevel+rng.MipLevelCount; m++ {
		for l := rng.BaseArrayLayer; l < rng.BaseArrayLayer+rng.ArrayLayerCount; l++ {
			fn(st.index(m, l))
		}
	}
}

// Transition is one barrier: a range of subresources that leaves Before for After.
type Transition struct {
	Range  rhi.SubresourceRange
	Before rhi.ResourceState
	After  rhi.ResourceState
}

// String returns "mips a+b layers c+d: Before -> After".
func (t Transition) String() string {
	return fmt.Sprintf("mips %d+%d layers %d+%d: %s -> %s",
		t.Range.BaseMipLevel, t.Range.MipLevelCount,
		t.Range.BaseArrayLayer, t.Range.ArrayLayerCount, t.Before, t.After)
}

// Mismatch describes a subresource whose assumed state is not what the
// queue will provide.
type Mismatch struct {
	Mip, Layer uint32
	Assumed    rhi.ResourceState
	Actual     rhi.ResourceState
}

// Entry is the tracker's view of one resource.
type Entry struct {
	assumed *States
	current *States
	touched []bool
}

// Current returns the local state view.
func (e *Entry) Current() *States { return e.current }

// Touched reports whether the subresource was used or transitioned.
func (e *Entry) Touched(mip, layer uint32) bool {
	return e.touched[e.current.index(mip, layer)]
}

func (e *Entry) touch(rng rhi.SubresourceRange) {
	e.current.each(rng, func(i int) { e.touched[i] = true })
}

// Verify compares the assumed state of every touched subresource with
// projected. It returns the first mismatch found.
func (e *Entry) Verify(projected *States) (Mismatch, bool) {
	for i, touched := range e.touched {
		if !touched || e.assumed.s[i] == projected.s[i] {
			continue
		}
		return Mismatch{
			Mip:     uint32(i) / e.current.layers,
			Layer:   uint32(i) % e.current.layers,
			Assumed: e.assumed.s[i],
			Actual:  projected.s[i],
		}, false
	}
	return Mismatch{}, true
}

// Apply writes the final local state of every touched subresource into dst.
func (e *Entry) Apply(dst *States) {
	for i, touched := range e.touched {
		if touched {
			dst.s[i] = e.current.s[i]
		}
	}
}

// Tracker records resource states while one command buffer is recorded.
// Keys identify resources; the tracker preserves first-touch order.
//
// Tracker is not safe for concurrent use.
type Tracker[K comparable] struct {
	entries map[K]*Entry
	order   []K
}

// New returns an empty tracker.
func New[K comparable]() *Tracker[K] {
	return &Tracker[K]{entries: make(map[K]*Entry)}
}

// Entry returns the entry of key, creating it from a snapshot of base when
// the resource is touched for the first time. base is only called then.
func (t *Tracker[K]) Entry(key K, base func() *States) *Entry {
	if e, ok := t.entries[key]; ok {
		return e
	}
	snap := base()
	e := &Entry{
		assumed: snap.Clone(),
		current: snap.Clone(),
		touched: make([]bool, len(snap.s)),
	}
	t.entries[key] = e
	t.order = append(t.order, key)
	return e
}

// Lookup returns the entry of key if the resource was touched.
func (t *Tracker[K]) Lookup(key K) (*Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// Transition moves rng of key to state and returns the barriers needed.
// Subresources already in state produce none, so a transition to the
// current state of the whole range is a no-op.
func (t *Tracker[K]) Transition(key K, base func() *States, rng rhi.SubresourceRange, state rhi.ResourceState) []Transition {
	e := t.Entry(key, base)
	e.touch(rng)
	out := diff(e.current, rng, state)
	e.current.Set(rng, state)
	return out
}

// Require checks that every subresource of rng of key satisfies need. It
// returns the first subresource that does not.
func (t *Tracker[K]) Require(key K, base func() *States, rng rhi.SubresourceRange, need rhi.ResourceState) (Mismatch, bool) {
	e := t.Entry(key, base)
	e.touch(rng)
	for m := rng.BaseMipLevel; m < rng.BaseMipLevel+rng.MipLevelCount; m++ {
		for l := rng.BaseArrayLayer; l < rng.BaseArrayLayer+rng.ArrayLayerCount; l++ {
			if s := e.current.Get(m, l); !s.Satisfies(need) {
				return Mismatch{Mip: m, Layer: l, Assumed: need, Actual: s}, false
			}
		}
	}
	return Mismatch{}, true
}

// Keys returns the touched resources in first-touch order.
func (t *Tracker[K]) Keys() []K { return t.order }

// Len returns the number of touched resources.
func (t *Tracker[K]) Len() int { return len(t.order) }

// Reset forgets every resource.
func (t *Tracker[K]) Reset() {
	clear(t.entries)
	t.order = t.order[:0]
}

// diff returns the barriers moving rng of st to state. Runs of consecutive
// layers of one mip level that share a before state are merged.
func diff(st *States, rng rhi.SubresourceRange, state rhi.ResourceState) []Transition {
	var out []Transition
	for m := rng.BaseMipLevel; m < rng.BaseMipLevel+rng.MipLevelCount; m++ {
		end := rng.BaseArrayLayer + rng.ArrayLayerCount
		for l := rng.BaseArrayLayer; l < end; {
			before := st.Get(m, l)
			run := l + 1
			for run < end && st.Get(m, run) == before {
				run++
			}
			if before != state {
				out = append(out, Transition{
					Range: rhi.SubresourceRange{
						BaseMipLevel: m, MipLevelCount: 1,
						BaseArrayLayer: l, ArrayLayerCount: run - l,
					},
					Before: before,
					After:  state,
				})
			}
			l = run
		}
	}
	return out
}
