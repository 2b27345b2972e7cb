package alloc

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Residency errors.
var (
	// ErrBudgetExceeded is returned when a block cannot become resident even
	// after evicting every evictable block.
	ErrBudgetExceeded = errors.New("alloc: heap budget exceeded")

	// ErrUnknownEntry is returned for block ids that are not tracked.
	ErrUnknownEntry = errors.New("alloc: block not tracked")

	// ErrResidencyClosed is returned when operating on a closed tracker.
	ErrResidencyClosed = errors.New("alloc: residency tracker closed")
)

// DefaultPriority is the eviction priority of newly tracked blocks.
const DefaultPriority float32 = 0.5

// ResidencyStats summarizes one heap.
type ResidencyStats struct {
	BudgetBytes   uint64
	UsedBytes     uint64
	Tracked       int
	Resident      int
	EvictionCount uint64
}

// Available returns the unused part of the budget.
func (s ResidencyStats) Available() uint64 {
	if s.UsedBytes >= s.BudgetBytes {
		return 0
	}
	return s.BudgetBytes - s.UsedBytes
}

// Utilization returns UsedBytes/BudgetBytes in [0, 1].
func (s ResidencyStats) Utilization() float64 {
	if s.BudgetBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.BudgetBytes)
}

// String returns a human-readable string of residency stats.
func (s ResidencyStats) String() string {
	return fmt.Sprintf("Residency[%.1f%% used, %d/%d KB, %d/%d resident, %d evictions]",
		s.Utilization()*100, s.UsedBytes/1024, s.BudgetBytes/1024,
		s.Resident, s.Tracked, s.EvictionCount)
}

// residentEntry tracks one block with LRU information.
type residentEntry struct {
	id       int
	size     uint64
	priority float32
	lastUsed time.Time
	element  *list.Element // position in the LRU list while resident
}

// Residency accounts the blocks of one heap against a byte budget.
// Resident blocks count against the budget; evicted blocks keep their
// contents but do not. When a block must become resident and the budget is
// short, resident blocks are evicted lowest priority first and, among equal
// priorities, least recently used first.
//
// Residency is safe for concurrent use.
type Residency struct {
	mu sync.Mutex

	budgetBytes uint64
	usedBytes   uint64

	entries map[int]*residentEntry

	// LRU list of resident entries (front = most recently used).
	lruList *list.List

	evictionCount uint64
	closed        bool
}

// NewResidency creates a tracker with the given budget in bytes.
func NewResidency(budget uint64) *Residency {
	return &Residency{
		budgetBytes: budget,
		entries:     make(map[int]*residentEntry),
		lruList:     list.New(),
	}
}

// Track registers block id of size bytes and makes it resident. canEvict
// filters the blocks that may be evicted to make room; nil allows all.
// It returns the ids of the evicted blocks.
func (r *Residency) Track(id int, size uint64, canEvict func(id int) bool) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrResidencyClosed
	}
	if _, ok := r.entries[id]; ok {
		return nil, fmt.Errorf("alloc: block %d already tracked", id)
	}
	if size > r.budgetBytes {
		return nil, fmt.Errorf("%w: block of %d KB exceeds budget of %d KB",
			ErrBudgetExceeded, size/1024, r.budgetBytes/1024)
	}

	evicted, err := r.evictIfNeeded(size, id, canEvict)
	if err != nil {
		return evicted, err
	}
	e := &residentEntry{id: id, size: size, priority: DefaultPriority, lastUsed: time.Now()}
	r.entries[id] = e
	r.residentLocked(e)
	return evicted, nil
}

// Untrack forgets block id. Unknown ids are ignored.
func (r *Residency) Untrack(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	r.evictLocked(e)
	delete(r.entries, id)
}

// MakeResident makes block id count against the budget, evicting others if
// needed. It returns the ids of the evicted blocks. A block that is
// already resident is only touched.
func (r *Residency) MakeResident(id int, canEvict func(id int) bool) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrResidencyClosed
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrUnknownEntry
	}
	if e.element != nil {
		r.touchLocked(e)
		return nil, nil
	}
	evicted, err := r.evictIfNeeded(e.size, id, canEvict)
	if err != nil {
		return evicted, err
	}
	r.residentLocked(e)
	return evicted, nil
}

// Evict removes block id from the budget. Evicting a non-resident block is
// a no-op.
func (r *Residency) Evict(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrResidencyClosed
	}
	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownEntry
	}
	if e.element != nil {
		r.evictLocked(e)
		r.evictionCount++
	}
	return nil
}

// IsResident reports whether block id counts against the budget.
func (r *Residency) IsResident(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	return ok && e.element != nil
}

// Touch marks block id as most recently used.
func (r *Residency) Touch(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok && e.element != nil {
		r.touchLocked(e)
	}
}

// SetPriority sets the eviction priority of block id. Priorities are
// clamped to [0, 1]; lower priorities are evicted first.
func (r *Residency) SetPriority(id int, priority float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownEntry
	}
	e.priority = min(max(priority, 0), 1)
	return nil
}

// Priority returns the eviction priority of block id.
func (r *Residency) Priority(id int) (float32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.priority, true
}

// Stats returns current residency statistics.
func (r *Residency) Stats() ResidencyStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ResidencyStats{
		BudgetBytes:   r.budgetBytes,
		UsedBytes:     r.usedBytes,
		Tracked:       len(r.entries),
		Resident:      r.lruList.Len(),
		EvictionCount: r.evictionCount,
	}
}

// Close forgets every block. The tracker should not be used afterwards.
func (r *Residency) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	r.lruList.Init()
	r.usedBytes = 0
	r.closed = true
}

func (r *Residency) residentLocked(e *residentEntry) {
	e.lastUsed = time.Now()
	e.element = r.lruList.PushFront(e)
	r.usedBytes += e.size
}

func (r *Residency) touchLocked(e *residentEntry) {
	e.lastUsed = time.Now()
	r.lruList.MoveToFront(e.element)
}

func (r *Residency) evictLocked(e *residentEntry) {
	if e.element == nil {
		return
	}
	r.lruList.Remove(e.element)
	e.element = nil
	r.usedBytes -= e.size
}

// evictIfNeeded evicts resident blocks until requested bytes fit. The block
// being made resident (self) is never a candidate. Caller must hold mu.
func (r *Residency) evictIfNeeded(requested uint64, self int, canEvict func(int) bool) ([]int, error) {
	var evicted []int
	for r.usedBytes+requested > r.budgetBytes {
		victim := r.victimLocked(self, canEvict)
		if victim == nil {
			return evicted, fmt.Errorf("%w: need %d bytes, have %d bytes available",
				ErrBudgetExceeded, requested, r.budgetBytes-min(r.usedBytes, r.budgetBytes))
		}
		r.evictLocked(victim)
		r.evictionCount++
		evicted = append(evicted, victim.id)
	}
	return evicted, nil
}

// victimLocked walks the LRU list from the back and returns the least
// recently used entry among those with the lowest priority.
func (r *Residency) victimLocked(self int, canEvict func(int) bool) *residentEntry {
	var victim *residentEntry
	for el := r.lruList.Back(); el != nil; el = el.Prev() {
		e, ok := el.Value.(*residentEntry)
		if !ok || e.id == self {
			continue
		}
		if canEvict != nil && !canEvict(e.id) {
			continue
		}
		if victim == nil || e.priority < victim.priority {
			victim = e
		}
	}
	return victim
}
