package alloc

import (
	"errors"
	"slices"
	"testing"
)

func TestResidencyTrackWithinBudget(t *testing.T) {
	r := NewResidency(1000)
	for id := range 3 {
		evicted, err := r.Track(id, 300, nil)
		if err != nil {
			t.Fatalf("Track(%d) error = %v", id, err)
		}
		if len(evicted) != 0 {
			t.Errorf("Track(%d) evicted %v, want none", id, evicted)
		}
	}
	s := r.Stats()
	if s.UsedBytes != 900 || s.Resident != 3 || s.Available() != 100 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestResidencyEvictsLRU(t *testing.T) {
	r := NewResidency(1000)
	for id := range 3 {
		if _, err := r.Track(id, 300, nil); err != nil {
			t.Fatal(err)
		}
	}
	// Block 0 becomes the most recently used; block 1 is now the oldest.
	r.Touch(0)

	evicted, err := r.Track(3, 300, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(evicted, []int{1}) {
		t.Errorf("evicted = %v, want [1]", evicted)
	}
	if r.IsResident(1) {
		t.Error("block 1 still resident")
	}
	if got := r.Stats().EvictionCount; got != 1 {
		t.Errorf("EvictionCount = %d, want 1", got)
	}
}

func TestResidencyEvictsLowestPriorityFirst(t *testing.T) {
	r := NewResidency(1000)
	for id := range 3 {
		if _, err := r.Track(id, 300, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.SetPriority(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.SetPriority(2, 0.1); err != nil {
		t.Fatal(err)
	}

	evicted, err := r.Track(3, 300, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(evicted, []int{2}) {
		t.Errorf("evicted = %v, want [2]", evicted)
	}
}

func TestResidencyRespectsFilter(t *testing.T) {
	r := NewResidency(600)
	if _, err := r.Track(0, 300, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Track(1, 300, nil); err != nil {
		t.Fatal(err)
	}
	pinned := func(int) bool { return false }

	_, err := r.Track(2, 300, pinned)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Track() error = %v, want %v", err, ErrBudgetExceeded)
	}
	if r.Stats().Tracked != 2 {
		t.Errorf("Tracked = %d, want 2 after a failed Track", r.Stats().Tracked)
	}
}

func TestResidencyEvictAndMakeResident(t *testing.T) {
	r := NewResidency(600)
	_, _ = r.Track(0, 300, nil)
	_, _ = r.Track(1, 300, nil)

	if err := r.Evict(0); err != nil {
		t.Fatal(err)
	}
	if r.IsResident(0) || r.Stats().UsedBytes != 300 {
		t.Fatalf("after Evict: resident=%v used=%d", r.IsResident(0), r.Stats().UsedBytes)
	}
	// Evicting twice is a no-op.
	if err := r.Evict(0); err != nil {
		t.Fatal(err)
	}

	evicted, err := r.MakeResident(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 0 || !r.IsResident(0) {
		t.Errorf("MakeResident: evicted=%v resident=%v", evicted, r.IsResident(0))
	}

	if _, err := r.MakeResident(7, nil); !errors.Is(err, ErrUnknownEntry) {
		t.Errorf("MakeResident(unknown) error = %v, want %v", err, ErrUnknownEntry)
	}
}

func TestResidencyOversizedBlock(t *testing.T) {
	r := NewResidency(100)
	if _, err := r.Track(0, 200, nil); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Track(oversized) error = %v, want %v", err, ErrBudgetExceeded)
	}
}

func TestResidencyPriorityClamped(t *testing.T) {
	r := NewResidency(100)
	_, _ = r.Track(0, 10, nil)
	_ = r.SetPriority(0, 4)
	if p, _ := r.Priority(0); p != 1 {
		t.Errorf("Priority() = %v, want 1", p)
	}
	_ = r.SetPriority(0, -1)
	if p, _ := r.Priority(0); p != 0 {
		t.Errorf("Priority() = %v, want 0", p)
	}
}

func TestResidencyClose(t *testing.T) {
	r := NewResidency(100)
	_, _ = r.Track(0, 10, nil)
	r.Close()
	if _, err := r.Track(1, 10, nil); !errors.Is(err, ErrResidencyClosed) {
		t.Errorf("Track after Close error = %v, want %v", err, ErrResidencyClosed)
	}
	if r.Stats().UsedBytes != 0 {
		t.Errorf("UsedBytes = %d after Close", r.Stats().UsedBytes)
	}
}
