// Package alloc implements the bookkeeping behind device memory blocks:
// offset sub-allocation with alignment and coalescing, compaction plans and
// a residency budget with LRU eviction. It owns no GPU objects.
package alloc

import (
	"errors"
	"fmt"
	"sort"
)

// Sub-allocation errors.
var (
	// ErrInvalidSize is returned for zero-sized requests.
	ErrInvalidSize = errors.New("alloc: size must be non-zero")

	// ErrInvalidAlignment is returned when alignment is not a power of two.
	ErrInvalidAlignment = errors.New("alloc: alignment must be a power of two")

	// ErrNoSpace is returned when no free range can hold the request.
	ErrNoSpace = errors.New("alloc: no free range large enough")

	// ErrNotAllocated is returned when freeing a span the block does not hold.
	ErrNotAllocated = errors.New("alloc: span is not allocated")
)

// Span is one sub-allocation. Start is where the consumed range begins,
// including alignment padding; Offset is the aligned offset handed out.
type Span struct {
	Start  uint64
	Offset uint64
	Size   uint64
}

// End returns the first byte after the span.
func (s Span) End() uint64 { return s.Offset + s.Size }

// Consumed returns the bytes taken from the block, padding included.
func (s Span) Consumed() uint64 { return s.End() - s.Start }

// String returns "[offset+size]".
func (s Span) String() string { return fmt.Sprintf("[%d+%d]", s.Offset, s.Size) }

// freeRange is a contiguous unallocated range.
type freeRange struct {
	offset uint64
	size   uint64
}

// Block sub-allocates a fixed-size range with a first-fit free list.
//
// Free ranges are kept sorted by offset and adjacent ranges are merged on
// free, so the list never holds two touching ranges.
//
// Block is not safe for concurrent use.
type Block struct {
	size  uint64
	used  uint64
	free  []freeRange
	spans map[uint64]Span // keyed by Offset
}

// NewBlock returns an empty block of size bytes.
func NewBlock(size uint64) *Block {
	b := &Block{size: size, spans: make(map[uint64]Span)}
	if size > 0 {
		b.free = []freeRange{{0, size}}
	}
	return b
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// ValidAlignment reports whether align is zero or a power of two.
func ValidAlignment(align uint64) bool {
	return align == 0 || align&(align-1) == 0
}

// Allocate carves size bytes aligned to align from the first free range
// that fits. Zero alignment means 1.
func (b *Block) Allocate(size, align uint64) (Span, error) {
	if size == 0 {
		return Span{}, ErrInvalidSize
	}
	if !ValidAlignment(align) {
		return Span{}, ErrInvalidAlignment
	}
	for i, r := range b.free {
		off := AlignUp(r.offset, align)
		if off < r.offset || off+size > r.offset+r.size || off+size < off {
			continue
		}
		s := Span{Start: r.offset, Offset: off, Size: size}
		b.take(i, s)
		return s, nil
	}
	return Span{}, ErrNoSpace
}

// take removes span s from free range i. Padding stays with the span.
func (b *Block) take(i int, s Span) {
	r := b.free[i]
	tail := r.offset + r.size - s.End()
	if tail == 0 {
		b.free = append(b.free[:i], b.free[i+1:]...)
	} else {
		b.free[i] = freeRange{s.End(), tail}
	}
	b.used += s.Consumed()
	b.spans[s.Offset] = s
}

// Free returns a span to the block and merges it with its neighbours.
func (b *Block) Free(s Span) error {
	held, ok := b.spans[s.Offset]
	if !ok || held != s {
		return ErrNotAllocated
	}
	delete(b.spans, s.Offset)
	b.used -= s.Consumed()
	b.insertFree(freeRange{s.Start, s.Consumed()})
	return nil
}

func (b *Block) insertFree(r freeRange) {
	i := sort.Search(len(b.free), func(i int) bool { return b.free[i].offset > r.offset })
	b.free = append(b.free, freeRange{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = r

	// Merge with the next range, then with the previous one.
	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
}

// Size returns the block size.
func (b *Block) Size() uint64 { return b.size }

// Used returns the consumed bytes, padding included.
func (b *Block) Used() uint64 { return b.used }

// Count returns the number of live spans.
func (b *Block) Count() int { return len(b.spans) }

// IsEmpty reports whether nothing is allocated.
func (b *Block) IsEmpty() bool { return len(b.spans) == 0 }

// FreeCount returns the number of free ranges.
func (b *Block) FreeCount() int { return len(b.free) }

// LargestFree returns the size of the largest free range.
func (b *Block) LargestFree() uint64 {
	var m uint64
	for _, r := range b.free {
		m = max(m, r.size)
	}
	return m
}

// Fragmentation returns 1 - largest free range / free bytes, or 0 when the
// block is full or its free space is contiguous.
func (b *Block) Fragmentation() float64 {
	free := b.size - b.used
	if free == 0 {
		return 0
	}
	return 1 - float64(b.LargestFree())/float64(free)
}

// Spans returns the live spans sorted by offset.
func (b *Block) Spans() []Span {
	out := make([]Span, 0, len(b.spans))
	for _, s := range b.spans {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Item is one live allocation considered by Plan.
type Item struct {
	Span      Span
	Alignment uint64
	Pinned    bool
}

// Move relocates the allocation at index Index of the planned items.
type Move struct {
	Index int
	From  Span
	To    Span
}

// Plan computes a compaction of items, which must be the live spans of one
// block. Pinned items keep their offsets; every other item slides towards
// offset zero as far as alignment and pinned neighbours allow. A moved span
// never ends after its old end, so moves can be applied in the returned
// order without overwriting data that has not moved yet.
func Plan(items []Item) []Move {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return items[order[a]].Span.Offset < items[order[b]].Span.Offset })

	var moves []Move
	var cursor uint64
	for _, i := range order {
		it := items[i]
		if it.Pinned {
			cursor = max(cursor, it.Span.End())
			continue
		}
		off := AlignUp(cursor, it.Alignment)
		if off < it.Span.Offset {
			to := Span{Start: cursor, Offset: off, Size: it.Span.Size}
			moves = append(moves, Move{Index: i, From: it.Span, To: to})
			cursor = to.End()
			continue
		}
		cursor = it.Span.End()
	}
	return moves
}

// Apply replaces the spans of the block after the moves of a Plan have been
// carried out on the backing memory.
func (b *Block) Apply(moves []Move) error {
	for _, m := range moves {
		if held, ok := b.spans[m.From.Offset]; !ok || held != m.From {
			return ErrNotAllocated
		}
	}
	for _, m := range moves {
		delete(b.spans, m.From.Offset)
	}
	for _, m := range moves {
		b.spans[m.To.Offset] = m.To
	}
	b.rebuild()
	return nil
}

// rebuild recomputes the free list and usage from the live spans.
func (b *Block) rebuild() {
	b.free = b.free[:0]
	b.used = 0
	var cursor uint64
	for _, s := range b.Spans() {
		if s.Start > cursor {
			b.free = append(b.free, freeRange{cursor, s.Start - cursor})
		}
		b.used += s.Consumed()
		cursor = s.End()
	}
	if cursor < b.size {
		b.free = append(b.free, freeRange{cursor, b.size - cursor})
	}
}
