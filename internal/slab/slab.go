// Package slab implements the order slab (C1): a densely packed arena of
// orders addressed by a generational index so external handles stay safe
// after the slot they once pointed to is freed and reused.
//
// Grounded on the original implementation's ob/src/book.rs and
// ob/src/index.rs: the most recently freed slot is cached for reuse ahead
// of growing the arena, generation-bumped on every free, and a free slot
// adjacent to the tail retreats the tail offset instead of being cached —
// so a run of removals at the end of the arena shrinks it back down rather
// than leaving holes.
package slab

import (
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
)

// Order is the fixed-width record the slab stores. Side is not part of the
// record; it is implicit in which side's collection references the slot.
// UserID rides along so the matcher can evaluate self-trade protection
// without a second lookup.
type Order struct {
	Memo     uint32
	Quantity uint32
	Price    uint32
	UserID   coretypes.UserID
	// Expiry is the GoodTilDate deadline, zero for every other
	// time-in-force. The slab only stores it; nothing here ever checks it
	// against a clock — the engine has no timer, per spec. An operator
	// cancels expired orders explicitly.
	Expiry int64
}

// Index is an opaque handle to a slot: a slot number plus the generation the
// slot was at when the handle was issued, plus the side and asset the order
// lives on (carried here purely as caller convenience — the slab itself is
// side- and asset-agnostic — so a caller holding only an Index can still
// route a cancel or amend to the right per-asset book).
type Index struct {
	Slot       uint32
	Generation uint16
	Side       coretypes.Side
	Asset      coretypes.Asset
}

const noFreeSlot = ^uint32(0)

type slot struct {
	order      Order
	live       bool
	generation uint16
}

// Slab is a stable-index arena of orders with free-slot reuse and per-slot
// generation counters.
type Slab struct {
	slots      []slot
	freeSlot   uint32 // noFreeSlot when nothing is cached for reuse
	tailOffset uint32 // slots[0:tailOffset) are allocated; beyond is untouched
}

// New returns an empty slab.
func New() *Slab {
	return &Slab{freeSlot: noFreeSlot}
}

// Insert stores order and returns a handle to it: the cached free slot is
// reused first, then the tail offset, growing the backing array only when
// both are exhausted.
func (s *Slab) Insert(o Order) Index {
	if s.freeSlot != noFreeSlot {
		idx := s.freeSlot
		s.freeSlot = noFreeSlot
		gen := s.slots[idx].generation
		s.slots[idx] = slot{order: o, live: true, generation: gen}
		return Index{Slot: idx, Generation: gen}
	}

	idx := s.tailOffset
	var gen uint16
	if int(idx) < len(s.slots) {
		gen = s.slots[idx].generation
		s.slots[idx] = slot{order: o, live: true, generation: gen}
	} else {
		s.slots = append(s.slots, slot{order: o, live: true})
	}
	s.tailOffset = idx + 1
	return Index{Slot: idx, Generation: gen}
}

func (s *Slab) resolve(ix Index) (int, bool) {
	idx := int(ix.Slot)
	if idx < 0 || idx >= len(s.slots) {
		return 0, false
	}
	sl := &s.slots[idx]
	if !sl.live || sl.generation != ix.Generation {
		return 0, false
	}
	return idx, true
}

// Get returns the order at ix, or false if ix is stale or out of range.
func (s *Slab) Get(ix Index) (Order, bool) {
	idx, ok := s.resolve(ix)
	if !ok {
		return Order{}, false
	}
	return s.slots[idx].order, true
}

// GetMut returns a mutable pointer to the order at ix, or nil if ix is
// stale or out of range. Callers change only Quantity and Memo through it;
// Price is never changed in place.
func (s *Slab) GetMut(ix Index) *Order {
	idx, ok := s.resolve(ix)
	if !ok {
		return nil
	}
	return &s.slots[idx].order
}

// Remove frees the slot at ix, bumping its generation so any stale copy of
// ix never resolves again. Returns the removed order, or false if ix was
// already stale. Only one freed slot is cached: freeing a non-tail slot
// replaces whatever slot was cached before, and the replaced slot is not
// reused by later inserts.
func (s *Slab) Remove(ix Index) (Order, bool) {
	idx, ok := s.resolve(ix)
	if !ok {
		return Order{}, false
	}
	order := s.slots[idx].order
	gen := s.slots[idx].generation + 1
	s.slots[idx] = slot{live: false, generation: gen}

	if uint32(idx)+1 == s.tailOffset {
		// Adjacent to the tail: shrink back down instead of caching a hole.
		s.tailOffset = uint32(idx)
	} else {
		s.freeSlot = uint32(idx)
	}

	return order, true
}

// Len reports the number of live orders currently in the slab.
func (s *Slab) Len() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].live {
			n++
		}
	}
	return n
}
