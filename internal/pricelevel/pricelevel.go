// Package pricelevel implements the per-side collection of price buckets
// (C2). Each bucket is a FIFO of slab indices in arrival order; buckets are
// kept in a slice sorted by price with binary-search insertion, mirroring
// the original implementation's exchange/src/trading/price_level.rs.
package pricelevel

import (
	"sort"

	"github.com/abdoElHodaky/exchange-core/internal/slab"
)

// Entry pairs a slab index with the per-level FIFO sequence number (memo)
// it was assigned on arrival.
type Entry struct {
	Index slab.Index
	Memo  uint32
}

type bucket struct {
	price   uint32
	memoSeq uint32
	entries []Entry
}

// Side holds all price buckets for one side of the book (bids or asks),
// kept sorted ascending by price. The matcher decides traversal direction.
type Side struct {
	buckets []bucket
}

// New returns an empty side.
func New() *Side {
	return &Side{}
}

func (s *Side) find(price uint32) int {
	return sort.Search(len(s.buckets), func(i int) bool {
		return s.buckets[i].price >= price
	})
}

// Push appends ix to the bucket at price, assigning it the next memo in
// that bucket's arrival sequence. The bucket is created if it does not yet
// exist.
func (s *Side) Push(price uint32, ix slab.Index) uint32 {
	i := s.find(price)
	if i < len(s.buckets) && s.buckets[i].price == price {
		b := &s.buckets[i]
		memo := b.memoSeq
		b.memoSeq++
		b.entries = append(b.entries, Entry{Index: ix, Memo: memo})
		return memo
	}

	s.buckets = append(s.buckets, bucket{})
	copy(s.buckets[i+1:], s.buckets[i:])
	s.buckets[i] = bucket{price: price, memoSeq: 1, entries: []Entry{{Index: ix, Memo: 0}}}
	return 0
}

// Remove deletes the entry for ix at price. When the bucket becomes empty
// it is deleted from the side so iteration never yields empty price points.
func (s *Side) Remove(price uint32, ix slab.Index) bool {
	i := s.find(price)
	if i >= len(s.buckets) || s.buckets[i].price != price {
		return false
	}
	b := &s.buckets[i]
	for j, e := range b.entries {
		// Compare on Slot/Generation only: Side/Asset are caller-convenience
		// fields on the handle and must never gate whether a stored entry
		// matches it.
		if e.Index.Slot == ix.Slot && e.Index.Generation == ix.Generation {
			b.entries = append(b.entries[:j], b.entries[j+1:]...)
			if len(b.entries) == 0 {
				s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
			}
			return true
		}
	}
	return false
}

// BestPrice returns the lowest price with a non-empty bucket and whether
// one exists. Callers traverse ascending (asks) from here, or iterate the
// side in reverse for descending (bids) traversal.
func (s *Side) BestPrice() (uint32, bool) {
	if len(s.buckets) == 0 {
		return 0, false
	}
	return s.buckets[0].price, true
}

// IterAsc calls fn for every (price, Entry) pair in ascending price order,
// FIFO within each price. Stops early if fn returns false.
func (s *Side) IterAsc(fn func(price uint32, e Entry) bool) {
	for i := range s.buckets {
		b := &s.buckets[i]
		for _, e := range b.entries {
			if !fn(b.price, e) {
				return
			}
		}
	}
}

// IterDesc calls fn for every (price, Entry) pair in descending price
// order, FIFO within each price. Stops early if fn returns false.
func (s *Side) IterDesc(fn func(price uint32, e Entry) bool) {
	for i := len(s.buckets) - 1; i >= 0; i-- {
		b := &s.buckets[i]
		for _, e := range b.entries {
			if !fn(b.price, e) {
				return
			}
		}
	}
}

// Len reports the total number of resting entries across all buckets.
func (s *Side) Len() int {
	n := 0
	for i := range s.buckets {
		n += len(s.buckets[i].entries)
	}
	return n
}
