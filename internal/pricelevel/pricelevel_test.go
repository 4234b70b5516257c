package pricelevel_test

import (
	"testing"

	"github.com/abdoElHodaky/exchange-core/internal/pricelevel"
	"github.com/abdoElHodaky/exchange-core/internal/slab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide_FIFOWithinPriceLevel(t *testing.T) {
	s := pricelevel.New()

	a := slab.Index{Slot: 1}
	b := slab.Index{Slot: 2}

	memoA := s.Push(100, a)
	memoB := s.Push(100, b)
	require.Less(t, memoA, memoB, "earlier arrival must carry a strictly smaller memo")

	var order []slab.Index
	s.IterAsc(func(price uint32, e pricelevel.Entry) bool {
		order = append(order, e.Index)
		return true
	})
	assert.Equal(t, []slab.Index{a, b}, order)
}

func TestSide_AscendingAndDescendingTraversal(t *testing.T) {
	s := pricelevel.New()
	ix100 := slab.Index{Slot: 1}
	ix200 := slab.Index{Slot: 2}
	ix50 := slab.Index{Slot: 3}

	s.Push(100, ix100)
	s.Push(200, ix200)
	s.Push(50, ix50)

	var asc []uint32
	s.IterAsc(func(price uint32, e pricelevel.Entry) bool {
		asc = append(asc, price)
		return true
	})
	assert.Equal(t, []uint32{50, 100, 200}, asc)

	var desc []uint32
	s.IterDesc(func(price uint32, e pricelevel.Entry) bool {
		desc = append(desc, price)
		return true
	})
	assert.Equal(t, []uint32{200, 100, 50}, desc)
}

func TestSide_RemoveDeletesEmptyBucket(t *testing.T) {
	s := pricelevel.New()
	ix := slab.Index{Slot: 1}
	s.Push(100, ix)

	ok := s.Remove(100, ix)
	require.True(t, ok)
	assert.Equal(t, 0, s.Len())

	_, hasBest := s.BestPrice()
	assert.False(t, hasBest, "removing the only entry must delete the bucket, not leave it empty")
}

func TestSide_RemoveUnknownEntryReportsFalse(t *testing.T) {
	s := pricelevel.New()
	s.Push(100, slab.Index{Slot: 1})

	ok := s.Remove(100, slab.Index{Slot: 99})
	assert.False(t, ok)

	ok = s.Remove(200, slab.Index{Slot: 1})
	assert.False(t, ok)
}

func TestSide_BestPriceIsLowest(t *testing.T) {
	s := pricelevel.New()
	s.Push(300, slab.Index{Slot: 1})
	s.Push(100, slab.Index{Slot: 2})
	s.Push(200, slab.Index{Slot: 3})

	best, ok := s.BestPrice()
	require.True(t, ok)
	assert.Equal(t, uint32(100), best)
}
