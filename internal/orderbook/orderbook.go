// Package orderbook composes the slab and the two price-level sides into
// the per-asset book (C3): bids sorted so the highest price is best, asks
// sorted so the lowest price is best.
package orderbook

import (
	"github.com/abdoElHodaky/exchange-core/internal/pricelevel"
	"github.com/abdoElHodaky/exchange-core/internal/slab"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
)

// Book is one asset's order book: a shared order slab plus a bid side and
// an ask side of price levels referencing slots in it.
type Book struct {
	Asset coretypes.Asset
	slab  *slab.Slab
	bids  *pricelevel.Side
	asks  *pricelevel.Side
}

// New returns an empty book for asset.
func New(asset coretypes.Asset) *Book {
	return &Book{
		Asset: asset,
		slab:  slab.New(),
		bids:  pricelevel.New(),
		asks:  pricelevel.New(),
	}
}

func (b *Book) side(s coretypes.Side) *pricelevel.Side {
	if s == coretypes.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert stores order in the slab and pushes it onto the given side's price
// level, returning the resulting handle. expiry is the GoodTilDate deadline
// (unix seconds), zero for any other time-in-force.
func (b *Book) Insert(side coretypes.Side, price, quantity uint32, user coretypes.UserID, expiry int64) slab.Index {
	ix := b.slab.Insert(slab.Order{Quantity: quantity, Price: price, UserID: user, Expiry: expiry})
	ix.Side = side
	ix.Asset = b.Asset
	memo := b.side(side).Push(price, ix)
	if m := b.slab.GetMut(ix); m != nil {
		m.Memo = memo
	}
	return ix
}

// Remove deletes ix from both the slab and its resting price level.
// Returns the removed order and whether it was found.
func (b *Book) Remove(ix slab.Index) (slab.Order, bool) {
	order, ok := b.slab.Get(ix)
	if !ok {
		return slab.Order{}, false
	}
	b.side(ix.Side).Remove(order.Price, ix)
	return b.slab.Remove(ix)
}

// Get returns the order currently at ix.
func (b *Book) Get(ix slab.Index) (slab.Order, bool) {
	return b.slab.Get(ix)
}

// GetMut returns a mutable pointer to the order at ix, for in-place
// quantity decrements during matching or an in-place (quantity or memo)
// amend.
func (b *Book) GetMut(ix slab.Index) *slab.Order {
	return b.slab.GetMut(ix)
}

// BestOpposing returns the best price available on the side opposing
// taker, and whether the side is non-empty.
func (b *Book) BestOpposing(taker coretypes.Side) (uint32, bool) {
	opposing := b.side(taker.Opposite())
	if taker == coretypes.SideBuy {
		// Lowest ask is best for a buyer.
		return opposing.BestPrice()
	}
	// Highest bid is best for a seller.
	var best uint32
	found := false
	opposing.IterDesc(func(price uint32, _ pricelevel.Entry) bool {
		best, found = price, true
		return false
	})
	return best, found
}

// IterOpposing walks the side opposing taker in matching priority order
// (best price first, FIFO within a price), calling fn for each resting
// entry. Stops early if fn returns false.
func (b *Book) IterOpposing(taker coretypes.Side, fn func(price uint32, e pricelevel.Entry) bool) {
	opposing := b.side(taker.Opposite())
	if taker == coretypes.SideBuy {
		// Buyer matches asks ascending: cheapest first.
		opposing.IterAsc(fn)
	} else {
		// Seller matches bids descending: richest bid first.
		opposing.IterDesc(fn)
	}
}

// Depth reports the number of resting orders on each side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}
