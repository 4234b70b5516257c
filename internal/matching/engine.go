// Package matching implements the matching engine (C4): the deterministic,
// single-writer core that turns one command at a time into book mutations.
// It never touches the network, the ledger, or the command log — those are
// the supervisor's and coordinator's concerns.
//
// The pending-fill protocol (plan without mutating, then commit-or-abort) is
// grounded on the original implementation's pending_fill.rs and
// try_fill_order.rs; FOK/IOC/GTC/GTD handling and the four self-trade
// protection policies follow the same source's order matching loop,
// re-expressed without the original's panicking assertions (a stale
// snapshot at commit time becomes an Internal error here, since commit is
// defensive and should never actually observe one under the single-writer
// engine).
package matching

import (
	"github.com/abdoElHodaky/exchange-core/internal/orderbook"
	"github.com/abdoElHodaky/exchange-core/internal/pricelevel"
	"github.com/abdoElHodaky/exchange-core/internal/slab"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
)

// State is the engine-level run state. Operator commands are the only thing
// that transitions it.
type State uint8

const (
	// Suspended rejects every command; the initial state until bootstrap
	// replay completes.
	Suspended State = iota
	// Running accepts Place, Cancel, Amend.
	Running
	// ReduceOnly accepts Cancel and quantity-decreasing Amend; rejects
	// Place.
	ReduceOnly
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ReduceOnly:
		return "reduce_only"
	default:
		return "suspended"
	}
}

// PlaceRequest is one inbound order placement.
type PlaceRequest struct {
	User      coretypes.UserID
	Asset     coretypes.Asset
	Side      coretypes.Side
	OrderType coretypes.OrderType
	Price     uint32
	Quantity  uint32
	TIF       coretypes.TimeInForce
	STP       coretypes.SelfTradeProtection
	// Expiry is the GoodTilDate deadline (unix seconds); ignored for every
	// other TIF. The engine stores it but never checks it against a clock —
	// expiry is enforced by an operator issuing an explicit cancel.
	Expiry int64
}

// FillKind describes how much of a single maker or taker was consumed.
type FillKind uint8

const (
	NoFill FillKind = iota
	PartialFill
	CompleteFill
)

// MakerFill records one maker's outcome within a plan.
type MakerFill struct {
	Index       slab.Index
	Price       uint32
	Consumed    uint32
	Kind        FillKind
	Canceled    bool // true if STP canceled this maker instead of filling it
	STPDecrease bool // true if Consumed reflects a self-trade decrement, not a fill
}

// PlaceResult is returned from a successful Place command.
type PlaceResult struct {
	TakerOutcome  FillKind
	Makers        []MakerFill
	Resting       *slab.Index
	TakerCanceled bool // true if STP canceled the taker (CancelNewest, CancelBoth, or DecreaseCancel when the taker is not the larger side)
}

// Engine matches orders for a single asset's book. One Engine instance per
// asset; the supervisor is responsible for demultiplexing commands across
// assets if more than one is ever traded.
type Engine struct {
	book  *orderbook.Book
	state State
}

// New returns an engine over a fresh book for asset, starting Suspended as
// required for bootstrap replay.
func New(asset coretypes.Asset) *Engine {
	return &Engine{book: orderbook.New(asset), state: Suspended}
}

// State reports the current run state.
func (e *Engine) State() State {
	return e.state
}

// Asset reports which tradable instrument this engine's book matches.
func (e *Engine) Asset() coretypes.Asset {
	return e.book.Asset
}

// SetState transitions the engine. Only the supervisor, acting on an
// operator command, should call this.
func (e *Engine) SetState(s State) {
	e.state = s
}

// Book exposes the underlying book for read-only inspection (metrics,
// snapshots for tests). Mutation must go through Place/Cancel/Amend.
func (e *Engine) Book() *orderbook.Book {
	return e.book
}

type plannedMaker struct {
	index       slab.Index
	snapshot    slab.Order
	consume     uint32
	kind        FillKind
	canceled    bool
	stpDecrease bool
}

// Place runs the pending-fill protocol for req and, if the policy allows,
// commits it to the book.
func (e *Engine) Place(req PlaceRequest) (*PlaceResult, error) {
	if err := e.checkAcceptsPlace(); err != nil {
		return nil, err
	}

	remaining := req.Quantity
	var plan []plannedMaker
	takerCanceledByStp := false

	e.book.IterOpposing(req.Side, func(price uint32, entry pricelevel.Entry) bool {
		if remaining == 0 {
			return false
		}
		if req.OrderType == coretypes.OrderTypeLimit && !priceCrosses(req.Side, req.Price, price) {
			return false
		}

		maker, ok := e.book.Get(entry.Index)
		if !ok {
			// Already planned against earlier in this same walk, or stale;
			// never actually true under a single-writer engine mid-plan.
			return true
		}

		if maker.UserID == req.User {
			switch req.STP {
			case coretypes.CancelNewest:
				takerCanceledByStp = true
				remaining = 0
				return false
			case coretypes.CancelBoth:
				plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, canceled: true})
				takerCanceledByStp = true
				remaining = 0
				return false
			case coretypes.CancelOldest:
				plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, canceled: true})
				return true
			default: // DecreaseCancel: the pair produces no fill; whichever
				// side has the larger quantity is decremented by the
				// smaller, and the smaller side is canceled outright.
				switch {
				case remaining > maker.Quantity:
					remaining -= maker.Quantity
					plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, canceled: true})
					return remaining > 0
				case remaining < maker.Quantity:
					plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, consume: remaining, kind: PartialFill, stpDecrease: true})
					takerCanceledByStp = true
					remaining = 0
					return false
				default:
					plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, canceled: true})
					takerCanceledByStp = true
					remaining = 0
					return false
				}
			}
		}

		if maker.Quantity <= remaining {
			plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, consume: maker.Quantity, kind: CompleteFill})
			remaining -= maker.Quantity
		} else {
			plan = append(plan, plannedMaker{index: entry.Index, snapshot: maker, consume: remaining, kind: PartialFill})
			remaining = 0
		}
		return remaining > 0
	})

	takerOutcome := NoFill
	switch {
	case takerCanceledByStp:
		takerOutcome = NoFill
	case remaining == 0:
		takerOutcome = CompleteFill
	case remaining < req.Quantity:
		takerOutcome = PartialFill
	}

	if req.TIF == coretypes.FillOrKill && takerOutcome != CompleteFill {
		return &PlaceResult{TakerOutcome: NoFill}, nil
	}

	return e.commit(req, plan, takerOutcome, remaining, takerCanceledByStp)
}

func (e *Engine) commit(req PlaceRequest, plan []plannedMaker, takerOutcome FillKind, remaining uint32, takerCanceledByStp bool) (*PlaceResult, error) {
	result := &PlaceResult{TakerOutcome: takerOutcome}

	for _, pm := range plan {
		current, ok := e.book.Get(pm.index)
		if !ok || current != pm.snapshot {
			return nil, xerrors.New(xerrors.Internal, "stale maker snapshot at commit")
		}

		mf := MakerFill{Index: pm.index, Price: pm.snapshot.Price, Canceled: pm.canceled, STPDecrease: pm.stpDecrease}
		switch {
		case pm.canceled:
			e.book.Remove(pm.index)
		case pm.stpDecrease:
			m := e.book.GetMut(pm.index)
			if m == nil {
				return nil, xerrors.New(xerrors.Internal, "maker vanished mid-commit")
			}
			m.Quantity -= pm.consume
			mf.Consumed = pm.consume
		case pm.kind == CompleteFill:
			e.book.Remove(pm.index)
			mf.Consumed = pm.consume
			mf.Kind = CompleteFill
		default:
			m := e.book.GetMut(pm.index)
			if m == nil {
				return nil, xerrors.New(xerrors.Internal, "maker vanished mid-commit")
			}
			m.Quantity -= pm.consume
			mf.Consumed = pm.consume
			mf.Kind = PartialFill
		}
		result.Makers = append(result.Makers, mf)
	}

	if takerCanceledByStp {
		result.TakerCanceled = true
		result.TakerOutcome = NoFill
		return result, nil
	}

	if remaining > 0 && req.TIF.RestsOnBook() {
		ix := e.book.Insert(req.Side, req.Price, remaining, req.User, req.Expiry)
		result.Resting = &ix
	}

	return result, nil
}

// priceCrosses reports whether a limit taker on side at limitPrice is
// willing to trade at opposingPrice.
func priceCrosses(side coretypes.Side, limitPrice, opposingPrice uint32) bool {
	if side == coretypes.SideBuy {
		return opposingPrice <= limitPrice
	}
	return opposingPrice >= limitPrice
}

func (e *Engine) checkAcceptsPlace() error {
	switch e.state {
	case Running:
		return nil
	case ReduceOnly:
		return xerrors.New(xerrors.Unresponsive, "engine is reduce-only: placement rejected")
	default:
		return xerrors.New(xerrors.Unresponsive, "engine is suspended")
	}
}

func (e *Engine) checkAcceptsMutation() error {
	if e.state == Suspended {
		return xerrors.New(xerrors.Unresponsive, "engine is suspended")
	}
	return nil
}

// Cancel removes ix from the book.
func (e *Engine) Cancel(ix slab.Index) error {
	if err := e.checkAcceptsMutation(); err != nil {
		return err
	}
	if _, ok := e.book.Remove(ix); !ok {
		return xerrors.New(xerrors.NotFound, "order not found")
	}
	return nil
}

// AmendRequest describes an in-place or remove+reinsert amend. Memo and
// Quantity may be changed in place; a non-nil Price that differs from the
// order's current price forces a remove+reinsert, which resets FIFO
// position (and therefore the order's memo, regardless of a Memo override).
type AmendRequest struct {
	Index    slab.Index
	Memo     *uint32
	Price    *uint32
	Quantity *uint32
}

// Amend applies req. A price change removes and re-inserts (resetting FIFO
// position); a quantity-only or memo-only change mutates in place. Quantity
// may only decrease.
func (e *Engine) Amend(req AmendRequest) (slab.Index, error) {
	if err := e.checkAcceptsMutation(); err != nil {
		return slab.Index{}, err
	}
	if e.state == ReduceOnly && req.Quantity == nil {
		return slab.Index{}, xerrors.New(xerrors.Unresponsive, "reduce-only accepts only quantity-decreasing amends")
	}

	current, ok := e.book.Get(req.Index)
	if !ok {
		return slab.Index{}, xerrors.New(xerrors.NotFound, "order not found")
	}

	if e.state == ReduceOnly && *req.Quantity >= current.Quantity {
		return slab.Index{}, xerrors.New(xerrors.Unresponsive, "reduce-only accepts only quantity-decreasing amends")
	}

	newQty := current.Quantity
	if req.Quantity != nil {
		if *req.Quantity > current.Quantity {
			return slab.Index{}, xerrors.New(xerrors.Internal, "amend quantity may only decrease")
		}
		if *req.Quantity == 0 {
			return slab.Index{}, xerrors.New(xerrors.Internal, "amend to zero quantity must go through cancel")
		}
		newQty = *req.Quantity
	}

	if req.Price == nil || *req.Price == current.Price {
		m := e.book.GetMut(req.Index)
		if m == nil {
			return slab.Index{}, xerrors.New(xerrors.Internal, "order vanished mid-amend")
		}
		m.Quantity = newQty
		if req.Memo != nil {
			m.Memo = *req.Memo
		}
		return req.Index, nil
	}

	removed, ok := e.book.Remove(req.Index)
	if !ok {
		return slab.Index{}, xerrors.New(xerrors.Internal, "order vanished mid-amend")
	}
	newIx := e.book.Insert(req.Index.Side, *req.Price, newQty, removed.UserID, removed.Expiry)
	return newIx, nil
}
