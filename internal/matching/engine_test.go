package matching_test

import (
	"testing"

	"github.com/abdoElHodaky/exchange-core/internal/matching"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningEngine() *matching.Engine {
	e := matching.New(coretypes.Asset("BTC"))
	e.SetState(matching.Running)
	return e
}

// S1: limit cross, complete taker / complete maker.
func TestEngine_LimitCrossCompleteBoth(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	result, err := e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	assert.Equal(t, matching.CompleteFill, result.TakerOutcome)
	require.Len(t, result.Makers, 1)
	assert.Equal(t, matching.CompleteFill, result.Makers[0].Kind)
	assert.Nil(t, result.Resting)

	// A complete fill must remove the resting maker from its own side. A
	// handle with a stale Side would route this removal at the wrong side
	// and leave the maker's price-level entry leaked.
	bids, asks := e.Book().Depth()
	assert.Equal(t, 0, bids)
	assert.Equal(t, 0, asks)
}

// TestEngine_LimitCrossCompleteBothBothTakerSides repeats S1 for both taker
// sides, asserting Depth() on both books to lock in that a complete-fill
// removal always targets the maker's actual resting side rather than the
// zero-value default.
func TestEngine_LimitCrossCompleteBothBothTakerSides(t *testing.T) {
	t.Run("buy taker fills ask maker", func(t *testing.T) {
		e := newRunningEngine()

		_, err := e.Place(matching.PlaceRequest{
			User: "maker", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
			Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
		})
		require.NoError(t, err)

		result, err := e.Place(matching.PlaceRequest{
			User: "taker", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
			Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
		})
		require.NoError(t, err)
		require.Equal(t, matching.CompleteFill, result.TakerOutcome)

		bids, asks := e.Book().Depth()
		assert.Equal(t, 0, bids, "buy-side complete fill must leave no resting bid")
		assert.Equal(t, 0, asks, "the filled ask maker must be removed from the ask side, not leaked onto bids")
	})

	t.Run("sell taker fills bid maker", func(t *testing.T) {
		e := newRunningEngine()

		_, err := e.Place(matching.PlaceRequest{
			User: "maker", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
			Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
		})
		require.NoError(t, err)

		result, err := e.Place(matching.PlaceRequest{
			User: "taker", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
			Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
		})
		require.NoError(t, err)
		require.Equal(t, matching.CompleteFill, result.TakerOutcome)

		bids, asks := e.Book().Depth()
		assert.Equal(t, 0, bids, "the filled bid maker must be removed from the bid side, not leaked onto asks")
		assert.Equal(t, 0, asks, "sell-side complete fill must leave no resting ask")
	})
}

// S2: limit cross, partial maker.
func TestEngine_LimitCrossPartialMaker(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 10, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	result, err := e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 3, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	assert.Equal(t, matching.CompleteFill, result.TakerOutcome)
	assert.Nil(t, result.Resting)

	_, asks := e.Book().Depth()
	assert.Equal(t, 1, asks)
}

// S3: limit rest, no cross.
func TestEngine_LimitRestsWhenNoCross(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 101, Quantity: 1, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	result, err := e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 2, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	assert.Equal(t, matching.NoFill, result.TakerOutcome)
	require.NotNil(t, result.Resting)
	assert.Empty(t, result.Makers)

	bids, asks := e.Book().Depth()
	assert.Equal(t, 1, bids)
	assert.Equal(t, 1, asks)
}

// S4: FillOrKill aborts entirely and leaves the book unchanged.
func TestEngine_FillOrKillAbortsLeavesBookUnchanged(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 4, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	before, _ := e.Book().Depth()

	result, err := e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.FillOrKill,
	})
	require.NoError(t, err)

	assert.Equal(t, matching.NoFill, result.TakerOutcome)
	assert.Nil(t, result.Resting)
	assert.Empty(t, result.Makers)

	after, asks := e.Book().Depth()
	assert.Equal(t, before, after)
	assert.Equal(t, 1, asks)
}

// S5: STP CancelBoth leaves the book empty with no fill for either side.
func TestEngine_SelfTradeProtectionCancelBoth(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled, STP: coretypes.CancelBoth,
	})
	require.NoError(t, err)

	assert.True(t, result.TakerCanceled)
	assert.Equal(t, matching.NoFill, result.TakerOutcome)
	assert.Nil(t, result.Resting)

	bids, asks := e.Book().Depth()
	assert.Equal(t, 0, bids)
	assert.Equal(t, 0, asks)
}

func TestEngine_ImmediateOrCancelDiscardsRemainder(t *testing.T) {
	e := newRunningEngine()

	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.ImmediateOrCancel,
	})
	require.NoError(t, err)
	assert.Equal(t, matching.NoFill, result.TakerOutcome)
	assert.Nil(t, result.Resting)

	bids, _ := e.Book().Depth()
	assert.Equal(t, 0, bids, "IOC remainder must never rest")
}

func TestEngine_PricePriorityAcrossLevels(t *testing.T) {
	e := newRunningEngine()

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 102, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)
	_, err = e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	result, err := e.Place(matching.PlaceRequest{
		User: "u3", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 102, Quantity: 5, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	require.Len(t, result.Makers, 1)
	assert.Equal(t, uint32(100), result.Makers[0].Price, "cheapest ask must fill before the pricier one")
}

func TestEngine_CancelUnknownOrderReturnsNotFound(t *testing.T) {
	e := newRunningEngine()
	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 1, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Resting)

	require.NoError(t, e.Cancel(*result.Resting))

	err = e.Cancel(*result.Resting)
	assert.Error(t, err)
	assert.Equal(t, xerrors.NotFound, xerrors.GetCode(err))
}

func TestEngine_AmendQuantityOnlyPreservesFIFOPosition(t *testing.T) {
	e := newRunningEngine()

	result1, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 10, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)
	require.NotNil(t, result1.Resting)

	newQty := uint32(6)
	newIx, err := e.Amend(matching.AmendRequest{Index: *result1.Resting, Quantity: &newQty})
	require.NoError(t, err)
	assert.Equal(t, result1.Resting.Slot, newIx.Slot, "quantity-only amend must not move the order")

	order, ok := e.Book().Get(newIx)
	require.True(t, ok)
	assert.Equal(t, uint32(6), order.Quantity)
}

func TestEngine_AmendMemoInPlaceDoesNotMoveOrder(t *testing.T) {
	e := newRunningEngine()

	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 10, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Resting)

	newMemo := uint32(77)
	newIx, err := e.Amend(matching.AmendRequest{Index: *result.Resting, Memo: &newMemo})
	require.NoError(t, err)
	assert.Equal(t, result.Resting.Slot, newIx.Slot, "memo-only amend must not move the order")

	order, ok := e.Book().Get(newIx)
	require.True(t, ok)
	assert.Equal(t, newMemo, order.Memo)
}

func TestEngine_AmendRejectsQuantityIncrease(t *testing.T) {
	e := newRunningEngine()

	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 10, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	bigger := uint32(20)
	_, err = e.Amend(matching.AmendRequest{Index: *result.Resting, Quantity: &bigger})
	assert.Error(t, err)
}

func TestEngine_SuspendedStateRejectsPlace(t *testing.T) {
	e := matching.New(coretypes.Asset("BTC"))

	_, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 1, TIF: coretypes.GoodTilCanceled,
	})
	assert.Error(t, err)
}

func TestEngine_ReduceOnlyRejectsPlaceButAllowsCancel(t *testing.T) {
	e := newRunningEngine()

	result, err := e.Place(matching.PlaceRequest{
		User: "u1", Side: coretypes.SideSell, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 1, TIF: coretypes.GoodTilCanceled,
	})
	require.NoError(t, err)

	e.SetState(matching.ReduceOnly)

	_, err = e.Place(matching.PlaceRequest{
		User: "u2", Side: coretypes.SideBuy, OrderType: coretypes.OrderTypeLimit,
		Price: 100, Quantity: 1, TIF: coretypes.GoodTilCanceled,
	})
	assert.Error(t, err)

	err = e.Cancel(*result.Resting)
	assert.NoError(t, err)
}
