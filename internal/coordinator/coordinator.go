package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/abdoElHodaky/exchange-core/internal/ledger"
	"github.com/abdoElHodaky/exchange-core/internal/matching"
	"github.com/abdoElHodaky/exchange-core/internal/metrics"
	"github.com/abdoElHodaky/exchange-core/internal/slab"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Submitter hands a command to the engine's single worker and waits for its
// reply. The supervisor (C8) is the production implementation; tests supply
// a fake.
type Submitter interface {
	SubmitPlace(ctx context.Context, req matching.PlaceRequest) (*matching.PlaceResult, error)
	SubmitCancel(ctx context.Context, ix slab.Index) error
	SubmitAmend(ctx context.Context, req matching.AmendRequest) (slab.Index, error)
}

// PlaceOrderRequest is the external placement surface of spec.md §6: the
// shape a caller (outside this core) submits. The coordinator validates it
// before ever touching the ledger, then translates it into
// matching.PlaceRequest for submission to the engine.
type PlaceOrderRequest struct {
	User      coretypes.UserID            `validate:"required"`
	Asset     coretypes.Asset             `validate:"required"`
	Side      coretypes.Side              `validate:"oneof=0 1"`
	OrderType coretypes.OrderType         `validate:"oneof=0 1"`
	Price     uint32                      `validate:"required,gt=0"`
	Quantity  uint32                      `validate:"required,gt=0"`
	TIF       coretypes.TimeInForce       `validate:"oneof=0 1 2 3"`
	STP       coretypes.SelfTradeProtection `validate:"oneof=0 1 2 3"`
	// Expiry is only meaningful under GoodTilDate; zero otherwise.
	Expiry int64
}

// CancelOrderRequest is the external cancel surface of spec.md §6.
type CancelOrderRequest struct {
	User  coretypes.UserID    `validate:"required"`
	Order coretypes.OrderUUID `validate:"required"`
}

// AmendOrderRequest carries an in-place or remove-reinsert amend, keyed by
// the same external UUID PlaceOrder returned.
type AmendOrderRequest struct {
	User     coretypes.UserID    `validate:"required"`
	Order    coretypes.OrderUUID `validate:"required"`
	Memo     *uint32
	Price    *uint32
	Quantity *uint32
}

// orderHandle is what the coordinator's UUID map resolves an OrderUUID to:
// the engine-internal handle plus the asset needed to route a later
// cancel/amend to the right engine.
type orderHandle struct {
	Index slab.Index
	Asset coretypes.Asset
}

// Coordinator runs the two-phase place-order protocol: reserve funds,
// submit to the engine, confirm or revert depending on the outcome. It also
// owns the OrderUUID -> OrderIndex map spec.md's Data Model section assigns
// to the coordinator, so cancellations by UUID resolve in O(1).
type Coordinator struct {
	ledger    *ledger.Ledger
	submitter Submitter
	logger    *zap.Logger
	validate  *validator.Validate
	metrics   *metrics.Metrics

	mu    sync.Mutex
	orders map[coretypes.OrderUUID]orderHandle
}

// New returns a Coordinator over l and sub.
func New(l *ledger.Ledger, sub Submitter, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:    l,
		submitter: sub,
		logger:    logger,
		validate:  validator.New(),
		orders:    make(map[coretypes.OrderUUID]orderHandle),
	}
}

// WithMetrics attaches m to c, reporting reservations outstanding as they
// are opened and resolved. Returns c for chaining at construction time.
func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// reservationCurrency returns which currency a placement reserves against:
// the quote currency (USD) for a buy, the asset's own currency for a sell.
func reservationCurrency(asset coretypes.Asset, side coretypes.Side) coretypes.Currency {
	if side == coretypes.SideBuy {
		return coretypes.QuoteCurrency()
	}
	return coretypes.BaseCurrency(asset)
}

// reservationAmount returns how much of reservationCurrency a placement
// locks up: a buy reserves quote currency for the full notional (price x
// quantity), a sell reserves the base asset it is offering (quantity alone).
func reservationAmount(side coretypes.Side, price, quantity uint32) int64 {
	if side == coretypes.SideBuy {
		return int64(price) * int64(quantity)
	}
	return int64(quantity)
}

// PlaceOrder validates req, reserves funds for it, submits it to the
// engine, and either confirms the reservation (engine accepted it) or
// reverts it (submission failed or the engine rejected the command
// outright). A reservation that the engine accepted but that later produces
// no fill — IOC expiring unmatched, STP canceling the taker — is still
// confirmed: the reserved funds back a real resting order or a real
// canceled taker, not a command that never reached the book at all.
//
// The returned OrderUUID is valid even when the order did not rest (the
// caller's placement acknowledgment per spec.md §6); only an order that
// actually rests is entered into the cancel/amend map, since there is
// nothing later to cancel otherwise.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (coretypes.OrderUUID, *matching.PlaceResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", nil, xerrors.Wrap(err, xerrors.Internal, "invalid place order request")
	}

	ccy := reservationCurrency(req.Asset, req.Side)
	amount := reservationAmount(req.Side, req.Price, req.Quantity)
	reservation, err := c.ledger.Reserve(ctx, req.User, ccy, amount)
	if err != nil {
		return "", nil, err
	}
	if c.metrics != nil {
		c.metrics.ReservationsOutstanding.Inc()
	}

	guard := NewRevertGuard(c.ledger, reservation, c.logger)
	defer func() {
		// A caller whose ctx is canceled must still get its reservation
		// reverted, so the revert runs without the caller's cancellation.
		guard.Close(context.WithoutCancel(ctx))
		if c.metrics != nil {
			c.metrics.ReservationsOutstanding.Dec()
		}
	}()

	engineReq := matching.PlaceRequest{
		User: req.User, Asset: req.Asset, Side: req.Side, OrderType: req.OrderType,
		Price: req.Price, Quantity: req.Quantity, TIF: req.TIF, STP: req.STP, Expiry: req.Expiry,
	}
	result, err := c.submitter.SubmitPlace(ctx, engineReq)
	if err != nil {
		c.logger.Warn("failed to submit place order to engine", zap.Error(err), zap.String("user", string(req.User)))
		return "", nil, xerrors.Wrap(err, xerrors.Unresponsive, "trading engine unresponsive")
	}

	guard.Disarm()

	orderUUID := coretypes.OrderUUID(uuid.NewString())
	if result.Resting != nil {
		c.mu.Lock()
		c.orders[orderUUID] = orderHandle{Index: *result.Resting, Asset: req.Asset}
		c.mu.Unlock()
	}
	return orderUUID, result, nil
}

// CancelOrder resolves req.Order through the UUID map and submits a cancel
// to the engine. Canceling never holds a reservation of its own — any funds
// the canceled order held are released by the reservation that backed its
// original placement.
func (c *Coordinator) CancelOrder(ctx context.Context, req CancelOrderRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return xerrors.Wrap(err, xerrors.Internal, "invalid cancel order request")
	}

	c.mu.Lock()
	handle, ok := c.orders[req.Order]
	c.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.NotFound, "order not found")
	}

	if err := c.submitter.SubmitCancel(ctx, handle.Index); err != nil {
		c.logger.Warn("failed to submit cancel order to engine", zap.Error(err))
		return xerrors.Wrap(err, xerrors.Unresponsive, "trading engine unresponsive")
	}

	c.mu.Lock()
	delete(c.orders, req.Order)
	c.mu.Unlock()
	return nil
}

// AmendOrder resolves req.Order through the UUID map and submits an amend.
// A price change re-inserts under a new internal index (resetting FIFO
// position); the map is updated to the new index so the same external UUID
// keeps resolving. A quantity-decreasing amend does not revert the
// proportional share of the original reservation — settlement-side
// reconciliation of partially-used reservations is out of this core's
// scope — it only ever changes what rests on the book.
func (c *Coordinator) AmendOrder(ctx context.Context, req AmendOrderRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return xerrors.Wrap(err, xerrors.Internal, "invalid amend order request")
	}

	c.mu.Lock()
	handle, ok := c.orders[req.Order]
	c.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.NotFound, "order not found")
	}

	newIx, err := c.submitter.SubmitAmend(ctx, matching.AmendRequest{Index: handle.Index, Memo: req.Memo, Price: req.Price, Quantity: req.Quantity})
	if err != nil {
		c.logger.Warn("failed to submit amend order to engine", zap.Error(err))
		return xerrors.Wrap(err, xerrors.Unresponsive, "trading engine unresponsive")
	}

	c.mu.Lock()
	c.orders[req.Order] = orderHandle{Index: newIx, Asset: handle.Asset}
	c.mu.Unlock()
	return nil
}
