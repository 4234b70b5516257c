// Package coordinator implements the placement coordinator (C7): the
// two-phase place-order protocol that reserves funds, submits the command
// to the engine, and reverts the reservation if the engine never actually
// commits it.
//
// Grounded on the original implementation's crates/common-core/src/app_cx.rs
// (place_order/cancel_order) and app_cx/defer_guard.rs (DeferGuard). Go has
// no destructors, so the original's Drop-triggered-unless-cancelled guard
// is re-expressed as an explicit value whose Close is always invoked via
// defer at the call site, rather than relying on scope exit to run it
// implicitly.
package coordinator

import (
	"context"

	"github.com/abdoElHodaky/exchange-core/internal/ledger"
	"go.uber.org/zap"
)

// RevertGuard reverts a ledger reservation on Close unless Disarm was
// called first. It is the Go re-expression of the original's DeferGuard:
// armed on construction, Close is the drop, Disarm is cancel.
type RevertGuard struct {
	ledger      *ledger.Ledger
	reservation ledger.ReservationID
	logger      *zap.Logger
	active      bool
}

// NewRevertGuard returns an armed guard over reservation.
func NewRevertGuard(l *ledger.Ledger, reservation ledger.ReservationID, logger *zap.Logger) *RevertGuard {
	return &RevertGuard{ledger: l, reservation: reservation, logger: logger, active: true}
}

// Disarm cancels the guard: Close becomes a no-op. Call this once the
// placement this reservation backs has actually committed.
func (g *RevertGuard) Disarm() {
	g.active = false
}

// Close reverts the reservation if the guard is still armed. Callers must
// invoke this via defer immediately after construction so every return
// path — including a panic recovered higher up — reverts an unconfirmed
// reservation.
func (g *RevertGuard) Close(ctx context.Context) {
	if !g.active {
		return
	}
	g.active = false
	if err := g.ledger.Revert(ctx, g.reservation); err != nil {
		g.logger.Warn("failed to revert reserved funds", zap.Error(err), zap.Uint64("reservation_id", uint64(g.reservation)))
	}
}
