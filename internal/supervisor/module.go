package supervisor

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/exchange-core/internal/commandlog"
	"github.com/abdoElHodaky/exchange-core/internal/metrics"
	"github.com/abdoElHodaky/exchange-core/pkg/config"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
)

// Module provides the supervisor and notification bus for the fx
// application.
var Module = fx.Options(
	fx.Provide(NewNotificationBusFx),
	fx.Provide(NewFx),
)

// NewNotificationBusFx constructs a NotificationBus and registers its
// shutdown as an fx lifecycle hook.
func NewNotificationBusFx(lifecycle fx.Lifecycle, logger *zap.Logger) *NotificationBus {
	bus := NewNotificationBus(logger)
	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bus.Close()
		},
	})
	return bus
}

// NewFx constructs a Supervisor, bootstraps it from the command log, starts
// its worker loop, and registers its shutdown, all as fx lifecycle hooks.
// Bootstrap runs synchronously during OnStart so that fx only reports the
// application started once every known asset's engine has replayed to its
// current state; the worker loop itself then runs in its own goroutine for
// the remainder of the process lifetime.
func NewFx(lifecycle fx.Lifecycle, logger *zap.Logger, log *commandlog.Log, notify *NotificationBus, m *metrics.Metrics, cfg *config.Config) *Supervisor {
	assets := make([]coretypes.Asset, 0, len(cfg.Engine.Assets))
	for _, a := range cfg.Engine.Assets {
		assets = append(assets, coretypes.Asset(a))
	}

	sup := New(logger, log, notify, assets, cfg.Engine.QueueDepth).WithMetrics(m)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sup.Bootstrap(ctx, cfg.Engine.ReplayBatchSize); err != nil {
				return err
			}
			go sup.Run(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sup.Shutdown()
			return nil
		},
	})

	return sup
}
