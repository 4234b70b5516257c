package coordinator

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/exchange-core/internal/ledger"
	"github.com/abdoElHodaky/exchange-core/internal/metrics"
	"github.com/abdoElHodaky/exchange-core/internal/supervisor"
)

// Module provides the placement coordinator for the fx application. The
// supervisor satisfies Submitter directly, so no adapter is needed between
// the two.
var Module = fx.Options(
	fx.Provide(NewFx),
)

func NewFx(l *ledger.Ledger, sup *supervisor.Supervisor, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return New(l, sup, logger).WithMetrics(m)
}
