// Command exchange-core wires the matching engine, command log, ledger,
// coordinator, and supervisor into a runnable fx application. HTTP, auth,
// and market-data fan-out are out of scope per spec.md §1 and have no
// module here; an external collaborator process mounts this core's
// coordinator and the prometheus registry it exposes.
package main

import (
	"flag"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abdoElHodaky/exchange-core/internal/commandlog"
	"github.com/abdoElHodaky/exchange-core/internal/coordinator"
	"github.com/abdoElHodaky/exchange-core/internal/ledger"
	"github.com/abdoElHodaky/exchange-core/internal/metrics"
	"github.com/abdoElHodaky/exchange-core/internal/storage"
	"github.com/abdoElHodaky/exchange-core/internal/supervisor"
	"github.com/abdoElHodaky/exchange-core/pkg/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("EXCHANGE_CORE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	app := fx.New(
		fx.Provide(
			func() (*config.Config, error) { return config.Load(*configPath) },
			newLogger,
		),

		storage.Module,
		commandlog.Module,
		ledger.Module,
		metrics.Module,
		supervisor.Module,
		coordinator.Module,

		// The supervisor and coordinator are both constructed purely for
		// their side effects (lifecycle hooks, queue worker) once wired in;
		// fx prunes anything never depended on, so fx.Invoke forces both
		// into the graph even though nothing in this binary calls their
		// methods directly.
		fx.Invoke(func(*supervisor.Supervisor, *coordinator.Coordinator) {}),
	)

	app.Run()
}

// newLogger builds a zap logger from cfg.Logging, matching the teacher's
// environment-driven zap.NewProduction/zap.NewDevelopment split but keyed
// off this core's own LoggingConfig.Format ("console" selects the
// development config) instead of an environment name. The level comes from
// LoggingConfig.Level, falling back to info when it does not parse.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
