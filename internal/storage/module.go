package storage

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/exchange-core/pkg/config"
)

// Module provides the gorm connection for the fx application. Grounded on
// the teacher's internal/db/module.go.
var Module = fx.Options(
	fx.Provide(NewDatabase),
)

// NewDatabase opens the database connection and registers its shutdown as
// an fx lifecycle hook.
func NewDatabase(lifecycle fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("database connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing database connection")
			return Close(db)
		},
	})

	return db, nil
}
