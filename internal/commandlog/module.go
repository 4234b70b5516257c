package commandlog

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module provides the command log for the fx application.
var Module = fx.Options(
	fx.Provide(NewFx),
)

// NewFx constructs a Log and migrates its schema during fx startup.
func NewFx(lifecycle fx.Lifecycle, db *gorm.DB, logger *zap.Logger) (*Log, error) {
	log := New(db, logger)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return log.Migrate(ctx)
		},
	})

	return log, nil
}
