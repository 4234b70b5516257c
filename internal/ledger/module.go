package ledger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module provides the ledger for the fx application.
var Module = fx.Options(
	fx.Provide(NewFx),
)

// NewFx constructs a Ledger and migrates its schema during fx startup.
func NewFx(lifecycle fx.Lifecycle, db *gorm.DB, logger *zap.Logger) (*Ledger, error) {
	l := New(db, logger)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return l.Migrate(ctx)
		},
	})

	return l, nil
}
