// Package storage opens the gorm connection the command log and ledger
// share. Grounded on the teacher's internal/db/config.go Connect function:
// same zap-backed gorm.logger.Writer, same connection-pool knobs, narrowed
// to take the core's own pkg/config.Config instead of a separate DBConfig.
package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/abdoElHodaky/exchange-core/pkg/config"
)

// zapGormWriter adapts a zap.Logger to gorm's logger.Writer interface.
// Grounded on internal/db/config.go's zapGormWriter.
type zapGormWriter struct {
	zapLogger *zap.Logger
}

func (w *zapGormWriter) Printf(format string, args ...interface{}) {
	w.zapLogger.Debug("gorm", zap.String("msg", fmt.Sprintf(format, args...)))
}

// Open connects to the Postgres database described by cfg, wiring gorm's
// logger through zap and configuring the connection pool, then returns the
// opened handle. Callers run Migrate on whatever models they own
// (commandlog.Log.Migrate, ledger.Ledger.Migrate) afterward.
func Open(cfg *config.Config, zapLogger *zap.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(
		&zapGormWriter{zapLogger: zapLogger},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: acquire sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

// Close releases the underlying *sql.DB connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
