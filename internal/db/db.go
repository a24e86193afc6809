package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"region-service/internal/config"
)

// New opens the configured database, applies pool settings and runs the
// schema migrations.
func New(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DB.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DB.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DB.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	if cfg.DB.Driver == config.DriverSQLite {
		// one writer at a time; concurrent sqlite connections fail with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		if cfg.DB.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		}
		if cfg.DB.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		}
		if cfg.DB.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
		}
	}

	if err := runMigrations(gdb); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")
	return gdb, nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Str("component", "gorm").Msgf(format, args...)
}
