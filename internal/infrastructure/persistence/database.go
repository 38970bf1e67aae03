package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Database owns the GORM handle shared by the import repositories
type Database struct {
	DB *gorm.DB
}

// DatabaseOptions configures logging and tracing of a connection
type DatabaseOptions struct {
	Logger        *zap.Logger
	LogLevel      string // silent, error, warn, info
	SlowThreshold time.Duration
	Tracing       *telemetry.DBTracingPlugin
}

// NewDatabase connects to PostgreSQL using cfg
func NewDatabase(cfg *config.DatabaseConfig, opts DatabaseOptions) (*Database, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, opts)
}

// Open builds a Database on any dialector; tests pass sqlite or a sqlmock
// backed postgres dialector. A nil cfg keeps the driver's pool defaults.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig, opts DatabaseOptions) (*Database, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var logOpts []logger.GormLoggerOption
	if opts.SlowThreshold > 0 {
		logOpts = append(logOpts, logger.WithSlowThreshold(opts.SlowThreshold))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(log, logger.MapGormLogLevel(opts.LogLevel), logOpts...),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if opts.Tracing != nil {
		if err := opts.Tracing.Register(gdb); err != nil {
			return nil, fmt.Errorf("failed to register database tracing: %w", err)
		}
	}

	db := &Database{DB: gdb}
	sqlDB, err := db.sqlDB()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (d *Database) sqlDB() (*sql.DB, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}

// Ping checks the connection; the health endpoint calls it
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats reports the connection pool
func (d *Database) Stats() (sql.DBStats, error) {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Close releases every pooled connection
func (d *Database) Close() error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
