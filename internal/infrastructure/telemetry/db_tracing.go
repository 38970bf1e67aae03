package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// DBTracingConfig controls the GORM span plugin
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL keeps bound values in db.statement; leave off outside development
	LogFullSQL         bool
	SlowQueryThreshold time.Duration
	DBName             string
}

// DBTracingPlugin registers otelgorm plus callbacks that tag each span with
// table, rows affected and a slow query marker.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates the plugin; a zero threshold means 200ms
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaultSlowQueryThreshold
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

type queryStartKey struct{}

type gormRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

// Register installs the plugin on db. It does nothing when disabled.
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBName)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	// annotations must land before otelgorm's after hook ends the span
	cb := db.Callback()
	hooks := []struct {
		name string
		hook gormRegister
		fn   func(*gorm.DB)
	}{
		{"storefront:start_create", cb.Create().Before("gorm:create"), markQueryStart},
		{"storefront:start_query", cb.Query().Before("gorm:query"), markQueryStart},
		{"storefront:start_update", cb.Update().Before("gorm:update"), markQueryStart},
		{"storefront:start_delete", cb.Delete().Before("gorm:delete"), markQueryStart},
		{"storefront:start_row", cb.Row().Before("gorm:row"), markQueryStart},
		{"storefront:start_raw", cb.Raw().Before("gorm:raw"), markQueryStart},
		{"storefront:span_create", cb.Create().After("gorm:create").Before("after:create"), p.annotate},
		{"storefront:span_query", cb.Query().After("gorm:query").Before("after:select"), p.annotate},
		{"storefront:span_update", cb.Update().After("gorm:update").Before("after:update"), p.annotate},
		{"storefront:span_delete", cb.Delete().After("gorm:delete").Before("after:delete"), p.annotate},
		{"storefront:span_row", cb.Row().After("gorm:row").Before("after:row"), p.annotate},
		{"storefront:span_raw", cb.Raw().After("gorm:raw").Before("after:raw"), p.annotate},
	}
	for _, h := range hooks {
		if err := h.hook.Register(h.name, h.fn); err != nil {
			return err
		}
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThreshold),
	)
	return nil
}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (p *DBTracingPlugin) annotate(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

	// a miss is an answer, not a failure
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	started, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(started); elapsed > p.config.SlowQueryThreshold {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("threshold_ms", p.config.SlowQueryThreshold.Milliseconds()),
		))
	}
}
