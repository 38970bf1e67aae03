package event

import (
	"context"

	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ImportJobEventLogger writes an audit log line for every import job
// lifecycle event
type ImportJobEventLogger struct {
	logger *zap.Logger
}

// NewImportJobEventLogger creates the handler
func NewImportJobEventLogger(logger *zap.Logger) *ImportJobEventLogger {
	return &ImportJobEventLogger{logger: logger.Named("import_audit")}
}

// EventTypes returns the import job event types
func (h *ImportJobEventLogger) EventTypes() []string {
	return []string{
		bulk.EventTypeImportJobStarted,
		bulk.EventTypeImportJobCompleted,
		bulk.EventTypeImportJobFailed,
		bulk.EventTypeImportJobCancelled,
	}
}

// Handle logs the event
func (h *ImportJobEventLogger) Handle(ctx context.Context, ev shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", ev.EventType()),
		zap.String("event_id", ev.EventID().String()),
		zap.String("job_id", ev.AggregateID().String()),
		zap.String("tenant_id", ev.TenantID().String()),
		zap.Time("occurred_at", ev.OccurredAt()),
	}

	switch e := ev.(type) {
	case *bulk.ImportJobStartedEvent:
		fields = append(fields,
			zap.String("duplicate_policy", string(e.Options.DuplicatePolicy)),
			zap.Int("page_size", e.Options.PageSize),
			zap.Int("limit", e.Options.Limit),
		)
		h.logger.Info("Import job started", fields...)
	case *bulk.ImportJobFinishedEvent:
		fields = append(fields,
			zap.String("status", string(e.Status)),
			zap.Int("processed", e.Counters.ProcessedOrders),
			zap.Int("imported", e.Counters.Imported),
			zap.Int("updated", e.Counters.Updated),
			zap.Int("skipped", e.Counters.Skipped),
			zap.Int("failed", e.Counters.Failed),
		)
		if e.LastError != "" {
			fields = append(fields, zap.String("last_error", e.LastError))
			h.logger.Warn("Import job finished with error", fields...)
			return nil
		}
		h.logger.Info("Import job finished", fields...)
	default:
		h.logger.Debug("Unhandled import event", fields...)
	}
	return nil
}

var _ shared.EventHandler = (*ImportJobEventLogger)(nil)
