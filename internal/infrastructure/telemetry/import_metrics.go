package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ImportMetrics tracks order import job activity.
type ImportMetrics struct {
	logger *zap.Logger

	jobsStarted   *Counter
	jobsFinished  *Counter
	batchesTotal  *Counter
	recordsTotal  *Counter
	fetchRetries  *Counter
	batchDuration *Histogram
	fetchDuration *Histogram
}

// ImportMetricsConfig holds configuration for import metrics.
type ImportMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewImportMetrics creates the import instruments on the given meter.
func NewImportMetrics(cfg ImportMetricsConfig) (*ImportMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	im := &ImportMetrics{logger: logger}

	var err error
	if im.jobsStarted, err = NewCounter(cfg.Meter,
		"storefront_import_jobs_started_total",
		"Total number of import jobs started",
		"{jobs}",
	); err != nil {
		return nil, err
	}
	if im.jobsFinished, err = NewCounter(cfg.Meter,
		"storefront_import_jobs_finished_total",
		"Total number of import jobs that reached a terminal status",
		"{jobs}",
	); err != nil {
		return nil, err
	}
	if im.batchesTotal, err = NewCounter(cfg.Meter,
		"storefront_import_batches_total",
		"Total number of import batches executed",
		"{batches}",
	); err != nil {
		return nil, err
	}
	if im.recordsTotal, err = NewCounter(cfg.Meter,
		"storefront_import_records_total",
		"Total number of external orders reconciled, by outcome",
		"{orders}",
	); err != nil {
		return nil, err
	}
	if im.fetchRetries, err = NewCounter(cfg.Meter,
		"storefront_import_fetch_retries_total",
		"Total number of retried remote page fetches",
		"{retries}",
	); err != nil {
		return nil, err
	}
	if im.batchDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "storefront_import_batch_duration_seconds",
		Description: "Duration of one import batch",
		Unit:        "s",
		Boundaries:  BatchDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if im.fetchDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "storefront_import_fetch_duration_seconds",
		Description: "Duration of one remote page fetch attempt",
		Unit:        "s",
		Boundaries:  FetchDurationBuckets,
	}); err != nil {
		return nil, err
	}

	return im, nil
}

// RecordJobStarted counts a started job.
func (im *ImportMetrics) RecordJobStarted(ctx context.Context, tenantID uuid.UUID) {
	im.jobsStarted.Inc(ctx, AttrTenantID.String(tenantID.String()))
}

// RecordJobFinished counts a job reaching a terminal status.
func (im *ImportMetrics) RecordJobFinished(ctx context.Context, tenantID uuid.UUID, status string) {
	im.jobsFinished.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrJobStatus.String(status),
	)
}

// RecordBatch counts a batch and its duration.
func (im *ImportMetrics) RecordBatch(ctx context.Context, result string, d time.Duration) {
	im.batchesTotal.Inc(ctx, AttrBatchResult.String(result))
	im.batchDuration.RecordDuration(ctx, d, AttrBatchResult.String(result))
}

// RecordOutcomes adds reconciled record counts by outcome.
func (im *ImportMetrics) RecordOutcomes(ctx context.Context, byOutcome map[string]int) {
	for outcome, n := range byOutcome {
		im.recordsTotal.Add(ctx, int64(n), AttrOutcome.String(outcome))
	}
}

// RecordFetch records one remote fetch attempt.
func (im *ImportMetrics) RecordFetch(ctx context.Context, d time.Duration, err error) {
	class := "ok"
	if err != nil {
		class = "error"
	}
	im.fetchDuration.RecordDuration(ctx, d, AttrErrorClass.String(class))
}

// RecordFetchRetry counts a retried fetch.
func (im *ImportMetrics) RecordFetchRetry(ctx context.Context) {
	im.fetchRetries.Inc(ctx)
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewImportMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
