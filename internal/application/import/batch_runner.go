package importapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/integration"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BatchResultKind tells the job manager what follows a batch
type BatchResultKind string

const (
	BatchCompleted BatchResultKind = "batch_completed"
	NoMorePages    BatchResultKind = "no_more_pages"
	FatalError     BatchResultKind = "fatal_error"
)

// BatchResult is the outcome of one batch
type BatchResult struct {
	Kind       BatchResultKind
	Checkpoint bulk.Checkpoint
	Delta      bulk.CounterDelta
	Message    string
}

// BatchRunner fetches one remote page, reconciles it and persists the
// advanced checkpoint together with the counters.
type BatchRunner struct {
	source     integration.OrderSource
	reconciler *Reconciler
	jobs       bulk.ImportJobRepository
	cfg        EngineConfig
	metrics    *telemetry.ImportMetrics
	logger     *zap.Logger
}

// NewBatchRunner creates a new BatchRunner
func NewBatchRunner(
	source integration.OrderSource,
	reconciler *Reconciler,
	jobs bulk.ImportJobRepository,
	cfg EngineConfig,
	logger *zap.Logger,
) *BatchRunner {
	return &BatchRunner{
		source:     source,
		reconciler: reconciler,
		jobs:       jobs,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetrics enables import metrics recording
func (r *BatchRunner) SetMetrics(m *telemetry.ImportMetrics) {
	r.metrics = m
}

// Run executes the batch at the job's checkpoint. The job is updated in
// place. A returned error means nothing was committed and the batch may be
// run again from the same checkpoint. Once a page has been fetched, ending
// ctx no longer aborts the batch: the page is reconciled and committed with
// per-call store timeouts only.
func (r *BatchRunner) Run(ctx context.Context, job *bulk.ImportJob) (BatchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "import_job.batch",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, job.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPage, job.Checkpoint.CurrentPage),
		telemetry.WithAttribute(telemetry.SpanAttrBatch, job.Checkpoint.CurrentBatch+1),
		telemetry.WithAttribute(telemetry.SpanAttrPageSize, job.Options.PageSize),
	)
	defer span.End()

	log := logger.WithLogger(ctx, r.logger).
		With(zap.Int("page", job.Checkpoint.CurrentPage), zap.Int("batch", job.Checkpoint.CurrentBatch+1))

	filter := toOrderFilter(job.Options.Filter)
	totalChanged := r.ensureGrandTotal(ctx, job, filter, log)

	if job.LimitReached() {
		return r.commit(ctx, job, job.Checkpoint.CurrentPage, bulk.CounterDelta{}, NoMorePages, "limit reached", totalChanged)
	}

	orders, err := r.fetchPage(ctx, job, filter, log)
	if err != nil {
		if ctx.Err() != nil {
			return BatchResult{}, ctx.Err()
		}
		telemetry.RecordError(span, err)
		log.Error("Order page fetch failed", zap.Error(err))
		return r.commit(ctx, job, job.Checkpoint.CurrentPage, bulk.CounterDelta{}, FatalError, fetchFailureMessage(err), totalChanged)
	}

	// nothing is written yet, so a stop requested during the fetch aborts cleanly
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	pageLen := len(orders)
	telemetry.SetAttributes(span, telemetry.SpanAttrFetched, pageLen)
	if pageLen == 0 {
		return r.commit(ctx, job, job.Checkpoint.CurrentPage, bulk.CounterDelta{}, NoMorePages, "no more orders", totalChanged)
	}
	if left, limited := job.Remaining(); limited && left < len(orders) {
		orders = orders[:left]
	}

	writeCtx := context.WithoutCancel(ctx)
	var delta bulk.CounterDelta
	for _, ext := range orders {
		outcome := r.reconciler.Reconcile(writeCtx, job.TenantID, ext, job.Options.DuplicatePolicy)
		if outcome.Kind == bulk.OutcomeFailed {
			log.Warn("Order reconciliation failed",
				zap.String("external_id", outcome.ExternalID),
				zap.String("reason", outcome.Reason),
			)
		}
		delta.Record(outcome)
	}
	if r.metrics != nil {
		r.metrics.RecordOutcomes(writeCtx, map[string]int{
			string(bulk.OutcomeCreated): delta.Imported,
			string(bulk.OutcomeUpdated): delta.Updated,
			string(bulk.OutcomeSkipped): delta.Skipped,
			string(bulk.OutcomeFailed):  delta.Failed,
		})
	}

	kind, message := BatchCompleted, ""
	switch {
	case pageLen < job.Options.PageSize:
		kind, message = NoMorePages, "last page reached"
	case job.Options.Limit > 0 && job.Counters.ProcessedOrders+delta.Processed() >= job.Options.Limit:
		kind, message = NoMorePages, "limit reached"
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrBatchResult, string(kind))
	result, err := r.commit(writeCtx, job, job.Checkpoint.CurrentPage+1, delta, kind, message, true)
	if err == nil {
		log.Info("Import batch committed",
			zap.String("result", string(kind)),
			zap.Int("imported", delta.Imported),
			zap.Int("updated", delta.Updated),
			zap.Int("skipped", delta.Skipped),
			zap.Int("failed", delta.Failed),
		)
	}
	return result, err
}

// ensureGrandTotal counts the remote set once per job; the count is best effort
func (r *BatchRunner) ensureGrandTotal(ctx context.Context, job *bulk.ImportJob, filter integration.OrderFilter, log *logger.ContextLogger) bool {
	if job.HasGrandTotal() {
		return false
	}

	countCtx, cancel := r.fetchContext(ctx)
	defer cancel()

	count, err := r.source.Count(countCtx, job.TenantID, filter)
	if err != nil {
		log.Warn("Remote order count unavailable, progress total unknown", zap.Error(err))
		return false
	}
	job.SetGrandTotal(count)
	return true
}

func (r *BatchRunner) fetchPage(ctx context.Context, job *bulk.ImportJob, filter integration.OrderFilter, log *logger.ContextLogger) ([]integration.ExternalOrder, error) {
	page, pageSize := job.Checkpoint.CurrentPage, job.Options.PageSize

	var orders []integration.ExternalOrder
	operation := func() error {
		attemptCtx, cancel := r.fetchContext(ctx)
		defer cancel()

		start := time.Now()
		result, err := r.source.FetchPage(attemptCtx, job.TenantID, filter, page, pageSize)
		if r.metrics != nil {
			r.metrics.RecordFetch(ctx, time.Since(start), err)
		}
		if err != nil {
			if integration.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		orders = result
		return nil
	}

	notify := func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.RecordFetchRetry(ctx)
		}
		log.Warn("Order page fetch failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, r.retryPolicy(ctx), notify); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *BatchRunner) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Retry.InitialInterval
	b.MaxInterval = r.cfg.Retry.MaxInterval
	b.MaxElapsedTime = 0

	attempts := r.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func (r *BatchRunner) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.FetchTimeout)
}

func (r *BatchRunner) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

// commit folds the batch into the job and writes checkpoint and counters in
// one statement. Nothing is written when neither changed.
func (r *BatchRunner) commit(
	ctx context.Context,
	job *bulk.ImportJob,
	nextPage int,
	delta bulk.CounterDelta,
	kind BatchResultKind,
	message string,
	dirty bool,
) (BatchResult, error) {
	if err := job.ApplyBatch(nextPage, delta); err != nil {
		return BatchResult{}, err
	}
	// the end of the remote set is known now even if the count failed
	if kind == NoMorePages && !job.HasGrandTotal() {
		job.SetGrandTotal(job.Counters.ProcessedOrders)
		dirty = true
	}
	if dirty {
		saveCtx, cancel := r.storeContext(ctx)
		defer cancel()
		if err := r.jobs.SaveProgress(saveCtx, job); err != nil {
			return BatchResult{}, fmt.Errorf("failed to save import progress: %w", err)
		}
	}
	return BatchResult{
		Kind:       kind,
		Checkpoint: job.Checkpoint,
		Delta:      delta,
		Message:    message,
	}, nil
}

func fetchFailureMessage(err error) string {
	switch {
	case errors.Is(err, integration.ErrSourceAuthFailed):
		return "storefront rejected the credentials: " + err.Error()
	case errors.Is(err, integration.ErrSourceNotConfigured):
		return "storefront is not configured: " + err.Error()
	default:
		return "fetching orders failed after retries: " + err.Error()
	}
}

func toOrderFilter(f bulk.ImportFilter) integration.OrderFilter {
	statuses := make([]integration.ExternalOrderStatus, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, integration.ParseExternalOrderStatus(s))
	}
	return integration.OrderFilter{
		CreatedFrom: f.CreatedFrom,
		CreatedTo:   f.CreatedTo,
		Statuses:    statuses,
	}
}
