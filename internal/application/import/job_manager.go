package importapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// maxTransitionAttempts bounds the reload-and-retry loop of a control call
// that loses the race against a concurrent status write.
const maxTransitionAttempts = 3

// BatchScheduler queues the next batch of a job. Implementations keep at
// most one pending or in-flight batch per job.
type BatchScheduler interface {
	Schedule(jobID uuid.UUID, delay time.Duration) error
}

// JobLock is a lease that keeps two processes from running the same job
type JobLock interface {
	// TryAcquire returns a release token, or ok=false when the lease is held elsewhere
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Extend resets the lease TTL if token still owns it; ok=false means the lease was lost
	Extend(ctx context.Context, key, token string, ttl time.Duration) (ok bool, err error)
	// Release frees the lease if token still owns it
	Release(ctx context.Context, key, token string) error
}

// ProgressBroker fans progress snapshots out to subscribers
type ProgressBroker interface {
	bulk.ProgressPublisher
	bulk.ProgressSubscriber
}

// JobManager owns the import job lifecycle. It is the only writer of job
// status and it drives batches through the BatchScheduler.
type JobManager struct {
	jobs      bulk.ImportJobRepository
	runner    *BatchRunner
	lock      JobLock
	progress  ProgressBroker
	scheduler BatchScheduler
	events    shared.EventPublisher
	metrics   *telemetry.ImportMetrics
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewJobManager creates a new JobManager. SetScheduler must be called
// before jobs are started.
func NewJobManager(
	jobs bulk.ImportJobRepository,
	runner *BatchRunner,
	lock JobLock,
	progress ProgressBroker,
	cfg EngineConfig,
	logger *zap.Logger,
) *JobManager {
	return &JobManager{
		jobs:     jobs,
		runner:   runner,
		lock:     lock,
		progress: progress,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetScheduler sets the scheduler that runs batches
func (m *JobManager) SetScheduler(s BatchScheduler) {
	m.scheduler = s
}

// SetEventPublisher sets the publisher for job lifecycle events
func (m *JobManager) SetEventPublisher(p shared.EventPublisher) {
	m.events = p
}

// SetMetrics enables import metrics recording
func (m *JobManager) SetMetrics(im *telemetry.ImportMetrics) {
	m.metrics = im
}

// ---------------------------------------------------------------------------
// Control operations
// ---------------------------------------------------------------------------

// StartJob creates a job for the tenant and schedules its first batch.
// It returns bulk.ErrJobConflict while the tenant has another active job.
func (m *JobManager) StartJob(ctx context.Context, tenantID uuid.UUID, req StartJobRequest) (*ImportJobResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "import_job", "start")
	defer span.End()

	if req.PageSize == 0 {
		req.PageSize = m.cfg.DefaultPageSize
	}
	if m.cfg.MaxPageSize > 0 && req.PageSize > m.cfg.MaxPageSize {
		return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Page size must be between 1 and %d", m.cfg.MaxPageSize))
	}

	job, err := bulk.NewImportJob(tenantID, req.Options(), req.RequestedBy)
	if err != nil {
		return nil, err
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, bulk.ErrJobConflict) {
			return nil, m.conflictWith(ctx, tenantID)
		}
		return nil, err
	}
	if err := job.Start(); err != nil {
		return nil, err
	}
	if err := m.jobs.UpdateStatus(ctx, job, bulk.ImportStatusPending); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to start import job: %w", err)
	}
	m.afterTransition(ctx, job)

	m.logger.Info("Import job started",
		zap.String("tenant_id", tenantID.String()),
		zap.String("job_id", job.ID.String()),
		zap.String("duplicate_policy", string(job.Options.DuplicatePolicy)),
		zap.Int("page_size", job.Options.PageSize),
		zap.Int("limit", job.Options.Limit),
	)
	m.schedule(job.ID, 0)
	return ToImportJobResponse(job), nil
}

// conflictWith names the tenant's active job in the conflict error
func (m *JobManager) conflictWith(ctx context.Context, tenantID uuid.UUID) error {
	active, err := m.jobs.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return bulk.ErrJobConflict
	}
	return shared.NewDomainError(bulk.ErrJobConflict.Code,
		fmt.Sprintf("Import job %s is already %s for this tenant", active.ID, active.Status))
}

// PauseJob stops a running job at the next batch boundary
func (m *JobManager) PauseJob(ctx context.Context, tenantID, jobID uuid.UUID) (*ImportJobResponse, error) {
	job, err := m.control(ctx, tenantID, jobID, (*bulk.ImportJob).Pause)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Import job paused", zap.String("job_id", jobID.String()), zap.Int("page", job.Checkpoint.CurrentPage))
	return ToImportJobResponse(job), nil
}

// ResumeJob continues a paused job from its persisted checkpoint
func (m *JobManager) ResumeJob(ctx context.Context, tenantID, jobID uuid.UUID) (*ImportJobResponse, error) {
	job, err := m.control(ctx, tenantID, jobID, (*bulk.ImportJob).Resume)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Import job resumed", zap.String("job_id", jobID.String()), zap.Int("page", job.Checkpoint.CurrentPage))
	m.schedule(job.ID, 0)
	return ToImportJobResponse(job), nil
}

// CancelJob stops a job for good. A batch already in flight finishes but
// no further batch is scheduled.
func (m *JobManager) CancelJob(ctx context.Context, tenantID, jobID uuid.UUID) (*ImportJobResponse, error) {
	job, err := m.control(ctx, tenantID, jobID, (*bulk.ImportJob).Cancel)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Import job cancelled", zap.String("job_id", jobID.String()))
	return ToImportJobResponse(job), nil
}

// GetJob returns a tenant's job
func (m *JobManager) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*ImportJobResponse, error) {
	job, err := m.jobs.FindByIDForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	return ToImportJobResponse(job), nil
}

// ListJobs returns one page of the tenant's job history, newest first
func (m *JobManager) ListJobs(ctx context.Context, tenantID uuid.UUID, filter ListJobsFilter, page, pageSize int) (*ImportJobListResponse, error) {
	result, err := m.jobs.FindAll(ctx, tenantID, filter.toDomain(), page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*ImportJobResponse, len(result.Items))
	for i, job := range result.Items {
		items[i] = ToImportJobResponse(job)
	}
	paged := shared.NewPaginated(items, result.TotalCount, result.Page, result.PageSize)
	return &ImportJobListResponse{
		Items:      paged.Items,
		Total:      paged.Total,
		Page:       paged.Page,
		PageSize:   paged.PageSize,
		TotalPages: paged.TotalPages,
	}, nil
}

// Subscribe streams progress snapshots of a job. Callers must invoke the
// returned function when they stop reading.
func (m *JobManager) Subscribe(jobID uuid.UUID) (<-chan bulk.ProgressSnapshot, func()) {
	return m.progress.Subscribe(jobID)
}

// control applies a transition and writes it conditioned on the status it
// was read in. A concurrent status change reloads the job and tries again.
func (m *JobManager) control(ctx context.Context, tenantID, jobID uuid.UUID, op func(*bulk.ImportJob) error) (*bulk.ImportJob, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		job, err := m.jobs.FindByIDForTenant(ctx, tenantID, jobID)
		if err != nil {
			return nil, err
		}

		expected := job.Status
		if err := op(job); err != nil {
			return nil, err
		}

		err = m.jobs.UpdateStatus(ctx, job, expected)
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update import job status: %w", err)
		}
		m.afterTransition(ctx, job)
		return job, nil
	}
	return nil, shared.ErrConcurrencyConflict
}

// ---------------------------------------------------------------------------
// Batch execution
// ---------------------------------------------------------------------------

// ExecuteBatch runs the next batch of a job. It returns whether another
// batch should follow and after which delay.
func (m *JobManager) ExecuteBatch(ctx context.Context, jobID uuid.UUID) (time.Duration, bool) {
	ctx, log := logger.WithJobID(ctx, m.logger, jobID.String())

	key := lockKey(jobID)
	token, ok, err := m.lock.TryAcquire(ctx, key, m.cfg.LockTTL)
	if err != nil {
		log.Warn("Import job lock unavailable, retrying later", zap.Error(err))
		return m.cfg.InterBatchDelay, true
	}
	if !ok {
		log.Debug("Import job is running elsewhere")
		return 0, false
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StoreTimeout)
		defer cancel()
		if err := m.lock.Release(releaseCtx, key, token); err != nil {
			log.Warn("Failed to release import job lock", zap.Error(err))
		}
	}()

	job, err := m.jobs.FindByID(ctx, jobID)
	if err != nil {
		log.Warn("Failed to load import job", zap.Error(err))
		return 0, false
	}
	if job.Status != bulk.ImportStatusRunning {
		log.Debug("Import job not running, batch skipped", zap.String("status", string(job.Status)))
		return 0, false
	}
	ctx, _ = logger.WithTenantID(ctx, log, job.TenantID.String())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	stopRenewal := m.renewLease(ctx, key, token, cancelRun, log)

	start := time.Now()
	result, err := m.runner.Run(runCtx, job)
	stopRenewal()
	if err != nil {
		// nothing committed; Recover or the sweeper resumes from the checkpoint
		log.Error("Import batch aborted", zap.Error(err))
		return 0, false
	}
	if m.metrics != nil {
		m.metrics.RecordBatch(ctx, string(result.Kind), time.Since(start))
	}

	switch result.Kind {
	case NoMorePages:
		m.finish(ctx, job, (*bulk.ImportJob).Complete)
		return 0, false
	case FatalError:
		m.finish(ctx, job, func(j *bulk.ImportJob) error { return j.Fail(result.Message) })
		return 0, false
	}

	current, err := m.jobs.FindByID(ctx, jobID)
	if err != nil {
		log.Warn("Failed to re-read import job status", zap.Error(err))
		return 0, false
	}
	m.progress.Publish(current.Snapshot(false))
	if current.Status != bulk.ImportStatusRunning {
		log.Info("Import job stopped at batch boundary", zap.String("status", string(current.Status)))
		return 0, false
	}
	return m.cfg.InterBatchDelay, true
}

// renewLease extends the job lease every third of LockTTL until the
// returned function is called. Losing the lease cancels the batch; a batch
// that already writes orders still commits them.
func (m *JobManager) renewLease(ctx context.Context, key, token string, cancelRun context.CancelFunc, log *zap.Logger) func() {
	interval := m.cfg.LockTTL / 3
	if interval <= 0 {
		return func() {}
	}
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			extendCtx, cancel := context.WithTimeout(ctx, interval)
			ok, err := m.lock.Extend(extendCtx, key, token, m.cfg.LockTTL)
			cancel()
			switch {
			case err != nil:
				log.Warn("Failed to extend import job lease", zap.Error(err))
			case !ok:
				log.Error("Import job lease lost, stopping batch")
				cancelRun()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// finish moves a running job to a terminal status after its last batch.
// If a control call changed the status meanwhile, that status wins.
func (m *JobManager) finish(ctx context.Context, job *bulk.ImportJob, op func(*bulk.ImportJob) error) {
	log := logger.L(ctx)
	if err := op(job); err != nil {
		log.Error("Import job cannot finish", zap.Error(err))
		return
	}

	err := m.jobs.UpdateStatus(ctx, job, bulk.ImportStatusRunning)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		current, findErr := m.jobs.FindByID(ctx, job.ID)
		if findErr != nil {
			log.Warn("Failed to re-read import job status", zap.Error(findErr))
			return
		}
		log.Info("Import job status changed during last batch", zap.String("status", string(current.Status)))
		m.progress.Publish(current.Snapshot(false))
		return
	}
	if err != nil {
		log.Error("Failed to write final import job status", zap.Error(err))
		return
	}

	m.afterTransition(ctx, job)
	log.Info("Import job finished",
		zap.String("status", string(job.Status)),
		zap.Int("processed", job.Counters.ProcessedOrders),
		zap.Int("imported", job.Counters.Imported),
		zap.Int("updated", job.Counters.Updated),
		zap.Int("skipped", job.Counters.Skipped),
		zap.Int("failed", job.Counters.Failed),
		zap.String("last_error", job.LastError),
		zap.Duration("duration", job.Duration()),
	)
}

// afterTransition publishes the effects of a committed status write
func (m *JobManager) afterTransition(ctx context.Context, job *bulk.ImportJob) {
	m.progress.Publish(job.Snapshot(false))

	events := job.GetDomainEvents()
	job.ClearDomainEvents()
	if m.metrics != nil {
		for _, e := range events {
			switch e.EventType() {
			case bulk.EventTypeImportJobStarted:
				m.metrics.RecordJobStarted(ctx, job.TenantID)
			case bulk.EventTypeImportJobCompleted, bulk.EventTypeImportJobFailed, bulk.EventTypeImportJobCancelled:
				m.metrics.RecordJobFinished(ctx, job.TenantID, string(job.Status))
			}
		}
	}
	if m.events == nil || len(events) == 0 {
		return
	}
	if err := m.events.Publish(ctx, events...); err != nil {
		m.logger.Warn("Failed to publish import job events",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

func (m *JobManager) schedule(jobID uuid.UUID, delay time.Duration) {
	if m.scheduler == nil {
		m.logger.Error("No batch scheduler configured", zap.String("job_id", jobID.String()))
		return
	}
	// a job left running without a queued batch is picked up by recovery
	if err := m.scheduler.Schedule(jobID, delay); err != nil {
		m.logger.Warn("Failed to schedule import batch",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

// Recover reschedules every running job from its persisted checkpoint.
// It is called once at boot and returns the number of jobs scheduled.
func (m *JobManager) Recover(ctx context.Context) (int, error) {
	jobs, err := m.jobs.FindByStatus(ctx, bulk.ImportStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running import jobs: %w", err)
	}
	for _, job := range jobs {
		m.logger.Info("Recovering import job",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.TenantID.String()),
			zap.Int("page", job.Checkpoint.CurrentPage),
		)
		m.schedule(job.ID, 0)
	}
	return len(jobs), nil
}

// RecoverStale reschedules running jobs that made no progress within
// StaleAfter and starts pending jobs left behind by an interrupted start.
func (m *JobManager) RecoverStale(ctx context.Context) (int, error) {
	before := time.Now().Add(-m.cfg.StaleAfter)

	running, err := m.jobs.FindStale(ctx, bulk.ImportStatusRunning, before)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale import jobs: %w", err)
	}
	for _, job := range running {
		m.logger.Warn("Rescheduling stale import job",
			zap.String("job_id", job.ID.String()),
			zap.Time("updated_at", job.UpdatedAt),
		)
		m.schedule(job.ID, 0)
	}

	pending, err := m.jobs.FindStale(ctx, bulk.ImportStatusPending, before)
	if err != nil {
		return len(running), fmt.Errorf("failed to list stale pending import jobs: %w", err)
	}
	started := 0
	for _, job := range pending {
		if err := job.Start(); err != nil {
			continue
		}
		if err := m.jobs.UpdateStatus(ctx, job, bulk.ImportStatusPending); err != nil {
			m.logger.Warn("Failed to start stale pending import job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		m.afterTransition(ctx, job)
		m.schedule(job.ID, 0)
		started++
	}
	return len(running) + started, nil
}

func lockKey(jobID uuid.UUID) string {
	return "import:job:" + jobID.String()
}
