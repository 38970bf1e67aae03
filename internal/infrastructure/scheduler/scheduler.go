package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchExecutor runs one batch of an import job and tells whether another
// batch should follow, and after which delay.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, jobID uuid.UUID) (time.Duration, bool)
}

// BatchSchedulerConfig holds scheduler configuration
type BatchSchedulerConfig struct {
	Workers   int
	QueueSize int
	// BatchTimeout bounds a single batch; zero means no bound. It is the
	// only deadline a running batch sees: shutdown does not cancel it.
	BatchTimeout time.Duration
}

// DefaultBatchSchedulerConfig returns default scheduler configuration
func DefaultBatchSchedulerConfig() BatchSchedulerConfig {
	return BatchSchedulerConfig{
		Workers:      4,
		QueueSize:    256,
		BatchTimeout: 10 * time.Minute,
	}
}

// Validate checks the configuration
func (c BatchSchedulerConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1", ErrInvalidConfig)
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("%w: batch timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}

type entryState int

const (
	stateWaiting entryState = iota // delay timer armed
	stateQueued                    // in the worker queue
	stateRunning                   // executing on a worker
)

type entry struct {
	state entryState
	timer *time.Timer
	// rerun is set when Schedule is called while the batch runs
	rerun bool
}

// BatchScheduler runs import batches on a fixed worker pool. It keeps at
// most one waiting, queued or running batch per job, so batches of one job
// never overlap while different jobs proceed in parallel.
type BatchScheduler struct {
	config   BatchSchedulerConfig
	executor BatchExecutor
	logger   *zap.Logger

	queue   chan uuid.UUID
	entries map[uuid.UUID]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// NewBatchScheduler creates a new scheduler
func NewBatchScheduler(config BatchSchedulerConfig, executor BatchExecutor, logger *zap.Logger) (*BatchScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &BatchScheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		queue:    make(chan uuid.UUID, config.QueueSize),
		entries:  make(map[uuid.UUID]*entry),
	}, nil
}

// Start starts the worker pool
func (s *BatchScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.running {
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(s.ctx, i)
	}

	s.logger.Info("Batch scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
	)
	return nil
}

// Stop drops waiting batches, stops dequeuing and waits for in-flight
// batches to finish until ctx expires. In-flight batches are not cancelled.
func (s *BatchScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.state != stateRunning {
			delete(s.entries, id)
		}
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Batch scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Batch scheduler stop timed out")
		return ctx.Err()
	}
}

// Schedule queues the next batch of a job after delay. Scheduling a job
// that is already waiting or queued is a no-op; scheduling a job whose batch
// is running queues one more batch once it finishes.
func (s *BatchScheduler) Schedule(jobID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stopped:
		return ErrSchedulerStopped
	case !s.running:
		return ErrSchedulerNotRunning
	}

	if e, ok := s.entries[jobID]; ok {
		if e.state == stateRunning {
			e.rerun = true
		}
		return nil
	}

	e := &entry{state: stateWaiting}
	s.entries[jobID] = e
	if delay <= 0 {
		return s.enqueueLocked(jobID, e)
	}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// the entry may have been dropped by Stop meanwhile
		if current, ok := s.entries[jobID]; ok && current == e && s.running {
			if err := s.enqueueLocked(jobID, e); err != nil {
				s.logger.Warn("Dropped delayed import batch",
					zap.String("job_id", jobID.String()),
					zap.Error(err),
				)
			}
		}
	})
	return nil
}

func (s *BatchScheduler) enqueueLocked(jobID uuid.UUID, e *entry) error {
	select {
	case s.queue <- jobID:
		e.state = stateQueued
		e.timer = nil
		return nil
	default:
		delete(s.entries, jobID)
		return ErrJobQueueFull
	}
}

// IsRunning reports whether the worker pool is accepting batches
func (s *BatchScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pending returns the number of jobs with a waiting, queued or running batch
func (s *BatchScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *BatchScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			if ctx.Err() != nil {
				return
			}
			s.process(ctx, jobID, workerID)
		}
	}
}

func (s *BatchScheduler) process(ctx context.Context, jobID uuid.UUID, workerID int) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.state = stateRunning
	s.mu.Unlock()

	delay, again := s.execute(ctx, jobID, workerID)

	s.mu.Lock()
	rerun := e.rerun
	delete(s.entries, jobID)
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	switch {
	case again:
	case rerun:
		delay = 0
	default:
		return
	}
	if err := s.Schedule(jobID, delay); err != nil {
		s.logger.Warn("Failed to schedule next import batch",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (s *BatchScheduler) execute(ctx context.Context, jobID uuid.UUID, workerID int) (delay time.Duration, again bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Import batch panicked",
				zap.Int("worker_id", workerID),
				zap.String("job_id", jobID.String()),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			delay, again = 0, false
		}
	}()

	// a batch that has started writing orders must reach its commit
	ctx = context.WithoutCancel(ctx)
	if s.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.BatchTimeout)
		defer cancel()
	}

	s.logger.Debug("Executing import batch",
		zap.Int("worker_id", workerID),
		zap.String("job_id", jobID.String()),
	)
	return s.executor.ExecuteBatch(ctx, jobID)
}
