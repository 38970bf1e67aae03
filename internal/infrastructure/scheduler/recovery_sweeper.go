package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleJobRecoverer reschedules import jobs whose progress stalled
type StaleJobRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// RecoverySweeper periodically hands stalled jobs back to the scheduler.
// It covers batches lost to a crashed worker or a failed progress write.
type RecoverySweeper struct {
	recoverer StaleJobRecoverer
	interval  time.Duration
	logger    *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRecoverySweeper creates a sweeper that runs every interval
func NewRecoverySweeper(recoverer StaleJobRecoverer, interval time.Duration, logger *zap.Logger) *RecoverySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RecoverySweeper{
		recoverer: recoverer,
		interval:  interval,
		logger:    logger,
	}
}

// Start begins the sweep loop
func (s *RecoverySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Import recovery sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the sweep loop
func (s *RecoverySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Import recovery sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether the sweeper is running
func (s *RecoverySweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RecoverySweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// SweepNow runs one sweep synchronously
func (s *RecoverySweeper) SweepNow(ctx context.Context) {
	s.sweep(ctx)
}

func (s *RecoverySweeper) sweep(ctx context.Context) {
	n, err := s.recoverer.RecoverStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Import recovery sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("Rescheduled stalled import jobs", zap.Int("count", n))
	}
}
