package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when scheduling on a scheduler that was never started
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrSchedulerStopped is returned when scheduling after Stop
	ErrSchedulerStopped = errors.New("scheduler is stopped")

	// ErrJobQueueFull is returned when the batch queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
