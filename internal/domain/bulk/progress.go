package bulk

import (
	"time"

	"github.com/google/uuid"
)

// ProgressSnapshot is the point-in-time progress view delivered to subscribers
type ProgressSnapshot struct {
	JobID      uuid.UUID    `json:"job_id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	Status     ImportStatus `json:"status"`
	Checkpoint Checkpoint   `json:"checkpoint"`
	Counters   Counters     `json:"counters"`
	// Percentage is nil while the remote total is unknown
	Percentage *float64  `json:"percentage"`
	LastError  string    `json:"last_error,omitempty"`
	Final      bool      `json:"final"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// ProgressPublisher delivers snapshots without blocking the caller
type ProgressPublisher interface {
	Publish(snapshot ProgressSnapshot)
}

// ProgressSubscriber hands out per-job snapshot streams.
// The returned function releases the subscription.
type ProgressSubscriber interface {
	Subscribe(jobID uuid.UUID) (<-chan ProgressSnapshot, func())
}
