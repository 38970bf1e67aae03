package bulk

import (
	"github.com/storefront/backend/internal/domain/shared"
)

// AggregateTypeImportJob is the aggregate type for import job events
const AggregateTypeImportJob = "ImportJob"

// Event type constants
const (
	EventTypeImportJobStarted   = "ImportJobStarted"
	EventTypeImportJobCompleted = "ImportJobCompleted"
	EventTypeImportJobFailed    = "ImportJobFailed"
	EventTypeImportJobCancelled = "ImportJobCancelled"
)

// ImportJobStartedEvent is raised when a job starts running
type ImportJobStartedEvent struct {
	shared.BaseDomainEvent
	Options ImportOptions `json:"options"`
}

// NewImportJobStartedEvent creates an ImportJobStartedEvent
func NewImportJobStartedEvent(job *ImportJob) *ImportJobStartedEvent {
	return &ImportJobStartedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeImportJobStarted, AggregateTypeImportJob, job.ID, job.TenantID),
		Options:         job.Options,
	}
}

// ImportJobFinishedEvent carries the final state of a job that reached a terminal status
type ImportJobFinishedEvent struct {
	shared.BaseDomainEvent
	Status    ImportStatus `json:"status"`
	Counters  Counters     `json:"counters"`
	LastError string       `json:"last_error,omitempty"`
}

func newFinishedEvent(eventType string, job *ImportJob) *ImportJobFinishedEvent {
	return &ImportJobFinishedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateTypeImportJob, job.ID, job.TenantID),
		Status:          job.Status,
		Counters:        job.Counters,
		LastError:       job.LastError,
	}
}

// NewImportJobCompletedEvent creates a completed event
func NewImportJobCompletedEvent(job *ImportJob) *ImportJobFinishedEvent {
	return newFinishedEvent(EventTypeImportJobCompleted, job)
}

// NewImportJobFailedEvent creates a failed event
func NewImportJobFailedEvent(job *ImportJob) *ImportJobFinishedEvent {
	return newFinishedEvent(EventTypeImportJobFailed, job)
}

// NewImportJobCancelledEvent creates a cancelled event
func NewImportJobCancelledEvent(job *ImportJob) *ImportJobFinishedEvent {
	return newFinishedEvent(EventTypeImportJobCancelled, job)
}
