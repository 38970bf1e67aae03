package bulk

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ImportJobFilter defines the filters for listing import jobs
type ImportJobFilter struct {
	Status      *ImportStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ImportJobListResult represents a paginated list of import jobs
type ImportJobListResult struct {
	Items      []*ImportJob
	TotalCount int64
	Page       int
	PageSize   int
}

// ImportJobRepository is the durable job state store.
// Status writes and progress writes touch disjoint columns, so a control
// operation never races with the checkpoint update of an in-flight batch.
type ImportJobRepository interface {
	// Create persists a new job. It returns ErrJobConflict when the tenant
	// already has a pending, running or paused job.
	Create(ctx context.Context, job *ImportJob) error

	// FindByID loads a job regardless of tenant (scheduler side)
	FindByID(ctx context.Context, id uuid.UUID) (*ImportJob, error)

	// FindByIDForTenant loads a job owned by the tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ImportJob, error)

	// FindActiveByTenant returns the tenant's non-terminal job, or ErrJobNotFound
	FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*ImportJob, error)

	// FindAll lists a tenant's jobs, newest first
	FindAll(ctx context.Context, tenantID uuid.UUID, filter ImportJobFilter, page, pageSize int) (*ImportJobListResult, error)

	// FindByStatus lists jobs across tenants in the given statuses (recovery)
	FindByStatus(ctx context.Context, statuses ...ImportStatus) ([]*ImportJob, error)

	// FindStale lists jobs in the given status not updated since before
	FindStale(ctx context.Context, status ImportStatus, before time.Time) ([]*ImportJob, error)

	// UpdateStatus writes the status fields only if the stored status is still
	// expected. A mismatch returns shared.ErrConcurrencyConflict.
	UpdateStatus(ctx context.Context, job *ImportJob, expected ImportStatus) error

	// SaveProgress writes checkpoint and counters together in one statement
	SaveProgress(ctx context.Context, job *ImportJob) error
}
