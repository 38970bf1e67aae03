package importapp

import (
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// StartJobRequest describes a new import
type StartJobRequest struct {
	DuplicatePolicy string     `json:"duplicate_policy" binding:"omitempty,oneof=skip update"`
	PageSize        int        `json:"page_size" binding:"omitempty,min=1,max=100"`
	Limit           int        `json:"limit" binding:"omitempty,min=0"`
	CreatedFrom     *time.Time `json:"created_from,omitempty"`
	CreatedTo       *time.Time `json:"created_to,omitempty"`
	Statuses        []string   `json:"statuses,omitempty" binding:"omitempty,dive,oneof=PENDING PAID SHIPPED DELIVERED COMPLETED CANCELLED REFUNDED"`
	RequestedBy     *uuid.UUID `json:"-"`
}

// Options converts the request into job options
func (r StartJobRequest) Options() bulk.ImportOptions {
	return bulk.ImportOptions{
		DuplicatePolicy: bulk.DuplicatePolicy(r.DuplicatePolicy),
		PageSize:        r.PageSize,
		Limit:           r.Limit,
		Filter: bulk.ImportFilter{
			CreatedFrom: r.CreatedFrom,
			CreatedTo:   r.CreatedTo,
			Statuses:    r.Statuses,
		},
	}
}

// ListJobsFilter narrows the job history listing
type ListJobsFilter struct {
	Status      string     `form:"status" binding:"omitempty,oneof=pending running paused completed failed cancelled"`
	CreatedFrom *time.Time `form:"created_from" time_format:"2006-01-02T15:04:05Z07:00"`
	CreatedTo   *time.Time `form:"created_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (f ListJobsFilter) toDomain() bulk.ImportJobFilter {
	filter := bulk.ImportJobFilter{
		CreatedFrom: f.CreatedFrom,
		CreatedTo:   f.CreatedTo,
	}
	if f.Status != "" {
		status := bulk.ImportStatus(f.Status)
		filter.Status = &status
	}
	return filter
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// ImportJobResponse represents an import job in API responses
type ImportJobResponse struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	Status          bulk.ImportStatus `json:"status"`
	DuplicatePolicy string            `json:"duplicate_policy"`
	PageSize        int               `json:"page_size"`
	Limit           int               `json:"limit"`
	Filter          bulk.ImportFilter `json:"filter"`
	Checkpoint      bulk.Checkpoint   `json:"checkpoint"`
	Counters        bulk.Counters     `json:"counters"`
	Percentage      *float64          `json:"percentage"`
	LastError       string            `json:"last_error,omitempty"`
	RequestedBy     *uuid.UUID        `json:"requested_by,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int               `json:"version"`
}

// ToImportJobResponse converts a job to its response DTO
func ToImportJobResponse(job *bulk.ImportJob) *ImportJobResponse {
	return &ImportJobResponse{
		ID:              job.ID,
		TenantID:        job.TenantID,
		Status:          job.Status,
		DuplicatePolicy: string(job.Options.DuplicatePolicy),
		PageSize:        job.Options.PageSize,
		Limit:           job.Options.Limit,
		Filter:          job.Options.Filter,
		Checkpoint:      job.Checkpoint,
		Counters:        job.Counters,
		Percentage:      job.Counters.Percentage(),
		LastError:       job.LastError,
		RequestedBy:     job.RequestedBy,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		Version:         job.Version,
	}
}

// Snapshot renders the job's persisted state as a progress snapshot. Streams
// send it first so late subscribers see where the job stands.
func (r *ImportJobResponse) Snapshot() bulk.ProgressSnapshot {
	return bulk.ProgressSnapshot{
		JobID:      r.ID,
		TenantID:   r.TenantID,
		Status:     r.Status,
		Checkpoint: r.Checkpoint,
		Counters:   r.Counters,
		Percentage: r.Percentage,
		LastError:  r.LastError,
		Final:      r.Status.IsTerminal(),
		EmittedAt:  time.Now(),
	}
}

// ImportJobListResponse is one page of the job history
type ImportJobListResponse struct {
	Items      []*ImportJobResponse `json:"items"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}
