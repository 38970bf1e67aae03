package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
)

// ImportJobModel is the persistence model for the ImportJob aggregate.
// Status columns and progress columns are written by different statements.
type ImportJobModel struct {
	TenantAggregateModel
	Status            bulk.ImportStatus    `gorm:"type:varchar(20);not null;default:'pending';index"`
	DuplicatePolicy   bulk.DuplicatePolicy `gorm:"type:varchar(20);not null;default:'skip'"`
	PageSize          int                  `gorm:"not null"`
	OrderLimit        int                  `gorm:"not null;default:0"`
	FilterCreatedFrom *time.Time           `gorm:"column:filter_created_from"`
	FilterCreatedTo   *time.Time           `gorm:"column:filter_created_to"`
	FilterStatuses    []string             `gorm:"type:jsonb;serializer:json"`
	CurrentPage       int                  `gorm:"not null;default:1"`
	CurrentBatch      int                  `gorm:"not null;default:0"`
	TotalPages        *int                 `gorm:"column:total_pages"`
	TotalBatches      *int                 `gorm:"column:total_batches"`
	ProcessedOrders   int                  `gorm:"not null;default:0"`
	GrandTotal        *int                 `gorm:"column:grand_total"`
	ImportedCount     int                  `gorm:"not null;default:0"`
	UpdatedCount      int                  `gorm:"not null;default:0"`
	SkippedCount      int                  `gorm:"not null;default:0"`
	FailedCount       int                  `gorm:"not null;default:0"`
	LastError         string               `gorm:"type:text"`
	RequestedBy       *uuid.UUID           `gorm:"type:uuid"`
	StartedAt         *time.Time           `gorm:"column:started_at"`
	CompletedAt       *time.Time           `gorm:"column:completed_at"`
}

// TableName returns the table name for GORM
func (ImportJobModel) TableName() string {
	return "import_jobs"
}

// ToDomain converts the persistence model to a domain ImportJob.
func (m *ImportJobModel) ToDomain() *bulk.ImportJob {
	job := &bulk.ImportJob{
		Status: m.Status,
		Options: bulk.ImportOptions{
			DuplicatePolicy: m.DuplicatePolicy,
			PageSize:        m.PageSize,
			Limit:           m.OrderLimit,
			Filter: bulk.ImportFilter{
				CreatedFrom: m.FilterCreatedFrom,
				CreatedTo:   m.FilterCreatedTo,
				Statuses:    m.FilterStatuses,
			},
		},
		Checkpoint: bulk.Checkpoint{
			CurrentPage:  m.CurrentPage,
			CurrentBatch: m.CurrentBatch,
			TotalPages:   m.TotalPages,
			TotalBatches: m.TotalBatches,
		},
		Counters: bulk.Counters{
			ProcessedOrders: m.ProcessedOrders,
			GrandTotal:      m.GrandTotal,
			Imported:        m.ImportedCount,
			Updated:         m.UpdatedCount,
			Skipped:         m.SkippedCount,
			Failed:          m.FailedCount,
		},
		LastError:   m.LastError,
		RequestedBy: m.RequestedBy,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	m.PopulateTenantAggregateRoot(&job.TenantAggregateRoot)
	return job
}

// FromDomain populates the persistence model from a domain ImportJob.
func (m *ImportJobModel) FromDomain(j *bulk.ImportJob) {
	m.FromDomainTenantAggregateRoot(j.TenantAggregateRoot)
	m.Status = j.Status
	m.DuplicatePolicy = j.Options.DuplicatePolicy
	m.PageSize = j.Options.PageSize
	m.OrderLimit = j.Options.Limit
	m.FilterCreatedFrom = j.Options.Filter.CreatedFrom
	m.FilterCreatedTo = j.Options.Filter.CreatedTo
	m.FilterStatuses = j.Options.Filter.Statuses
	m.CurrentPage = j.Checkpoint.CurrentPage
	m.CurrentBatch = j.Checkpoint.CurrentBatch
	m.TotalPages = j.Checkpoint.TotalPages
	m.TotalBatches = j.Checkpoint.TotalBatches
	m.ProcessedOrders = j.Counters.ProcessedOrders
	m.GrandTotal = j.Counters.GrandTotal
	m.ImportedCount = j.Counters.Imported
	m.UpdatedCount = j.Counters.Updated
	m.SkippedCount = j.Counters.Skipped
	m.FailedCount = j.Counters.Failed
	m.LastError = j.LastError
	m.RequestedBy = j.RequestedBy
	m.StartedAt = j.StartedAt
	m.CompletedAt = j.CompletedAt
}

// StatusColumns returns the columns written by a status transition
func (m *ImportJobModel) StatusColumns() map[string]any {
	return map[string]any{
		"status":       m.Status,
		"last_error":   m.LastError,
		"started_at":   m.StartedAt,
		"completed_at": m.CompletedAt,
		"version":      m.Version,
		"updated_at":   m.UpdatedAt,
	}
}

// ProgressColumns returns the columns written after a committed batch
func (m *ImportJobModel) ProgressColumns() map[string]any {
	return map[string]any{
		"current_page":     m.CurrentPage,
		"current_batch":    m.CurrentBatch,
		"total_pages":      m.TotalPages,
		"total_batches":    m.TotalBatches,
		"processed_orders": m.ProcessedOrders,
		"grand_total":      m.GrandTotal,
		"imported_count":   m.ImportedCount,
		"updated_count":    m.UpdatedCount,
		"skipped_count":    m.SkippedCount,
		"failed_count":     m.FailedCount,
		"updated_at":       m.UpdatedAt,
	}
}

// ImportJobModelFromDomain creates a new persistence model from a domain ImportJob.
func ImportJobModelFromDomain(j *bulk.ImportJob) *ImportJobModel {
	m := &ImportJobModel{}
	m.FromDomain(j)
	return m
}
