package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormImportJobRepository implements bulk.ImportJobRepository using GORM
type GormImportJobRepository struct {
	db *gorm.DB
}

// NewGormImportJobRepository creates a new GormImportJobRepository
func NewGormImportJobRepository(db *gorm.DB) *GormImportJobRepository {
	return &GormImportJobRepository{db: db}
}

// Create inserts a job after checking the tenant has no active one.
// On postgres the partial unique index ux_import_jobs_tenant_active closes
// the window between the check and the insert.
func (r *GormImportJobRepository) Create(ctx context.Context, job *bulk.ImportJob) error {
	model := models.ImportJobModelFromDomain(job)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.ImportJobModel{}).
			Where("tenant_id = ? AND status IN ?", job.TenantID, bulk.ActiveStatuses).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return bulk.ErrJobConflict
		}
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return bulk.ErrJobConflict
	}
	return err
}

// FindByID finds a job by ID regardless of tenant
func (r *GormImportJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*bulk.ImportJob, error) {
	var model models.ImportJobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translateJobErr(err)
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a job by ID owned by the tenant
func (r *GormImportJobRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*bulk.ImportJob, error) {
	var model models.ImportJobModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		return nil, translateJobErr(err)
	}
	return model.ToDomain(), nil
}

// FindActiveByTenant returns the tenant's non-terminal job
func (r *GormImportJobRepository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*bulk.ImportJob, error) {
	var model models.ImportJobModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, bulk.ActiveStatuses).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		return nil, translateJobErr(err)
	}
	return model.ToDomain(), nil
}

// FindAll returns a tenant's jobs with pagination and filtering, newest first
func (r *GormImportJobRepository) FindAll(
	ctx context.Context,
	tenantID uuid.UUID,
	filter bulk.ImportJobFilter,
	page, pageSize int,
) (*bulk.ImportJobListResult, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportJobModel{}).
		Where("tenant_id = ?", tenantID)

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, err
	}

	if page > 0 && pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var jobModels []models.ImportJobModel
	if err := query.Order("created_at DESC").Find(&jobModels).Error; err != nil {
		return nil, err
	}

	return &bulk.ImportJobListResult{
		Items:      toDomainJobs(jobModels),
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// FindByStatus lists jobs across tenants in the given statuses, oldest first
func (r *GormImportJobRepository) FindByStatus(ctx context.Context, statuses ...bulk.ImportStatus) ([]*bulk.ImportJob, error) {
	if len(statuses) == 0 {
		return []*bulk.ImportJob{}, nil
	}
	var jobModels []models.ImportJobModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toDomainJobs(jobModels), nil
}

// FindStale lists jobs in status whose last write is older than before
func (r *GormImportJobRepository) FindStale(ctx context.Context, status bulk.ImportStatus, before time.Time) ([]*bulk.ImportJob, error) {
	var jobModels []models.ImportJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Find(&jobModels).Error; err != nil {
		return nil, err
	}
	return toDomainJobs(jobModels), nil
}

// UpdateStatus writes the status columns if the stored status still equals expected
func (r *GormImportJobRepository) UpdateStatus(ctx context.Context, job *bulk.ImportJob, expected bulk.ImportStatus) error {
	model := models.ImportJobModelFromDomain(job)

	result := r.db.WithContext(ctx).Model(&models.ImportJobModel{}).
		Where("id = ? AND status = ?", job.ID, expected).
		Updates(model.StatusColumns())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, job.ID)
	}
	return nil
}

// SaveProgress writes checkpoint and counters in a single statement.
// It does not look at the status: a batch that raced with a cancel still
// records the orders it already wrote.
func (r *GormImportJobRepository) SaveProgress(ctx context.Context, job *bulk.ImportJob) error {
	model := models.ImportJobModelFromDomain(job)

	result := r.db.WithContext(ctx).Model(&models.ImportJobModel{}).
		Where("id = ?", job.ID).
		Updates(model.ProgressColumns())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bulk.ErrJobNotFound
	}
	return nil
}

func (r *GormImportJobRepository) missingOrConflict(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ImportJobModel{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return bulk.ErrJobNotFound
	}
	return shared.ErrConcurrencyConflict
}

func translateJobErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bulk.ErrJobNotFound
	}
	return err
}

func toDomainJobs(jobModels []models.ImportJobModel) []*bulk.ImportJob {
	jobs := make([]*bulk.ImportJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	return jobs
}

// Ensure GormImportJobRepository implements bulk.ImportJobRepository
var _ bulk.ImportJobRepository = (*GormImportJobRepository)(nil)
