// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: Base persistence models (BaseModel, AggregateModel, TenantAggregateModel)
//   - import_job.go: import job state, checkpoint and counters
//   - order.go: local orders mirrored from the storefront
package models
