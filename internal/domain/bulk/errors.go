package bulk

import "github.com/storefront/backend/internal/domain/shared"

var (
	// ErrJobConflict is returned when the tenant already has a non-terminal job
	ErrJobConflict = shared.NewDomainError("CONFLICT", "An import job is already active for this tenant")

	// ErrJobInvalidState is returned for control operations the current status does not allow
	ErrJobInvalidState = shared.NewDomainError("INVALID_STATE", "Operation not allowed in current import job state")

	// ErrJobNotFound is returned when the job does not exist for the tenant
	ErrJobNotFound = shared.NewDomainError("NOT_FOUND", "Import job not found")
)
