package trade

import (
	"context"

	"github.com/google/uuid"
)

// OrderRepository defines the local order store used by imports
type OrderRepository interface {
	// FindByExternalID finds an order by exact storefront ID.
	// Returns shared.ErrNotFound when no order matches.
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*Order, error)

	// Create inserts a new order. Returns shared.ErrAlreadyExists on a duplicate external ID.
	Create(ctx context.Context, order *Order) error

	// Update overwrites only the mutable fields of an existing order
	Update(ctx context.Context, tenantID, id uuid.UUID, update OrderUpdate) error
}
