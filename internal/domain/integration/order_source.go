package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OrderSource Errors
// ---------------------------------------------------------------------------

var (
	ErrSourceNotConfigured   = errors.New("integration: order source not configured")
	ErrSourceUnavailable     = errors.New("integration: order source temporarily unavailable")
	ErrSourceRequestFailed   = errors.New("integration: order source request failed")
	ErrSourceInvalidResponse = errors.New("integration: invalid order source response")
	ErrSourceAuthFailed      = errors.New("integration: order source authentication failed")
	ErrSourceRateLimited     = errors.New("integration: order source rate limited")

	ErrInvalidExternalOrder = errors.New("integration: invalid external order")
)

// IsPermanent reports whether retrying the request cannot succeed
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSourceAuthFailed) || errors.Is(err, ErrSourceNotConfigured)
}

// ---------------------------------------------------------------------------
// ExternalOrderStatus
// ---------------------------------------------------------------------------

// ExternalOrderStatus represents the status of an order on the storefront
type ExternalOrderStatus string

const (
	ExternalOrderStatusPending   ExternalOrderStatus = "PENDING"
	ExternalOrderStatusPaid      ExternalOrderStatus = "PAID"
	ExternalOrderStatusShipped   ExternalOrderStatus = "SHIPPED"
	ExternalOrderStatusDelivered ExternalOrderStatus = "DELIVERED"
	ExternalOrderStatusCompleted ExternalOrderStatus = "COMPLETED"
	ExternalOrderStatusCancelled ExternalOrderStatus = "CANCELLED"
	ExternalOrderStatusRefunded  ExternalOrderStatus = "REFUNDED"
)

// IsValid returns true if the status is valid
func (s ExternalOrderStatus) IsValid() bool {
	switch s {
	case ExternalOrderStatusPending, ExternalOrderStatusPaid, ExternalOrderStatusShipped,
		ExternalOrderStatusDelivered, ExternalOrderStatusCompleted, ExternalOrderStatusCancelled,
		ExternalOrderStatusRefunded:
		return true
	default:
		return false
	}
}

// ParseExternalOrderStatus normalizes a storefront status string
func ParseExternalOrderStatus(raw string) ExternalOrderStatus {
	return ExternalOrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// ---------------------------------------------------------------------------
// ExternalOrder value object
// ---------------------------------------------------------------------------

// ExternalCustomer is the buyer and delivery information of an external order
type ExternalCustomer struct {
	Name        string
	Email       string
	Phone       string
	Address     string
	City        string
	Governorate string
}

// ExternalOrderItem represents a line item in an external order
type ExternalOrderItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// ExternalOrder represents an order fetched from the storefront
type ExternalOrder struct {
	// ExternalID is the storefront's order identifier, the reconciliation key
	ExternalID  string
	OrderNumber string
	Status      ExternalOrderStatus
	Currency    string
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Customer    ExternalCustomer
	Items       []ExternalOrderItem
	CreatedAt   time.Time
	// RawData is the original storefront payload (JSON)
	RawData string
}

// Validate checks the fields a local order cannot be built without
func (o *ExternalOrder) Validate() error {
	switch {
	case strings.TrimSpace(o.ExternalID) == "":
		return fmt.Errorf("%w: missing external id", ErrInvalidExternalOrder)
	case o.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing creation time", ErrInvalidExternalOrder)
	case !o.Status.IsValid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidExternalOrder, o.Status)
	case o.Total.IsNegative() || o.Subtotal.IsNegative() || o.ShippingFee.IsNegative():
		return fmt.Errorf("%w: negative amount", ErrInvalidExternalOrder)
	case strings.TrimSpace(o.Customer.Name) == "":
		return fmt.Errorf("%w: missing customer name", ErrInvalidExternalOrder)
	}
	for i, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrInvalidExternalOrder, i)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// OrderSource port
// ---------------------------------------------------------------------------

// OrderFilter narrows the remote order set
type OrderFilter struct {
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Statuses    []ExternalOrderStatus
}

// OrderSource is the port for reading a tenant's storefront orders.
// Pages are 1-based and ordered by creation time ascending.
type OrderSource interface {
	// Count returns the number of orders matching the filter
	Count(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) (int, error)

	// FetchPage returns one page of orders; a page shorter than pageSize is the last one
	FetchPage(ctx context.Context, tenantID uuid.UUID, filter OrderFilter, page, pageSize int) ([]ExternalOrder, error)
}
