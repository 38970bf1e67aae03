package trade

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/shared"
)

// OrderStatus represents the status of a storefront order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// IsValid checks if the status is a valid OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// OrderSource tells where an order was created
type OrderSource string

const (
	OrderSourceManual     OrderSource = "manual"
	OrderSourceStorefront OrderSource = "storefront"
)

// Customer holds the buyer and delivery details of an order
type Customer struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Governorate string `json:"governorate,omitempty"`
}

// OrderItem represents a line item of an order
type OrderItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// StatusChange is one entry of the locally maintained status history
type StatusChange struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Note      string      `json:"note,omitempty"`
	ChangedBy *uuid.UUID  `json:"changed_by,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

// Amounts groups the money fields of an order
type Amounts struct {
	Currency    string
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Order is a tenant's local order record
type Order struct {
	shared.TenantAggregateRoot
	ExternalID    string
	OrderNumber   string
	Source        OrderSource
	Status        OrderStatus
	Amounts       Amounts
	Customer      Customer
	Items         []OrderItem
	PlacedAt      time.Time
	InternalNotes string
	StatusHistory []StatusChange
}

// OrderUpdate carries the fields an import is allowed to overwrite
type OrderUpdate struct {
	Status   OrderStatus
	Amounts  Amounts
	Customer Customer
}

// Validate checks the update before it is written
func (u OrderUpdate) Validate() error {
	if !u.Status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Invalid order status: %s", u.Status))
	}
	if u.Amounts.Total.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Order total cannot be negative")
	}
	if strings.TrimSpace(u.Customer.Name) == "" {
		return shared.NewDomainError("INVALID_CUSTOMER", "Customer name cannot be empty")
	}
	return nil
}

// NewImportedOrder creates a local order mirroring a storefront order
func NewImportedOrder(tenantID uuid.UUID, externalID, orderNumber string, placedAt time.Time, fields OrderUpdate, items []OrderItem) (*Order, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "External ID cannot be empty")
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	if orderNumber == "" {
		orderNumber = externalID
	}

	order := &Order{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ExternalID:          externalID,
		OrderNumber:         orderNumber,
		Source:              OrderSourceStorefront,
		Status:              fields.Status,
		Amounts:             fields.Amounts,
		Customer:            fields.Customer,
		Items:               items,
		PlacedAt:            placedAt,
		StatusHistory:       make([]StatusChange, 0),
	}
	return order, nil
}

// ApplyUpdate overwrites the mutable fields; notes, history and items are kept
func (o *Order) ApplyUpdate(u OrderUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	o.Status = u.Status
	o.Amounts = u.Amounts
	o.Customer = u.Customer
	o.IncrementVersion()
	return nil
}

// ChangeStatus is the manual status change path, which records history
func (o *Order) ChangeStatus(to OrderStatus, note string, by *uuid.UUID) error {
	if !to.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Invalid order status: %s", to))
	}
	if o.Status == to {
		return nil
	}
	now := time.Now()
	o.StatusHistory = append(o.StatusHistory, StatusChange{
		From:      o.Status,
		To:        to,
		Note:      note,
		ChangedBy: by,
		ChangedAt: now,
	})
	o.Status = to
	o.IncrementVersion()
	return nil
}
