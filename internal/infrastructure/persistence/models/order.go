package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/trade"
)

// OrderModel is the persistence model for the local Order aggregate.
// (tenant_id, external_id) is unique so a storefront order maps to at most
// one local order per tenant.
type OrderModel struct {
	AggregateModel
	TenantID      uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:ux_orders_tenant_external,priority:1"`
	ExternalID    string               `gorm:"type:varchar(100);not null;uniqueIndex:ux_orders_tenant_external,priority:2"`
	OrderNumber   string               `gorm:"type:varchar(100);not null"`
	Source        trade.OrderSource    `gorm:"type:varchar(20);not null;default:'manual'"`
	Status        trade.OrderStatus    `gorm:"type:varchar(20);not null;index"`
	Currency      string               `gorm:"type:varchar(3);not null;default:'EGP'"`
	Subtotal      decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
	ShippingFee   decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
	Discount      decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
	Total         decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
	Customer      trade.Customer       `gorm:"type:jsonb;serializer:json"`
	Items         []trade.OrderItem    `gorm:"type:jsonb;serializer:json"`
	PlacedAt      time.Time            `gorm:"not null"`
	InternalNotes string               `gorm:"type:text"`
	StatusHistory []trade.StatusChange `gorm:"type:jsonb;serializer:json"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order.
func (m *OrderModel) ToDomain() *trade.Order {
	order := &trade.Order{
		TenantAggregateRoot: shared.TenantAggregateRoot{TenantID: m.TenantID},
		ExternalID:          m.ExternalID,
		OrderNumber:         m.OrderNumber,
		Source:              m.Source,
		Status:              m.Status,
		Amounts: trade.Amounts{
			Currency:    m.Currency,
			Subtotal:    m.Subtotal,
			ShippingFee: m.ShippingFee,
			Discount:    m.Discount,
			Total:       m.Total,
		},
		Customer:      m.Customer,
		Items:         m.Items,
		PlacedAt:      m.PlacedAt,
		InternalNotes: m.InternalNotes,
		StatusHistory: m.StatusHistory,
	}
	populateAggregateRoot(&m.AggregateModel, &order.BaseAggregateRoot)
	if order.StatusHistory == nil {
		order.StatusHistory = make([]trade.StatusChange, 0)
	}
	return order
}

// FromDomain populates the persistence model from a domain Order.
func (m *OrderModel) FromDomain(o *trade.Order) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.TenantID = o.TenantID
	m.ExternalID = o.ExternalID
	m.OrderNumber = o.OrderNumber
	m.Source = o.Source
	m.Status = o.Status
	m.Currency = o.Amounts.Currency
	m.Subtotal = o.Amounts.Subtotal
	m.ShippingFee = o.Amounts.ShippingFee
	m.Discount = o.Amounts.Discount
	m.Total = o.Amounts.Total
	m.Customer = o.Customer
	m.Items = o.Items
	m.PlacedAt = o.PlacedAt
	m.InternalNotes = o.InternalNotes
	m.StatusHistory = o.StatusHistory
}

// UpdateColumns returns the columns an import update may overwrite
func UpdateColumns(u trade.OrderUpdate, now time.Time) map[string]any {
	return map[string]any{
		"status":       u.Status,
		"currency":     u.Amounts.Currency,
		"subtotal":     u.Amounts.Subtotal,
		"shipping_fee": u.Amounts.ShippingFee,
		"discount":     u.Amounts.Discount,
		"total":        u.Amounts.Total,
		"customer":     customerJSON{u.Customer},
		"updated_at":   now,
	}
}

// customerJSON stores the customer column as JSON on map updates,
// where the field serializer does not apply
type customerJSON struct {
	trade.Customer
}

// Value implements driver.Valuer
func (c customerJSON) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Customer)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// OrderModelFromDomain creates a new persistence model from a domain Order.
func OrderModelFromDomain(o *trade.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}
