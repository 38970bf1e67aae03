package ecommerce

import (
	"time"

	"github.com/shopspring/decimal"
)

// storefrontOrderPage is the body of GET /api/v1/orders
type storefrontOrderPage struct {
	Data []storefrontOrder `json:"data"`
	Meta struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	} `json:"meta"`
}

// storefrontCount is the body of GET /api/v1/orders/count
type storefrontCount struct {
	Count *int `json:"count"`
}

type storefrontOrder struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	Status      string             `json:"status"`
	Currency    string             `json:"currency"`
	Subtotal    decimal.Decimal    `json:"subtotal"`
	ShippingFee decimal.Decimal    `json:"shipping_fee"`
	Discount    decimal.Decimal    `json:"discount"`
	Total       decimal.Decimal    `json:"total"`
	Customer    storefrontCustomer `json:"customer"`
	Items       []storefrontLine   `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

type storefrontCustomer struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Governorate string `json:"governorate"`
}

type storefrontLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// storefrontError is the error envelope returned with non-2xx responses
type storefrontError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
