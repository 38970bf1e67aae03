package integration

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validOrder() ExternalOrder {
	return ExternalOrder{
		ExternalID: "1001",
		Status:     ExternalOrderStatusPaid,
		Total:      decimal.NewFromInt(250),
		Subtotal:   decimal.NewFromInt(230),
		Customer:   ExternalCustomer{Name: "Mona Adel", City: "Giza"},
		Items:      []ExternalOrderItem{{SKU: "TS-01", Quantity: 2, UnitPrice: decimal.NewFromInt(115)}},
		CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestExternalOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *ExternalOrder)
		wantErr bool
	}{
		{"valid", func(o *ExternalOrder) {}, false},
		{"missing id", func(o *ExternalOrder) { o.ExternalID = " " }, true},
		{"missing created at", func(o *ExternalOrder) { o.CreatedAt = time.Time{} }, true},
		{"unknown status", func(o *ExternalOrder) { o.Status = "LOST" }, true},
		{"negative total", func(o *ExternalOrder) { o.Total = decimal.NewFromInt(-1) }, true},
		{"missing customer", func(o *ExternalOrder) { o.Customer.Name = "" }, true},
		{"zero quantity item", func(o *ExternalOrder) { o.Items[0].Quantity = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidExternalOrder))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseExternalOrderStatus(t *testing.T) {
	assert.Equal(t, ExternalOrderStatusShipped, ParseExternalOrderStatus(" shipped "))
	assert.False(t, ParseExternalOrderStatus("unknown").IsValid())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("fetch page 2: %w", ErrSourceAuthFailed)))
	assert.False(t, IsPermanent(ErrSourceRateLimited))
	assert.False(t, IsPermanent(ErrSourceUnavailable))
}
