package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportJobModel_RoundTrip(t *testing.T) {
	job, err := bulk.NewImportJob(uuid.New(), bulk.ImportOptions{
		DuplicatePolicy: bulk.DuplicatePolicyUpdate,
		PageSize:        20,
		Limit:           70,
		Filter:          bulk.ImportFilter{Statuses: []string{"PAID"}},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, job.Start())
	job.SetGrandTotal(120)
	require.NoError(t, job.ApplyBatch(2, bulk.CounterDelta{Imported: 18, Failed: 2}))

	m := ImportJobModelFromDomain(job)
	assert.Equal(t, 70, m.OrderLimit)
	assert.Equal(t, []string{"PAID"}, m.FilterStatuses)

	got := m.ToDomain()
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.TenantID, got.TenantID)
	assert.Equal(t, job.Version, got.Version)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Options, got.Options)
	assert.Equal(t, job.Checkpoint, got.Checkpoint)
	assert.Equal(t, job.Counters, got.Counters)
	assert.Equal(t, job.StartedAt, got.StartedAt)
}

func TestImportJobModel_ColumnSetsAreDisjoint(t *testing.T) {
	m := &ImportJobModel{}
	status := m.StatusColumns()
	for col := range m.ProgressColumns() {
		if col == "updated_at" {
			continue
		}
		_, clash := status[col]
		assert.False(t, clash, "column %s is written by both status and progress updates", col)
	}
}

func TestOrderModel_RoundTrip(t *testing.T) {
	order, err := trade.NewImportedOrder(uuid.New(), "ext-1", "#1001", time.Now().UTC(), trade.OrderUpdate{
		Status: trade.OrderStatusPaid,
		Amounts: trade.Amounts{
			Currency: "EGP",
			Subtotal: decimal.NewFromInt(100),
			Total:    decimal.NewFromInt(100),
		},
		Customer: trade.Customer{Name: "Mona", City: "Cairo"},
	}, []trade.OrderItem{{SKU: "SKU-1", Name: "Mug", Quantity: 2, UnitPrice: decimal.NewFromInt(50), Amount: decimal.NewFromInt(100)}})
	require.NoError(t, err)

	got := OrderModelFromDomain(order).ToDomain()
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, order.ExternalID, got.ExternalID)
	assert.Equal(t, order.Customer, got.Customer)
	assert.Equal(t, order.Items, got.Items)
	assert.True(t, order.Amounts.Total.Equal(got.Amounts.Total))
	assert.NotNil(t, got.StatusHistory)
}

func TestCustomerJSON_Value(t *testing.T) {
	v, err := customerJSON{trade.Customer{Name: "Omar", Phone: "0100"}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Omar","phone":"0100"}`, v.(string))
}
