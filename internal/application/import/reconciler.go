package importapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/integration"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/trade"
	"go.uber.org/zap"
)

// Reconciler decides, per external order, whether the local store gets a new
// order, an overwrite or nothing. It only talks to the local order store.
type Reconciler struct {
	orders       trade.OrderRepository
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(orders trade.OrderRepository, storeTimeout time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		orders:       orders,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Reconcile applies one external order under the given duplicate policy.
// Every error is folded into a failed outcome.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID uuid.UUID, ext integration.ExternalOrder, policy bulk.DuplicatePolicy) bulk.ReconciliationOutcome {
	if err := ext.Validate(); err != nil {
		return bulk.Failed(ext.ExternalID, err.Error())
	}

	existing, err := r.find(ctx, tenantID, ext.ExternalID)
	if errors.Is(err, shared.ErrNotFound) {
		outcome, created := r.create(ctx, tenantID, ext)
		if created {
			return outcome
		}
		// lost a race with a concurrent insert of the same external order
		existing, err = r.find(ctx, tenantID, ext.ExternalID)
	}
	if err != nil {
		return bulk.Failed(ext.ExternalID, fmt.Sprintf("lookup failed: %v", err))
	}

	if policy != bulk.DuplicatePolicyUpdate {
		return bulk.Skipped(ext.ExternalID, bulk.SkipReasonDuplicate)
	}
	return r.update(ctx, tenantID, existing.ID, ext)
}

func (r *Reconciler) find(ctx context.Context, tenantID uuid.UUID, externalID string) (*trade.Order, error) {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()
	return r.orders.FindByExternalID(ctx, tenantID, externalID)
}

// create returns false only when the order turned out to exist already
func (r *Reconciler) create(ctx context.Context, tenantID uuid.UUID, ext integration.ExternalOrder) (bulk.ReconciliationOutcome, bool) {
	order, err := trade.NewImportedOrder(tenantID, ext.ExternalID, ext.OrderNumber, ext.CreatedAt, orderUpdateFrom(ext), orderItemsFrom(ext.Items))
	if err != nil {
		return bulk.Failed(ext.ExternalID, err.Error()), true
	}

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	if err := r.orders.Create(ctx, order); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return bulk.ReconciliationOutcome{}, false
		}
		r.logger.Warn("Failed to create imported order",
			zap.String("tenant_id", tenantID.String()),
			zap.String("external_id", ext.ExternalID),
			zap.Error(err),
		)
		return bulk.Failed(ext.ExternalID, fmt.Sprintf("create failed: %v", err)), true
	}
	return bulk.Created(ext.ExternalID), true
}

func (r *Reconciler) update(ctx context.Context, tenantID, orderID uuid.UUID, ext integration.ExternalOrder) bulk.ReconciliationOutcome {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	if err := r.orders.Update(ctx, tenantID, orderID, orderUpdateFrom(ext)); err != nil {
		r.logger.Warn("Failed to update imported order",
			zap.String("tenant_id", tenantID.String()),
			zap.String("external_id", ext.ExternalID),
			zap.Error(err),
		)
		return bulk.Failed(ext.ExternalID, fmt.Sprintf("update failed: %v", err))
	}
	return bulk.Updated(ext.ExternalID)
}

func (r *Reconciler) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

// orderUpdateFrom maps the storefront-owned fields of an external order
func orderUpdateFrom(ext integration.ExternalOrder) trade.OrderUpdate {
	return trade.OrderUpdate{
		Status: trade.OrderStatus(ext.Status),
		Amounts: trade.Amounts{
			Currency:    ext.Currency,
			Subtotal:    ext.Subtotal,
			ShippingFee: ext.ShippingFee,
			Discount:    ext.Discount,
			Total:       ext.Total,
		},
		Customer: trade.Customer{
			Name:        ext.Customer.Name,
			Email:       ext.Customer.Email,
			Phone:       ext.Customer.Phone,
			Address:     ext.Customer.Address,
			City:        ext.Customer.City,
			Governorate: ext.Customer.Governorate,
		},
	}
}

func orderItemsFrom(items []integration.ExternalOrderItem) []trade.OrderItem {
	out := make([]trade.OrderItem, len(items))
	for i, item := range items {
		out[i] = trade.OrderItem{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Amount:    item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
	}
	return out
}
