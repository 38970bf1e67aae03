//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	importapp "github.com/storefront/backend/internal/application/import"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/integration"
	"github.com/storefront/backend/internal/infrastructure/cache"
	"github.com/storefront/backend/internal/infrastructure/event"
	"github.com/storefront/backend/internal/infrastructure/persistence"
	"github.com/storefront/backend/internal/infrastructure/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memorySource serves a fixed order list page by page
type memorySource struct {
	mu     sync.Mutex
	orders []integration.ExternalOrder
	status integration.ExternalOrderStatus
}

func newMemorySource(n int) *memorySource {
	base := time.Now().Add(-24 * time.Hour)
	orders := make([]integration.ExternalOrder, n)
	for i := range orders {
		orders[i] = integration.ExternalOrder{
			ExternalID:  fmt.Sprintf("sf-%03d", i+1),
			OrderNumber: fmt.Sprintf("#%d", 1000+i),
			Currency:    "EGP",
			Subtotal:    decimal.NewFromInt(150),
			Total:       decimal.NewFromInt(150),
			Customer:    integration.ExternalCustomer{Name: "Laila", City: "Cairo"},
			Items: []integration.ExternalOrderItem{
				{SKU: "HOODIE-L", Name: "Hoodie", Quantity: 1, UnitPrice: decimal.NewFromInt(150)},
			},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return &memorySource{orders: orders, status: integration.ExternalOrderStatusPaid}
}

func (s *memorySource) setStatus(status integration.ExternalOrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *memorySource) Count(context.Context, uuid.UUID, integration.OrderFilter) (int, error) {
	return len(s.orders), nil
}

func (s *memorySource) FetchPage(_ context.Context, _ uuid.UUID, _ integration.OrderFilter, page, pageSize int) ([]integration.ExternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := (page - 1) * pageSize
	if start >= len(s.orders) {
		return nil, nil
	}
	end := min(start+pageSize, len(s.orders))
	out := make([]integration.ExternalOrder, 0, end-start)
	for _, o := range s.orders[start:end] {
		o.Status = s.status
		out = append(out, o)
	}
	return out, nil
}

type engine struct {
	db      *TestDB
	manager *importapp.JobManager
	hub     *event.ProgressHub
	source  *memorySource
}

func newEngine(t *testing.T, orders int) *engine {
	t.Helper()
	log := zaptest.NewLogger(t)
	tdb := NewTestDB(t)

	jobs := persistence.NewGormImportJobRepository(tdb.DB)
	orderRepo := persistence.NewGormOrderRepository(tdb.DB)
	source := newMemorySource(orders)

	cfg := importapp.DefaultEngineConfig()
	cfg.InterBatchDelay = 0
	cfg.Retry.InitialInterval = 10 * time.Millisecond

	hub := event.NewProgressHub(64, log)
	runner := importapp.NewBatchRunner(source, importapp.NewReconciler(orderRepo, cfg.StoreTimeout, log), jobs, cfg, log)
	manager := importapp.NewJobManager(jobs, runner, cache.NewInMemoryJobLock(), hub, cfg, log)

	sched, err := scheduler.NewBatchScheduler(scheduler.BatchSchedulerConfig{Workers: 2, QueueSize: 16}, manager, log)
	require.NoError(t, err)
	manager.SetScheduler(sched)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	return &engine{db: tdb, manager: manager, hub: hub, source: source}
}

func (e *engine) waitFor(t *testing.T, tenantID, jobID uuid.UUID, status bulk.ImportStatus) *importapp.ImportJobResponse {
	t.Helper()
	var last *importapp.ImportJobResponse
	require.Eventually(t, func() bool {
		job, err := e.manager.GetJob(context.Background(), tenantID, jobID)
		if err != nil {
			return false
		}
		last = job
		return job.Status == status
	}, 30*time.Second, 50*time.Millisecond, "job never reached %s", status)
	return last
}

func TestImportFlow_ImportsSkipsAndUpdates(t *testing.T) {
	e := newEngine(t, 7)
	ctx := context.Background()
	tenantID := uuid.New()

	first, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 3})
	require.NoError(t, err)

	updates, unsubscribe := e.manager.Subscribe(first.ID)
	defer unsubscribe()

	done := e.waitFor(t, tenantID, first.ID, bulk.ImportStatusCompleted)
	assert.Equal(t, 7, done.Counters.Imported)
	assert.Equal(t, 7, done.Counters.ProcessedOrders)
	require.NotNil(t, done.Counters.GrandTotal)
	assert.Equal(t, 7, *done.Counters.GrandTotal)
	require.NotNil(t, done.Percentage)
	assert.InDelta(t, 100.0, *done.Percentage, 0.001)
	assert.Equal(t, int64(7), e.db.CountOrders(tenantID.String()))

	var final bulk.ProgressSnapshot
	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			final = snap
			return snap.Final
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, bulk.ImportStatusCompleted, final.Status)

	t.Run("rerun with skip policy keeps stored orders", func(t *testing.T) {
		job, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 5, DuplicatePolicy: "skip"})
		require.NoError(t, err)
		done := e.waitFor(t, tenantID, job.ID, bulk.ImportStatusCompleted)
		assert.Equal(t, 0, done.Counters.Imported)
		assert.Equal(t, 7, done.Counters.Skipped)
	})

	t.Run("rerun with update policy overwrites storefront fields", func(t *testing.T) {
		e.source.setStatus(integration.ExternalOrderStatusShipped)
		job, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 5, DuplicatePolicy: "update"})
		require.NoError(t, err)
		done := e.waitFor(t, tenantID, job.ID, bulk.ImportStatusCompleted)
		assert.Equal(t, 7, done.Counters.Updated)

		var shipped int64
		require.NoError(t, e.db.DB.Raw(
			`SELECT COUNT(*) FROM orders WHERE tenant_id = ? AND status = ?`, tenantID.String(), "SHIPPED",
		).Scan(&shipped).Error)
		assert.Equal(t, int64(7), shipped)
	})
}

func TestImportFlow_LimitStopsEarly(t *testing.T) {
	e := newEngine(t, 10)
	ctx := context.Background()
	tenantID := uuid.New()

	job, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 3, Limit: 4})
	require.NoError(t, err)

	done := e.waitFor(t, tenantID, job.ID, bulk.ImportStatusCompleted)
	assert.Equal(t, 4, done.Counters.ProcessedOrders)
	require.NotNil(t, done.Counters.GrandTotal)
	assert.Equal(t, 4, *done.Counters.GrandTotal)
	assert.Equal(t, int64(4), e.db.CountOrders(tenantID.String()))
}

func TestImportFlow_CancelIsTerminal(t *testing.T) {
	e := newEngine(t, 3)
	ctx := context.Background()
	tenantID := uuid.New()

	job, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 1})
	require.NoError(t, err)

	cancelled, err := e.manager.CancelJob(ctx, tenantID, job.ID)
	if err != nil {
		// the job may have finished before the cancel arrived
		assert.ErrorIs(t, err, bulk.ErrJobInvalidState)
		return
	}
	assert.Equal(t, bulk.ImportStatusCancelled, cancelled.Status)

	_, err = e.manager.ResumeJob(ctx, tenantID, job.ID)
	assert.ErrorIs(t, err, bulk.ErrJobInvalidState)

	// a cancelled job frees the tenant slot
	next, err := e.manager.StartJob(ctx, tenantID, importapp.StartJobRequest{PageSize: 3})
	require.NoError(t, err)
	e.waitFor(t, tenantID, next.ID, bulk.ImportStatusCompleted)
}
