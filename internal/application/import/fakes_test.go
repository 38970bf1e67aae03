package importapp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/domain/integration"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/trade"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func extOrder(n int) integration.ExternalOrder {
	return integration.ExternalOrder{
		ExternalID:  fmt.Sprintf("ext-%d", n),
		OrderNumber: fmt.Sprintf("#%d", 1000+n),
		Status:      integration.ExternalOrderStatusPaid,
		Currency:    "EGP",
		Subtotal:    decimal.NewFromInt(100),
		ShippingFee: decimal.NewFromInt(10),
		Total:       decimal.NewFromInt(110),
		Customer:    integration.ExternalCustomer{Name: fmt.Sprintf("Customer %d", n), City: "Cairo"},
		Items: []integration.ExternalOrderItem{
			{SKU: "MUG-1", Name: "Mug", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
		},
		CreatedAt: baseTime.Add(time.Duration(n) * time.Minute),
	}
}

func extOrders(n int) []integration.ExternalOrder {
	out := make([]integration.ExternalOrder, n)
	for i := range out {
		out[i] = extOrder(i + 1)
	}
	return out
}

// ---------------------------------------------------------------------------
// memJobRepo keeps copies, so only what the repository writes survives
// ---------------------------------------------------------------------------

type memJobRepo struct {
	mu              sync.Mutex
	jobs            map[uuid.UUID]*bulk.ImportJob
	saveProgressErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]*bulk.ImportJob)}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneJob(j *bulk.ImportJob) *bulk.ImportJob {
	c := *j
	c.ClearDomainEvents()
	c.Options.Filter.Statuses = append([]string(nil), j.Options.Filter.Statuses...)
	c.Checkpoint.TotalPages = cloneInt(j.Checkpoint.TotalPages)
	c.Checkpoint.TotalBatches = cloneInt(j.Checkpoint.TotalBatches)
	c.Counters.GrandTotal = cloneInt(j.Counters.GrandTotal)
	return &c
}

func (r *memJobRepo) Create(_ context.Context, job *bulk.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.TenantID == job.TenantID && !j.Status.IsTerminal() {
			return bulk.ErrJobConflict
		}
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *memJobRepo) FindByID(_ context.Context, id uuid.UUID) (*bulk.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, bulk.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (r *memJobRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*bulk.ImportJob, error) {
	j, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.TenantID != tenantID {
		return nil, bulk.ErrJobNotFound
	}
	return j, nil
}

func (r *memJobRepo) FindActiveByTenant(_ context.Context, tenantID uuid.UUID) (*bulk.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.TenantID == tenantID && !j.Status.IsTerminal() {
			return cloneJob(j), nil
		}
	}
	return nil, bulk.ErrJobNotFound
}

func (r *memJobRepo) FindAll(_ context.Context, tenantID uuid.UUID, filter bulk.ImportJobFilter, page, pageSize int) (*bulk.ImportJobListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*bulk.ImportJob
	for _, j := range r.jobs {
		if j.TenantID != tenantID || (filter.Status != nil && j.Status != *filter.Status) {
			continue
		}
		items = append(items, cloneJob(j))
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })
	total := len(items)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	return &bulk.ImportJobListResult{Items: items[start:end], TotalCount: int64(total), Page: page, PageSize: pageSize}, nil
}

func (r *memJobRepo) FindByStatus(_ context.Context, statuses ...bulk.ImportStatus) ([]*bulk.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*bulk.ImportJob{}
	for _, j := range r.jobs {
		for _, s := range statuses {
			if j.Status == s {
				out = append(out, cloneJob(j))
			}
		}
	}
	return out, nil
}

func (r *memJobRepo) FindStale(_ context.Context, status bulk.ImportStatus, before time.Time) ([]*bulk.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*bulk.ImportJob{}
	for _, j := range r.jobs {
		if j.Status == status && j.UpdatedAt.Before(before) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *memJobRepo) UpdateStatus(_ context.Context, job *bulk.ImportJob, expected bulk.ImportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return bulk.ErrJobNotFound
	}
	if stored.Status != expected {
		return shared.ErrConcurrencyConflict
	}
	stored.Status = job.Status
	stored.LastError = job.LastError
	stored.StartedAt = job.StartedAt
	stored.CompletedAt = job.CompletedAt
	stored.Version = job.Version
	stored.UpdatedAt = job.UpdatedAt
	return nil
}

func (r *memJobRepo) SaveProgress(_ context.Context, job *bulk.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveProgressErr != nil {
		return r.saveProgressErr
	}
	stored, ok := r.jobs[job.ID]
	if !ok {
		return bulk.ErrJobNotFound
	}
	c := cloneJob(job)
	stored.Checkpoint = c.Checkpoint
	stored.Counters = c.Counters
	stored.UpdatedAt = job.UpdatedAt
	return nil
}

// backdate moves the stored job's last update into the past
func (r *memJobRepo) backdate(id uuid.UUID, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].UpdatedAt = r.jobs[id].UpdatedAt.Add(-d)
}

// ---------------------------------------------------------------------------
// memOrderRepo
// ---------------------------------------------------------------------------

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]*trade.Order
	createErr map[string]error
	// afterCreate runs outside the lock once an order is stored
	afterCreate func(externalID string)
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*trade.Order), createErr: make(map[string]error)}
}

func orderKey(tenantID uuid.UUID, externalID string) string {
	return tenantID.String() + "/" + externalID
}

func (r *memOrderRepo) seed(t *testing.T, tenantID uuid.UUID, ext integration.ExternalOrder) *trade.Order {
	t.Helper()
	order, err := trade.NewImportedOrder(tenantID, ext.ExternalID, ext.OrderNumber, ext.CreatedAt, orderUpdateFrom(ext), orderItemsFrom(ext.Items))
	require.NoError(t, err)
	require.NoError(t, r.Create(context.Background(), order))
	return order
}

func (r *memOrderRepo) get(tenantID uuid.UUID, externalID string) (*trade.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderKey(tenantID, externalID)]
	return o, ok
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memOrderRepo) FindByExternalID(_ context.Context, tenantID uuid.UUID, externalID string) (*trade.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderKey(tenantID, externalID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (r *memOrderRepo) Create(_ context.Context, order *trade.Order) error {
	if err := r.insert(order); err != nil {
		return err
	}
	if r.afterCreate != nil {
		r.afterCreate(order.ExternalID)
	}
	return nil
}

func (r *memOrderRepo) insert(order *trade.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.createErr[order.ExternalID]; err != nil {
		return err
	}
	key := orderKey(order.TenantID, order.ExternalID)
	if _, ok := r.orders[key]; ok {
		return shared.ErrAlreadyExists
	}
	c := *order
	r.orders[key] = &c
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, tenantID, id uuid.UUID, update trade.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.TenantID == tenantID && o.ID == id {
			return o.ApplyUpdate(update)
		}
	}
	return shared.ErrNotFound
}

// ---------------------------------------------------------------------------
// fakeSource serves a fixed catalog ordered by creation time
// ---------------------------------------------------------------------------

type fakeSource struct {
	mu         sync.Mutex
	orders     []integration.ExternalOrder
	countErr   error
	fetchErrs  []error
	fetchCalls int
	countCalls int
	// fetchGate, when set, holds every FetchPage until it is closed
	fetchGate chan struct{}
}

func newFakeSource(orders ...integration.ExternalOrder) *fakeSource {
	return &fakeSource{orders: orders}
}

func (s *fakeSource) matching(filter integration.OrderFilter) []integration.ExternalOrder {
	var out []integration.ExternalOrder
	for _, o := range s.orders {
		if filter.CreatedFrom != nil && o.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && o.CreatedAt.After(*filter.CreatedTo) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *fakeSource) Count(_ context.Context, _ uuid.UUID, filter integration.OrderFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.matching(filter)), nil
}

func (s *fakeSource) FetchPage(_ context.Context, _ uuid.UUID, filter integration.OrderFilter, page, pageSize int) ([]integration.ExternalOrder, error) {
	if s.fetchGate != nil {
		<-s.fetchGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		return nil, err
	}
	all := s.matching(filter)
	start := min((page-1)*pageSize, len(all))
	end := min(start+pageSize, len(all))
	return append([]integration.ExternalOrder(nil), all[start:end]...), nil
}

// add appends orders to the remote catalog
func (s *fakeSource) add(orders ...integration.ExternalOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orders...)
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// ---------------------------------------------------------------------------
// Scheduling, locking, progress and events
// ---------------------------------------------------------------------------

// queueScheduler records scheduled batches; tests execute them explicitly
type queueScheduler struct {
	mu    sync.Mutex
	queue []uuid.UUID
	err   error
}

func (s *queueScheduler) Schedule(jobID uuid.UUID, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, id := range s.queue {
		if id == jobID {
			return nil
		}
	}
	s.queue = append(s.queue, jobID)
	return nil
}

func (s *queueScheduler) pop() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return uuid.Nil, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, true
}

func (s *queueScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

type memLock struct {
	mu         sync.Mutex
	held       map[string]string
	extensions int
	attempts   int
	// lost makes every Extend report the lease as gone
	lost bool
}

func newMemLock() *memLock {
	return &memLock{held: make(map[string]string)}
}

func (l *memLock) TryAcquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *memLock) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memLock) Extend(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.lost || l.held[key] != token {
		return false, nil
	}
	l.extensions++
	return true, nil
}

func (l *memLock) extended() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extensions
}

func (l *memLock) attempted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func (l *memLock) lose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = true
}

func (l *memLock) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type recordingBroker struct {
	mu        sync.Mutex
	snapshots []bulk.ProgressSnapshot
}

func (b *recordingBroker) Publish(s bulk.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, s)
}

func (b *recordingBroker) Subscribe(uuid.UUID) (<-chan bulk.ProgressSnapshot, func()) {
	ch := make(chan bulk.ProgressSnapshot)
	return ch, func() {}
}

func (b *recordingBroker) all() []bulk.ProgressSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bulk.ProgressSnapshot(nil), b.snapshots...)
}

func (b *recordingBroker) last() bulk.ProgressSnapshot {
	all := b.all()
	return all[len(all)-1]
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingEvents) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		p.types = append(p.types, e.EventType())
	}
	return nil
}

func (p *recordingEvents) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

// ---------------------------------------------------------------------------
// Engine harness
// ---------------------------------------------------------------------------

type testEngine struct {
	manager *JobManager
	jobs    *memJobRepo
	orders  *memOrderRepo
	source  *fakeSource
	sched   *queueScheduler
	lock    *memLock
	broker  *recordingBroker
	events  *recordingEvents
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.InterBatchDelay = 0
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, source *fakeSource) *testEngine {
	return newTestEngineWithStores(t, source, newMemJobRepo(), newMemOrderRepo())
}

// newTestEngineWithStores builds a fresh process over existing stores
func newTestEngineWithStores(t *testing.T, source *fakeSource, jobs *memJobRepo, orders *memOrderRepo) *testEngine {
	t.Helper()
	log := zaptest.NewLogger(t)
	cfg := testEngineConfig()

	reconciler := NewReconciler(orders, cfg.StoreTimeout, log)
	runner := NewBatchRunner(source, reconciler, jobs, cfg, log)

	e := &testEngine{
		jobs:   jobs,
		orders: orders,
		source: source,
		sched:  &queueScheduler{},
		lock:   newMemLock(),
		broker: &recordingBroker{},
		events: &recordingEvents{},
	}
	e.manager = NewJobManager(jobs, runner, e.lock, e.broker, cfg, log)
	e.manager.SetScheduler(e.sched)
	e.manager.SetEventPublisher(e.events)
	return e
}

// step executes the next queued batch and requeues it when asked to
func (e *testEngine) step(t *testing.T) bool {
	t.Helper()
	id, ok := e.sched.pop()
	if !ok {
		return false
	}
	if _, again := e.manager.ExecuteBatch(context.Background(), id); again {
		require.NoError(t, e.sched.Schedule(id, 0))
	}
	return true
}

// drain executes queued batches until the queue is empty
func (e *testEngine) drain(t *testing.T) int {
	t.Helper()
	steps := 0
	for e.step(t) {
		steps++
		require.Less(t, steps, 100, "import did not converge")
	}
	return steps
}

func (e *testEngine) job(t *testing.T, id uuid.UUID) *bulk.ImportJob {
	t.Helper()
	job, err := e.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}
