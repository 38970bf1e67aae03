package bulk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/shared"
)

// Page size bounds for remote order pulls
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ImportStatus represents the lifecycle status of an import job
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusPaused    ImportStatus = "paused"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
	ImportStatusCancelled ImportStatus = "cancelled"
)

// ActiveStatuses are the statuses that count toward the one-job-per-tenant limit
var ActiveStatuses = []ImportStatus{ImportStatusPending, ImportStatusRunning, ImportStatusPaused}

// IsValid checks if the status is valid
func (s ImportStatus) IsValid() bool {
	switch s {
	case ImportStatusPending, ImportStatusRunning, ImportStatusPaused,
		ImportStatusCompleted, ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed || s == ImportStatusCancelled
}

// DuplicatePolicy defines what happens when an external order already exists locally
type DuplicatePolicy string

const (
	DuplicatePolicySkip   DuplicatePolicy = "skip"
	DuplicatePolicyUpdate DuplicatePolicy = "update"
)

// IsValid checks if the duplicate policy is valid
func (p DuplicatePolicy) IsValid() bool {
	return p == DuplicatePolicySkip || p == DuplicatePolicyUpdate
}

// ImportFilter narrows the remote order set
type ImportFilter struct {
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
	Statuses    []string   `json:"statuses,omitempty"`
}

// ImportOptions configures a single import job
type ImportOptions struct {
	DuplicatePolicy DuplicatePolicy `json:"duplicate_policy"`
	PageSize        int             `json:"page_size"`
	Filter          ImportFilter    `json:"filter"`
	// Limit caps the number of processed orders; 0 imports everything
	Limit int `json:"limit"`
}

// Validate checks the options and fills defaults
func (o *ImportOptions) Validate() error {
	if o.DuplicatePolicy == "" {
		o.DuplicatePolicy = DuplicatePolicySkip
	}
	if !o.DuplicatePolicy.IsValid() {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Invalid duplicate policy: %s", o.DuplicatePolicy))
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize < 0 || o.PageSize > MaxPageSize {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Page size must be between 1 and %d", MaxPageSize))
	}
	if o.Limit < 0 {
		return shared.NewDomainError("INVALID_INPUT", "Limit cannot be negative")
	}
	f := o.Filter
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return shared.NewDomainError("INVALID_INPUT", "created_from must not be after created_to")
	}
	return nil
}

// Checkpoint is the persisted resume position of a job
type Checkpoint struct {
	// CurrentPage is the 1-based remote page the next batch fetches
	CurrentPage int `json:"current_page"`
	// CurrentBatch is the number of batches already committed
	CurrentBatch int  `json:"current_batch"`
	TotalPages   *int `json:"total_pages,omitempty"`
	TotalBatches *int `json:"total_batches,omitempty"`
}

// Counters aggregates reconciliation results of a job
type Counters struct {
	ProcessedOrders int  `json:"processed_orders"`
	GrandTotal      *int `json:"grand_total,omitempty"`
	Imported        int  `json:"imported"`
	Updated         int  `json:"updated"`
	Skipped         int  `json:"skipped"`
	Failed          int  `json:"failed"`
}

// Percentage returns processed/grandTotal in percent, or nil while the total is unknown
func (c Counters) Percentage() *float64 {
	if c.GrandTotal == nil {
		return nil
	}
	pct := 100.0
	if *c.GrandTotal > 0 {
		pct = float64(c.ProcessedOrders) / float64(*c.GrandTotal) * 100
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}

// ImportJob is one durable order import attempt
type ImportJob struct {
	shared.TenantAggregateRoot
	Status      ImportStatus  `json:"status"`
	Options     ImportOptions `json:"options"`
	Checkpoint  Checkpoint    `json:"checkpoint"`
	Counters    Counters      `json:"counters"`
	LastError   string        `json:"last_error,omitempty"`
	RequestedBy *uuid.UUID    `json:"requested_by,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewImportJob creates a pending job. When no upper creation bound is given
// the remote set is frozen at the job creation time.
func NewImportJob(tenantID uuid.UUID, opts ImportOptions, requestedBy *uuid.UUID) (*ImportJob, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "Tenant ID is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	job := &ImportJob{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Status:              ImportStatusPending,
		Options:             opts,
		Checkpoint:          Checkpoint{CurrentPage: 1},
		RequestedBy:         requestedBy,
	}
	if job.Options.Filter.CreatedTo == nil {
		createdTo := job.CreatedAt
		job.Options.Filter.CreatedTo = &createdTo
	}
	return job, nil
}

// Start moves a pending job to running
func (j *ImportJob) Start() error {
	if err := j.transition(ImportStatusRunning, ImportStatusPending); err != nil {
		return err
	}
	now := time.Now()
	j.StartedAt = &now
	j.AddDomainEvent(NewImportJobStartedEvent(j))
	return nil
}

// Pause moves a running job to paused
func (j *ImportJob) Pause() error {
	return j.transition(ImportStatusPaused, ImportStatusRunning)
}

// Resume moves a paused job back to running
func (j *ImportJob) Resume() error {
	return j.transition(ImportStatusRunning, ImportStatusPaused)
}

// Cancel stops a non-terminal job for good
func (j *ImportJob) Cancel() error {
	if err := j.transition(ImportStatusCancelled, ImportStatusPending, ImportStatusRunning, ImportStatusPaused); err != nil {
		return err
	}
	j.markFinished()
	j.AddDomainEvent(NewImportJobCancelledEvent(j))
	return nil
}

// Complete marks a running job as done
func (j *ImportJob) Complete() error {
	if err := j.transition(ImportStatusCompleted, ImportStatusRunning); err != nil {
		return err
	}
	j.LastError = ""
	j.markFinished()
	j.AddDomainEvent(NewImportJobCompletedEvent(j))
	return nil
}

// Fail marks a job as failed with a human readable cause
func (j *ImportJob) Fail(reason string) error {
	if err := j.transition(ImportStatusFailed, ImportStatusPending, ImportStatusRunning); err != nil {
		return err
	}
	j.LastError = reason
	j.markFinished()
	j.AddDomainEvent(NewImportJobFailedEvent(j))
	return nil
}

func (j *ImportJob) transition(to ImportStatus, from ...ImportStatus) error {
	if j.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Import job is already %s", j.Status))
	}
	for _, s := range from {
		if j.Status == s {
			j.Status = to
			j.IncrementVersion()
			return nil
		}
	}
	return shared.NewDomainError("INVALID_STATE",
		fmt.Sprintf("Cannot move import job from %s to %s", j.Status, to))
}

func (j *ImportJob) markFinished() {
	now := time.Now()
	j.CompletedAt = &now
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

// HasGrandTotal reports whether the remote count is known
func (j *ImportJob) HasGrandTotal() bool {
	return j.Counters.GrandTotal != nil
}

// SetGrandTotal records the remote count, capped by the job limit, and
// derives the page and batch totals from it.
func (j *ImportJob) SetGrandTotal(remoteCount int) {
	if remoteCount < 0 {
		remoteCount = 0
	}
	total := remoteCount
	if j.Options.Limit > 0 && total > j.Options.Limit {
		total = j.Options.Limit
	}
	if total < j.Counters.ProcessedOrders {
		total = j.Counters.ProcessedOrders
	}
	pageSize := j.Options.PageSize
	totalPages := ceilDiv(remoteCount, pageSize)
	totalBatches := ceilDiv(total, pageSize)

	j.Counters.GrandTotal = &total
	j.Checkpoint.TotalPages = &totalPages
	j.Checkpoint.TotalBatches = &totalBatches
}

// Remaining returns how many orders may still be processed under the limit.
// The second value is false when the job has no limit.
func (j *ImportJob) Remaining() (int, bool) {
	if j.Options.Limit <= 0 {
		return 0, false
	}
	left := j.Options.Limit - j.Counters.ProcessedOrders
	if left < 0 {
		left = 0
	}
	return left, true
}

// LimitReached reports whether the configured limit has been consumed
func (j *ImportJob) LimitReached() bool {
	left, limited := j.Remaining()
	return limited && left == 0
}

// ApplyBatch folds a committed batch into the checkpoint and counters.
// nextPage is the remote page the following batch will fetch.
func (j *ImportJob) ApplyBatch(nextPage int, delta CounterDelta) error {
	if !delta.IsValid() {
		return shared.NewDomainError("INVALID_INPUT", "Counter delta cannot be negative")
	}
	if nextPage < j.Checkpoint.CurrentPage {
		return shared.NewDomainError("INVALID_INPUT",
			fmt.Sprintf("Checkpoint cannot move backwards from page %d to %d", j.Checkpoint.CurrentPage, nextPage))
	}

	j.Counters.Imported += delta.Imported
	j.Counters.Updated += delta.Updated
	j.Counters.Skipped += delta.Skipped
	j.Counters.Failed += delta.Failed
	j.Counters.ProcessedOrders += delta.Processed()

	// the remote catalog may have grown past the initial count
	if gt := j.Counters.GrandTotal; gt != nil && j.Counters.ProcessedOrders > *gt {
		raised := j.Counters.ProcessedOrders
		j.Counters.GrandTotal = &raised
	}

	if delta.Processed() > 0 {
		j.Checkpoint.CurrentBatch++
	}
	j.Checkpoint.CurrentPage = nextPage
	j.UpdatedAt = time.Now()
	return nil
}

// Snapshot builds the progress view of the job
func (j *ImportJob) Snapshot(final bool) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:      j.ID,
		TenantID:   j.TenantID,
		Status:     j.Status,
		Checkpoint: j.Checkpoint,
		Counters:   j.Counters,
		Percentage: j.Counters.Percentage(),
		LastError:  j.LastError,
		Final:      final || j.Status.IsTerminal(),
		EmittedAt:  time.Now(),
	}
}

// Duration returns how long the job has been running
func (j *ImportJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

func ceilDiv(n, d int) int {
	if d <= 0 || n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
