package bulk

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, opts ImportOptions) *ImportJob {
	t.Helper()
	job, err := NewImportJob(uuid.New(), opts, nil)
	require.NoError(t, err)
	return job
}

func TestImportStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status ImportStatus
		want   bool
	}{
		{"pending", ImportStatusPending, false},
		{"running", ImportStatusRunning, false},
		{"paused", ImportStatusPaused, false},
		{"completed", ImportStatusCompleted, true},
		{"failed", ImportStatusFailed, true},
		{"cancelled", ImportStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.status.IsValid())
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
	assert.False(t, ImportStatus("processing").IsValid())
}

func TestImportOptions_Validate(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	tests := []struct {
		name    string
		opts    ImportOptions
		wantErr bool
	}{
		{"defaults", ImportOptions{}, false},
		{"update policy", ImportOptions{DuplicatePolicy: DuplicatePolicyUpdate, PageSize: 10}, false},
		{"unknown policy", ImportOptions{DuplicatePolicy: "merge"}, true},
		{"page size too large", ImportOptions{PageSize: MaxPageSize + 1}, true},
		{"negative page size", ImportOptions{PageSize: -1}, true},
		{"negative limit", ImportOptions{Limit: -5}, true},
		{"inverted range", ImportOptions{Filter: ImportFilter{CreatedFrom: &from, CreatedTo: &to}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, opts.DuplicatePolicy)
			assert.Positive(t, opts.PageSize)
		})
	}
}

func TestNewImportJob(t *testing.T) {
	t.Run("freezes the creation window", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})

		assert.Equal(t, ImportStatusPending, job.Status)
		assert.Equal(t, 1, job.Checkpoint.CurrentPage)
		assert.Equal(t, 0, job.Checkpoint.CurrentBatch)
		assert.Equal(t, DefaultPageSize, job.Options.PageSize)
		assert.Equal(t, DuplicatePolicySkip, job.Options.DuplicatePolicy)
		require.NotNil(t, job.Options.Filter.CreatedTo)
		assert.Equal(t, job.CreatedAt, *job.Options.Filter.CreatedTo)
		assert.Nil(t, job.Counters.GrandTotal)
	})

	t.Run("keeps an explicit upper bound", func(t *testing.T) {
		to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		job := newTestJob(t, ImportOptions{Filter: ImportFilter{CreatedTo: &to}})
		assert.Equal(t, to, *job.Options.Filter.CreatedTo)
	})

	t.Run("requires tenant", func(t *testing.T) {
		_, err := NewImportJob(uuid.Nil, ImportOptions{}, nil)
		assert.Error(t, err)
	})
}

func TestImportJob_Transitions(t *testing.T) {
	t.Run("start pause resume complete", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})
		require.NoError(t, job.Start())
		assert.NotNil(t, job.StartedAt)
		require.NoError(t, job.Pause())
		assert.Equal(t, ImportStatusPaused, job.Status)
		require.NoError(t, job.Resume())
		require.NoError(t, job.Complete())
		assert.Equal(t, ImportStatusCompleted, job.Status)
		assert.NotNil(t, job.CompletedAt)
		assert.Len(t, job.GetDomainEvents(), 2)
	})

	t.Run("pause only from running", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})
		err := job.Pause()
		assert.True(t, errors.Is(err, ErrJobInvalidState))
		assert.Equal(t, ImportStatusPending, job.Status)
	})

	t.Run("resume only from paused", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})
		require.NoError(t, job.Start())
		assert.True(t, errors.Is(job.Resume(), ErrJobInvalidState))
	})

	t.Run("cancel from paused", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})
		require.NoError(t, job.Start())
		require.NoError(t, job.Pause())
		require.NoError(t, job.Cancel())
		assert.Equal(t, ImportStatusCancelled, job.Status)
	})

	t.Run("fail records the cause", func(t *testing.T) {
		job := newTestJob(t, ImportOptions{})
		require.NoError(t, job.Start())
		require.NoError(t, job.Fail("authentication rejected"))
		assert.Equal(t, "authentication rejected", job.LastError)
	})
}

func TestImportJob_TerminalAbsorption(t *testing.T) {
	finishers := map[string]func(*ImportJob) error{
		"completed": (*ImportJob).Complete,
		"failed":    func(j *ImportJob) error { return j.Fail("boom") },
		"cancelled": (*ImportJob).Cancel,
	}

	for name, finish := range finishers {
		t.Run(name, func(t *testing.T) {
			job := newTestJob(t, ImportOptions{})
			require.NoError(t, job.Start())
			require.NoError(t, finish(job))
			status := job.Status
			version := job.Version

			for _, op := range []func() error{job.Start, job.Pause, job.Resume, job.Cancel, job.Complete} {
				err := op()
				assert.True(t, errors.Is(err, ErrJobInvalidState))
			}
			assert.True(t, errors.Is(job.Fail("again"), ErrJobInvalidState))
			assert.Equal(t, status, job.Status)
			assert.Equal(t, version, job.Version)
		})
	}
}

func TestImportJob_SetGrandTotal(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		count       int
		wantTotal   int
		wantPages   int
		wantBatches int
	}{
		{"no limit", 0, 5, 5, 3, 3},
		{"limit below count", 3, 5, 3, 3, 2},
		{"limit above count", 10, 5, 5, 3, 3},
		{"empty catalog", 0, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob(t, ImportOptions{PageSize: 2, Limit: tt.limit})
			job.SetGrandTotal(tt.count)
			require.True(t, job.HasGrandTotal())
			assert.Equal(t, tt.wantTotal, *job.Counters.GrandTotal)
			assert.Equal(t, tt.wantPages, *job.Checkpoint.TotalPages)
			assert.Equal(t, tt.wantBatches, *job.Checkpoint.TotalBatches)
		})
	}
}

func TestImportJob_ApplyBatch(t *testing.T) {
	job := newTestJob(t, ImportOptions{PageSize: 2})
	job.SetGrandTotal(3)

	require.NoError(t, job.ApplyBatch(2, CounterDelta{Imported: 2}))
	assert.Equal(t, 2, job.Counters.ProcessedOrders)
	assert.Equal(t, 1, job.Checkpoint.CurrentBatch)
	assert.Equal(t, 2, job.Checkpoint.CurrentPage)

	// more orders than counted: total follows processed
	require.NoError(t, job.ApplyBatch(3, CounterDelta{Imported: 1, Skipped: 1}))
	assert.Equal(t, 4, job.Counters.ProcessedOrders)
	assert.Equal(t, 4, *job.Counters.GrandTotal)
	assert.InDelta(t, 100.0, *job.Counters.Percentage(), 0.001)

	assert.Error(t, job.ApplyBatch(1, CounterDelta{}))
	assert.Error(t, job.ApplyBatch(3, CounterDelta{Failed: -1}))
	assert.Equal(t, 4, job.Counters.ProcessedOrders)
}

func TestCounters_Percentage(t *testing.T) {
	zero, four := 0, 4

	assert.Nil(t, Counters{ProcessedOrders: 3}.Percentage())
	assert.InDelta(t, 100.0, *Counters{GrandTotal: &zero}.Percentage(), 0.001)
	assert.InDelta(t, 50.0, *Counters{ProcessedOrders: 2, GrandTotal: &four}.Percentage(), 0.001)
}

func TestImportJob_Remaining(t *testing.T) {
	job := newTestJob(t, ImportOptions{Limit: 3})
	left, limited := job.Remaining()
	assert.True(t, limited)
	assert.Equal(t, 3, left)

	require.NoError(t, job.ApplyBatch(1, CounterDelta{Imported: 3}))
	assert.True(t, job.LimitReached())

	unlimited := newTestJob(t, ImportOptions{})
	_, limited = unlimited.Remaining()
	assert.False(t, limited)
	assert.False(t, unlimited.LimitReached())
}

func TestImportJob_Snapshot(t *testing.T) {
	job := newTestJob(t, ImportOptions{})
	snap := job.Snapshot(false)
	assert.Equal(t, job.ID, snap.JobID)
	assert.Nil(t, snap.Percentage)
	assert.False(t, snap.Final)

	require.NoError(t, job.Cancel())
	assert.True(t, job.Snapshot(false).Final)
}
