package event

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func snapshot(jobID uuid.UUID, processed int, final bool) bulk.ProgressSnapshot {
	return bulk.ProgressSnapshot{
		JobID:     jobID,
		Status:    bulk.ImportStatusRunning,
		Counters:  bulk.Counters{ProcessedOrders: processed},
		Final:     final,
		EmittedAt: time.Now(),
	}
}

func drainProcessed(ch <-chan bulk.ProgressSnapshot) []int {
	var out []int
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s.Counters.ProcessedOrders)
		default:
			return out
		}
	}
}

func TestProgressHub_DeliversPerJob(t *testing.T) {
	hub := NewProgressHub(4, zap.NewNop())
	jobA, jobB := uuid.New(), uuid.New()

	chA, cancelA := hub.Subscribe(jobA)
	defer cancelA()
	chB, cancelB := hub.Subscribe(jobB)
	defer cancelB()

	hub.Publish(snapshot(jobA, 2, false))
	hub.Publish(snapshot(jobA, 4, false))
	hub.Publish(snapshot(jobB, 1, false))

	assert.Equal(t, []int{2, 4}, drainProcessed(chA))
	assert.Equal(t, []int{1}, drainProcessed(chB))
}

func TestProgressHub_DropsOldestWhenFull(t *testing.T) {
	hub := NewProgressHub(2, zap.NewNop())
	job := uuid.New()
	ch, cancel := hub.Subscribe(job)
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Publish(snapshot(job, i, false))
	}

	assert.Equal(t, []int{4, 5}, drainProcessed(ch))
	assert.Equal(t, int64(3), hub.Dropped())
}

func TestProgressHub_PublishNeverBlocks(t *testing.T) {
	hub := NewProgressHub(1, zap.NewNop())
	job := uuid.New()
	_, cancel := hub.Subscribe(job)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(snapshot(job, i, false))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestProgressHub_FinalClosesSubscriptions(t *testing.T) {
	hub := NewProgressHub(4, zap.NewNop())
	job := uuid.New()
	ch, cancel := hub.Subscribe(job)

	hub.Publish(snapshot(job, 3, false))
	hub.Publish(snapshot(job, 5, true))

	var got []bulk.ProgressSnapshot
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.True(t, got[1].Final)
	assert.Equal(t, 0, hub.Subscribers(job))

	// releasing after the final snapshot is harmless
	cancel()
	cancel()
}

func TestProgressHub_FinalSurvivesFullBuffer(t *testing.T) {
	hub := NewProgressHub(1, zap.NewNop())
	job := uuid.New()
	ch, cancel := hub.Subscribe(job)
	defer cancel()

	hub.Publish(snapshot(job, 1, false))
	hub.Publish(snapshot(job, 2, true))

	last, ok := <-ch
	require.True(t, ok)
	assert.True(t, last.Final)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestProgressHub_CancelReleases(t *testing.T) {
	hub := NewProgressHub(0, zap.NewNop())
	job := uuid.New()
	ch, cancel := hub.Subscribe(job)
	_, keep := hub.Subscribe(job)
	defer keep()
	assert.Equal(t, 2, hub.Subscribers(job))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, hub.Subscribers(job))

	hub.Publish(snapshot(job, 1, false))
}

func TestProgressHub_ConcurrentSubscribers(t *testing.T) {
	hub := NewProgressHub(8, zap.NewNop())
	job := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := hub.Subscribe(job)
			defer cancel()
			drainProcessed(ch)
		}()
	}
	for i := 0; i < 100; i++ {
		hub.Publish(snapshot(job, i, false))
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers(job))
}
