package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/infrastructure/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelay(buffer int) (*RedisProgressRelay, *event.ProgressHub) {
	hub := event.NewProgressHub(4, zap.NewNop())
	return NewRedisProgressRelay(nil, hub, buffer, zap.NewNop()), hub
}

func testSnapshot(jobID uuid.UUID, processed int) bulk.ProgressSnapshot {
	total := 10
	return bulk.ProgressSnapshot{
		JobID:     jobID,
		TenantID:  uuid.New(),
		Status:    bulk.ImportStatusRunning,
		Counters:  bulk.Counters{ProcessedOrders: processed, GrandTotal: &total},
		EmittedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProgressChannel(t *testing.T) {
	id := uuid.MustParse("3f1d2c4b-8a6e-4f0a-9b7c-1d2e3f4a5b6c")
	assert.Equal(t, "import:progress:3f1d2c4b-8a6e-4f0a-9b7c-1d2e3f4a5b6c", ProgressChannel(id))
}

func TestRedisProgressRelay_PublishDeliversLocallyAndQueues(t *testing.T) {
	relay, _ := newTestRelay(1)
	job := uuid.New()
	ch, cancel := relay.Subscribe(job)
	defer cancel()

	relay.Publish(testSnapshot(job, 2))
	// backlog full: still delivered locally
	relay.Publish(testSnapshot(job, 4))

	assert.Equal(t, 2, (<-ch).Counters.ProcessedOrders)
	assert.Equal(t, 4, (<-ch).Counters.ProcessedOrders)
	assert.Len(t, relay.outbound, 1)
}

func TestRedisProgressRelay_HandleMessage(t *testing.T) {
	relay, hub := newTestRelay(4)
	job := uuid.New()
	ch, cancel := hub.Subscribe(job)
	defer cancel()

	remote := relayEnvelope{Origin: "other-instance", Snapshot: testSnapshot(job, 6)}
	payload, err := json.Marshal(remote)
	require.NoError(t, err)

	t.Run("remote snapshot reaches local subscribers", func(t *testing.T) {
		relay.handleMessage(ProgressChannel(job), payload)
		got := <-ch
		assert.Equal(t, 6, got.Counters.ProcessedOrders)
		assert.Equal(t, 10, *got.Counters.GrandTotal)
	})

	t.Run("own snapshots are ignored", func(t *testing.T) {
		own, err := relay.encode(testSnapshot(job, 8))
		require.NoError(t, err)
		relay.handleMessage(ProgressChannel(job), own)
		assert.Empty(t, ch)
	})

	t.Run("mismatched channel is ignored", func(t *testing.T) {
		relay.handleMessage(ProgressChannel(uuid.New()), payload)
		assert.Empty(t, ch)
	})

	t.Run("malformed payload is ignored", func(t *testing.T) {
		relay.handleMessage(ProgressChannel(job), []byte("{not json"))
		assert.Empty(t, ch)
	})
}
