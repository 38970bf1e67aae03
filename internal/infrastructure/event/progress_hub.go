package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/bulk"
	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is used when the hub is created with a non-positive buffer
const DefaultSubscriberBuffer = 16

type progressSubscriber struct {
	id uint64
	ch chan bulk.ProgressSnapshot
}

// ProgressHub fans progress snapshots out to per-job subscribers.
// Publish never blocks: when a subscriber's buffer is full the oldest
// buffered snapshot is discarded to make room for the new one. A Final
// snapshot closes every subscription of its job after delivery.
type ProgressHub struct {
	buffer int
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[uuid.UUID][]*progressSubscriber
	nextID  uint64
	dropped atomic.Int64
}

// NewProgressHub creates a hub with the given per-subscriber buffer size
func NewProgressHub(buffer int, logger *zap.Logger) *ProgressHub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &ProgressHub{
		buffer: buffer,
		logger: logger,
		subs:   make(map[uuid.UUID][]*progressSubscriber),
	}
}

// Publish delivers snapshot to all subscribers of its job
func (h *ProgressHub) Publish(snapshot bulk.ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[snapshot.JobID]
	for _, s := range subs {
		h.offer(s, snapshot)
	}

	if snapshot.Final && len(subs) > 0 {
		for _, s := range subs {
			close(s.ch)
		}
		delete(h.subs, snapshot.JobID)
	}
}

func (h *ProgressHub) offer(s *progressSubscriber, snapshot bulk.ProgressSnapshot) {
	select {
	case s.ch <- snapshot:
		return
	default:
	}

	// only Publish sends, under h.mu, so one receive frees a slot
	select {
	case <-s.ch:
		h.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- snapshot:
	default:
		h.dropped.Add(1)
	}
}

// Subscribe opens a snapshot stream for jobID. The returned function
// releases it and is safe to call more than once.
func (h *ProgressHub) Subscribe(jobID uuid.UUID) (<-chan bulk.ProgressSnapshot, func()) {
	h.mu.Lock()
	h.nextID++
	sub := &progressSubscriber{
		id: h.nextID,
		ch: make(chan bulk.ProgressSnapshot, h.buffer),
	}
	h.subs[jobID] = append(h.subs[jobID], sub)
	h.mu.Unlock()

	h.logger.Debug("Progress subscriber added",
		zap.String("job_id", jobID.String()),
		zap.Uint64("subscriber_id", sub.id),
	)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.unsubscribe(jobID, sub) })
	}
}

func (h *ProgressHub) unsubscribe(jobID uuid.UUID, sub *progressSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[jobID]
	for i, s := range subs {
		if s != sub {
			continue
		}
		close(s.ch)
		subs = append(subs[:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(h.subs, jobID)
		} else {
			h.subs[jobID] = subs
		}
		return
	}
	// already closed by a Final snapshot
}

// Subscribers returns the number of open subscriptions for jobID
func (h *ProgressHub) Subscribers(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Dropped returns how many snapshots were discarded because a subscriber lagged
func (h *ProgressHub) Dropped() int64 {
	return h.dropped.Load()
}

var (
	_ bulk.ProgressPublisher  = (*ProgressHub)(nil)
	_ bulk.ProgressSubscriber = (*ProgressHub)(nil)
)
