package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/storefront/backend/internal/domain/bulk"
	"go.uber.org/zap"
)

const progressChannelPrefix = "import:progress:"

// ProgressChannel returns the Pub/Sub channel of a job
func ProgressChannel(jobID uuid.UUID) string {
	return progressChannelPrefix + jobID.String()
}

// LocalProgressHub is the in-process fan-out the relay feeds
type LocalProgressHub interface {
	bulk.ProgressPublisher
	bulk.ProgressSubscriber
}

type relayEnvelope struct {
	Origin   string                `json:"origin"`
	Snapshot bulk.ProgressSnapshot `json:"snapshot"`
}

// RedisProgressRelay mirrors progress snapshots across instances. Local
// snapshots go to the local hub immediately and are published to Redis in
// the background; snapshots from other instances are fed into the local hub.
type RedisProgressRelay struct {
	client   redis.UniversalClient
	local    LocalProgressHub
	origin   string
	outbound chan bulk.ProgressSnapshot
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRedisProgressRelay creates a relay. outboundBuffer bounds the snapshots
// waiting to be published; when it is full new snapshots skip Redis.
func NewRedisProgressRelay(client redis.UniversalClient, local LocalProgressHub, outboundBuffer int, logger *zap.Logger) *RedisProgressRelay {
	if outboundBuffer <= 0 {
		outboundBuffer = 256
	}
	return &RedisProgressRelay{
		client:   client,
		local:    local,
		origin:   uuid.NewString(),
		outbound: make(chan bulk.ProgressSnapshot, outboundBuffer),
		timeout:  2 * time.Second,
		logger:   logger.Named("progress_relay"),
	}
}

// Publish delivers snapshot locally and queues it for other instances
func (r *RedisProgressRelay) Publish(snapshot bulk.ProgressSnapshot) {
	r.local.Publish(snapshot)
	select {
	case r.outbound <- snapshot:
	default:
		r.logger.Warn("Progress relay backlog full, snapshot not relayed",
			zap.String("job_id", snapshot.JobID.String()))
	}
}

// Subscribe subscribes on the local hub, which also carries remote snapshots
func (r *RedisProgressRelay) Subscribe(jobID uuid.UUID) (<-chan bulk.ProgressSnapshot, func()) {
	return r.local.Subscribe(jobID)
}

// Start begins publishing queued snapshots and listening for remote ones
func (r *RedisProgressRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	pubsub := r.client.PSubscribe(ctx, progressChannelPrefix+"*")
	// wait for the subscription confirmation so no early message is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to progress channel: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.wg.Add(2)
	go r.sendLoop(ctx)
	go r.receiveLoop(ctx, pubsub)

	r.logger.Info("Progress relay started", zap.String("origin", r.origin))
	return nil
}

// Stop stops both loops and waits for them
func (r *RedisProgressRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RedisProgressRelay) sendLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.outbound:
			if err := r.send(ctx, snap); err != nil {
				r.logger.Warn("Failed to relay progress snapshot",
					zap.String("job_id", snap.JobID.String()),
					zap.Error(err))
			}
		}
	}
}

func (r *RedisProgressRelay) send(ctx context.Context, snap bulk.ProgressSnapshot) error {
	payload, err := r.encode(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Publish(ctx, ProgressChannel(snap.JobID), payload).Err()
}

func (r *RedisProgressRelay) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisProgressRelay) encode(snap bulk.ProgressSnapshot) ([]byte, error) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress snapshot: %w", err)
	}
	return payload, nil
}

// handleMessage feeds a remote snapshot into the local hub. Own snapshots
// were already delivered by Publish and are ignored.
func (r *RedisProgressRelay) handleMessage(channel string, payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("Discarding malformed progress message",
			zap.String("channel", channel), zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	if want := strings.TrimPrefix(channel, progressChannelPrefix); want != env.Snapshot.JobID.String() {
		r.logger.Warn("Progress message on mismatched channel",
			zap.String("channel", channel),
			zap.String("job_id", env.Snapshot.JobID.String()))
		return
	}
	r.local.Publish(env.Snapshot)
}
