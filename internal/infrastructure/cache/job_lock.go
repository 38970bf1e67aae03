package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type heldLock struct {
	token     string
	expiresAt time.Time
}

// InMemoryJobLock is a process-local job lock with TTL expiry.
// It only serializes batches within one instance.
type InMemoryJobLock struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewInMemoryJobLock creates an in-memory lock
func NewInMemoryJobLock() *InMemoryJobLock {
	return &InMemoryJobLock{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// TryAcquire takes key for ttl unless someone else holds an unexpired lease
func (l *InMemoryJobLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Extend pushes the expiry of an unexpired lease owned by token to now+ttl
func (l *InMemoryJobLock) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	held, ok := l.locks[key]
	if !ok || held.token != token || !now.Before(held.expiresAt) {
		return false, nil
	}
	held.expiresAt = now.Add(ttl)
	l.locks[key] = held
	return true, nil
}

// Release frees key if token still owns it
func (l *InMemoryJobLock) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
