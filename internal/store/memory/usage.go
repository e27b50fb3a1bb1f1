// Package memory provides in-process implementations of the quota stores.
// They back tests and single-instance development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/google/uuid"
)

// UsageStore keeps usage counters in memory. Read-check-write sequences for a
// (user, month) key run under that key's shard lock.
type UsageStore struct {
	locks    shardedMutex
	mu       sync.RWMutex
	counters map[string]*domain.UsageCounter
	now      func() time.Time
}

// NewUsageStore creates an empty UsageStore.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		counters: make(map[string]*domain.UsageCounter),
		now:      time.Now,
	}
}

func counterKey(userID uuid.UUID, month time.Time) string {
	return userID.String() + ":" + month.Format("2006-01-02")
}

// lookup returns the stored counter without copying. Callers must hold the key's shard lock.
func (s *UsageStore) lookup(key string) *domain.UsageCounter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

// materialize returns the counter for key, creating it when absent.
// Callers must hold the key's shard lock.
func (s *UsageStore) materialize(key string, userID uuid.UUID, month time.Time) *domain.UsageCounter {
	if c := s.lookup(key); c != nil {
		return c
	}

	now := s.now()
	c := domain.NewUsageCounter(userID, month)
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	s.counters[key] = c
	s.mu.Unlock()
	return c
}

// GetOrCreate returns a copy of the counter, creating a zeroed one if needed.
func (s *UsageStore) GetOrCreate(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := counterKey(userID, month)
	unlock := s.locks.lock(key)
	defer unlock()

	return s.materialize(key, userID, month).Clone(), nil
}

// Get returns a copy of the counter, or nil when absent.
func (s *UsageStore) Get(ctx context.Context, userID uuid.UUID, month time.Time) (*domain.UsageCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := counterKey(userID, month)
	unlock := s.locks.lock(key)
	defer unlock()

	c := s.lookup(key)
	if c == nil {
		return nil, nil
	}
	return c.Clone(), nil
}

// Increment performs a guarded increment under the key's shard lock.
func (s *UsageStore) Increment(ctx context.Context, inc domain.UsageIncrement) (*domain.IncrementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := counterKey(inc.UserID, inc.Month)
	unlock := s.locks.lock(key)
	defer unlock()

	c := s.materialize(key, inc.UserID, inc.Month)
	crossed, ok := c.Apply(inc)
	if ok {
		c.UpdatedAt = s.now()
	}

	return &domain.IncrementResult{
		Counter: c.Clone(),
		Allowed: ok,
		Crossed: crossed,
	}, nil
}

// MarkThresholds flips the flags the current value reaches under the key's
// shard lock.
func (s *UsageStore) MarkThresholds(ctx context.Context, mark domain.ThresholdMark) (*domain.IncrementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := counterKey(mark.UserID, mark.Month)
	unlock := s.locks.lock(key)
	defer unlock()

	c := s.materialize(key, mark.UserID, mark.Month)
	crossed := c.MarkThresholds(mark.Dimension, mark.Limit)
	if len(crossed) > 0 {
		c.UpdatedAt = s.now()
	}

	return &domain.IncrementResult{
		Counter: c.Clone(),
		Allowed: true,
		Crossed: crossed,
	}, nil
}

// Decrement subtracts quantity from a dimension, flooring at zero.
func (s *UsageStore) Decrement(ctx context.Context, userID uuid.UUID, month time.Time, dim domain.Dimension, quantity int64) (*domain.UsageCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := counterKey(userID, month)
	unlock := s.locks.lock(key)
	defer unlock()

	c := s.materialize(key, userID, month)
	c.Add(dim, -quantity)
	c.UpdatedAt = s.now()
	return c.Clone(), nil
}
