package redis

import (
	"context"
	"errors"
	"time"

	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/circuitbreaker"
)

// StateCache implements progression.ProgressCache using the generic Redis Cache.
// One entry is kept per user; an entry rendered for another day is a miss.
type StateCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

// NewStateCache creates a new StateCache. A non-positive ttl uses TTLProgressCache.
func NewStateCache(cache *Cache, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = TTLProgressCache
	}
	return &StateCache{cache: cache, ttl: ttl}
}

// WithBreaker routes every Redis call through cb. While cb is open, calls
// fail with circuitbreaker.ErrCircuitOpen without touching Redis.
func (s *StateCache) WithBreaker(cb *circuitbreaker.CircuitBreaker) *StateCache {
	s.breaker = cb
	return s
}

func (s *StateCache) do(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

// Get returns the cached view for (userID, today), or nil on a miss.
func (s *StateCache) Get(ctx context.Context, userID shared.UserID, today shared.Date) (*progression.Progress, error) {
	var (
		p    progression.Progress
		miss bool
	)
	err := s.do(ctx, func(ctx context.Context) error {
		err := s.cache.Get(ctx, ProgressKey(userID.String()), &p)
		if errors.Is(err, ErrCacheMiss) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if miss || !p.Today.Date.Equal(today) {
		return nil, nil
	}
	return &p, nil
}

// Set stores a view, replacing any earlier one for the same user.
func (s *StateCache) Set(ctx context.Context, p *progression.Progress) error {
	if p == nil {
		return nil
	}
	return s.do(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, ProgressKey(p.UserID.String()), p, s.ttl)
	})
}

// Invalidate removes the user's cached view.
func (s *StateCache) Invalidate(ctx context.Context, userID shared.UserID) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, ProgressKey(userID.String()))
	})
}
