// Package limiter applies token-bucket backpressure to outbound executor
// and judge calls. Replica fan-out multiplies call volume; the budget is
// what keeps a misconfigured ladder from hammering the backends.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CallBudget defines the allowed call volume for one scope.
type CallBudget struct {
	RPM   int // calls per minute
	Burst int // bucket capacity
}

// Store abstracts the bucket state so budgets can be enforced per process
// (InMemoryStore) or across instances (RedisStore).
type Store interface {
	// Allow consumes cost tokens from the scope's bucket.
	// Returns false when the budget is exhausted.
	Allow(ctx context.Context, scope string, budget CallBudget, cost int) (bool, error)
}

// Evaluate checks whether a call in the given scope may proceed.
// A nil store denies: callers that want no limiting must not call Evaluate.
func Evaluate(ctx context.Context, store Store, scope string, budget CallBudget) error {
	if store == nil {
		return fmt.Errorf("budget: no limiter store configured")
	}
	allowed, err := store.Allow(ctx, scope, budget, 1)
	if err != nil {
		return fmt.Errorf("budget check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("budget: call volume exceeded for %s", scope)
	}
	return nil
}

// tokenBucket is a thread-safe refilling bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(ratePerSec float64, capacity int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// InMemoryStore keeps buckets in process memory. Suitable for tests and
// single-instance deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*tokenBucket)}
}

func (s *InMemoryStore) Allow(ctx context.Context, scope string, budget CallBudget, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, ok := s.buckets[scope]
	if !ok {
		rate := float64(budget.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		tb = newTokenBucket(rate, budget.Burst)
		s.buckets[scope] = tb
	}
	return tb.allow(cost), nil
}
