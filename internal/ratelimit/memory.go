package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Per-key budget. tokens accrue at the limiter's rate and are capped at
// burst; last is the instant of the previous refill.
type budget struct {
	tokens float64
	last   time.Time
}

// MemoryLimiter is an in-memory token bucket Limiter, keyed by client IP
// (see IPKeyFunc). mnemo's write surface sits in front of embedding calls,
// so the limiter's job is to keep one chatty agent from monopolizing the
// embedder, not to enforce exact quotas.
//
// Budgets for idle clients are swept in the background to bound memory;
// Close stops the sweeper.
type MemoryLimiter struct {
	rate  float64 // tokens per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	budgets map[string]*budget

	// Sweep cadence and the idle window after which a key is dropped.
	// Overridable in tests.
	sweepEvery time.Duration
	maxIdle    time.Duration

	now func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate requests per second per
// key with bursts up to burst. Keys idle for ten minutes are evicted.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:       rate,
		burst:      float64(burst),
		budgets:    make(map[string]*budget),
		sweepEvery: time.Minute,
		maxIdle:    10 * time.Minute,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow spends one token from key's budget. False means the caller should
// reject the request as rate limited.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.budgets[key]
	if !ok {
		b = &budget{tokens: m.burst, last: m.now()}
		m.budgets[key] = b
	}
	m.refill(b)
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// refill credits tokens for the time elapsed since the budget was last
// touched. Caller holds mu.
func (m *MemoryLimiter) refill(b *budget) {
	now := m.now()
	b.tokens += now.Sub(b.last).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.last = now
}

// Close stops the background sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle drops budgets that have not been touched within maxIdle. A
// dropped key starts over with a full bucket on its next request, which is
// acceptable slack at these rates.
func (m *MemoryLimiter) sweepIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.maxIdle)
	for key, b := range m.budgets {
		if b.last.Before(cutoff) {
			delete(m.budgets, key)
		}
	}
}
