package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	clock := newFakeClock()
	m.now = clock.Now
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return m, clock
}

func TestBurstSpendsDownToDenial(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "agent")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d should fit within the burst", i)
		}
	}
	ok, err := m.Allow(ctx, "agent")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("request past the burst should be denied")
	}
}

func TestRefillRestoresOneTokenPerInterval(t *testing.T) {
	m, clock := newTestLimiter(t, 2, 2) // 2 tokens/s
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, "agent")
	}
	if ok, _ := m.Allow(ctx, "agent"); ok {
		t.Fatal("bucket should be empty right after the burst")
	}

	// Half a second at 2 tokens/s buys exactly one request.
	clock.Advance(500 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "agent"); !ok {
		t.Fatal("one token should have accrued")
	}
	if ok, _ := m.Allow(ctx, "agent"); ok {
		t.Fatal("only one token should have accrued")
	}
}

func TestRefillCapsAtBurst(t *testing.T) {
	m, clock := newTestLimiter(t, 100, 2)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "agent")
	clock.Advance(time.Hour)

	// A long idle stretch still buys at most burst tokens.
	for i := 0; i < 2; i++ {
		if ok, _ := m.Allow(ctx, "agent"); !ok {
			t.Fatalf("request %d should succeed after idle refill", i)
		}
	}
	if ok, _ := m.Allow(ctx, "agent"); ok {
		t.Fatal("tokens must not accrue past the burst")
	}
}

func TestKeysHaveIndependentBudgets(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 1)
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatal("first request for 10.0.0.1 should pass")
	}
	if ok, _ := m.Allow(ctx, "10.0.0.1"); ok {
		t.Fatal("second request for 10.0.0.1 should be denied")
	}
	if ok, _ := m.Allow(ctx, "10.0.0.2"); !ok {
		t.Fatal("10.0.0.2 must not be charged for 10.0.0.1's spend")
	}
}

func TestSweepDropsIdleKeysOnly(t *testing.T) {
	m, clock := newTestLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "idle")
	clock.Advance(m.maxIdle + time.Minute)
	_, _ = m.Allow(ctx, "fresh")

	m.sweepIdle()

	m.mu.Lock()
	_, idleKept := m.budgets["idle"]
	_, freshKept := m.budgets["fresh"]
	m.mu.Unlock()

	if idleKept {
		t.Fatal("idle key should have been swept")
	}
	if !freshKept {
		t.Fatal("fresh key should survive the sweep")
	}
}

func TestConcurrentSpendStaysWithinBurst(t *testing.T) {
	m, _ := newTestLimiter(t, 0, 50) // no refill, fixed budget of 50
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("Allow: %v", err)
					return
				}
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	if total != 50 {
		t.Fatalf("100 requests against a budget of 50 with no refill should allow exactly 50, got %d", total)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatal("NoopLimiter must always allow")
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
