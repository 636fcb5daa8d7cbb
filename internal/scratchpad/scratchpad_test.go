package scratchpad

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	p := New()

	p.Put(Key("s1", "cursor"), "line 42", time.Minute)
	v, ok := p.Get(Key("s1", "cursor"))
	require.True(t, ok)
	assert.Equal(t, "line 42", v)

	p.Delete(Key("s1", "cursor"))
	_, ok = p.Get(Key("s1", "cursor"))
	assert.False(t, ok)
}

func TestGetNeverReturnsExpired(t *testing.T) {
	now := time.Now()
	clock := now
	p := NewWithClock(func() time.Time { return clock })

	p.Put("s1/k", "v", time.Second)
	_, ok := p.Get("s1/k")
	assert.True(t, ok)

	clock = now.Add(2 * time.Second)
	_, ok = p.Get("s1/k")
	assert.False(t, ok, "expired entry must read as absent even before sweep")
}

func TestDefaultTTL(t *testing.T) {
	now := time.Now()
	p := NewWithClock(func() time.Time { return now })

	e := p.Put("s1/k", "v", 0)
	assert.Equal(t, now.Add(DefaultTTL), e.ExpiresAt)
}

func TestSweepIdempotent(t *testing.T) {
	now := time.Now()
	clock := now
	p := NewWithClock(func() time.Time { return clock })

	p.Put("s1/a", "1", time.Second)
	p.Put("s1/b", "2", time.Hour)

	clock = now.Add(5 * time.Second)
	assert.Equal(t, 1, p.Sweep(clock))
	assert.Equal(t, 0, p.Sweep(clock))

	_, ok := p.Get("s1/b")
	assert.True(t, ok)
}

func TestSnapshotScopedAndSorted(t *testing.T) {
	p := New()
	p.Put(Key("s1", "b"), "2", time.Minute)
	p.Put(Key("s1", "a"), "1", time.Minute)
	p.Put(Key("s2", "x"), "9", time.Minute)

	snap := p.Snapshot("s1")
	require.Len(t, snap, 2)
	assert.Equal(t, "s1/a", snap[0].Key)
	assert.Equal(t, "s1/b", snap[1].Key)
}

func TestPutRetriesOnRemovedCell(t *testing.T) {
	p := New()

	// A sweep can remove a cell between Put's map load and its lock
	// acquisition. Plant the removed cell directly and verify Put does
	// not write into it.
	orphan := &cell{dead: true}
	p.entries.Store("s1/k", orphan)

	p.Put("s1/k", "fresh", time.Minute)

	v, ok := p.Get("s1/k")
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
	assert.Empty(t, orphan.value, "value must not land in the removed cell")
}

func TestSweepDoesNotDropConcurrentRefresh(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := now
	p := NewWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	p.Put("s1/k", "old", time.Second)
	mu.Lock()
	clock = now.Add(2 * time.Second)
	mu.Unlock()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				p.Sweep(now.Add(2 * time.Second))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			p.Put("s1/k", "refreshed", time.Hour)
		}
	}()
	wg.Wait()

	// The last Put set an unexpired TTL; its value must be observable.
	v, ok := p.Get("s1/k")
	require.True(t, ok, "a refreshed, unexpired value must never be lost to a sweep")
	assert.Equal(t, "refreshed", v)
}

func TestConcurrentAccess(t *testing.T) {
	p := New()
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				key := Key("s", fmt.Sprintf("k%d", j%10))
				p.Put(key, "v", time.Millisecond)
				p.Get(key)
				if n%2 == 0 {
					p.Sweep(time.Now())
				}
			}
		}(i)
	}
	wg.Wait()

	// A get after the dust settles observes either a live value or absence.
	time.Sleep(5 * time.Millisecond)
	_, ok := p.Get(Key("s", "k0"))
	assert.False(t, ok)
}
