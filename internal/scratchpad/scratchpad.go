// Package scratchpad is a process-wide TTL key-value store for session
// state. Keys are namespaced by session id ("<session>/<key>").
//
// Reads never observe an expired value: expiry is checked on every get,
// and the background sweep only reclaims memory. Sweep is idempotent and
// safe to run concurrently with reads and writes.
package scratchpad

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL applies when a put does not specify one.
const DefaultTTL = time.Hour

// Entry is one live scratchpad value.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type cell struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time

	// dead marks a cell that has been removed from the map. A Put that
	// raced the removal and loaded this cell must not write into it;
	// it retries and gets a fresh cell instead.
	dead bool
}

// Pad is the scratchpad. The zero value is not usable; call New.
type Pad struct {
	entries sync.Map // key string -> *cell
	now     func() time.Time
}

// New creates an empty scratchpad.
func New() *Pad {
	return &Pad{now: time.Now}
}

// NewWithClock creates a scratchpad with an injected clock for tests.
func NewWithClock(now func() time.Time) *Pad {
	return &Pad{now: now}
}

// Key joins a session id and key into the stored form.
func Key(session, key string) string {
	return session + "/" + key
}

// Put stores value under key for ttl. A non-positive ttl selects DefaultTTL.
func (p *Pad) Put(key, value string, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expires := p.now().Add(ttl)

	for {
		v, _ := p.entries.LoadOrStore(key, &cell{})
		c := v.(*cell)
		c.mu.Lock()
		if c.dead {
			// Lost a race with expiry removal; the map slot is free again.
			c.mu.Unlock()
			continue
		}
		c.value = value
		c.expiresAt = expires
		c.mu.Unlock()
		return Entry{Key: key, Value: value, ExpiresAt: expires}
	}
}

// Get returns the live value for key. Expired entries are reported as
// absent and reclaimed in passing.
func (p *Pad) Get(key string) (string, bool) {
	v, ok := p.entries.Load(key)
	if !ok {
		return "", false
	}
	c := v.(*cell)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.expiresAt.After(p.now()) {
		c.dead = true
		p.entries.Delete(key)
		return "", false
	}
	return c.value, true
}

// Delete removes key. Deleting a missing key is a no-op.
func (p *Pad) Delete(key string) {
	v, ok := p.entries.Load(key)
	if !ok {
		return
	}
	c := v.(*cell)
	c.mu.Lock()
	c.dead = true
	p.entries.Delete(key)
	c.mu.Unlock()
}

// Sweep reclaims every entry expired as of now and returns how many were
// removed.
func (p *Pad) Sweep(now time.Time) int {
	removed := 0
	p.entries.Range(func(k, v any) bool {
		c := v.(*cell)
		c.mu.Lock()
		if !c.expiresAt.After(now) {
			// Remove while holding the cell lock so a concurrent Put
			// either sees the dead marker and retries, or lands after
			// the slot is already free.
			c.dead = true
			p.entries.Delete(k)
			removed++
		}
		c.mu.Unlock()
		return true
	})
	return removed
}

// Snapshot returns the live entries for a session, by key prefix.
func (p *Pad) Snapshot(session string) []Entry {
	prefix := session + "/"
	now := p.now()

	var out []Entry
	p.entries.Range(func(k, v any) bool {
		key := k.(string)
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		c := v.(*cell)
		c.mu.Lock()
		if c.expiresAt.After(now) {
			out = append(out, Entry{Key: key, Value: c.value, ExpiresAt: c.expiresAt})
		}
		c.mu.Unlock()
		return true
	})

	// sync.Map iteration order is unstable; keep snapshots deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
