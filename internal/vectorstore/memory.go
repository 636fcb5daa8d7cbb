package vectorstore

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by the "memory"
// VECTOR_DB_URI mode. Search is exact cosine over all points, with ties
// broken by lexicographic id so results are deterministic.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

// EnsureCollections creates missing collections.
func (m *MemoryStore) EnsureCollections(_ context.Context, _ int, collections ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range collections {
		if m.collections[c] == nil {
			m.collections[c] = make(map[string]Record)
		}
	}
	return nil
}

// Upsert inserts or replaces a record. Idempotent on rec.ID.
func (m *MemoryStore) Upsert(_ context.Context, collection string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Record)
	}
	m.collections[collection][rec.ID] = cloneRecord(rec)
	return nil
}

// Get fetches one record by id, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, collection, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

// Delete removes one record by id. Deleting a missing id is a no-op.
func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

// Search returns up to k nearest records by exact cosine similarity.
func (m *MemoryStore) Search(_ context.Context, collection string, query []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		k = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.collections[collection]))
	for _, rec := range m.collections[collection] {
		if !matches(rec.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{
			ID:      rec.ID,
			Score:   Cosine(query, rec.Vector),
			Payload: maps.Clone(rec.Payload),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List enumerates up to limit records matching the filter, ordered by id.
func (m *MemoryStore) List(_ context.Context, collection string, filter Filter, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.collections[collection]))
	for id, rec := range m.collections[collection] {
		if matches(rec.Payload, filter) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, cloneRecord(m.collections[collection][id]))
	}
	return records, nil
}

// Count returns the number of records matching the filter.
func (m *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.collections[collection] {
		if matches(rec.Payload, filter) {
			n++
		}
	}
	return n, nil
}

// Healthy always reports healthy.
func (m *MemoryStore) Healthy(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cloneRecord(rec Record) Record {
	return Record{
		ID:      rec.ID,
		Vector:  slices.Clone(rec.Vector),
		Payload: maps.Clone(rec.Payload),
	}
}

// Cosine computes cosine similarity between two vectors. Returns 0 when
// either vector is zero or lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
