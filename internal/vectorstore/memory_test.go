package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := Record{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"project": "p1"}}
	require.NoError(t, s.Upsert(ctx, "decisions", rec))
	require.NoError(t, s.Upsert(ctx, "decisions", rec))

	n, err := s.Count(ctx, "decisions", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Upsert(ctx, "threads", Record{ID: "t1", Vector: []float32{0, 1}, Payload: map[string]any{"status": "open"}}))

	got, err := s.Get(ctx, "threads", "t1")
	require.NoError(t, err)
	assert.Equal(t, "open", got.Payload["status"])

	require.NoError(t, s.Delete(ctx, "threads", "t1"))
	_, err = s.Get(ctx, "threads", "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, "threads", "t1"))
}

func TestMemoryStoreSearchOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	put := func(id string, vec []float32, project string) {
		require.NoError(t, s.Upsert(ctx, "decisions", Record{
			ID: id, Vector: vec, Payload: map[string]any{"project": project},
		}))
	}
	put("close", []float32{1, 0.1}, "p1")
	put("far", []float32{0, 1}, "p1")
	put("other-project", []float32{1, 0}, "p2")

	hits, err := s.Search(ctx, "decisions", []float32{1, 0}, 10, Filter{"project": "p1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].ID)
	assert.Equal(t, "far", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryStoreSearchTieBreaksByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	vec := []float32{1, 0}
	require.NoError(t, s.Upsert(ctx, "patterns", Record{ID: "bbb", Vector: vec, Payload: map[string]any{}}))
	require.NoError(t, s.Upsert(ctx, "patterns", Record{ID: "aaa", Vector: vec, Payload: map[string]any{}}))

	hits, err := s.Search(ctx, "patterns", vec, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "aaa", hits[0].ID)
	assert.Equal(t, "bbb", hits[1].ID)
}

func TestMemoryStoreMutationIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Upsert(ctx, "flags", Record{ID: "f1", Vector: []float32{1}, Payload: map[string]any{"status": "pending"}}))

	got, err := s.Get(ctx, "flags", "f1")
	require.NoError(t, err)
	got.Payload["status"] = "compiled"

	again, err := s.Get(ctx, "flags", "f1")
	require.NoError(t, err)
	assert.Equal(t, "pending", again.Payload["status"])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 0}))
}
