package vectorstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/testutil"
)

// newQdrantFixture connects to the Qdrant named by MNEMO_QDRANT_TEST_URL and
// creates a throwaway collection. Skips when the variable is unset.
func newQdrantFixture(t *testing.T) (*QdrantStore, string) {
	t.Helper()
	url := os.Getenv("MNEMO_QDRANT_TEST_URL")
	if url == "" {
		t.Skip("MNEMO_QDRANT_TEST_URL not set")
	}

	s, err := NewQdrantStore(QdrantConfig{URL: url}, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	collection := fmt.Sprintf("mnemo_test_%s", uuid.New().String()[:8])
	ctx := context.Background()
	require.NoError(t, s.EnsureCollections(ctx, 4, collection))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.DeleteCollection(ctx, collection)
	})
	return s, collection
}

func TestQdrantRoundTrip(t *testing.T) {
	s, collection := newQdrantFixture(t)
	ctx := context.Background()

	rec := Record{
		ID:     uuid.New().String(),
		Vector: []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"project": "p1",
			"status":  "active",
			"text":    "use exponential backoff",
		},
	}
	require.NoError(t, s.Upsert(ctx, collection, rec))

	got, err := s.Get(ctx, collection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Payload["project"])
	assert.Equal(t, "use exponential backoff", got.Payload["text"])
	require.Len(t, got.Vector, 4)

	n, err := s.Count(ctx, collection, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, collection, rec.ID))
	_, err = s.Get(ctx, collection, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQdrantSearchWithFilter(t *testing.T) {
	s, collection := newQdrantFixture(t)
	ctx := context.Background()

	put := func(vec []float32, project string) string {
		id := uuid.New().String()
		require.NoError(t, s.Upsert(ctx, collection, Record{
			ID: id, Vector: vec, Payload: map[string]any{"project": project, "status": "active"},
		}))
		return id
	}
	close := put([]float32{1, 0, 0, 0}, "p1")
	put([]float32{0, 1, 0, 0}, "p1")
	put([]float32{1, 0, 0, 0}, "p2")

	hits, err := s.Search(ctx, collection, []float32{1, 0, 0, 0}, 10, Filter{"project": "p1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, close, hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestQdrantListAndHealthy(t *testing.T) {
	s, collection := newQdrantFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Upsert(ctx, collection, Record{
			ID:      uuid.New().String(),
			Vector:  []float32{float32(i), 1, 0, 0},
			Payload: map[string]any{"project": "p1"},
		}))
	}

	records, err := s.List(ctx, collection, Filter{"project": "p1"}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	assert.NoError(t, s.Healthy(ctx))
}
