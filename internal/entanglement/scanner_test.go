package entanglement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/testutil"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

type memSink struct {
	snaps []*model.ScanSnapshot
}

func (m *memSink) SaveScan(_ context.Context, snap *model.ScanSnapshot) (int64, error) {
	m.snaps = append(m.snaps, snap)
	return int64(len(m.snaps)), nil
}

func seed(t *testing.T, store vectorstore.Store, collection, id, project, status string, vec []float32) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := store.Upsert(context.Background(), collection, vectorstore.Record{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			"kind":       string(model.KindForCollection(collection)),
			"project":    project,
			"text":       id,
			"status":     status,
			"created_at": now,
			"updated_at": now,
		},
	})
	require.NoError(t, err)
}

func TestScanFindsCrossProjectResonances(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	sink := &memSink{}
	sc := NewScanner(store, sink, registry.NopSink{}, testutil.TestLogger())

	seed(t, store, model.CollectionDecisions, "d-alpha", "alpha", "active", []float32{1, 0, 0, 0})
	seed(t, store, model.CollectionDecisions, "d-beta", "beta", "active", []float32{0.9, 0.436, 0, 0})
	seed(t, store, model.CollectionThreads, "t-gamma", "gamma", "open", []float32{0.55, -0.835, 0, 0})
	seed(t, store, model.CollectionDecisions, "d-delta", "delta", "active", []float32{0, 0, 1, 0})

	snap, err := sc.Scan(ctx)
	require.NoError(t, err)

	require.Len(t, snap.Resonances, 2)
	strong := snap.Resonances[0]
	assert.Equal(t, "d-alpha", strong.FromID)
	assert.Equal(t, "d-beta", strong.ToID)
	assert.Equal(t, model.TierStrong, strong.Tier)
	assert.InDelta(t, 0.9, strong.Similarity, 0.01)

	weak := snap.Resonances[1]
	assert.Equal(t, "d-alpha", weak.FromID)
	assert.Equal(t, "t-gamma", weak.ToID)
	assert.Equal(t, model.TierWeak, weak.Tier)

	require.Len(t, snap.Clusters, 1)
	assert.Equal(t, 1, snap.Clusters[0].ID)
	assert.Equal(t, []string{"d-alpha", "d-beta"}, snap.Clusters[0].Members)
	assert.Equal(t, []string{"alpha", "beta"}, snap.Clusters[0].Projects)

	require.Len(t, snap.Bridges, 1)
	assert.Equal(t, "d-alpha", snap.Bridges[0].FromID)

	assert.Equal(t, []string{"d-delta"}, snap.LooseEnds)
	assert.Equal(t, 4, snap.Counts.ItemsScanned)
	assert.Equal(t, int64(1), snap.ID)
	require.Len(t, sink.snaps, 1)
}

func TestScanIgnoresSameProjectNeighbors(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	sc := NewScanner(store, &memSink{}, registry.NopSink{}, testutil.TestLogger())

	seed(t, store, model.CollectionDecisions, "d1", "alpha", "active", []float32{1, 0, 0, 0})
	seed(t, store, model.CollectionDecisions, "d2", "alpha", "active", []float32{1, 0, 0, 0})

	snap, err := sc.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Resonances)
	assert.Equal(t, []string{"d1", "d2"}, snap.LooseEnds)
}

func TestScanSkipsDeadRecords(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	sc := NewScanner(store, &memSink{}, registry.NopSink{}, testutil.TestLogger())

	seed(t, store, model.CollectionDecisions, "d-live", "alpha", "active", []float32{1, 0, 0, 0})
	seed(t, store, model.CollectionDecisions, "d-dead", "beta", "superseded", []float32{1, 0, 0, 0})
	seed(t, store, model.CollectionThreads, "t-done", "gamma", "resolved", []float32{1, 0, 0, 0})

	snap, err := sc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts.ItemsScanned)
	assert.Empty(t, snap.Resonances)
	assert.Equal(t, []string{"d-live"}, snap.LooseEnds)
}

func TestScanDeterministic(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	sc := NewScanner(store, nil, registry.NopSink{}, testutil.TestLogger())

	seed(t, store, model.CollectionDecisions, "a", "p1", "active", []float32{1, 0, 0, 0})
	seed(t, store, model.CollectionDecisions, "b", "p2", "active", []float32{0.9, 0.436, 0, 0})
	seed(t, store, model.CollectionDecisions, "c", "p3", "active", []float32{0.8, 0.6, 0, 0})

	first, err := sc.Scan(ctx)
	require.NoError(t, err)
	second, err := sc.Scan(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Resonances, second.Resonances)
	assert.Equal(t, first.Clusters, second.Clusters)
	assert.Equal(t, first.LooseEnds, second.LooseEnds)
}

func TestBuildClustersChains(t *testing.T) {
	projects := map[string]string{"a": "p1", "b": "p2", "c": "p3", "x": "p1", "y": "p2"}
	resonances := []model.Resonance{
		{FromID: "a", ToID: "b", Tier: model.TierStrong},
		{FromID: "b", ToID: "c", Tier: model.TierStrong},
		{FromID: "x", ToID: "y", Tier: model.TierWeak},
	}
	clusters := buildClusters(resonances, projects)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"a", "b", "c"}, clusters[0].Members)
	assert.Equal(t, []string{"p1", "p2", "p3"}, clusters[0].Projects)
}
