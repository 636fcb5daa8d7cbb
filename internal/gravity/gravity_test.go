package gravity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/testutil"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

type stubRoles struct {
	roles []model.ProjectRole
}

func (s stubRoles) ListRoles(context.Context) ([]model.ProjectRole, error) {
	return s.roles, nil
}

type stubScans struct {
	snap *model.ScanSnapshot
}

func (s stubScans) LatestScan(context.Context) (*model.ScanSnapshot, error) {
	if s.snap == nil {
		return nil, errors.New("no scan")
	}
	return s.snap, nil
}

func seedDecision(t *testing.T, store vectorstore.Store, id, project, text string, tier float64, vec []float32) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Upsert(context.Background(), model.CollectionDecisions, vectorstore.Record{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			"kind":           string(model.KindDecision),
			"project":        project,
			"text":           text,
			"epistemic_tier": tier,
			"status":         "active",
			"created_at":     now.Format(time.RFC3339Nano),
			"updated_at":     now.Format(time.RFC3339Nano),
		},
	})
	require.NoError(t, err)
}

func newFixture(t *testing.T, roles RoleSource, scans ScanSource) (*Orchestrator, *vectorstore.MemoryStore, *testutil.StubEmbedder) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	emb := testutil.NewStubEmbedder(8)
	engine := attention.NewEngine(store, emb, attention.DefaultWeights(), 2000, testutil.TestLogger())
	return NewOrchestrator(engine, emb, roles, scans, testutil.TestLogger()), store, emb
}

func TestRoleTypes(t *testing.T) {
	assert.True(t, ValidRole("connector"))
	assert.True(t, ValidRole("navigator"))
	assert.False(t, ValidRole("wizard"))
	assert.Equal(t, "directional", GravityTypeFor("navigator"))
	assert.Equal(t, "lateral", GravityTypeFor("wizard"), "unknown roles default to lateral")
	assert.Len(t, RoleNames(), len(RoleTypes))
}

func TestOrchestrateRequiresLensesOrRoles(t *testing.T) {
	o, _, _ := newFixture(t, stubRoles{}, stubScans{})

	_, err := o.Orchestrate(context.Background(), Input{Query: "retry policy"})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = o.Orchestrate(context.Background(), Input{Query: "   "})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = o.Orchestrate(context.Background(), Input{
		Query:  "retry policy",
		Lenses: []Lens{{Project: "p", Role: "wizard"}},
	})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestOrchestrateStoredRolesResolve(t *testing.T) {
	roles := stubRoles{roles: []model.ProjectRole{
		{Project: "checkout", Role: "navigator", GravityType: "directional", Weight: 1.0},
		{Project: "billing", Role: "critic", GravityType: "critical", Weight: 0.5},
	}}
	o, store, emb := newFixture(t, roles, stubScans{})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("token refresh", vec)
	seedDecision(t, store, "d1", "checkout", "Use rotating refresh tokens", 0.8, vec)

	res, err := o.Orchestrate(context.Background(), Input{Query: "token refresh"})
	require.NoError(t, err)
	require.Len(t, res.Lenses, 2)
	assert.Equal(t, "navigator", res.Lenses[0].Role)
	assert.Equal(t, "checkout", res.Lenses[0].Project)
	assert.Equal(t, "navigator", res.Summary.DominantLens)
}

func TestOrchestrateFieldsAndContext(t *testing.T) {
	o, store, emb := newFixture(t, stubRoles{}, stubScans{})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("session storage", vec)
	seedDecision(t, store, "d1", "checkout", "Sessions live in redis", 0.9, vec)
	seedDecision(t, store, "d2", "billing", "Sessions live in postgres", 0.9, vec)

	res, err := o.Orchestrate(context.Background(), Input{
		Query: "session storage",
		Lenses: []Lens{
			{Project: "checkout", Role: "navigator"},
			{Project: "billing", Role: "builder"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Fields, 2)
	assert.Equal(t, "navigator", res.Fields[0].Lens.Role)
	assert.Greater(t, res.Fields[0].Mass, 0.0)
	assert.Equal(t, 2, res.Summary.TotalCandidates)
	assert.Contains(t, res.ContextText, "NAVIGATOR (checkout)")
	assert.Contains(t, res.ContextText, "BUILDER (billing)")
	assert.Equal(t, len(res.ContextText), res.BudgetUsed)
}

func TestConvergenceByWordOverlap(t *testing.T) {
	o, store, emb := newFixture(t, stubRoles{}, stubScans{})

	text := "cache invalidation uses version stamped keys everywhere"
	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("cache invalidation", vec)
	seedDecision(t, store, "d1", "checkout", text, 0.8, vec)
	seedDecision(t, store, "d2", "billing", text, 0.8, vec)

	res, err := o.Orchestrate(context.Background(), Input{
		Query: "cache invalidation",
		Lenses: []Lens{
			{Project: "checkout", Role: "navigator"},
			{Project: "billing", Role: "builder"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Convergences)
	c := res.Convergences[0]
	assert.Equal(t, "overlap", c.Method)
	expected := (res.Fields[0].Items[0].Score + res.Fields[1].Items[0].Score) * ConvergenceBoost
	assert.InDelta(t, expected, c.CombinedMass, 1e-9)
	assert.Greater(t, res.Summary.FieldCoherence, BaselineCoherence)
	assert.Contains(t, res.ContextText, "CONVERGENCE")
}

func TestConvergenceByCluster(t *testing.T) {
	snap := &model.ScanSnapshot{
		ScannedAt: time.Now(),
		Clusters:  []model.Cluster{{ID: 1, Members: []string{"d1", "d2"}, Projects: []string{"checkout", "billing"}}},
	}
	o, store, emb := newFixture(t, stubRoles{}, stubScans{snap: snap})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("auth", vec)
	// Short texts keep the overlap detector out of the picture.
	seedDecision(t, store, "d1", "checkout", "jwt auth", 0.8, vec)
	seedDecision(t, store, "d2", "billing", "oauth flows", 0.8, vec)

	res, err := o.Orchestrate(context.Background(), Input{
		Query: "auth",
		Lenses: []Lens{
			{Project: "checkout", Role: "navigator"},
			{Project: "billing", Role: "builder"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Convergences, 1)
	assert.Equal(t, "cluster", res.Convergences[0].Method)
	assert.Equal(t, 1, res.Convergences[0].ClusterID)
}

func TestDivergenceGapAndTierMismatch(t *testing.T) {
	o, store, emb := newFixture(t, stubRoles{}, stubScans{})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("queue backend", vec)
	seedDecision(t, store, "d1", "checkout", "queues on kafka", 0.9, vec)
	seedDecision(t, store, "d2", "billing", "queues on rabbitmq", 0.2, vec)

	res, err := o.Orchestrate(context.Background(), Input{
		Query: "queue backend",
		Lenses: []Lens{
			{Project: "checkout", Role: "navigator"},
			{Project: "billing", Role: "critic"},
			{Project: "empty", Role: "evaluator"},
		},
	})
	require.NoError(t, err)

	methods := make(map[string]Divergence)
	for _, d := range res.Divergences {
		methods[d.Method] = d
	}
	tier, ok := methods["tier_mismatch"]
	require.True(t, ok, "0.9 vs 0.2 tiers must register as tension")
	assert.InDelta(t, 1.0, tier.Tension, 1e-9, "delta 0.7 saturates at full tension")

	gap, ok := methods["gap"]
	require.True(t, ok, "a lens with no results against one with results is a gap")
	assert.Equal(t, 0.6, gap.Tension)
	assert.Equal(t, "evaluator", gap.LensB)
	assert.Contains(t, res.ContextText, "DIVERGENCE")
}

func TestContextTextHonorsBudget(t *testing.T) {
	o, store, emb := newFixture(t, stubRoles{}, stubScans{})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("retention", vec)
	seedDecision(t, store, "d1", "checkout", "retention runs nightly over cold storage partitions", 0.8, vec)
	seedDecision(t, store, "d2", "billing", "retention prunes invoices after seven years", 0.8, vec)

	res, err := o.Orchestrate(context.Background(), Input{
		Query:  "retention",
		Budget: 60,
		Lenses: []Lens{
			{Project: "checkout", Role: "navigator"},
			{Project: "billing", Role: "builder"},
		},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.BudgetUsed, 60)
	assert.Equal(t, 2, res.Summary.TotalCandidates, "summary counts are budget independent")
}

func TestMaxLensesCap(t *testing.T) {
	o, _, emb := newFixture(t, stubRoles{}, stubScans{})

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	emb.Pin("anything", vec)

	lenses := make([]Lens, 0, MaxLenses+2)
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		lenses = append(lenses, Lens{Project: p, Role: "connector"})
	}
	res, err := o.Orchestrate(context.Background(), Input{Query: "anything", Lenses: lenses})
	require.NoError(t, err)
	assert.Len(t, res.Lenses, MaxLenses)
}

func TestFieldCoherenceBounds(t *testing.T) {
	assert.Equal(t, BaselineCoherence, fieldCoherence(0, 0, 0))
	assert.Equal(t, 1.0, fieldCoherence(1, 5, 0))
	assert.Equal(t, 0.0, fieldCoherence(1, 0, 10))
	mid := fieldCoherence(2, 1, 0.5)
	assert.Greater(t, mid, BaselineCoherence)
	assert.Less(t, mid, 1.0)
}
