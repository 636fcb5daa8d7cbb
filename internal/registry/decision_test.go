package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/testutil"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

func newDecisionFixture() (*Decisions, *vectorstore.MemoryStore, *testutil.StubEmbedder) {
	store := vectorstore.NewMemoryStore()
	emb := testutil.NewStubEmbedder(8)
	reg := NewDecisions(store, emb, NopSink{}, nil, testutil.TestLogger())
	return reg, store, emb
}

func TestRegisterInsert(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newDecisionFixture()

	res, err := reg.Register(ctx, RegisterDecisionInput{
		Project:            "vectordb",
		LocalID:            "D001",
		Text:               "Use UUID v7 for resource IDs",
		Rationale:          "sortable and unique",
		EpistemicTier:      0.8,
		SourceConversation: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "inserted", res.Action)
	assert.Equal(t, model.DecisionActive, res.Decision.Status)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 0, res.Decision.HopsSinceValidated)

	n, err := store.Count(ctx, model.CollectionDecisions, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newDecisionFixture()

	cases := []RegisterDecisionInput{
		{LocalID: "D001", Text: "x"},
		{Project: "p", Text: "x"},
		{Project: "p", LocalID: "D001"},
		{Project: "p", LocalID: "D001", Text: "x", EpistemicTier: 1.5},
	}
	for _, in := range cases {
		_, err := reg.Register(ctx, in)
		require.Error(t, err)
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	}
}

func TestConflictDetectionTwoSignal(t *testing.T) {
	ctx := context.Background()
	reg, _, emb := newDecisionFixture()

	d1Text := "Use JWT tokens only"
	d2Text := "JWT-only rejected; use OAuth2 with refresh tokens"
	emb.Pin(d1Text, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	emb.Pin(d2Text, []float32{0.9, 0.436, 0, 0, 0, 0, 0, 0})

	r1, err := reg.Register(ctx, RegisterDecisionInput{Project: "auth", LocalID: "D001", Text: d1Text, EpistemicTier: 0.8})
	require.NoError(t, err)
	r2, err := reg.Register(ctx, RegisterDecisionInput{Project: "auth", LocalID: "D002", Text: d2Text, EpistemicTier: 0.85})
	require.NoError(t, err)

	require.Len(t, r2.Conflicts, 1)
	assert.Equal(t, r1.Decision.ID, r2.Conflicts[0].WithID)
	assert.Equal(t, []string{r1.Decision.ID}, r2.Decision.ConflictsWith)

	// Symmetry: the earlier decision now links back.
	d1, err := reg.Get(ctx, r1.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{r2.Decision.ID}, d1.ConflictsWith)

	// Both stay active until an explicit supersede.
	assert.Equal(t, model.DecisionActive, d1.Status)
	require.NoError(t, reg.Supersede(ctx, r1.Decision.ID, r2.Decision.ID))
	d1, err = reg.Get(ctx, r1.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionSuperseded, d1.Status)
}

func TestParaphraseIsNotConflict(t *testing.T) {
	ctx := context.Background()
	reg, _, emb := newDecisionFixture()

	d1Text := "Use UUID v7 for resource IDs"
	d2Text := "Resource identifiers should be UUID v7"
	emb.Pin(d1Text, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	emb.Pin(d2Text, []float32{0.95, 0.312, 0, 0, 0, 0, 0, 0})

	_, err := reg.Register(ctx, RegisterDecisionInput{Project: "ids", LocalID: "D001", Text: d1Text})
	require.NoError(t, err)
	r2, err := reg.Register(ctx, RegisterDecisionInput{Project: "ids", LocalID: "D002", Text: d2Text})
	require.NoError(t, err)

	assert.Empty(t, r2.Conflicts)
	assert.Empty(t, r2.Decision.ConflictsWith)
}

func TestCrossProjectConflictDetection(t *testing.T) {
	ctx := context.Background()
	reg, _, emb := newDecisionFixture()

	d1Text := "Retries use FIXED backoff"
	d2Text := "FIXED backoff rejected, exponential only"
	emb.Pin(d1Text, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	emb.Pin(d2Text, []float32{0.9, 0.436, 0, 0, 0, 0, 0, 0})

	r1, err := reg.Register(ctx, RegisterDecisionInput{Project: "alpha", LocalID: "D001", Text: d1Text})
	require.NoError(t, err)
	r2, err := reg.Register(ctx, RegisterDecisionInput{Project: "beta", LocalID: "D001", Text: d2Text})
	require.NoError(t, err)

	require.Len(t, r2.Conflicts, 1)
	assert.Equal(t, r1.Decision.ID, r2.Conflicts[0].WithID)
}

func TestIdempotentRegisterIsValidation(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newDecisionFixture()

	in := RegisterDecisionInput{Project: "p", LocalID: "D001", Text: "Adopt structured logging", EpistemicTier: 0.6}
	first, err := reg.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "inserted", first.Action)

	second, err := reg.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "validated", second.Action)
	assert.Equal(t, first.Decision.ID, second.Decision.ID)

	n, err := store.Count(ctx, model.CollectionDecisions, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-registering leaves a single row")
}

func TestRegisterUpdatedOnTextChange(t *testing.T) {
	ctx := context.Background()
	reg, store, _ := newDecisionFixture()

	_, err := reg.Register(ctx, RegisterDecisionInput{Project: "p", LocalID: "D001", Text: "first wording"})
	require.NoError(t, err)
	res, err := reg.Register(ctx, RegisterDecisionInput{Project: "p", LocalID: "D001", Text: "second wording entirely different"})
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Action)

	n, err := store.Count(ctx, model.CollectionDecisions, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBumpHopsAndStaleness(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newDecisionFixture()

	res, err := reg.Register(ctx, RegisterDecisionInput{
		Project: "p", LocalID: "D001", Text: "Keep the single-writer scanner", SourceConversation: "c1",
	})
	require.NoError(t, err)
	id := res.Decision.ID

	edge := &model.LineageEdge{SourceConversation: "c1", TargetConversation: "c2"}
	for range 3 {
		require.NoError(t, reg.BumpHops(ctx, edge, nil))
	}

	d, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, d.HopsSinceValidated)

	stale, err := reg.Stale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0].ID)

	// Carrying with the revalidation marker resets instead of bumping.
	marked := &model.LineageEdge{SourceConversation: "c1", DecisionsCarried: []string{"D001!"}}
	require.NoError(t, reg.BumpHops(ctx, marked, nil))
	d, err = reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, d.HopsSinceValidated)
	assert.Equal(t, 3, d.LastValidatedAtHop)
}

func TestValidateResetsHops(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newDecisionFixture()

	res, err := reg.Register(ctx, RegisterDecisionInput{Project: "p", LocalID: "D001", Text: "x y z", SourceConversation: "c1"})
	require.NoError(t, err)

	edge := &model.LineageEdge{SourceConversation: "c1"}
	require.NoError(t, reg.BumpHops(ctx, edge, nil))

	d, err := reg.Validate(ctx, res.Decision.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.HopsSinceValidated)
	assert.Equal(t, 1, d.LastValidatedAtHop)
}

func TestGetByLocalID(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newDecisionFixture()

	res, err := reg.Register(ctx, RegisterDecisionInput{Project: "p", LocalID: "D042", Text: "answer everything"})
	require.NoError(t, err)

	d, err := reg.GetByLocalID(ctx, "p", "D042")
	require.NoError(t, err)
	assert.Equal(t, res.Decision.ID, d.ID)

	_, err = reg.GetByLocalID(ctx, "p", "D999")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHydrateRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	emb := testutil.NewStubEmbedder(8)

	reg := NewDecisions(store, emb, NopSink{}, nil, testutil.TestLogger())
	res, err := reg.Register(ctx, RegisterDecisionInput{Project: "p", LocalID: "D001", Text: "persist me"})
	require.NoError(t, err)

	fresh := NewDecisions(store, emb, NopSink{}, nil, testutil.TestLogger())
	require.NoError(t, fresh.Hydrate(ctx))
	d, err := fresh.GetByLocalID(ctx, "p", "D001")
	require.NoError(t, err)
	assert.Equal(t, res.Decision.ID, d.ID)
}
