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

func newThreadFixture() *Threads {
	store := vectorstore.NewMemoryStore()
	emb := testutil.NewStubEmbedder(8)
	return NewThreads(store, emb, NopSink{}, nil, testutil.TestLogger())
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	th, err := reg.Open(ctx, OpenThreadInput{
		Project: "p", LocalID: "T017", Title: "Decide on the retry policy",
		Priority: model.PriorityHigh, SourceConversation: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ThreadOpen, th.Status)

	th, err = reg.Block(ctx, th.ID, []string{"waiting on benchmark results"})
	require.NoError(t, err)
	assert.Equal(t, model.ThreadBlocked, th.Status)
	assert.Equal(t, []string{"waiting on benchmark results"}, th.BlockedBy)

	// Reopening a blocked thread clears the blockers.
	th, err = reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T017", Title: "Decide on the retry policy"})
	require.NoError(t, err)
	assert.Equal(t, model.ThreadOpen, th.Status)
	assert.Empty(t, th.BlockedBy)

	th, err = reg.Resolve(ctx, th.ID, "exponential backoff, 5 attempts")
	require.NoError(t, err)
	assert.Equal(t, model.ThreadResolved, th.Status)
	assert.Equal(t, "exponential backoff, 5 attempts", th.Resolution)
}

func TestResolvedIsTerminal(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	th, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "one"})
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, th.ID, "done")
	require.NoError(t, err)

	_, err = reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "one"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = reg.Resolve(ctx, th.ID, "done again")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = reg.Block(ctx, th.ID, []string{"x"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestResolveRequiresResolution(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	th, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "one"})
	require.NoError(t, err)

	_, err = reg.Resolve(ctx, th.ID, "   ")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = reg.Block(ctx, th.ID, nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	first, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "one"})
	require.NoError(t, err)
	second, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "one"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.ThreadOpen, second.Status)
}

func TestThreadPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	for _, tc := range []struct {
		local    string
		priority model.ThreadPriority
	}{
		{"T001", model.PriorityLow},
		{"T002", model.PriorityHigh},
		{"T003", model.PriorityMedium},
	} {
		_, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: tc.local, Title: tc.local, Priority: tc.priority})
		require.NoError(t, err)
	}

	list, err := reg.ListProject(ctx, "p")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "T002", list[0].LocalID)
	assert.Equal(t, "T003", list[1].LocalID)
	assert.Equal(t, "T001", list[2].LocalID)
}

func TestThreadHopBumpSkipsResolvedAndCarried(t *testing.T) {
	ctx := context.Background()
	reg := newThreadFixture()

	open, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T001", Title: "stays open", SourceConversation: "c1"})
	require.NoError(t, err)
	carried, err := reg.Open(ctx, OpenThreadInput{Project: "p", LocalID: "T002", Title: "carried forward", SourceConversation: "c1"})
	require.NoError(t, err)

	edge := &model.LineageEdge{
		SourceConversation: "c1",
		ThreadsCarried:     []string{"T002" + model.RevalidatedMarker},
	}
	require.NoError(t, reg.BumpHops(ctx, edge, nil))
	require.NoError(t, reg.BumpHops(ctx, edge, nil))
	require.NoError(t, reg.BumpHops(ctx, edge, nil))

	got, err := reg.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.HopsSinceValidated)

	got, err = reg.Get(ctx, carried.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.HopsSinceValidated)

	stale, err := reg.Stale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, open.ID, stale[0].ID)
}
