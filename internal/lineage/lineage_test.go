package lineage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/model"
)

func newGraph(convs ...string) *Graph {
	g := New()
	for _, c := range convs {
		g.NoteConversation(c, "p1")
	}
	return g
}

func TestAddEdgeBasics(t *testing.T) {
	g := newGraph("c1")

	edge, err := g.AddEdge("c1", "c2", "", []string{"d1"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.CompressionTag, edge.CompressionTag)
	assert.False(t, edge.CrossProject)
	assert.True(t, g.Known("c2"), "target is introduced by the edge")
}

func TestAddEdgeRejectsUnknownSource(t *testing.T) {
	g := newGraph()
	_, err := g.AddEdge("ghost", "c2", "", nil, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := newGraph("c1")
	_, err := g.AddEdge("c1", "c1", "", nil, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := newGraph("c1")
	_, err := g.AddEdge("c1", "c2", "", nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = g.AddEdge("c2", "c3", "", nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = g.AddEdge("c3", "c1", "", nil, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// State unchanged: the rejected edge left no trace.
	assert.Len(t, g.Edges(), 2)
}

func TestAcyclicUnderManyInserts(t *testing.T) {
	g := newGraph("c0")
	// Build a long chain, then try every back edge.
	for i := range 20 {
		_, err := g.AddEdge(fmt.Sprintf("c%d", i), fmt.Sprintf("c%d", i+1), "", nil, nil, nil, nil)
		require.NoError(t, err)
	}
	for i := 1; i <= 20; i++ {
		_, err := g.AddEdge(fmt.Sprintf("c%d", i), "c0", "", nil, nil, nil, nil)
		assert.Error(t, err, "back edge from c%d must be rejected", i)
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := newGraph("c1")
	first, err := g.AddEdge("c1", "c2", "", nil, nil, nil, nil)
	require.NoError(t, err)
	second, err := g.AddEdge("c1", "c2", "", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, g.Edges(), 1)
}

func TestAncestorsDescendantsTrace(t *testing.T) {
	g := newGraph("root")
	_, err := g.AddEdge("root", "mid", "", nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = g.AddEdge("mid", "leaf", "", nil, nil, nil, nil)
	require.NoError(t, err)

	anc := g.Ancestors("leaf", 10)
	require.Len(t, anc, 2)
	assert.Equal(t, "mid", anc[0].SourceConversation, "nearest parent first")
	assert.Equal(t, "root", anc[1].SourceConversation)

	desc := g.Descendants("root", 10)
	require.Len(t, desc, 2)
	assert.Equal(t, "mid", desc[0].TargetConversation)

	tr := g.TraceConversation("mid", 10)
	assert.Len(t, tr.Ancestors, 1)
	assert.Len(t, tr.Descendants, 1)

	assert.Empty(t, g.Ancestors("root", 10))
}

func TestAncestorsLimit(t *testing.T) {
	g := newGraph("c0")
	for i := range 10 {
		_, err := g.AddEdge(fmt.Sprintf("c%d", i), fmt.Sprintf("c%d", i+1), "", nil, nil, nil, nil)
		require.NoError(t, err)
	}
	assert.Len(t, g.Ancestors("c10", 3), 3)
}

func TestCrossProjectEdgeAndCarried(t *testing.T) {
	g := New()
	g.NoteConversation("a1", "alpha")
	g.NoteConversation("b1", "beta")
	// b1 is already known to belong to beta, so alpha -> beta is cross-project.
	edge, err := g.AddEdge("a1", "b1", "", []string{"d1!", "d2"}, nil, []string{"t1"}, nil)
	require.NoError(t, err)
	assert.True(t, edge.CrossProject)

	carried := g.CrossProjectCarried()
	assert.Equal(t, []string{"d1", "d2", "t1"}, carried)
}

func TestCarriesValidated(t *testing.T) {
	e := &model.LineageEdge{DecisionsCarried: []string{"d1!", "d2"}}
	assert.True(t, e.CarriesValidated("d1"))
	assert.False(t, e.CarriesValidated("d2"))
	assert.True(t, e.Carries("d2"))
	assert.False(t, e.Carries("d3"))
}
