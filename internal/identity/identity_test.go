package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	a := DecisionID("vectordb", "D042")
	b := DecisionID("vectordb", "D042")
	assert.Equal(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestProjectScoping(t *testing.T) {
	assert.NotEqual(t, DecisionID("alpha", "D001"), DecisionID("beta", "D001"))
	assert.NotEqual(t, DecisionID("alpha", "D001"), ThreadID("alpha", "D001"))
}

func TestPatternNormalization(t *testing.T) {
	a := PatternID("p", "Retry  with   backoff")
	b := PatternID("p", "retry with backoff")
	assert.Equal(t, a, b)

	c := PatternID("p", "retry without backoff")
	assert.NotEqual(t, a, c)
}

func TestEdgeIDDirectional(t *testing.T) {
	assert.NotEqual(t, EdgeID("c1", "c2"), EdgeID("c2", "c1"))
	assert.Equal(t, EdgeID("c1", "c2"), EdgeID("c1", "c2"))
}
