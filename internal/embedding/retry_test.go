package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/apperr"
)

// flaky fails the first n calls, then succeeds.
type flaky struct {
	failures int
	calls    int
	dims     int
}

func (f *flaky) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return Normalize([]float32{1, 1}), nil
}

func (f *flaky) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vec, err := f.Embed(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = vec
	}
	return out, nil
}

func (f *flaky) Dimensions() int { return f.dims }

func TestRetryingRecoversFromTransient(t *testing.T) {
	p := &flaky{failures: 2, dims: 2}
	r := NewRetrying(p)

	vec, err := r.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 3, p.calls)
}

func TestRetryingExhaustsToUnavailable(t *testing.T) {
	p := &flaky{failures: 100, dims: 2}
	r := NewRetrying(p)

	_, err := r.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.Equal(t, retryMaxAttempts, p.calls)
}

func TestRetryingDoesNotRetryOversizedInput(t *testing.T) {
	r := NewRetrying(NewNoopProvider(4))

	big := make([]byte, maxInputBytes+1)
	_, err := r.EmbedBatch(context.Background(), []string{"ok", string(big)})
	var tooLarge *InputTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 1, tooLarge.Index)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize(make([]float32, 3))
	assert.Equal(t, []float32{0, 0, 0}, zero)
}
