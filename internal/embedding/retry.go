package embedding

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
)

const (
	retryBaseDelay   = 100 * time.Millisecond
	retryMaxAttempts = 5
)

// Retrying wraps a Provider with jittered exponential backoff on transient
// failures. Oversized-input errors and context expiry are not retried.
// After exhaustion the error surfaces as unavailable.
type Retrying struct {
	inner Provider
}

// NewRetrying wraps p with the retry policy.
func NewRetrying(p Provider) *Retrying {
	return &Retrying{inner: p}
}

// Dimensions returns the inner provider's vector size.
func (r *Retrying) Dimensions() int { return r.inner.Dimensions() }

// Embed generates a single embedding with retries.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.withRetry(ctx, func() error {
		var err error
		vec, err = r.inner.Embed(ctx, text)
		return err
	})
	return vec, err
}

// EmbedBatch generates embeddings for multiple texts with retries.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.withRetry(ctx, func() error {
		var err error
		vecs, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	return vecs, err
}

func (r *Retrying) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := range retryMaxAttempts {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == retryMaxAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return apperr.Wrap(apperr.KindUnavailable, err, "embedding provider unavailable after %d attempts", retryMaxAttempts)
}

func isTransient(err error) bool {
	var tooLarge *InputTooLargeError
	if errors.As(err, &tooLarge) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
