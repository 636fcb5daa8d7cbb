// Package testutil provides shared test infrastructure: a quiet logger and
// deterministic embedding providers, so recall and conflict behavior can be
// asserted without a live embedding service.
package testutil

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/embedding"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// HashEmbedder maps text to a unit vector by hashing word tokens into
// buckets. Identical text always produces the identical vector, and texts
// sharing vocabulary land near each other, which is enough to drive the
// recall and merge paths deterministically.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder creates a HashEmbedder with the given dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &HashEmbedder{Dims: dims}
}

// Dimensions returns the vector size.
func (h *HashEmbedder) Dimensions() int { return h.Dims }

// Embed hashes tokens into buckets and normalizes.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?'\"()[]")
		if tok == "" {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.Dims)]++ //nolint:gosec // Dims is small and positive
	}
	return embedding.Normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// StubEmbedder returns pinned vectors for exact texts and falls back to a
// HashEmbedder otherwise. Use it when a test needs precise control over
// pairwise cosine similarity.
type StubEmbedder struct {
	Vectors  map[string][]float32
	Fallback *HashEmbedder
}

// NewStubEmbedder creates a StubEmbedder with the given dimensionality.
func NewStubEmbedder(dims int) *StubEmbedder {
	return &StubEmbedder{
		Vectors:  make(map[string][]float32),
		Fallback: NewHashEmbedder(dims),
	}
}

// Pin fixes the vector returned for text. The vector is normalized.
func (s *StubEmbedder) Pin(text string, vec []float32) {
	s.Vectors[text] = embedding.Normalize(vec)
}

// Dimensions returns the vector size.
func (s *StubEmbedder) Dimensions() int { return s.Fallback.Dims }

// Embed returns the pinned vector, or the hash fallback.
func (s *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.Vectors[text]; ok {
		return vec, nil
	}
	return s.Fallback.Embed(ctx, text)
}

// EmbedBatch embeds each text in order.
func (s *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
