package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

const (
	// patternMergeThreshold: a new pattern this close to an existing one
	// merges instead of inserting.
	patternMergeThreshold = 0.85

	patternSearchK = 5
)

// Patterns is the pattern store with confidence-weighted merge.
type Patterns struct {
	store    vectorstore.Store
	embedder embedding.Provider
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewPatterns creates the store.
func NewPatterns(store vectorstore.Store, embedder embedding.Provider, events EventSink, logger *slog.Logger) *Patterns {
	return &Patterns{
		store:    store,
		embedder: embedder,
		events:   events,
		logger:   logger,
		now:      nowUTC,
	}
}

// RegisterPatternResult reports whether the registration merged into an
// existing pattern.
type RegisterPatternResult struct {
	Pattern *model.Pattern `json:"pattern"`
	Merged  bool           `json:"merged"`
}

// Register inserts a pattern, or merges it into the nearest existing one
// when similarity reaches the merge threshold. Merging accumulates
// confidence (0.7·existing + 0.3·incoming + 0.05, capped at 1) and
// preserves the earlier surface form as a variant.
func (r *Patterns) Register(ctx context.Context, project, text string, confidence float64) (*RegisterPatternResult, error) {
	switch {
	case strings.TrimSpace(text) == "":
		return nil, apperr.Invalid("pattern text must be non-empty")
	case confidence < 0 || confidence > 1:
		return nil, apperr.Invalid("pattern confidence must be in [0, 1], got %v", confidence)
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hits, err := r.store.Search(ctx, model.CollectionPatterns, vec, patternSearchK, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "pattern neighbor search")
	}

	now := r.now()
	if len(hits) > 0 && float64(hits[0].Score) >= patternMergeThreshold {
		existing := model.PatternFromPayload(hits[0].ID, hits[0].Payload)
		existing.Confidence = min(1.0, 0.7*existing.Confidence+0.3*confidence+0.05)
		existing.MergeCount++
		existing.LastMergedAt = now
		existing.UpdatedAt = now
		if !sameText(existing.Text, text) {
			existing.Variants = appendUnique(existing.Variants, existing.Text)
			existing.Text = text
		}
		if err := r.upsert(ctx, existing, vec); err != nil {
			return nil, err
		}
		appendEvent(ctx, r.events, r.logger, model.EventWrite, "pattern.merge", []string{existing.ID})
		return &RegisterPatternResult{Pattern: existing, Merged: true}, nil
	}

	p := &model.Pattern{
		Header: model.Header{
			ID:        identity.PatternID(project, text),
			Project:   project,
			Text:      text,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Confidence: confidence,
	}
	if err := r.upsert(ctx, p, vec); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "pattern.register", []string{p.ID})
	return &RegisterPatternResult{Pattern: p, Merged: false}, nil
}

func (r *Patterns) upsert(ctx context.Context, p *model.Pattern, vec []float32) error {
	err := r.store.Upsert(ctx, model.CollectionPatterns, vectorstore.Record{
		ID:      p.ID,
		Vector:  vec,
		Payload: p.Payload(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "upsert pattern %s", p.ID)
	}
	return nil
}
