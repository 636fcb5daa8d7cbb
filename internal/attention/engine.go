package attention

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

const (
	// baseCandidatesPerKind is the per-collection fetch size at the
	// default budget; larger budgets fetch proportionally more.
	baseCandidatesPerKind = 20
	baseBudget            = 2000

	minCandidatesPerKind = 8
	maxCandidatesPerKind = 64
)

// Engine fans a query out across every recall collection and blends the
// results onto one attention scale.
type Engine struct {
	store    vectorstore.Store
	embedder embedding.Provider
	weights  Weights
	logger   *slog.Logger

	// Estimate prices an item against the token budget. Defaults to
	// EstimateTokens.
	Estimate TokenEstimator

	defaultBudget int
	now           func() time.Time
}

// NewEngine creates the recall engine.
func NewEngine(store vectorstore.Store, embedder embedding.Provider, weights Weights, defaultBudget int, logger *slog.Logger) *Engine {
	if defaultBudget <= 0 {
		defaultBudget = baseBudget
	}
	return &Engine{
		store:         store,
		embedder:      embedder,
		weights:       weights,
		logger:        logger,
		Estimate:      EstimateTokens,
		defaultBudget: defaultBudget,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RecallInput parameterizes one recall call. Vector, when set, is used as
// the query embedding; callers fanning one query across several recalls
// embed once and share it.
type RecallInput struct {
	Project string
	Query   string
	Vector  []float32
	Budget  int // token budget; 0 means the configured default
}

// Item is one recalled record with its score decomposition.
type Item struct {
	ID      string     `json:"id"`
	Kind    model.Kind `json:"kind"`
	Project string     `json:"project"`
	Text    string     `json:"text"`
	Score   float64    `json:"score"`
	Cosine  float64    `json:"cosine"` // raw similarity before [0,1] mapping
	Tokens  int        `json:"tokens"`
	Factors Factors    `json:"factors"`
}

// Result is a recall response. Degraded names collections whose search
// failed; their candidates are simply absent.
type Result struct {
	Items      []Item   `json:"items"`
	Budget     int      `json:"budget"`
	UsedTokens int      `json:"used_tokens"`
	Degraded   []string `json:"degraded,omitempty"`
}

// Recall embeds the query once, searches every collection concurrently,
// scores the union, and packs the budget greedily. A failed embedding
// fails the call; a failed collection degrades it.
func (e *Engine) Recall(ctx context.Context, in RecallInput) (*Result, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, apperr.Invalid("recall query must be non-empty")
	}
	budget := in.Budget
	if budget <= 0 {
		budget = e.defaultBudget
	}

	vec := in.Vector
	if vec == nil {
		embedStart := time.Now()
		embedded, err := e.embedder.Embed(ctx, in.Query)
		if err != nil {
			return nil, err
		}
		recordDuration(ctx, "mnemo.recall.embed_duration", time.Since(embedStart))
		vec = embedded
	}

	k := candidatesPerKind(budget)
	var filter vectorstore.Filter
	if in.Project != "" {
		filter = vectorstore.Filter{"project": in.Project}
	}

	var (
		mu         sync.Mutex
		items      []Item
		degraded   []string
		searchErrs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range model.RecallKinds {
		g.Go(func() error {
			searchStart := time.Now()
			hits, err := e.store.Search(gctx, model.CollectionFor(kind), vec, k, filter)
			recordDuration(gctx, "mnemo.recall.search_duration", time.Since(searchStart))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("attention: collection search failed", "kind", kind, "error", err)
				degraded = append(degraded, model.CollectionFor(kind))
				searchErrs = append(searchErrs, err)
				return nil
			}
			for _, hit := range hits {
				items = append(items, e.scoreHit(kind, hit))
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines report failures through degraded, never an error

	if len(degraded) == len(model.RecallKinds) {
		// An expired caller deadline with nothing completed is the caller's
		// timeout, not a store outage.
		joined := errors.Join(searchErrs...)
		if errors.Is(joined, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.New(apperr.KindDeadlineExceeded, "recall: deadline exceeded before any collection completed")
		}
		return nil, apperr.New(apperr.KindUnavailable, "recall: every collection search failed")
	}
	sort.Strings(degraded)

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].Factors.CategoryBoost != items[j].Factors.CategoryBoost {
			return items[i].Factors.CategoryBoost > items[j].Factors.CategoryBoost
		}
		return items[i].ID < items[j].ID
	})

	packed, used := packBudget(items, budget)
	return &Result{Items: packed, Budget: budget, UsedTokens: used, Degraded: degraded}, nil
}

func (e *Engine) scoreHit(kind model.Kind, hit vectorstore.Hit) Item {
	f := Factors{
		Similarity:    NormalizeSimilarity(float64(hit.Score)),
		CategoryBoost: CategoryBoost(kind),
	}
	if kind == model.KindDecision {
		f.Tier = clamp01(model.PayloadFloat(hit.Payload, "epistemic_tier"))
		if model.PayloadBool(hit.Payload, "has_conflicts") {
			f.ConflictBonus = 1
		}
	}
	if kind == model.KindPattern {
		f.Tier = clamp01(model.PayloadFloat(hit.Payload, "confidence"))
	}
	if updated := model.PayloadTime(hit.Payload, "updated_at"); !updated.IsZero() {
		f.Freshness = Freshness(e.now().Sub(updated))
	}

	text := model.PayloadString(hit.Payload, "text")
	return Item{
		ID:      hit.ID,
		Kind:    kind,
		Project: model.PayloadString(hit.Payload, "project"),
		Text:    text,
		Score:   e.weights.Score(f),
		Cosine:  float64(hit.Score),
		Tokens:  e.Estimate(text),
		Factors: f,
	}
}

// packBudget walks the ranked list and keeps every item that still fits.
// An item that alone overflows the remainder is skipped, not truncated,
// and packing continues with the next one.
func packBudget(items []Item, budget int) ([]Item, int) {
	out := make([]Item, 0, len(items))
	used := 0
	for _, it := range items {
		if used+it.Tokens > budget {
			continue
		}
		out = append(out, it)
		used += it.Tokens
	}
	return out, used
}

func candidatesPerKind(budget int) int {
	k := baseCandidatesPerKind * budget / baseBudget
	if k < minCandidatesPerKind {
		return minCandidatesPerKind
	}
	if k > maxCandidatesPerKind {
		return maxCandidatesPerKind
	}
	return k
}
