package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// territoryMatchThreshold gates query-to-priming territory matching.
const territoryMatchThreshold = 0.7

// Priming manages priming blocks and the expedition flags that feed them.
type Priming struct {
	store    vectorstore.Store
	embedder embedding.Provider
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewPriming creates the registry.
func NewPriming(store vectorstore.Store, embedder embedding.Provider, events EventSink, logger *slog.Logger) *Priming {
	return &Priming{
		store:    store,
		embedder: embedder,
		events:   events,
		logger:   logger,
		now:      nowUTC,
	}
}

// RegisterBlockInput describes a priming block to store.
type RegisterBlockInput struct {
	Project           string
	TerritoryName     string
	TerritoryKeys     []string
	ConfidenceFloor   float64
	SourceExpeditions []string
	CompiledText      string
}

// RegisterBlock stores a priming block keyed by territory name.
func (r *Priming) RegisterBlock(ctx context.Context, in RegisterBlockInput) (*model.PrimingBlock, error) {
	switch {
	case strings.TrimSpace(in.Project) == "":
		return nil, apperr.Invalid("priming project must be non-empty")
	case strings.TrimSpace(in.TerritoryName) == "":
		return nil, apperr.Invalid("territory_name must be non-empty")
	case strings.TrimSpace(in.CompiledText) == "":
		return nil, apperr.Invalid("compiled_text must be non-empty")
	}

	surface := in.TerritoryName + "\n" + strings.Join(in.TerritoryKeys, " ") + "\n" + in.CompiledText
	vec, err := r.embedder.Embed(ctx, surface)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := &model.PrimingBlock{
		Header: model.Header{
			ID:        identity.PrimingID(in.Project, in.TerritoryName),
			Project:   in.Project,
			Text:      surface,
			CreatedAt: now,
			UpdatedAt: now,
		},
		TerritoryName:     in.TerritoryName,
		TerritoryKeys:     in.TerritoryKeys,
		ConfidenceFloor:   in.ConfidenceFloor,
		SourceExpeditions: in.SourceExpeditions,
		CompiledText:      in.CompiledText,
	}
	if err := r.store.Upsert(ctx, model.CollectionPriming, vectorstore.Record{ID: b.ID, Vector: vec, Payload: b.Payload()}); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "upsert priming block %s", b.ID)
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "priming.register", []string{b.ID})
	return b, nil
}

// MatchTerritory returns priming blocks whose territory resonates with the
// query embedding, best match first.
func (r *Priming) MatchTerritory(ctx context.Context, queryVec []float32, k int) ([]*model.PrimingBlock, error) {
	if k <= 0 {
		k = 5
	}
	hits, err := r.store.Search(ctx, model.CollectionPriming, queryVec, k, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "priming territory search")
	}
	var out []*model.PrimingBlock
	for _, hit := range hits {
		if float64(hit.Score) < territoryMatchThreshold {
			continue
		}
		out = append(out, model.PrimingFromPayload(hit.ID, hit.Payload))
	}
	return out, nil
}

// AddFlag records a pending expedition flag.
func (r *Priming) AddFlag(ctx context.Context, project string, category model.FlagCategory, description string) (*model.ExpeditionFlag, error) {
	switch {
	case strings.TrimSpace(project) == "":
		return nil, apperr.Invalid("flag project must be non-empty")
	case strings.TrimSpace(description) == "":
		return nil, apperr.Invalid("flag description must be non-empty")
	case !model.ValidFlagCategory(category):
		return nil, apperr.Invalid("unknown flag category %q", category)
	}

	vec, err := r.embedder.Embed(ctx, description)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	f := &model.ExpeditionFlag{
		Header: model.Header{
			ID:        identity.FlagID(project, string(category), description),
			Project:   project,
			Text:      description,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Category:    category,
		Description: description,
		Status:      model.FlagPending,
	}
	if err := r.upsertFlag(ctx, f, vec); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "flag.add", []string{f.ID})
	return f, nil
}

// ListFlags returns a project's flags, optionally restricted to a status,
// newest first.
func (r *Priming) ListFlags(ctx context.Context, project string, status model.FlagStatus) ([]*model.ExpeditionFlag, error) {
	filter := vectorstore.Filter{"project": project}
	if status != "" {
		filter["status"] = string(status)
	}
	records, err := r.store.List(ctx, model.CollectionFlags, filter, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list flags")
	}
	out := make([]*model.ExpeditionFlag, 0, len(records))
	for _, rec := range records {
		out = append(out, model.FlagFromPayload(rec.ID, rec.Payload))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CountPendingFlags returns the number of pending flags across projects.
func (r *Priming) CountPendingFlags(ctx context.Context) (int, error) {
	return r.store.Count(ctx, model.CollectionFlags, vectorstore.Filter{"status": string(model.FlagPending)})
}

// CompileFlags folds a project's pending flags into a priming block and
// marks them compiled. Returns the new block.
func (r *Priming) CompileFlags(ctx context.Context, project, territoryName string, territoryKeys []string, confidenceFloor float64) (*model.PrimingBlock, error) {
	flags, err := r.ListFlags(ctx, project, model.FlagPending)
	if err != nil {
		return nil, err
	}
	if len(flags) == 0 {
		return nil, apperr.NotFound("no pending flags in project %s", project)
	}

	var sb strings.Builder
	sources := make([]string, 0, len(flags))
	for i := len(flags) - 1; i >= 0; i-- { // oldest first in the compiled text
		f := flags[i]
		sb.WriteString("[" + string(f.Category) + "] " + f.Description + "\n")
		sources = append(sources, f.ID)
	}

	block, err := r.RegisterBlock(ctx, RegisterBlockInput{
		Project:           project,
		TerritoryName:     territoryName,
		TerritoryKeys:     territoryKeys,
		ConfidenceFloor:   confidenceFloor,
		SourceExpeditions: sources,
		CompiledText:      sb.String(),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range flags {
		rec, err := r.store.Get(ctx, model.CollectionFlags, f.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load flag %s", f.ID)
		}
		f.Status = model.FlagCompiled
		f.UpdatedAt = r.now()
		if err := r.upsertFlag(ctx, f, rec.Vector); err != nil {
			return nil, err
		}
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "flag.compile", sources)
	return block, nil
}

// DiscardFlag marks a flag discarded.
func (r *Priming) DiscardFlag(ctx context.Context, id string) (*model.ExpeditionFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, model.CollectionFlags, id)
	if err != nil {
		return nil, apperr.NotFound("flag %s", id)
	}
	f := model.FlagFromPayload(rec.ID, rec.Payload)
	f.Status = model.FlagDiscarded
	f.UpdatedAt = r.now()
	if err := r.upsertFlag(ctx, f, rec.Vector); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "flag.discard", []string{id})
	return f, nil
}

func (r *Priming) upsertFlag(ctx context.Context, f *model.ExpeditionFlag, vec []float32) error {
	err := r.store.Upsert(ctx, model.CollectionFlags, vectorstore.Record{
		ID:      f.ID,
		Vector:  vec,
		Payload: f.Payload(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "upsert flag %s", f.ID)
	}
	return nil
}
