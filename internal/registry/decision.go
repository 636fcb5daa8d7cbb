package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/conflicts"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/lineage"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Staleness thresholds in compression hops, shared by decisions and threads.
const (
	StaleWarningHops  = 3
	StaleCriticalHops = 6
)

// conflictSearchK is the neighbor count used during conflict detection.
const conflictSearchK = 8

// Decisions is the decision registry.
type Decisions struct {
	store    vectorstore.Store
	embedder embedding.Provider
	events   EventSink
	graph    *lineage.Graph
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	ids map[string]string // project + "\x00" + local id -> record id
}

// NewDecisions creates the registry. graph may be nil in tests that do not
// exercise lineage.
func NewDecisions(store vectorstore.Store, embedder embedding.Provider, events EventSink, graph *lineage.Graph, logger *slog.Logger) *Decisions {
	return &Decisions{
		store:    store,
		embedder: embedder,
		events:   events,
		graph:    graph,
		logger:   logger,
		now:      nowUTC,
		ids:      make(map[string]string),
	}
}

// Hydrate rebuilds the local-id index from the vector store.
func (r *Decisions) Hydrate(ctx context.Context) error {
	records, err := r.store.List(ctx, model.CollectionDecisions, nil, 0)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		d := model.DecisionFromPayload(rec.ID, rec.Payload)
		r.ids[localKey(d.Project, d.LocalID)] = d.ID
		if r.graph != nil {
			r.graph.NoteConversation(d.SourceConversation, d.Project)
		}
	}
	return nil
}

func localKey(project, localID string) string {
	return project + "\x00" + localID
}

// RegisterDecisionInput is the decide operation's payload.
type RegisterDecisionInput struct {
	Project              string
	LocalID              string
	Text                 string
	Rationale            string
	AlternativesRejected []string
	EpistemicTier        float64
	SourceConversation   string
}

// ConflictReport explains one confirmed contradiction.
type ConflictReport struct {
	WithID      string `json:"with_id"`
	WithLocalID string `json:"with_local_id,omitempty"`
	conflicts.Result
}

// RegisterDecisionResult is the decide operation's response.
type RegisterDecisionResult struct {
	Decision  *model.Decision  `json:"decision"`
	Action    string           `json:"action"` // inserted, updated, or validated
	Conflicts []ConflictReport `json:"conflicts,omitempty"`
}

func (in RegisterDecisionInput) validate() error {
	switch {
	case strings.TrimSpace(in.Project) == "":
		return apperr.Invalid("decision project must be non-empty")
	case strings.TrimSpace(in.LocalID) == "":
		return apperr.Invalid("decision local_id must be non-empty")
	case strings.TrimSpace(in.Text) == "":
		return apperr.Invalid("decision text must be non-empty")
	case in.EpistemicTier < 0 || in.EpistemicTier > 1:
		return apperr.Invalid("epistemic_tier must be in [0, 1], got %v", in.EpistemicTier)
	}
	return nil
}

// Register embeds the decision, finds contradictory neighbors with the
// two-signal detector, and writes the record through to the vector store.
// Registering the same local id with identical text is a validation, not a
// duplicate: hops reset and no second event is appended.
func (r *Decisions) Register(ctx context.Context, in RegisterDecisionInput) (*RegisterDecisionResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := identity.DecisionID(in.Project, in.LocalID)
	now := r.now()

	if existingID, ok := r.ids[localKey(in.Project, in.LocalID)]; ok {
		rec, err := r.store.Get(ctx, model.CollectionDecisions, existingID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load decision %s", existingID)
		}
		existing := model.DecisionFromPayload(rec.ID, rec.Payload)
		if sameText(existing.Text, in.Text) {
			existing.HopsSinceValidated = 0
			existing.UpdatedAt = now
			if err := r.upsert(ctx, existing, rec.Vector); err != nil {
				return nil, err
			}
			return &RegisterDecisionResult{Decision: existing, Action: "validated"}, nil
		}
	}

	vec, err := r.embedder.Embed(ctx, in.Text)
	if err != nil {
		return nil, err
	}

	reports, err := r.detectConflicts(ctx, id, in.Project, in.Text, vec)
	if err != nil {
		return nil, err
	}

	conflictIDs := make([]string, 0, len(reports))
	for _, rep := range reports {
		conflictIDs = append(conflictIDs, rep.WithID)
	}

	d := &model.Decision{
		Header: model.Header{
			ID:                 id,
			Project:            in.Project,
			Text:               in.Text,
			SourceConversation: in.SourceConversation,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		LocalID:              in.LocalID,
		Rationale:            in.Rationale,
		AlternativesRejected: in.AlternativesRejected,
		EpistemicTier:        in.EpistemicTier,
		Status:               model.DecisionActive,
		ConflictsWith:        conflictIDs,
	}

	action := "inserted"
	if _, ok := r.ids[localKey(in.Project, in.LocalID)]; ok {
		action = "updated"
	}

	if err := r.upsert(ctx, d, vec); err != nil {
		return nil, err
	}

	// Conflict links are symmetric: the neighbor learns about us too.
	for _, rep := range reports {
		if err := r.linkConflict(ctx, rep.WithID, id); err != nil {
			r.logger.Warn("registry: symmetric conflict link failed", "decision", rep.WithID, "error", err)
		}
	}

	r.ids[localKey(in.Project, in.LocalID)] = id
	if r.graph != nil {
		r.graph.NoteConversation(in.SourceConversation, in.Project)
	}

	appendEvent(ctx, r.events, r.logger, model.EventWrite, "decision.register", []string{id})
	return &RegisterDecisionResult{Decision: d, Action: action, Conflicts: reports}, nil
}

func sameText(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}

// detectConflicts searches same-project and cross-project active decisions
// and runs the two-signal detector on close neighbors. The store's filters
// are equality-only, so project exclusion over-fetches and strips in Go.
func (r *Decisions) detectConflicts(ctx context.Context, selfID, project, text string, vec []float32) ([]ConflictReport, error) {
	sameProject, err := r.store.Search(ctx, model.CollectionDecisions, vec, conflictSearchK, vectorstore.Filter{
		"status":  string(model.DecisionActive),
		"project": project,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "decision neighbor search")
	}

	allProjects, err := r.store.Search(ctx, model.CollectionDecisions, vec, conflictSearchK*3, vectorstore.Filter{
		"status": string(model.DecisionActive),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "decision cross-project search")
	}

	seen := map[string]bool{selfID: true}
	var reports []ConflictReport
	consider := func(hit vectorstore.Hit) {
		if seen[hit.ID] || float64(hit.Score) < conflicts.SimilarityThreshold {
			return
		}
		seen[hit.ID] = true
		neighbor := model.DecisionFromPayload(hit.ID, hit.Payload)
		res := conflicts.Detect(float64(hit.Score), text, neighbor.Text)
		if res.Conflict {
			reports = append(reports, ConflictReport{WithID: hit.ID, WithLocalID: neighbor.LocalID, Result: res})
		}
	}

	for _, hit := range sameProject {
		consider(hit)
	}
	crossSeen := 0
	for _, hit := range allProjects {
		if model.PayloadString(hit.Payload, "project") == project {
			continue
		}
		consider(hit)
		if crossSeen++; crossSeen == conflictSearchK {
			break
		}
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].WithID < reports[j].WithID })
	return reports, nil
}

// linkConflict appends otherID to the neighbor's conflicts_with.
func (r *Decisions) linkConflict(ctx context.Context, id, otherID string) error {
	rec, err := r.store.Get(ctx, model.CollectionDecisions, id)
	if err != nil {
		return err
	}
	d := model.DecisionFromPayload(rec.ID, rec.Payload)
	for _, c := range d.ConflictsWith {
		if c == otherID {
			return nil
		}
	}
	d.ConflictsWith = append(d.ConflictsWith, otherID)
	sort.Strings(d.ConflictsWith)
	d.UpdatedAt = r.now()
	return r.upsert(ctx, d, rec.Vector)
}

func (r *Decisions) upsert(ctx context.Context, d *model.Decision, vec []float32) error {
	err := r.store.Upsert(ctx, model.CollectionDecisions, vectorstore.Record{
		ID:      d.ID,
		Vector:  vec,
		Payload: d.Payload(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "upsert decision %s", d.ID)
	}
	return nil
}

// Get returns a decision by record id.
func (r *Decisions) Get(ctx context.Context, id string) (*model.Decision, error) {
	rec, err := r.store.Get(ctx, model.CollectionDecisions, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, apperr.NotFound("decision %s", id)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "load decision %s", id)
	}
	return model.DecisionFromPayload(rec.ID, rec.Payload), nil
}

// GetByLocalID resolves a project-local id like D042.
func (r *Decisions) GetByLocalID(ctx context.Context, project, localID string) (*model.Decision, error) {
	r.mu.Lock()
	id, ok := r.ids[localKey(project, localID)]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("decision %s in project %s", localID, project)
	}
	return r.Get(ctx, id)
}

// Supersede marks old superseded by new: both gain symmetric conflict
// links and the new decision's hop counter resets.
func (r *Decisions) Supersede(ctx context.Context, oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldRec, err := r.store.Get(ctx, model.CollectionDecisions, oldID)
	if err != nil {
		return apperr.NotFound("decision %s", oldID)
	}
	newRec, err := r.store.Get(ctx, model.CollectionDecisions, newID)
	if err != nil {
		return apperr.NotFound("decision %s", newID)
	}

	oldD := model.DecisionFromPayload(oldRec.ID, oldRec.Payload)
	newD := model.DecisionFromPayload(newRec.ID, newRec.Payload)

	oldD.Status = model.DecisionSuperseded
	oldD.ConflictsWith = appendUnique(oldD.ConflictsWith, newID)
	newD.ConflictsWith = appendUnique(newD.ConflictsWith, oldID)
	newD.HopsSinceValidated = 0
	now := r.now()
	oldD.UpdatedAt = now
	newD.UpdatedAt = now

	if err := r.upsert(ctx, oldD, oldRec.Vector); err != nil {
		return err
	}
	if err := r.upsert(ctx, newD, newRec.Vector); err != nil {
		return err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "decision.supersede", []string{oldID, newID})
	return nil
}

// Validate resets the hop counter and advances the validation watermark.
func (r *Decisions) Validate(ctx context.Context, id string) (*model.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, model.CollectionDecisions, id)
	if err != nil {
		return nil, apperr.NotFound("decision %s", id)
	}
	d := model.DecisionFromPayload(rec.ID, rec.Payload)
	d.LastValidatedAtHop += d.HopsSinceValidated
	d.HopsSinceValidated = 0
	d.UpdatedAt = r.now()
	if err := r.upsert(ctx, d, rec.Vector); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "decision.validate", []string{id})
	return d, nil
}

// BumpHops increments hops_since_validated for every active decision whose
// source conversation is upstream of the new edge, except those the edge
// explicitly revalidates. Called on every lineage add_edge; conversations
// is the upstream set including the edge's own source.
func (r *Decisions) BumpHops(ctx context.Context, edge *model.LineageEdge, conversations []string) error {
	if len(conversations) == 0 {
		conversations = []string{edge.SourceConversation}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conversation := range conversations {
		records, err := r.store.List(ctx, model.CollectionDecisions, vectorstore.Filter{
			"status":              string(model.DecisionActive),
			"source_conversation": conversation,
		}, 0)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "list decisions for hop bump")
		}

		for _, rec := range records {
			d := model.DecisionFromPayload(rec.ID, rec.Payload)
			if edge.CarriesValidated(d.ID) || edge.CarriesValidated(d.LocalID) {
				d.LastValidatedAtHop += d.HopsSinceValidated
				d.HopsSinceValidated = 0
			} else {
				d.HopsSinceValidated++
			}
			d.UpdatedAt = r.now()
			if err := r.upsert(ctx, d, rec.Vector); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListProject returns a project's decisions sorted by epistemic tier
// descending, active first.
func (r *Decisions) ListProject(ctx context.Context, project string) ([]*model.Decision, error) {
	records, err := r.store.List(ctx, model.CollectionDecisions, vectorstore.Filter{"project": project}, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list decisions")
	}
	out := make([]*model.Decision, 0, len(records))
	for _, rec := range records {
		out = append(out, model.DecisionFromPayload(rec.ID, rec.Payload))
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Status == model.DecisionActive) != (out[j].Status == model.DecisionActive) {
			return out[i].Status == model.DecisionActive
		}
		if out[i].EpistemicTier != out[j].EpistemicTier {
			return out[i].EpistemicTier > out[j].EpistemicTier
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stale returns active decisions at or past the warning threshold,
// most-stale first.
func (r *Decisions) Stale(ctx context.Context) ([]*model.Decision, error) {
	records, err := r.store.List(ctx, model.CollectionDecisions, vectorstore.Filter{
		"status": string(model.DecisionActive),
	}, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list decisions")
	}
	var out []*model.Decision
	for _, rec := range records {
		d := model.DecisionFromPayload(rec.ID, rec.Payload)
		if d.HopsSinceValidated >= StaleWarningHops {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HopsSinceValidated != out[j].HopsSinceValidated {
			return out[i].HopsSinceValidated > out[j].HopsSinceValidated
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	list = append(list, v)
	sort.Strings(list)
	return list
}
