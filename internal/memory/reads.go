package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/lineage"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/scratchpad"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Recall runs the attention engine over every collection.
func (s *Service) Recall(ctx context.Context, in attention.RecallInput) (*attention.Result, error) {
	res, err := s.engine.Recall(ctx, in)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		ids = append(ids, it.ID)
	}
	s.readEvent(ctx, "recall", ids)
	return res, nil
}

// ProjectContext is the project_context response.
type ProjectContext struct {
	Project        string                  `json:"project"`
	Decisions      []*model.Decision       `json:"decisions"`
	Threads        []*model.Thread         `json:"threads"`
	Flags          []*model.ExpeditionFlag `json:"flags"`
	StaleDecisions []*model.Decision       `json:"stale_decisions,omitempty"`
	StaleThreads   []*model.Thread         `json:"stale_threads,omitempty"`
	Conflicts      []*model.Decision       `json:"conflicts,omitempty"`
}

// GetProjectContext assembles a project's working state: decisions by tier,
// threads by priority and recency, flags, plus the stale and contested
// subsets.
func (s *Service) GetProjectContext(ctx context.Context, project string) (*ProjectContext, error) {
	if strings.TrimSpace(project) == "" {
		return nil, apperr.Invalid("project must be non-empty")
	}

	decisions, err := s.decisions.ListProject(ctx, project)
	if err != nil {
		return nil, err
	}
	threads, err := s.threads.ListProject(ctx, project)
	if err != nil {
		return nil, err
	}
	flags, err := s.priming.ListFlags(ctx, project, "")
	if err != nil {
		return nil, err
	}

	out := &ProjectContext{Project: project, Decisions: decisions, Threads: threads, Flags: flags}
	for _, d := range decisions {
		if d.Status == model.DecisionActive && d.HopsSinceValidated >= registry.StaleWarningHops {
			out.StaleDecisions = append(out.StaleDecisions, d)
		}
		if d.Status == model.DecisionActive && len(d.ConflictsWith) > 0 {
			out.Conflicts = append(out.Conflicts, d)
		}
	}
	for _, t := range threads {
		if t.Status != model.ThreadResolved && t.HopsSinceValidated >= registry.StaleWarningHops {
			out.StaleThreads = append(out.StaleThreads, t)
		}
	}

	s.readEvent(ctx, "project_context", []string{project})
	return out, nil
}

// Entanglement returns the latest scan snapshot.
func (s *Service) Entanglement(ctx context.Context) (*model.ScanSnapshot, error) {
	if s.db == nil {
		return nil, apperr.NotFound("no entanglement scan has run")
	}
	snap, err := s.db.LatestScan(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("no entanglement scan has run")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "load latest scan")
	}
	s.readEvent(ctx, "entanglement", nil)
	return snap, nil
}

// ScanHistory lists snapshot summaries, newest first.
func (s *Service) ScanHistory(ctx context.Context, limit int) ([]model.ScanSummary, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.ListScans(ctx, limit)
}

// Trace returns a conversation's lineage in both directions.
func (s *Service) Trace(ctx context.Context, conversation string, limit int) (*lineage.Trace, error) {
	if strings.TrimSpace(conversation) == "" {
		return nil, apperr.Invalid("conversation_id must be non-empty")
	}
	if !s.graph.Known(conversation) {
		return nil, apperr.NotFound("conversation %s unknown", conversation)
	}
	trace := s.graph.TraceConversation(conversation, limit)
	s.readEvent(ctx, "trace", []string{conversation})
	return &trace, nil
}

// Alerts summarizes everything that needs operator attention.
type Alerts struct {
	StaleDecisions int `json:"stale_decisions"`
	StaleThreads   int `json:"stale_threads"`
	Conflicts      int `json:"conflicts"`
	PendingFlags   int `json:"pending_flags"`
	Resonances     int `json:"resonances"`
	LooseEnds      int `json:"loose_ends"`
}

// GetAlerts counts stale records, open conflicts, pending flags, and the
// latest scan's resonances and loose ends.
func (s *Service) GetAlerts(ctx context.Context) (*Alerts, error) {
	staleD, err := s.decisions.Stale(ctx)
	if err != nil {
		return nil, err
	}
	staleT, err := s.threads.Stale(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.priming.CountPendingFlags(ctx)
	if err != nil {
		return nil, err
	}

	active, err := s.store.List(ctx, model.CollectionDecisions, vectorstore.Filter{
		"status": string(model.DecisionActive),
	}, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list decisions for alerts")
	}
	contested := 0
	for _, rec := range active {
		if model.PayloadBool(rec.Payload, "has_conflicts") {
			contested++
		}
	}

	out := &Alerts{
		StaleDecisions: len(staleD),
		StaleThreads:   len(staleT),
		Conflicts:      contested,
		PendingFlags:   pending,
	}
	if s.db != nil {
		snap, err := s.db.LatestScan(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load latest scan")
		default:
			out.Resonances = snap.Counts.Resonances
			out.LooseEnds = snap.Counts.LooseEnds
		}
	}

	s.readEvent(ctx, "alerts", nil)
	return out, nil
}

// SearchHit is one scoped search result.
type SearchHit struct {
	ID      string     `json:"id"`
	Kind    model.Kind `json:"kind"`
	Project string     `json:"project"`
	Text    string     `json:"text"`
	Score   float64    `json:"score"`
}

// searchScopes are the collections the search tool accepts, by scope name.
var searchScopes = map[string]string{
	"decisions": model.CollectionDecisions,
	"threads":   model.CollectionThreads,
	"patterns":  model.CollectionPatterns,
	"priming":   model.CollectionPriming,
	"flags":     model.CollectionFlags,
	"messages":  model.CollectionMessages,
}

// Search runs a plain similarity query against a single collection.
func (s *Service) Search(ctx context.Context, scope, query string, k int) ([]SearchHit, error) {
	collection, ok := searchScopes[scope]
	if !ok {
		return nil, apperr.Invalid("unknown search scope %q", scope)
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Invalid("search query must be non-empty")
	}
	if k <= 0 {
		k = 10
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, collection, vec, k, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "search %s", collection)
	}

	out := make([]SearchHit, 0, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchHit{
			ID:      h.ID,
			Kind:    model.KindForCollection(collection),
			Project: model.PayloadString(h.Payload, "project"),
			Text:    model.PayloadString(h.Payload, "text"),
			Score:   float64(h.Score),
		})
		ids = append(ids, h.ID)
	}
	s.readEvent(ctx, "search", ids)
	return out, nil
}

// Stats reports record counts per collection.
type Stats struct {
	Collections map[string]int `json:"collections"`
	Total       int            `json:"total"`
}

// GetStats counts every collection, lineage included.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	out := &Stats{Collections: make(map[string]int)}
	for _, c := range model.AllCollections {
		n, err := s.store.Count(ctx, c, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "count %s", c)
		}
		out.Collections[c] = n
		out.Total += n
	}
	s.readEvent(ctx, "stats", nil)
	return out, nil
}

// ProjectInfo is one row of the projects listing.
type ProjectInfo struct {
	Name   string         `json:"name"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// ListProjects aggregates record counts per project across collections.
func (s *Service) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	byProject := make(map[string]*ProjectInfo)
	for _, c := range []string{
		model.CollectionDecisions, model.CollectionThreads, model.CollectionPatterns,
		model.CollectionPriming, model.CollectionFlags, model.CollectionMessages,
	} {
		records, err := s.store.List(ctx, c, nil, 0)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "list %s", c)
		}
		for _, rec := range records {
			project := model.PayloadString(rec.Payload, "project")
			if project == "" {
				continue
			}
			info, ok := byProject[project]
			if !ok {
				info = &ProjectInfo{Name: project, Counts: make(map[string]int)}
				byProject[project] = info
			}
			info.Counts[c]++
			info.Total++
		}
	}

	out := make([]ProjectInfo, 0, len(byProject))
	for _, info := range byProject {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	s.readEvent(ctx, "projects", nil)
	return out, nil
}

// MatchPriming returns priming blocks whose territory resonates with the
// query, best match first.
func (s *Service) MatchPriming(ctx context.Context, query string, k int) ([]*model.PrimingBlock, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Invalid("priming match query must be non-empty")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	blocks, err := s.priming.MatchTerritory(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	s.readEvent(ctx, "priming.match", nil)
	return blocks, nil
}

// Session returns the live scratchpad snapshot for one session.
func (s *Service) Session(ctx context.Context, session string) ([]scratchpad.Entry, error) {
	if strings.TrimSpace(session) == "" {
		return nil, apperr.Invalid("session_id must be non-empty")
	}
	entries := s.pad.Snapshot(session)
	s.readEvent(ctx, "session", []string{session})
	return entries, nil
}

// Events returns the audit trail for a time range, oldest first.
func (s *Service) Events(ctx context.Context, from, to string, limit int) ([]model.Event, error) {
	if s.db == nil {
		return nil, nil
	}
	fromT, err := parseEventTime(from, minEventTime)
	if err != nil {
		return nil, err
	}
	toT, err := parseEventTime(to, maxEventTime)
	if err != nil {
		return nil, err
	}
	return s.db.EventsBetween(ctx, fromT, toT, limit)
}
