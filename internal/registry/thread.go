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
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/lineage"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Threads is the thread registry. State machine: open -> blocked -> open
// -> resolved; resolved is terminal, a new thread is opened to revisit.
type Threads struct {
	store    vectorstore.Store
	embedder embedding.Provider
	events   EventSink
	graph    *lineage.Graph
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	ids map[string]string // project + "\x00" + local id -> record id
}

// NewThreads creates the registry.
func NewThreads(store vectorstore.Store, embedder embedding.Provider, events EventSink, graph *lineage.Graph, logger *slog.Logger) *Threads {
	return &Threads{
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
func (r *Threads) Hydrate(ctx context.Context) error {
	records, err := r.store.List(ctx, model.CollectionThreads, nil, 0)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		t := model.ThreadFromPayload(rec.ID, rec.Payload)
		r.ids[localKey(t.Project, t.LocalID)] = t.ID
		if r.graph != nil {
			r.graph.NoteConversation(t.SourceConversation, t.Project)
		}
	}
	return nil
}

// OpenThreadInput is the thread open operation's payload.
type OpenThreadInput struct {
	Project            string
	LocalID            string
	Title              string
	Description        string
	Priority           model.ThreadPriority
	SourceConversation string
}

func (in OpenThreadInput) validate() error {
	switch {
	case strings.TrimSpace(in.Project) == "":
		return apperr.Invalid("thread project must be non-empty")
	case strings.TrimSpace(in.LocalID) == "":
		return apperr.Invalid("thread local_id must be non-empty")
	case strings.TrimSpace(in.Title) == "":
		return apperr.Invalid("thread title must be non-empty")
	}
	switch in.Priority {
	case "", model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
	default:
		return apperr.Invalid("unknown thread priority %q", in.Priority)
	}
	return nil
}

// Open creates a thread, or reopens a blocked one with the same local id.
// Reopening a resolved thread is rejected; resolved is terminal.
func (r *Threads) Open(ctx context.Context, in OpenThreadInput) (*model.Thread, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.ids[localKey(in.Project, in.LocalID)]; ok {
		rec, err := r.store.Get(ctx, model.CollectionThreads, existingID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "load thread %s", existingID)
		}
		t := model.ThreadFromPayload(rec.ID, rec.Payload)
		switch t.Status {
		case model.ThreadResolved:
			return nil, apperr.Conflictf("thread %s is resolved; open a new thread to revisit", in.LocalID)
		case model.ThreadBlocked:
			t.Status = model.ThreadOpen
			t.BlockedBy = nil
			t.UpdatedAt = r.now()
			if err := r.upsert(ctx, t, rec.Vector); err != nil {
				return nil, err
			}
			appendEvent(ctx, r.events, r.logger, model.EventWrite, "thread.reopen", []string{t.ID})
			return t, nil
		default:
			// Idempotent open of an already-open thread.
			return t, nil
		}
	}

	surface := in.Title
	if in.Description != "" {
		surface = in.Title + "\n" + in.Description
	}
	vec, err := r.embedder.Embed(ctx, surface)
	if err != nil {
		return nil, err
	}

	now := r.now()
	t := &model.Thread{
		Header: model.Header{
			ID:                 identity.ThreadID(in.Project, in.LocalID),
			Project:            in.Project,
			Text:               surface,
			SourceConversation: in.SourceConversation,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		LocalID:     in.LocalID,
		Title:       in.Title,
		Description: in.Description,
		Status:      model.ThreadOpen,
		Priority:    priority,
	}
	if err := r.upsert(ctx, t, vec); err != nil {
		return nil, err
	}
	r.ids[localKey(in.Project, in.LocalID)] = t.ID
	if r.graph != nil {
		r.graph.NoteConversation(in.SourceConversation, in.Project)
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "thread.open", []string{t.ID})
	return t, nil
}

// Resolve closes a thread with a non-empty resolution. Terminal.
func (r *Threads) Resolve(ctx context.Context, id, resolution string) (*model.Thread, error) {
	if strings.TrimSpace(resolution) == "" {
		return nil, apperr.Invalid("resolution must be non-empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, model.CollectionThreads, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, apperr.NotFound("thread %s", id)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "load thread %s", id)
	}
	t := model.ThreadFromPayload(rec.ID, rec.Payload)
	if t.Status == model.ThreadResolved {
		return nil, apperr.Conflictf("thread %s already resolved", id)
	}
	t.Status = model.ThreadResolved
	t.Resolution = resolution
	t.BlockedBy = nil
	t.UpdatedAt = r.now()
	if err := r.upsert(ctx, t, rec.Vector); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "thread.resolve", []string{id})
	return t, nil
}

// Block marks a thread blocked on the given blockers.
func (r *Threads) Block(ctx context.Context, id string, blockers []string) (*model.Thread, error) {
	if len(blockers) == 0 {
		return nil, apperr.Invalid("block requires at least one blocker")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, model.CollectionThreads, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, apperr.NotFound("thread %s", id)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "load thread %s", id)
	}
	t := model.ThreadFromPayload(rec.ID, rec.Payload)
	if t.Status == model.ThreadResolved {
		return nil, apperr.Conflictf("thread %s is resolved", id)
	}
	t.Status = model.ThreadBlocked
	t.BlockedBy = blockers
	t.UpdatedAt = r.now()
	if err := r.upsert(ctx, t, rec.Vector); err != nil {
		return nil, err
	}
	appendEvent(ctx, r.events, r.logger, model.EventWrite, "thread.block", []string{id})
	return t, nil
}

// Get returns a thread by record id.
func (r *Threads) Get(ctx context.Context, id string) (*model.Thread, error) {
	rec, err := r.store.Get(ctx, model.CollectionThreads, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, apperr.NotFound("thread %s", id)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "load thread %s", id)
	}
	return model.ThreadFromPayload(rec.ID, rec.Payload), nil
}

// GetByLocalID resolves a project-local id like T017.
func (r *Threads) GetByLocalID(ctx context.Context, project, localID string) (*model.Thread, error) {
	r.mu.Lock()
	id, ok := r.ids[localKey(project, localID)]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("thread %s in project %s", localID, project)
	}
	return r.Get(ctx, id)
}

// BumpHops mirrors the decision hop bump for unresolved threads upstream
// of a compression boundary.
func (r *Threads) BumpHops(ctx context.Context, edge *model.LineageEdge, conversations []string) error {
	if len(conversations) == 0 {
		conversations = []string{edge.SourceConversation}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conversation := range conversations {
		for _, status := range []model.ThreadStatus{model.ThreadOpen, model.ThreadBlocked} {
			records, err := r.store.List(ctx, model.CollectionThreads, vectorstore.Filter{
				"status":              string(status),
				"source_conversation": conversation,
			}, 0)
			if err != nil {
				return apperr.Wrap(apperr.KindUnavailable, err, "list threads for hop bump")
			}
			for _, rec := range records {
				t := model.ThreadFromPayload(rec.ID, rec.Payload)
				if containsID(edge.ThreadsResolved, t.ID) || containsID(edge.ThreadsResolved, t.LocalID) {
					continue
				}
				if containsID(edge.ThreadsCarried, t.ID+model.RevalidatedMarker) || containsID(edge.ThreadsCarried, t.LocalID+model.RevalidatedMarker) {
					t.HopsSinceValidated = 0
				} else {
					t.HopsSinceValidated++
				}
				t.UpdatedAt = r.now()
				if err := r.upsert(ctx, t, rec.Vector); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ListProject returns a project's threads sorted by priority (high first)
// then update recency.
func (r *Threads) ListProject(ctx context.Context, project string) ([]*model.Thread, error) {
	records, err := r.store.List(ctx, model.CollectionThreads, vectorstore.Filter{"project": project}, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list threads")
	}
	out := make([]*model.Thread, 0, len(records))
	for _, rec := range records {
		out = append(out, model.ThreadFromPayload(rec.ID, rec.Payload))
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := model.PriorityRank(out[i].Priority), model.PriorityRank(out[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stale returns unresolved threads at or past the warning threshold,
// most-stale first.
func (r *Threads) Stale(ctx context.Context) ([]*model.Thread, error) {
	var out []*model.Thread
	for _, status := range []model.ThreadStatus{model.ThreadOpen, model.ThreadBlocked} {
		records, err := r.store.List(ctx, model.CollectionThreads, vectorstore.Filter{"status": string(status)}, 0)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "list threads")
		}
		for _, rec := range records {
			t := model.ThreadFromPayload(rec.ID, rec.Payload)
			if t.HopsSinceValidated >= StaleWarningHops {
				out = append(out, t)
			}
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

func (r *Threads) upsert(ctx context.Context, t *model.Thread, vec []float32) error {
	err := r.store.Upsert(ctx, model.CollectionThreads, vectorstore.Record{
		ID:      t.ID,
		Vector:  vec,
		Payload: t.Payload(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "upsert thread %s", t.ID)
	}
	return nil
}

func containsID(list []string, id string) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
