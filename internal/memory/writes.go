package memory

import (
	"context"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/scratchpad"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Decide registers a decision, returning the record and any confirmed
// conflicts.
func (s *Service) Decide(ctx context.Context, in registry.RegisterDecisionInput) (*registry.RegisterDecisionResult, error) {
	return s.decisions.Register(ctx, in)
}

// Supersede retires old in favor of new. Both decisions gain symmetric
// conflict links and the new decision's hop counter resets.
func (s *Service) Supersede(ctx context.Context, oldID, newID string) error {
	if oldID == "" || newID == "" {
		return apperr.Invalid("supersede requires old_id and new_id")
	}
	if oldID == newID {
		return apperr.Invalid("a decision cannot supersede itself")
	}
	return s.decisions.Supersede(ctx, oldID, newID)
}

// Validate marks a decision as revalidated, resetting its hop counter.
func (s *Service) Validate(ctx context.Context, id string) (*model.Decision, error) {
	if id == "" {
		return nil, apperr.Invalid("validate requires id")
	}
	return s.decisions.Validate(ctx, id)
}

// ThreadInput is the thread tool's payload; Op selects the transition.
type ThreadInput struct {
	Op                 string               `json:"op"`
	Project            string               `json:"project"`
	LocalID            string               `json:"local_id"`
	ID                 string               `json:"id,omitempty"`
	Title              string               `json:"title,omitempty"`
	Description        string               `json:"description,omitempty"`
	Priority           model.ThreadPriority `json:"priority,omitempty"`
	SourceConversation string               `json:"source_conversation,omitempty"`
	Resolution         string               `json:"resolution,omitempty"`
	BlockedBy          []string             `json:"blocked_by,omitempty"`
}

// Thread dispatches one thread state transition.
func (s *Service) Thread(ctx context.Context, in ThreadInput) (*model.Thread, error) {
	switch in.Op {
	case "open":
		return s.threads.Open(ctx, registry.OpenThreadInput{
			Project:            in.Project,
			LocalID:            in.LocalID,
			Title:              in.Title,
			Description:        in.Description,
			Priority:           in.Priority,
			SourceConversation: in.SourceConversation,
		})
	case "resolve":
		id, err := s.threadID(ctx, in)
		if err != nil {
			return nil, err
		}
		return s.threads.Resolve(ctx, id, in.Resolution)
	case "block":
		id, err := s.threadID(ctx, in)
		if err != nil {
			return nil, err
		}
		return s.threads.Block(ctx, id, in.BlockedBy)
	default:
		return nil, apperr.Invalid("unknown thread op %q", in.Op)
	}
}

func (s *Service) threadID(ctx context.Context, in ThreadInput) (string, error) {
	if in.ID != "" {
		return in.ID, nil
	}
	if in.Project == "" || in.LocalID == "" {
		return "", apperr.Invalid("thread %s requires id, or project with local_id", in.Op)
	}
	t, err := s.threads.GetByLocalID(ctx, in.Project, in.LocalID)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// Flag records a pending expedition flag.
func (s *Service) Flag(ctx context.Context, project string, category model.FlagCategory, description string) (*model.ExpeditionFlag, error) {
	return s.priming.AddFlag(ctx, project, category, description)
}

// CompileFlags folds a project's pending flags into a priming block.
func (s *Service) CompileFlags(ctx context.Context, project, territory string, keys []string, floor float64) (*model.PrimingBlock, error) {
	return s.priming.CompileFlags(ctx, project, territory, keys, floor)
}

// DiscardFlag marks a flag discarded so it is never compiled into priming.
func (s *Service) DiscardFlag(ctx context.Context, id string) (*model.ExpeditionFlag, error) {
	if id == "" {
		return nil, apperr.Invalid("discard requires a flag id")
	}
	return s.priming.DiscardFlag(ctx, id)
}

// Pattern registers or merges a pattern.
func (s *Service) Pattern(ctx context.Context, project, text string, confidence float64) (*registry.RegisterPatternResult, error) {
	return s.patterns.Register(ctx, project, text, confidence)
}

// Remember puts a value on the session scratchpad.
func (s *Service) Remember(ctx context.Context, key, value string, ttl time.Duration) (scratchpad.Entry, error) {
	if strings.TrimSpace(key) == "" {
		return scratchpad.Entry{}, apperr.Invalid("scratchpad key must be non-empty")
	}
	entry := s.pad.Put(key, value, ttl)
	if s.db != nil {
		if err := s.db.AppendEvent(ctx, model.EventWrite, "remember", []string{key}); err != nil {
			s.logger.Warn("memory: event append failed", "operation", "remember", "error", err)
		}
	}
	return entry, nil
}

// AddEdgeInput describes one compression event between conversations.
type AddEdgeInput struct {
	Source          string   `json:"source"`
	Target          string   `json:"target"`
	CompressionTag  string   `json:"compression_tag,omitempty"`
	Carried         []string `json:"carried,omitempty"`
	Dropped         []string `json:"dropped,omitempty"`
	ThreadsCarried  []string `json:"threads_carried,omitempty"`
	ThreadsResolved []string `json:"threads_resolved,omitempty"`
}

// AddEdge inserts a lineage edge, bumps hop counters on everything the
// source conversation left behind, and persists the edge. Re-adding an
// existing edge is a no-op.
func (s *Service) AddEdge(ctx context.Context, in AddEdgeInput) (*model.LineageEdge, error) {
	if existing, ok := s.graph.Edge(identity.EdgeID(in.Source, in.Target)); ok {
		return existing, nil
	}

	edge, err := s.graph.AddEdge(in.Source, in.Target, in.CompressionTag,
		in.Carried, in.Dropped, in.ThreadsCarried, in.ThreadsResolved)
	if err != nil {
		return nil, err
	}

	upstream := s.graph.UpstreamConversations(edge.SourceConversation)
	if err := s.decisions.BumpHops(ctx, edge, upstream); err != nil {
		return nil, err
	}
	if err := s.threads.BumpHops(ctx, edge, upstream); err != nil {
		return nil, err
	}

	// Persist the edge so the graph survives restarts. The embeddable
	// surface is synthetic; lineage is never recalled by similarity.
	surface := edge.SourceConversation + " -> " + edge.TargetConversation + " " + edge.CompressionTag
	vec, err := s.embedder.Embed(ctx, surface)
	if err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, model.CollectionLineage, vectorstore.Record{
		ID:      edge.ID,
		Vector:  vec,
		Payload: edge.Payload(),
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "persist lineage edge %s", edge.ID)
	}

	if s.db != nil {
		if err := s.db.AppendEvent(ctx, model.EventWrite, "lineage.add_edge", []string{edge.ID}); err != nil {
			s.logger.Warn("memory: event append failed", "operation", "lineage.add_edge", "error", err)
		}
	}
	return edge, nil
}

// NoteConversation registers a conversation with the lineage graph without
// writing a record. Transports call it when a client announces a session.
func (s *Service) NoteConversation(conversation, project string) {
	s.graph.NoteConversation(conversation, project)
}

var (
	minEventTime = time.Unix(0, 0).UTC()
	maxEventTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

func parseEventTime(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Invalid("bad timestamp %q: must be RFC 3339", raw)
	}
	return t.UTC(), nil
}
