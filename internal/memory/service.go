// Package memory is the service facade shared by the HTTP and MCP
// transports. It wires the registries, the lineage graph, the attention
// engine, the scratchpad, and the entanglement scanner behind one API whose
// methods correspond to the tool surface.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/entanglement"
	"github.com/mnemo-ai/mnemo/internal/gravity"
	"github.com/mnemo-ai/mnemo/internal/lineage"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/scratchpad"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Service is the assembled memory core.
type Service struct {
	store    vectorstore.Store
	db       *storage.DB
	embedder embedding.Provider

	decisions *registry.Decisions
	threads   *registry.Threads
	patterns  *registry.Patterns
	priming   *registry.Priming
	graph     *lineage.Graph
	engine    *attention.Engine
	field     *gravity.Orchestrator
	pad       *scratchpad.Pad
	scanner   *entanglement.Scanner

	logger *slog.Logger
	now    func() time.Time
}

// Deps are the external collaborators the service needs.
type Deps struct {
	Store         vectorstore.Store
	DB            *storage.DB
	Embedder      embedding.Provider
	Weights       attention.Weights
	DefaultBudget int
	Logger        *slog.Logger
}

// New assembles the service. The event log and scan sink are both backed by
// the sqlite database.
func New(d Deps) *Service {
	graph := lineage.New()
	var sink registry.EventSink = registry.NopSink{}
	var snaps entanglement.SnapshotSink
	var roles gravity.RoleSource
	var scans gravity.ScanSource
	if d.DB != nil {
		sink = d.DB
		snaps = d.DB
		roles = d.DB
		scans = d.DB
	}
	engine := attention.NewEngine(d.Store, d.Embedder, d.Weights, d.DefaultBudget, d.Logger)
	return &Service{
		store:     d.Store,
		db:        d.DB,
		embedder:  d.Embedder,
		decisions: registry.NewDecisions(d.Store, d.Embedder, sink, graph, d.Logger),
		threads:   registry.NewThreads(d.Store, d.Embedder, sink, graph, d.Logger),
		patterns:  registry.NewPatterns(d.Store, d.Embedder, sink, d.Logger),
		priming:   registry.NewPriming(d.Store, d.Embedder, sink, d.Logger),
		graph:     graph,
		engine:    engine,
		field:     gravity.NewOrchestrator(engine, d.Embedder, roles, scans, d.Logger),
		pad:       scratchpad.New(),
		scanner:   entanglement.NewScanner(d.Store, snaps, sink, d.Logger),
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Hydrate rebuilds in-memory indices from the vector store: the registries'
// local-id maps and the lineage graph.
func (s *Service) Hydrate(ctx context.Context) error {
	if err := s.decisions.Hydrate(ctx); err != nil {
		return err
	}
	if err := s.threads.Hydrate(ctx); err != nil {
		return err
	}

	records, err := s.store.List(ctx, model.CollectionLineage, nil, 0)
	if err != nil {
		return err
	}
	edges := make([]*model.LineageEdge, 0, len(records))
	for _, rec := range records {
		edges = append(edges, model.EdgeFromPayload(rec.ID, rec.Payload))
	}
	s.graph.Load(edges)
	s.logger.Info("memory: hydrated", "lineage_edges", len(edges))
	return nil
}

// Scanner exposes the entanglement scanner for the background loop.
func (s *Service) Scanner() *entanglement.Scanner { return s.scanner }

// Scratchpad exposes the pad for the TTL sweep loop.
func (s *Service) Scratchpad() *scratchpad.Pad { return s.pad }

// readEvent records a read in the audit trail; failures never block.
func (s *Service) readEvent(ctx context.Context, operation string, ids []string) {
	if s.db == nil {
		return
	}
	if err := s.db.AppendEvent(ctx, model.EventRead, operation, ids); err != nil {
		s.logger.Warn("memory: read event append failed", "operation", operation, "error", err)
	}
}
