// Package entanglement discovers cross-project resonance: pairs of
// decisions or threads from different projects whose embeddings sit close
// enough to suggest shared structure. Each scan produces an append-only
// snapshot of resonances, strong-edge clusters, bridges, and loose ends.
package entanglement

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

const (
	// StrongThreshold promotes a resonance into the cluster graph.
	StrongThreshold = 0.65
	// WeakThreshold is the floor below which a neighbor is noise.
	WeakThreshold = 0.50

	// neighborK bounds the neighborhood considered per scanned item.
	neighborK = 20
)

// scanCollections are the item sources the scanner enumerates. Only live
// work participates: superseded decisions and resolved threads are skipped.
var scanCollections = []struct {
	name    string
	filters []vectorstore.Filter
}{
	{model.CollectionDecisions, []vectorstore.Filter{{"status": string(model.DecisionActive)}}},
	{model.CollectionThreads, []vectorstore.Filter{
		{"status": string(model.ThreadOpen)},
		{"status": string(model.ThreadBlocked)},
	}},
}

// SnapshotSink persists finished snapshots.
type SnapshotSink interface {
	SaveScan(ctx context.Context, snap *model.ScanSnapshot) (int64, error)
}

// Scanner runs entanglement scans. One scan at a time; callers may run it
// on a ticker or on demand.
type Scanner struct {
	store  vectorstore.Store
	snaps  SnapshotSink
	events registry.EventSink
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewScanner creates a scanner.
func NewScanner(store vectorstore.Store, snaps SnapshotSink, events registry.EventSink, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:  store,
		snaps:  snaps,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type scanItem struct {
	id      string
	project string
	vector  []float32
}

// Scan enumerates live decisions and threads, finds cross-project
// neighbors for each, and persists the resulting snapshot. The output is
// deterministic for a fixed store state.
func (s *Scanner) Scan(ctx context.Context) (*model.ScanSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.collectItems(ctx)
	if err != nil {
		return nil, err
	}

	pairs := make(map[[2]string]float64)
	for _, item := range items {
		if err := s.neighbors(ctx, item, pairs); err != nil {
			return nil, err
		}
	}

	projects := make(map[string]string, len(items))
	for _, item := range items {
		projects[item.id] = item.project
	}

	resonances := make([]model.Resonance, 0, len(pairs))
	for pair, sim := range pairs {
		tier := model.TierWeak
		if sim >= StrongThreshold {
			tier = model.TierStrong
		}
		resonances = append(resonances, model.Resonance{
			FromID:      pair[0],
			ToID:        pair[1],
			FromProject: projects[pair[0]],
			ToProject:   projects[pair[1]],
			Similarity:  sim,
			Tier:        tier,
		})
	}
	sort.Slice(resonances, func(i, j int) bool {
		if resonances[i].FromID != resonances[j].FromID {
			return resonances[i].FromID < resonances[j].FromID
		}
		return resonances[i].ToID < resonances[j].ToID
	})

	clusters := buildClusters(resonances, projects)

	var bridges []model.Resonance
	for _, r := range resonances {
		if r.Tier == model.TierStrong && r.FromProject != r.ToProject {
			bridges = append(bridges, r)
		}
	}

	resonant := make(map[string]bool)
	for _, r := range resonances {
		resonant[r.FromID] = true
		resonant[r.ToID] = true
	}
	var looseEnds []string
	for _, item := range items {
		if !resonant[item.id] {
			looseEnds = append(looseEnds, item.id)
		}
	}
	sort.Strings(looseEnds)

	snap := &model.ScanSnapshot{
		ScannedAt: s.now(),
		Counts: model.ScanCounts{
			ItemsScanned: len(items),
			Resonances:   len(resonances),
			Clusters:     len(clusters),
			Bridges:      len(bridges),
			LooseEnds:    len(looseEnds),
		},
		Resonances: resonances,
		Clusters:   clusters,
		Bridges:    bridges,
		LooseEnds:  looseEnds,
	}

	if s.snaps != nil {
		id, err := s.snaps.SaveScan(ctx, snap)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "persist scan snapshot")
		}
		snap.ID = id
	}

	s.logger.Info("entanglement: scan complete",
		"items", snap.Counts.ItemsScanned,
		"resonances", snap.Counts.Resonances,
		"clusters", snap.Counts.Clusters,
		"bridges", snap.Counts.Bridges,
		"loose_ends", snap.Counts.LooseEnds,
	)
	if s.events != nil {
		if err := s.events.AppendEvent(ctx, model.EventWrite, "entanglement.scan", nil); err != nil {
			s.logger.Warn("entanglement: event append failed", "error", err)
		}
	}
	return snap, nil
}

func (s *Scanner) collectItems(ctx context.Context) ([]scanItem, error) {
	var items []scanItem
	for _, src := range scanCollections {
		for _, filter := range src.filters {
			records, err := s.store.List(ctx, src.name, filter, 0)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan list %s", src.name)
			}
			for _, rec := range records {
				items = append(items, scanItem{
					id:      rec.ID,
					project: model.PayloadString(rec.Payload, "project"),
					vector:  rec.Vector,
				})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
	return items, nil
}

// neighbors searches both collections around one item and records
// cross-project pairs at or above the weak threshold. Filters are
// equality-only, so project exclusion over-fetches and strips in Go.
func (s *Scanner) neighbors(ctx context.Context, item scanItem, pairs map[[2]string]float64) error {
	for _, src := range scanCollections {
		hits, err := s.store.Search(ctx, src.name, item.vector, neighborK*3, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "scan search %s", src.name)
		}
		kept := 0
		for _, hit := range hits {
			if hit.ID == item.id {
				continue
			}
			if model.PayloadString(hit.Payload, "project") == item.project {
				continue
			}
			if live := model.PayloadString(hit.Payload, "status"); !liveStatus(src.name, live) {
				continue
			}
			sim := float64(hit.Score)
			if sim < WeakThreshold {
				continue
			}
			pair := canonicalPair(item.id, hit.ID)
			if sim > pairs[pair] {
				pairs[pair] = sim
			}
			if kept++; kept == neighborK {
				break
			}
		}
	}
	return nil
}

func liveStatus(collection, status string) bool {
	switch collection {
	case model.CollectionDecisions:
		return status == string(model.DecisionActive)
	case model.CollectionThreads:
		return status == string(model.ThreadOpen) || status == string(model.ThreadBlocked)
	}
	return false
}

func canonicalPair(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// buildClusters runs union-find over the strong edges and returns
// connected components of two or more members, ordered and numbered by
// smallest member id.
func buildClusters(resonances []model.Resonance, projects map[string]string) []model.Cluster {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == x {
			return x
		}
		parent[x] = find(parent[x])
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}
	for _, r := range resonances {
		if r.Tier == model.TierStrong {
			union(r.FromID, r.ToID)
		}
	}

	groups := make(map[string][]string)
	for id := range parent {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters []model.Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		seen := make(map[string]bool)
		var projs []string
		for _, m := range members {
			if p := projects[m]; p != "" && !seen[p] {
				seen[p] = true
				projs = append(projs, p)
			}
		}
		sort.Strings(projs)
		clusters = append(clusters, model.Cluster{Members: members, Projects: projs})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Members[0] < clusters[j].Members[0] })
	for i := range clusters {
		clusters[i].ID = i + 1
	}
	return clusters
}
