// Package lineage maintains the compression-hop DAG over conversations.
//
// The graph is an edge list plus a memoized reachability cache used for
// cycle checks. All mutation happens under a single writer lock; edges are
// never removed, so cached positive reachability stays valid forever and
// negative answers are simply recomputed.
package lineage

import (
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/identity"
	"github.com/mnemo-ai/mnemo/internal/model"
)

// Graph is the in-memory lineage DAG. Conversations become known when a
// record references them (NoteConversation) or when an edge introduces
// them as its target.
type Graph struct {
	mu       sync.Mutex
	edges    map[string]*model.LineageEdge // by edge id
	out      map[string][]*model.LineageEdge
	in       map[string][]*model.LineageEdge
	projects map[string]string // conversation -> project
	reach    map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		edges:    make(map[string]*model.LineageEdge),
		out:      make(map[string][]*model.LineageEdge),
		in:       make(map[string][]*model.LineageEdge),
		projects: make(map[string]string),
		reach:    make(map[string]map[string]bool),
	}
}

// NoteConversation records that a conversation exists and which project it
// belongs to. Idempotent; the first project sticks.
func (g *Graph) NoteConversation(conversation, project string) {
	if conversation == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.noteLocked(conversation, project)
}

func (g *Graph) noteLocked(conversation, project string) {
	if _, ok := g.projects[conversation]; !ok {
		g.projects[conversation] = project
	}
}

// Known reports whether a conversation has been seen.
func (g *Graph) Known(conversation string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.projects[conversation]
	return ok
}

// AddEdge validates and inserts one compression edge. The source must be a
// known conversation; the target is introduced by the edge itself. The
// write is rejected, state unchanged, when it would close a cycle.
func (g *Graph) AddEdge(source, target, tag string, carried, dropped, threadsCarried, threadsResolved []string) (*model.LineageEdge, error) {
	if source == "" || target == "" {
		return nil, apperr.Invalid("lineage edge endpoints must be non-empty")
	}
	if source == target {
		return nil, apperr.Invalid("lineage edge cannot be a self-loop: %s", source)
	}
	if tag == "" {
		tag = model.CompressionTag
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	srcProject, ok := g.projects[source]
	if !ok {
		return nil, apperr.NotFound("source conversation %s unknown", source)
	}
	if g.reachableLocked(target, source) {
		return nil, apperr.Conflictf("edge %s -> %s would create a cycle", source, target)
	}

	id := identity.EdgeID(source, target)
	if existing, ok := g.edges[id]; ok {
		return existing, nil
	}

	g.noteLocked(target, srcProject)
	edge := &model.LineageEdge{
		ID:                 id,
		Project:            g.projects[target],
		SourceConversation: source,
		TargetConversation: target,
		CompressionTag:     tag,
		DecisionsCarried:   carried,
		DecisionsDropped:   dropped,
		ThreadsCarried:     threadsCarried,
		ThreadsResolved:    threadsResolved,
		CrossProject:       g.projects[source] != g.projects[target],
		CreatedAt:          time.Now().UTC(),
	}
	g.insertLocked(edge)
	return edge, nil
}

// Edge returns a known edge by id.
func (g *Graph) Edge(id string) (*model.LineageEdge, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.edges[id]
	return e, ok
}

// Load rehydrates the graph from persisted edges, skipping any that would
// violate acyclicity.
func (g *Graph) Load(edges []*model.LineageEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range edges {
		if g.reachableLocked(e.TargetConversation, e.SourceConversation) {
			continue
		}
		g.noteLocked(e.SourceConversation, e.Project)
		g.noteLocked(e.TargetConversation, e.Project)
		g.insertLocked(e)
	}
}

func (g *Graph) insertLocked(edge *model.LineageEdge) {
	g.edges[edge.ID] = edge
	g.out[edge.SourceConversation] = append(g.out[edge.SourceConversation], edge)
	g.in[edge.TargetConversation] = append(g.in[edge.TargetConversation], edge)
}

// reachableLocked reports whether from can reach to by following edges.
// Positive answers are memoized; edges are never removed so they cannot
// go stale.
func (g *Graph) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	if g.reach[from][to] {
		return true
	}

	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[cur] {
			next := e.TargetConversation
			if visited[next] {
				continue
			}
			if next == to {
				if g.reach[from] == nil {
					g.reach[from] = make(map[string]bool)
				}
				g.reach[from][to] = true
				return true
			}
			visited[next] = true
			stack = append(stack, next)
		}
	}
	return false
}

// Ancestors returns the edge chain from conversation toward the root, in
// traversal order (nearest parent first), up to limit edges. Parents at
// the same depth are visited in lexicographic source order.
func (g *Graph) Ancestors(conversation string, limit int) []*model.LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walkLocked(conversation, limit, g.in, func(e *model.LineageEdge) string {
		return e.SourceConversation
	})
}

// Descendants returns the edge chain from conversation toward the leaves,
// in traversal order, up to limit edges.
func (g *Graph) Descendants(conversation string, limit int) []*model.LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walkLocked(conversation, limit, g.out, func(e *model.LineageEdge) string {
		return e.TargetConversation
	})
}

// Trace bundles both directions for one conversation.
type Trace struct {
	Conversation string               `json:"conversation"`
	Ancestors    []*model.LineageEdge `json:"ancestors"`
	Descendants  []*model.LineageEdge `json:"descendants"`
}

// TraceConversation returns ancestors and descendants in one structure.
func (g *Graph) TraceConversation(conversation string, limit int) Trace {
	return Trace{
		Conversation: conversation,
		Ancestors:    g.Ancestors(conversation, limit),
		Descendants:  g.Descendants(conversation, limit),
	}
}

func (g *Graph) walkLocked(start string, limit int, adj map[string][]*model.LineageEdge, next func(*model.LineageEdge) string) []*model.LineageEdge {
	if limit <= 0 {
		limit = 50
	}

	var chain []*model.LineageEdge
	visited := map[string]bool{start: true}
	frontier := []string{start}
	for len(frontier) > 0 && len(chain) < limit {
		cur := frontier[0]
		frontier = frontier[1:]

		edges := append([]*model.LineageEdge(nil), adj[cur]...)
		sort.Slice(edges, func(i, j int) bool { return next(edges[i]) < next(edges[j]) })
		for _, e := range edges {
			if len(chain) == limit {
				break
			}
			chain = append(chain, e)
			n := next(e)
			if !visited[n] {
				visited[n] = true
				frontier = append(frontier, n)
			}
		}
	}
	return chain
}

// UpstreamConversations returns conversation and every conversation that
// can reach it, sorted. A compression hop ages everything upstream of the
// edge's source, so hop bumping iterates this set.
func (g *Graph) UpstreamConversations(conversation string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	visited := map[string]bool{conversation: true}
	stack := []string{conversation}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.in[cur] {
			src := e.SourceConversation
			if !visited[src] {
				visited[src] = true
				stack = append(stack, src)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for c := range visited {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Edges returns a copy of every edge, for persistence and bridge reports.
func (g *Graph) Edges() []*model.LineageEdge {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*model.LineageEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CrossProjectCarried returns the ids carried by cross-project edges, the
// lineage half of bridge detection.
func (g *Graph) CrossProjectCarried() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range g.edges {
		if !e.CrossProject {
			continue
		}
		for _, lists := range [][]string{e.DecisionsCarried, e.ThreadsCarried} {
			for _, id := range lists {
				id = trimMarker(id)
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func trimMarker(id string) string {
	if len(id) > 0 && id[len(id)-1:] == model.RevalidatedMarker {
		return id[:len(id)-1]
	}
	return id
}
