// Package gravity layers multi-lens orchestration over the attention
// engine. Each lens is a project with an epistemic role; one query is
// recalled through every lens in parallel, then the fields are compared
// for convergence (lenses agreeing) and divergence (lenses in tension)
// before being composed into one budget-bounded context.
package gravity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/model"
)

const (
	// DefaultBudget bounds the composed context text, in characters.
	DefaultBudget = 6000

	// MaxLenses caps how many lenses one orchestration fans out to.
	MaxLenses = 6

	// ConvergenceBoost amplifies the combined mass of agreeing items.
	ConvergenceBoost = 1.3

	// ConvergenceOverlap is the word-set Jaccard similarity at which two
	// items from different lenses count as agreeing.
	ConvergenceOverlap = 0.70

	// DivergenceTierDelta is the epistemic tier gap at which two decisions
	// from different lenses count as being in tension.
	DivergenceTierDelta = 0.25

	// BaselineCoherence is the field coherence of an empty field.
	BaselineCoherence = 0.5
)

// RoleSource lists stored project role assignments.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]model.ProjectRole, error)
}

// ScanSource supplies the latest entanglement scan; its clusters drive one
// of the two convergence detectors.
type ScanSource interface {
	LatestScan(ctx context.Context) (*model.ScanSnapshot, error)
}

// Lens is one project viewed through a role.
type Lens struct {
	Project     string  `json:"project"`
	Role        string  `json:"role"`
	Weight      float64 `json:"weight"`
	GravityType string  `json:"gravity_type"`
}

// Input parameterizes one orchestration. Empty Lenses resolves the stored
// project role assignments instead.
type Input struct {
	Query  string `json:"query"`
	Lenses []Lens `json:"lenses,omitempty"`
	Budget int    `json:"budget,omitempty"` // context characters; 0 means DefaultBudget
}

// LensField is one lens's recall outcome.
type LensField struct {
	Lens         Lens             `json:"lens"`
	Items        []attention.Item `json:"items"`
	TopAttention float64          `json:"top_attention"`
	Mass         float64          `json:"mass"` // summed attention
	Failed       bool             `json:"failed,omitempty"`
}

// ItemRef is the abbreviated form of an item cited by a convergence point.
type ItemRef struct {
	Role      string  `json:"role"`
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Attention float64 `json:"attention"`
}

// Convergence is one point where two lenses agree.
type Convergence struct {
	Method       string     `json:"method"` // cluster or overlap
	Lenses       [2]string  `json:"lenses"`
	Items        [2]ItemRef `json:"items"`
	ClusterID    int        `json:"cluster_id,omitempty"`
	CombinedMass float64    `json:"combined_mass"`
	Summary      string     `json:"summary"`
}

// Divergence is one point of tension between two lenses.
type Divergence struct {
	Method  string  `json:"method"` // gap or tier_mismatch
	LensA   string  `json:"lens_a"`
	LensB   string  `json:"lens_b"`
	Tension float64 `json:"tension"`
	Detail  string  `json:"detail"`
}

// FieldSummary aggregates the composed field.
type FieldSummary struct {
	TotalCandidates   int     `json:"total_candidates"`
	ConvergencePoints int     `json:"convergence_points"`
	DivergencePoints  int     `json:"divergence_points"`
	DominantLens      string  `json:"dominant_lens"`
	FieldCoherence    float64 `json:"field_coherence"`
}

// Result is one orchestration response.
type Result struct {
	Query        string        `json:"query"`
	Lenses       []Lens        `json:"lenses"`
	Fields       []LensField   `json:"fields"`
	Convergences []Convergence `json:"convergences,omitempty"`
	Divergences  []Divergence  `json:"divergences,omitempty"`
	Summary      FieldSummary  `json:"summary"`
	ContextText  string        `json:"context_text"`
	BudgetUsed   int           `json:"budget_used"`
}

// Orchestrator runs multi-lens recall. RoleSource and ScanSource may be
// nil; without roles only explicit lenses work, and without scans only the
// overlap convergence detector runs.
type Orchestrator struct {
	engine   *attention.Engine
	embedder embedding.Provider
	roles    RoleSource
	scans    ScanSource
	logger   *slog.Logger
}

// NewOrchestrator assembles the orchestrator around an attention engine.
func NewOrchestrator(engine *attention.Engine, embedder embedding.Provider, roles RoleSource, scans ScanSource, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, embedder: embedder, roles: roles, scans: scans, logger: logger}
}

// Orchestrate embeds the query once, recalls it through every lens in
// parallel, detects convergence and divergence between the lens fields,
// and composes the combined context. A lens whose recall fails yields an
// empty field rather than failing the orchestration.
func (o *Orchestrator) Orchestrate(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, apperr.Invalid("gravity query must be non-empty")
	}
	budget := in.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	lenses, err := o.resolveLenses(ctx, in.Lenses)
	if err != nil {
		return nil, err
	}

	vec, err := o.embedder.Embed(ctx, in.Query)
	if err != nil {
		return nil, err
	}

	fields := o.recallLenses(ctx, in.Query, vec, lenses)
	convergences := o.detectConvergence(ctx, fields)
	divergences := detectDivergence(fields)
	summary, text, used := composeField(fields, convergences, divergences, budget)

	return &Result{
		Query:        in.Query,
		Lenses:       lenses,
		Fields:       fields,
		Convergences: convergences,
		Divergences:  divergences,
		Summary:      summary,
		ContextText:  text,
		BudgetUsed:   used,
	}, nil
}

// resolveLenses normalizes explicit lenses, or falls back to the stored
// project role assignments. Either way the result is capped at MaxLenses.
func (o *Orchestrator) resolveLenses(ctx context.Context, explicit []Lens) ([]Lens, error) {
	if len(explicit) > 0 {
		if len(explicit) > MaxLenses {
			explicit = explicit[:MaxLenses]
		}
		out := make([]Lens, 0, len(explicit))
		for _, l := range explicit {
			if strings.TrimSpace(l.Project) == "" {
				return nil, apperr.Invalid("lens project must be non-empty")
			}
			if l.Role == "" {
				l.Role = "connector"
			}
			if !ValidRole(l.Role) {
				return nil, apperr.Invalid("unknown lens role %q, valid: %s", l.Role, strings.Join(RoleNames(), ", "))
			}
			if l.Weight <= 0 {
				l.Weight = 1.0
			}
			l.GravityType = GravityTypeFor(l.Role)
			out = append(out, l)
		}
		return out, nil
	}

	if o.roles == nil {
		return nil, apperr.Invalid("gravity needs explicit lenses or assigned project roles")
	}
	roles, err := o.roles.ListRoles(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list project roles")
	}
	if len(roles) == 0 {
		return nil, apperr.Invalid("gravity needs explicit lenses or assigned project roles")
	}
	if len(roles) > MaxLenses {
		roles = roles[:MaxLenses]
	}
	out := make([]Lens, 0, len(roles))
	for _, r := range roles {
		out = append(out, Lens{
			Project:     r.Project,
			Role:        r.Role,
			Weight:      r.Weight,
			GravityType: r.GravityType,
		})
	}
	return out, nil
}

// recallLenses runs one recall per lens concurrently, sharing the query
// embedding. Field order follows lens order.
func (o *Orchestrator) recallLenses(ctx context.Context, query string, vec []float32, lenses []Lens) []LensField {
	fields := make([]LensField, len(lenses))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, lens := range lenses {
		g.Go(func() error {
			res, err := o.engine.Recall(gctx, attention.RecallInput{
				Project: lens.Project,
				Query:   query,
				Vector:  vec,
			})
			mu.Lock()
			defer mu.Unlock()
			fields[i] = LensField{Lens: lens}
			if err != nil {
				o.logger.Warn("gravity: lens recall failed", "project", lens.Project, "role", lens.Role, "error", err)
				fields[i].Failed = true
				return nil
			}
			fields[i].Items = res.Items
			for _, it := range res.Items {
				fields[i].Mass += it.Score
				if it.Score > fields[i].TopAttention {
					fields[i].TopAttention = it.Score
				}
			}
			return nil
		})
	}
	_ = g.Wait() // lens failures degrade their field, never the call
	return fields
}

// detectConvergence finds where lenses agree, by entanglement cluster
// co-membership and by word-set overlap. Strongest points first.
func (o *Orchestrator) detectConvergence(ctx context.Context, fields []LensField) []Convergence {
	if len(fields) < 2 {
		return nil
	}
	var out []Convergence

	if o.scans != nil {
		if snap, err := o.scans.LatestScan(ctx); err == nil && snap != nil {
			out = append(out, clusterConvergence(fields, snap)...)
		}
	}
	out = append(out, overlapConvergence(fields)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CombinedMass != out[j].CombinedMass {
			return out[i].CombinedMass > out[j].CombinedMass
		}
		return out[i].Summary < out[j].Summary
	})
	return out
}

func clusterConvergence(fields []LensField, snap *model.ScanSnapshot) []Convergence {
	memberCluster := make(map[string]*model.Cluster)
	for i := range snap.Clusters {
		for _, id := range snap.Clusters[i].Members {
			memberCluster[id] = &snap.Clusters[i]
		}
	}

	var out []Convergence
	for a := 0; a < len(fields); a++ {
		for b := a + 1; b < len(fields); b++ {
			for _, ia := range fields[a].Items {
				cluster, ok := memberCluster[ia.ID]
				if !ok {
					continue
				}
				for _, ib := range fields[b].Items {
					if memberCluster[ib.ID] != cluster {
						continue
					}
					out = append(out, Convergence{
						Method:       "cluster",
						Lenses:       [2]string{fields[a].Lens.Role, fields[b].Lens.Role},
						Items:        [2]ItemRef{itemRef(ia, fields[a].Lens.Role), itemRef(ib, fields[b].Lens.Role)},
						ClusterID:    cluster.ID,
						CombinedMass: (ia.Score + ib.Score) * ConvergenceBoost,
						Summary: fmt.Sprintf("entanglement cluster #%d: %s and %s lenses converge",
							cluster.ID, fields[a].Lens.Role, fields[b].Lens.Role),
					})
				}
			}
		}
	}
	return out
}

func overlapConvergence(fields []LensField) []Convergence {
	var out []Convergence
	for a := 0; a < len(fields); a++ {
		for b := a + 1; b < len(fields); b++ {
			for _, ia := range fields[a].Items {
				wordsA := wordSet(ia.Text)
				if len(wordsA) < 5 {
					continue
				}
				for _, ib := range fields[b].Items {
					if ia.ID == ib.ID {
						continue
					}
					wordsB := wordSet(ib.Text)
					if len(wordsB) < 5 {
						continue
					}
					j := jaccard(wordsA, wordsB)
					if j < ConvergenceOverlap {
						continue
					}
					out = append(out, Convergence{
						Method:       "overlap",
						Lenses:       [2]string{fields[a].Lens.Role, fields[b].Lens.Role},
						Items:        [2]ItemRef{itemRef(ia, fields[a].Lens.Role), itemRef(ib, fields[b].Lens.Role)},
						CombinedMass: (ia.Score + ib.Score) * ConvergenceBoost,
						Summary: fmt.Sprintf("semantic overlap between %s and %s (jaccard=%.2f)",
							fields[a].Lens.Role, fields[b].Lens.Role, j),
					})
				}
			}
		}
	}
	return out
}

// detectDivergence finds lens tension: gaps where one lens sees results
// and another sees none, and decision pairs with divergent epistemic
// tiers. Strongest tension first.
func detectDivergence(fields []LensField) []Divergence {
	if len(fields) < 2 {
		return nil
	}
	var out []Divergence

	for a := 0; a < len(fields); a++ {
		for b := a + 1; b < len(fields); b++ {
			fa, fb := fields[a], fields[b]
			switch {
			case len(fa.Items) > 0 && len(fb.Items) == 0:
				out = append(out, gapDivergence(fa, fb))
			case len(fb.Items) > 0 && len(fa.Items) == 0:
				out = append(out, gapDivergence(fb, fa))
			}

			for _, ia := range fa.Items {
				if ia.Kind != model.KindDecision {
					continue
				}
				for _, ib := range fb.Items {
					if ib.Kind != model.KindDecision {
						continue
					}
					delta := ia.Factors.Tier - ib.Factors.Tier
					if delta < 0 {
						delta = -delta
					}
					if delta < DivergenceTierDelta {
						continue
					}
					tension := delta / 0.5
					if tension > 1 {
						tension = 1
					}
					out = append(out, Divergence{
						Method:  "tier_mismatch",
						LensA:   fa.Lens.Role,
						LensB:   fb.Lens.Role,
						Tension: tension,
						Detail: fmt.Sprintf("epistemic tier mismatch: %s %s at tier %.1f vs %s %s at tier %.1f (delta=%.2f)",
							fa.Lens.Role, ia.ID, ia.Factors.Tier, fb.Lens.Role, ib.ID, ib.Factors.Tier, delta),
					})
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tension != out[j].Tension {
			return out[i].Tension > out[j].Tension
		}
		return out[i].Detail < out[j].Detail
	})
	return out
}

func gapDivergence(has, lacks LensField) Divergence {
	return Divergence{
		Method:  "gap",
		LensA:   has.Lens.Role,
		LensB:   lacks.Lens.Role,
		Tension: 0.6,
		Detail: fmt.Sprintf("%s lens (%s) has %d results but %s lens (%s) has none: potential blind spot in the %s perspective",
			has.Lens.Role, has.Lens.Project, len(has.Items),
			lacks.Lens.Role, lacks.Lens.Project, lacks.Lens.Role),
	}
}

// composeField builds the summary and the budget-bounded context text:
// convergence points first, then per-lens results strongest lens first,
// then up to three divergence notes.
func composeField(fields []LensField, convergences []Convergence, divergences []Divergence, budget int) (FieldSummary, string, int) {
	totalMass := 0.0
	totalItems := 0
	dominant := ""
	dominantMass := -1.0
	for _, f := range fields {
		totalItems += len(f.Items)
		totalMass += f.Mass
		if f.Mass > dominantMass {
			dominantMass = f.Mass
			dominant = f.Lens.Role
		}
	}

	convMass := 0.0
	for _, c := range convergences {
		convMass += c.CombinedMass
	}
	divTension := 0.0
	for _, d := range divergences {
		divTension += d.Tension
	}

	summary := FieldSummary{
		TotalCandidates:   totalItems,
		ConvergencePoints: len(convergences),
		DivergencePoints:  len(divergences),
		DominantLens:      dominant,
		FieldCoherence:    fieldCoherence(totalMass, convMass, divTension),
	}

	var parts []string
	used := 0
	add := func(line string) bool {
		if used+len(line)+1 > budget {
			return false
		}
		parts = append(parts, line)
		used += len(line) + 1
		return true
	}

	if len(convergences) > 0 {
		add("=== CONVERGENCE (amplified gravity) ===")
		for _, c := range convergences {
			add(fmt.Sprintf("[%s|mass=%.2f] %s", c.Method, c.CombinedMass, c.Summary))
			for _, it := range c.Items {
				add(fmt.Sprintf("  [%s] %s (att=%.2f): %s", it.Role, it.ID, it.Attention, truncate(it.Text, 150)))
			}
		}
	}

	ordered := make([]LensField, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TopAttention > ordered[j].TopAttention
	})
	for _, f := range ordered {
		header := fmt.Sprintf("=== %s (%s): %s gravity ===",
			strings.ToUpper(f.Lens.Role), f.Lens.Project, f.Lens.GravityType)
		if !add(header) {
			break
		}
		for _, it := range f.Items {
			if !add(fmt.Sprintf("[%s|%.2f] %s: %s", it.Kind, it.Score, it.ID, truncate(it.Text, 200))) {
				break
			}
		}
	}

	if len(divergences) > 0 && add("=== DIVERGENCE (decision tension) ===") {
		notes := divergences
		if len(notes) > 3 {
			notes = notes[:3]
		}
		for _, d := range notes {
			if !add(fmt.Sprintf("[%s|tension=%.2f] %s", d.Method, d.Tension, truncate(d.Detail, 200))) {
				break
			}
		}
	}

	text := strings.Join(parts, "\n")
	return summary, text, len(text)
}

// fieldCoherence scores lens alignment on [0, 1]: 1 is full agreement, 0
// is full contradiction. An empty field sits at the baseline.
func fieldCoherence(totalMass, convMass, divTension float64) float64 {
	if totalMass <= 0 {
		return BaselineCoherence
	}
	denom := totalMass
	if denom < 1 {
		denom = 1
	}
	c := BaselineCoherence + convMass/totalMass*0.5 - divTension/denom*0.5
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func itemRef(it attention.Item, role string) ItemRef {
	return ItemRef{Role: role, ID: it.ID, Text: truncate(it.Text, 200), Attention: it.Score}
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
