package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/gravity"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *memory.Service
	store               vectorstore.Store
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Service             *memory.Service
	Store               vectorstore.Store
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		svc:                 d.Service,
		store:               d.Store,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

type recallRequest struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Budget  int    `json:"budget,omitempty"`
}

// HandleRecall handles POST /v1/recall.
func (h *Handlers) HandleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.svc.Recall(r.Context(), attention.RecallInput{
		Project: req.Project,
		Query:   req.Query,
		Budget:  req.Budget,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleProjectContext handles GET /v1/projects/{project}/context.
func (h *Handlers) HandleProjectContext(w http.ResponseWriter, r *http.Request) {
	pc, err := h.svc.GetProjectContext(r.Context(), r.PathValue("project"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

// HandleProjects handles GET /v1/projects.
func (h *Handlers) HandleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.ListProjects(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// HandleEntanglement handles GET /v1/entanglement.
func (h *Handlers) HandleEntanglement(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Entanglement(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleScanHistory handles GET /v1/entanglement/history.
func (h *Handlers) HandleScanHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.ScanHistory(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": history})
}

// HandleScan handles POST /v1/entanglement/scan, an on-demand scan.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Scanner().Scan(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleTrace handles GET /v1/trace/{conversation}.
func (h *Handlers) HandleTrace(w http.ResponseWriter, r *http.Request) {
	trace, err := h.svc.Trace(r.Context(), r.PathValue("conversation"), queryInt(r, "limit", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// HandleAlerts handles GET /v1/alerts.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.GetAlerts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type searchRequest struct {
	Scope string `json:"scope"`
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// HandleSearch handles POST /v1/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	hits, err := h.svc.Search(r.Context(), req.Scope, req.Query, req.K)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleSession handles GET /v1/sessions/{session}.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Session(r.Context(), r.PathValue("session"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleEvents handles GET /v1/events.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(),
		r.URL.Query().Get("from"), r.URL.Query().Get("to"), queryInt(r, "limit", 100))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type decideRequest struct {
	Project            string   `json:"project"`
	LocalID            string   `json:"local_id"`
	Text               string   `json:"text"`
	Rationale          string   `json:"rationale,omitempty"`
	Alternatives       []string `json:"alternatives,omitempty"`
	Tier               float64  `json:"tier,omitempty"`
	SourceConversation string   `json:"source_conversation,omitempty"`
}

// HandleDecide handles POST /v1/decisions.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.svc.Decide(r.Context(), registry.RegisterDecisionInput{
		Project:              req.Project,
		LocalID:              req.LocalID,
		Text:                 req.Text,
		Rationale:            req.Rationale,
		AlternativesRejected: req.Alternatives,
		EpistemicTier:        req.Tier,
		SourceConversation:   req.SourceConversation,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type supersedeRequest struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// HandleSupersede handles POST /v1/decisions/supersede.
func (h *Handlers) HandleSupersede(w http.ResponseWriter, r *http.Request) {
	var req supersedeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.svc.Supersede(r.Context(), req.OldID, req.NewID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"superseded": req.OldID, "by": req.NewID})
}

// HandleValidate handles POST /v1/decisions/{id}/validate.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Validate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleThread handles POST /v1/threads.
func (h *Handlers) HandleThread(w http.ResponseWriter, r *http.Request) {
	var req memory.ThreadInput
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	t, err := h.svc.Thread(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type flagRequest struct {
	Project     string `json:"project"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// HandleFlag handles POST /v1/flags.
func (h *Handlers) HandleFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	f, err := h.svc.Flag(r.Context(), req.Project, model.FlagCategory(req.Category), req.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type compileFlagsRequest struct {
	Project         string   `json:"project"`
	Territory       string   `json:"territory"`
	Keys            []string `json:"keys,omitempty"`
	ConfidenceFloor float64  `json:"confidence_floor,omitempty"`
}

// HandleCompileFlags handles POST /v1/flags/compile.
func (h *Handlers) HandleCompileFlags(w http.ResponseWriter, r *http.Request) {
	var req compileFlagsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	block, err := h.svc.CompileFlags(r.Context(), req.Project, req.Territory, req.Keys, req.ConfidenceFloor)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleDiscardFlag handles POST /v1/flags/{id}/discard.
func (h *Handlers) HandleDiscardFlag(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.DiscardFlag(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type primingMatchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// HandlePrimingMatch handles POST /v1/priming/match.
func (h *Handlers) HandlePrimingMatch(w http.ResponseWriter, r *http.Request) {
	var req primingMatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	blocks, err := h.svc.MatchPriming(r.Context(), req.Query, req.K)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

// HandleGravity handles POST /v1/gravity.
func (h *Handlers) HandleGravity(w http.ResponseWriter, r *http.Request) {
	var req gravity.Input
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.svc.Gravity(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type assignRoleRequest struct {
	Project     string  `json:"project"`
	Role        string  `json:"role"`
	Weight      float64 `json:"weight,omitempty"`
	Description string  `json:"description,omitempty"`
}

// HandleAssignRole handles POST /v1/roles.
func (h *Handlers) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	role, created, err := h.svc.AssignRole(r.Context(), req.Project, req.Role, req.Weight, req.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	action := "updated"
	if created {
		action = "inserted"
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action, "role": role})
}

// HandleListRoles handles GET /v1/roles.
func (h *Handlers) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// HandleRemoveRole handles DELETE /v1/roles/{project}.
func (h *Handlers) HandleRemoveRole(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := h.svc.RemoveRole(r.Context(), project); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": project})
}

type patternRequest struct {
	Project    string  `json:"project"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// HandlePattern handles POST /v1/patterns.
func (h *Handlers) HandlePattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.svc.Pattern(r.Context(), req.Project, req.Text, req.Confidence)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rememberRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTL   int    `json:"ttl,omitempty"` // seconds
}

// HandleRemember handles POST /v1/remember.
func (h *Handlers) HandleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := h.svc.Remember(r.Context(), req.Key, req.Value, time.Duration(req.TTL)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": entry.Key, "expires_at": entry.ExpiresAt})
}

// HandleLineage handles POST /v1/lineage.
func (h *Handlers) HandleLineage(w http.ResponseWriter, r *http.Request) {
	var req memory.AddEdgeInput
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeErr(w, err)
		return
	}
	edge, err := h.svc.AddEdge(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.store != nil {
		if err := h.store.Healthy(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
