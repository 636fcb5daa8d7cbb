package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/ratelimit"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// Server is the mnemo HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. MCPServer is optional; nil disables the /mcp mount.
type ServerConfig struct {
	Service *memory.Service
	Store   vectorstore.Store
	Logger  *slog.Logger

	MCPServer *mcpserver.MCPServer
	Limiter   ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Service:             cfg.Service,
		Store:               cfg.Store,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Rate limit by client IP. A nil limiter passes everything through.
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Recall, orchestrated recall, and scoped search.
	mux.Handle("POST /v1/recall", rl(http.HandlerFunc(h.HandleRecall)))
	mux.Handle("POST /v1/gravity", rl(http.HandlerFunc(h.HandleGravity)))
	mux.Handle("POST /v1/search", rl(http.HandlerFunc(h.HandleSearch)))

	// Write surface.
	mux.Handle("POST /v1/decisions", rl(http.HandlerFunc(h.HandleDecide)))
	mux.Handle("POST /v1/decisions/supersede", rl(http.HandlerFunc(h.HandleSupersede)))
	mux.Handle("POST /v1/decisions/{id}/validate", rl(http.HandlerFunc(h.HandleValidate)))
	mux.Handle("POST /v1/threads", rl(http.HandlerFunc(h.HandleThread)))
	mux.Handle("POST /v1/flags", rl(http.HandlerFunc(h.HandleFlag)))
	mux.Handle("POST /v1/flags/compile", rl(http.HandlerFunc(h.HandleCompileFlags)))
	mux.Handle("POST /v1/flags/{id}/discard", rl(http.HandlerFunc(h.HandleDiscardFlag)))
	mux.Handle("POST /v1/priming/match", rl(http.HandlerFunc(h.HandlePrimingMatch)))
	mux.Handle("POST /v1/patterns", rl(http.HandlerFunc(h.HandlePattern)))
	mux.Handle("POST /v1/remember", rl(http.HandlerFunc(h.HandleRemember)))
	mux.Handle("POST /v1/lineage", rl(http.HandlerFunc(h.HandleLineage)))

	// Lens role assignments.
	mux.Handle("POST /v1/roles", rl(http.HandlerFunc(h.HandleAssignRole)))
	mux.HandleFunc("GET /v1/roles", h.HandleListRoles)
	mux.HandleFunc("DELETE /v1/roles/{project}", h.HandleRemoveRole)

	// Project and cross-project views.
	mux.HandleFunc("GET /v1/projects", h.HandleProjects)
	mux.HandleFunc("GET /v1/projects/{project}/context", h.HandleProjectContext)
	mux.HandleFunc("GET /v1/entanglement", h.HandleEntanglement)
	mux.HandleFunc("GET /v1/entanglement/history", h.HandleScanHistory)
	mux.HandleFunc("POST /v1/entanglement/scan", h.HandleScan)
	mux.HandleFunc("GET /v1/trace/{conversation}", h.HandleTrace)
	mux.HandleFunc("GET /v1/alerts", h.HandleAlerts)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)
	mux.HandleFunc("GET /v1/sessions/{session}", h.HandleSession)
	mux.HandleFunc("GET /v1/events", h.HandleEvents)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no middleware concerns beyond the shared chain).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
