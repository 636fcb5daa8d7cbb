package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/mcp"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/ratelimit"
	"github.com/mnemo-ai/mnemo/internal/server"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/internal/telemetry"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("MNEMO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	weights, err := attention.ParseWeights(cfg.AttentionWeights)
	if err != nil {
		return fmt.Errorf("attention weights: %w", err)
	}

	slog.Info("mnemo starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Vector store: Qdrant by URL, or the in-process store for local runs.
	store, err := newVectorStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.EnsureCollections(ctx, cfg.EmbeddingDimensions, model.AllCollections...); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	// Durable event log and scan snapshots.
	db, err := storage.Open(ctx, cfg.EventDBPath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = db.Close() }()

	embedder := newEmbeddingProvider(cfg, logger)

	svc := memory.New(memory.Deps{
		Store:         store,
		DB:            db,
		Embedder:      embedding.NewRetrying(embedder),
		Weights:       weights,
		DefaultBudget: cfg.DefaultBudget,
		Logger:        logger,
	})
	if err := svc.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	mcpSrv := mcp.New(svc, version, logger)

	// Stdio transport for MCP clients that spawn the server as a child
	// process. Replaces the HTTP server entirely.
	if len(os.Args) > 1 && os.Args[1] == "mcp-stdio" {
		logger.Info("mcp: serving over stdio")
		return mcpSrv.ServeStdio()
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		m := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = m.Close() }()
		limiter = m
		logger.Info("rate limiting: memory token bucket", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	srv := server.New(server.ServerConfig{
		Service:             svc,
		Store:               store,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Background loops: periodic entanglement scans and scratchpad sweeps.
	if cfg.ScanInterval > 0 {
		go scanLoop(ctx, svc, logger, cfg.ScanInterval)
	} else {
		logger.Info("entanglement scanner: periodic scans disabled")
	}
	go sweepLoop(ctx, svc, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("mnemo shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("mnemo stopped")
	return nil
}

// newVectorStore selects Qdrant or the in-process store by URI.
func newVectorStore(cfg config.Config, logger *slog.Logger) (vectorstore.Store, error) {
	if cfg.VectorDBURI == "memory" {
		logger.Info("vector store: in-process (non-durable)")
		return vectorstore.NewMemoryStore(), nil
	}
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		URL:    cfg.VectorDBURI,
		APIKey: cfg.VectorDBAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	logger.Info("vector store: qdrant", "url", cfg.VectorDBURI)
	return store, nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if a key is present,
// else noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.EmbeddingAPIKey == "" {
			logger.Error("EMBEDDING_API_KEY required when MNEMO_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic recall disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.EmbeddingAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic recall disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// scanLoop runs the entanglement scanner on a fixed cadence.
func scanLoop(ctx context.Context, svc *memory.Service, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Scanner().Scan(ctx); err != nil {
				logger.Warn("entanglement scan failed", "error", err)
			}
		}
	}
}

// sweepLoop reclaims expired scratchpad entries.
func sweepLoop(ctx context.Context, svc *memory.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.Scratchpad().Sweep(time.Now().UTC())
		}
	}
}
