// Package config loads and validates application configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Vector store settings.
	VectorDBURI    string // Qdrant URL; "memory" selects the in-process store.
	VectorDBAPIKey string

	// Durable log settings.
	EventDBPath string // SQLite file for the event log and scan snapshots.

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Attention settings.
	AttentionWeights string // Optional JSON override of the five blend weights.
	DefaultBudget    int    // Default recall token budget.

	// Background jobs.
	ScanInterval  time.Duration // Entanglement scanner cadence; 0 disables.
	SweepInterval time.Duration // Scratchpad TTL sweep cadence.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitEnabled    bool
	RateLimitRPS        float64
	RateLimitBurst      int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("MNEMO_PORT", 8080),
		ReadTimeout:         envDuration("MNEMO_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("MNEMO_WRITE_TIMEOUT", 30*time.Second),
		VectorDBURI:         envStr("VECTOR_DB_URI", "http://localhost:6333"),
		VectorDBAPIKey:      envStr("VECTOR_DB_API_KEY", ""),
		EventDBPath:         envStr("MNEMO_EVENT_DB", "mnemo.db"),
		EmbeddingProvider:   envStr("MNEMO_EMBEDDING_PROVIDER", "auto"),
		EmbeddingAPIKey:     envStr("EMBEDDING_API_KEY", ""),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("MNEMO_EMBEDDING_DIMENSIONS", 1024),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		AttentionWeights:    envStr("ATTENTION_WEIGHTS", ""),
		DefaultBudget:       envInt("MNEMO_DEFAULT_BUDGET", 2000),
		ScanInterval:        envDuration("MNEMO_SCAN_INTERVAL", 0),
		SweepInterval:       envDuration("MNEMO_SWEEP_INTERVAL", time.Minute),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envStr("OTEL_EXPORTER_OTLP_INSECURE", "") == "true",
		ServiceName:         envStr("OTEL_SERVICE_NAME", "mnemo"),
		LogLevel:            envStr("MNEMO_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("MNEMO_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		RateLimitEnabled:    envStr("MNEMO_RATE_LIMIT_ENABLED", "") == "true",
		RateLimitRPS:        float64(envInt("MNEMO_RATE_LIMIT_RPS", 50)),
		RateLimitBurst:      envInt("MNEMO_RATE_LIMIT_BURST", 100),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.VectorDBURI == "" {
		return fmt.Errorf("config: VECTOR_DB_URI is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: MNEMO_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.DefaultBudget <= 0 {
		return fmt.Errorf("config: MNEMO_DEFAULT_BUDGET must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MNEMO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.AttentionWeights != "" {
		var w map[string]float64
		if err := json.Unmarshal([]byte(c.AttentionWeights), &w); err != nil {
			return fmt.Errorf("config: ATTENTION_WEIGHTS is not valid JSON: %w", err)
		}
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
