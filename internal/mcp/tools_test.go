package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/internal/testutil"
	"github.com/mnemo-ai/mnemo/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	logger := testutil.TestLogger()

	db, err := storage.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := memory.New(memory.Deps{
		Store:         vectorstore.NewMemoryStore(),
		DB:            db,
		Embedder:      testutil.NewStubEmbedder(8),
		Weights:       attention.DefaultWeights(),
		DefaultBudget: 2000,
		Logger:        logger,
	})
	require.NoError(t, svc.Hydrate(ctx))
	return New(svc, "test", logger)
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func parseToolJSON(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	return out
}

func TestDecideToolRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleDecide(ctx, toolRequest("mnemo_decide", map[string]any{
		"project":  "checkout",
		"local_id": "D001",
		"text":     "Use JWT tokens for service auth",
		"tier":     0.9,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	body := parseToolJSON(t, result)
	assert.Equal(t, "inserted", body["action"])

	result, err = srv.handleRecall(ctx, toolRequest("mnemo_recall", map[string]any{
		"query":   "JWT tokens auth",
		"project": "checkout",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	body = parseToolJSON(t, result)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, items)
}

func TestDecideToolValidation(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleDecide(ctx, toolRequest("mnemo_decide", map[string]any{
		"project": "checkout",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	body := parseToolJSON(t, result)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "invalid_argument", errObj["kind"])
	assert.Equal(t, false, errObj["retriable"])
}

func TestThreadToolLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleThread(ctx, toolRequest("mnemo_thread", map[string]any{
		"op": "open", "project": "p", "local_id": "T001",
		"title": "pick a retry policy", "priority": "high",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Equal(t, "open", parseToolJSON(t, result)["status"])

	result, err = srv.handleThread(ctx, toolRequest("mnemo_thread", map[string]any{
		"op": "resolve", "project": "p", "local_id": "T001",
		"resolution": "exponential backoff",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Equal(t, "resolved", parseToolJSON(t, result)["status"])
}

func TestDecideToolCarriesAlternatives(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleDecide(ctx, toolRequest("mnemo_decide", map[string]any{
		"project":      "checkout",
		"local_id":     "D002",
		"text":         "Use OAuth2 with refresh tokens",
		"rationale":    "short-lived access tokens limit blast radius",
		"alternatives": []any{"basic auth", "static api keys"},
		"tier":         0.8,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	body := parseToolJSON(t, result)
	decision, ok := body["decision"].(map[string]any)
	require.True(t, ok)
	alts, ok := decision["alternatives_rejected"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"basic auth", "static api keys"}, alts)
}

func TestThreadToolCarriesDescription(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleThread(ctx, toolRequest("mnemo_thread", map[string]any{
		"op": "open", "project": "p", "local_id": "T002",
		"title":       "choose a cache eviction policy",
		"description": "LRU vs LFU for the session scratchpad",
		"priority":    "medium",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	body := parseToolJSON(t, result)
	assert.Equal(t, "LRU vs LFU for the session scratchpad", body["description"])
}

func TestEntanglementToolBeforeScan(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleEntanglement(ctx, toolRequest("mnemo_entanglement", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	body := parseToolJSON(t, result)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errObj["kind"])
}

func TestStatsAndProjectsTools(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	_, err := srv.handleFlag(ctx, toolRequest("mnemo_flag", map[string]any{
		"project": "p", "category": "trap", "description": "shared mutable default",
	}))
	require.NoError(t, err)

	result, err := srv.handleStats(ctx, toolRequest("mnemo_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	body := parseToolJSON(t, result)
	assert.EqualValues(t, 1, body["total"])

	result, err = srv.handleProjects(ctx, toolRequest("mnemo_projects", nil))
	require.NoError(t, err)
	body = parseToolJSON(t, result)
	projects, ok := body["projects"].([]any)
	require.True(t, ok)
	require.Len(t, projects, 1)
}

func TestRememberAndSessionTools(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	result, err := srv.handleRemember(ctx, toolRequest("mnemo_remember", map[string]any{
		"key": "s1/current-focus", "value": "attention engine", "ttl": 600,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	result, err = srv.handleSession(ctx, toolRequest("mnemo_session", map[string]any{
		"session_id": "s1",
	}))
	require.NoError(t, err)
	body := parseToolJSON(t, result)
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
}
