// Package mcp implements the Model Context Protocol server for mnemo.
//
// The MCP server exposes the same tool surface as the HTTP API, so
// MCP-compatible agents can recall, register, and inspect memory without
// speaking HTTP. It serves over stdio or mounted on the HTTP server's
// /mcp route.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/memory"
)

// Server wraps the MCP server around the memory service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *memory.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(svc *memory.Service, version string, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"mnemo",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks, serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// mnemo_recall: attention-weighted recall across every collection.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_recall",
			mcplib.WithDescription("Recall memory across decisions, threads, patterns, priming, flags, and messages, ranked by attention score and packed to a token budget"),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
			mcplib.WithString("project", mcplib.Description("Restrict recall to one project")),
			mcplib.WithNumber("budget", mcplib.Description("Token budget for the response")),
		),
		s.handleRecall,
	)

	// mnemo_project_context: a project's full working state.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_project_context",
			mcplib.WithDescription("Get a project's decisions, open threads, flags, and its stale and contested subsets"),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
		),
		s.handleProjectContext,
	)

	// mnemo_entanglement: latest cross-project scan.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_entanglement",
			mcplib.WithDescription("Get the latest entanglement scan: cross-project resonances, clusters, bridges, and loose ends"),
		),
		s.handleEntanglement,
	)

	// mnemo_trace: conversation lineage in both directions.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_trace",
			mcplib.WithDescription("Trace a conversation's compression lineage toward the root and toward the leaves"),
			mcplib.WithString("conversation_id", mcplib.Description("Conversation identifier"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum edges per direction")),
		),
		s.handleTrace,
	)

	// mnemo_alerts: everything needing attention.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_alerts",
			mcplib.WithDescription("Count stale decisions and threads, active conflicts, pending flags, resonances, and loose ends"),
		),
		s.handleAlerts,
	)

	// mnemo_search: plain similarity search, one collection.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_search",
			mcplib.WithDescription("Similarity search within a single scope: decisions, threads, patterns, priming, flags, or messages"),
			mcplib.WithString("scope", mcplib.Description("Collection to search"), mcplib.Required()),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
			mcplib.WithNumber("k", mcplib.Description("Maximum results to return")),
		),
		s.handleSearch,
	)

	// mnemo_stats: record counts.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_stats",
			mcplib.WithDescription("Record counts per collection"),
		),
		s.handleStats,
	)

	// mnemo_projects: projects with record counts.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_projects",
			mcplib.WithDescription("List projects with per-collection record counts"),
		),
		s.handleProjects,
	)

	// mnemo_session: scratchpad snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_session",
			mcplib.WithDescription("Get the live scratchpad entries for a session"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleSession,
	)

	// mnemo_decide: register a decision.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_decide",
			mcplib.WithDescription("Register a decision; re-registering identical text validates it, and contradictory neighbors are reported as conflicts"),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("local_id", mcplib.Description("Project-scoped decision id, e.g. D042"), mcplib.Required()),
			mcplib.WithString("text", mcplib.Description("What was decided"), mcplib.Required()),
			mcplib.WithString("rationale", mcplib.Description("Why it was decided")),
			mcplib.WithArray("alternatives", mcplib.Description("Alternatives that were considered and rejected"), mcplib.Items(map[string]any{"type": "string"})),
			mcplib.WithNumber("tier", mcplib.Description("Epistemic tier 0.0-1.0")),
			mcplib.WithString("source_conversation", mcplib.Description("Conversation the decision was made in")),
		),
		s.handleDecide,
	)

	// mnemo_thread: one thread state transition.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_thread",
			mcplib.WithDescription("Open, resolve, or block a thread. Resolve requires a resolution; resolved is terminal"),
			mcplib.WithString("op", mcplib.Description("One of open, resolve, block"), mcplib.Required()),
			mcplib.WithString("project", mcplib.Description("Project name")),
			mcplib.WithString("local_id", mcplib.Description("Project-scoped thread id, e.g. T017")),
			mcplib.WithString("title", mcplib.Description("Thread title (open)")),
			mcplib.WithString("description", mcplib.Description("What the thread is about (open)")),
			mcplib.WithString("priority", mcplib.Description("One of high, medium, low (open)")),
			mcplib.WithString("source_conversation", mcplib.Description("Conversation the thread was opened in")),
			mcplib.WithString("resolution", mcplib.Description("Resolution text (resolve)")),
			mcplib.WithString("blocked_by", mcplib.Description("Blocker description (block)")),
		),
		s.handleThread,
	)

	// mnemo_flag: record a pending expedition flag.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_flag",
			mcplib.WithDescription("Record a pending expedition flag for later compilation into priming"),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("category", mcplib.Description("One of inversion, isomorphism, fsd, manifestation, trap, general"), mcplib.Required()),
			mcplib.WithString("description", mcplib.Description("The observation"), mcplib.Required()),
		),
		s.handleFlag,
	)

	// mnemo_pattern: register or merge a pattern.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_pattern",
			mcplib.WithDescription("Register a pattern; near-duplicates merge with confidence-weighted reinforcement"),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("text", mcplib.Description("The pattern"), mcplib.Required()),
			mcplib.WithNumber("confidence", mcplib.Description("Initial confidence 0.0-1.0")),
		),
		s.handlePattern,
	)

	// mnemo_remember: session scratchpad write.
	s.mcpServer.AddTool(
		mcplib.NewTool("mnemo_remember",
			mcplib.WithDescription("Put a value on the session scratchpad with a TTL"),
			mcplib.WithString("key", mcplib.Description("Key in session/key form, e.g. s1/current-focus"), mcplib.Required()),
			mcplib.WithString("value", mcplib.Description("Value to store"), mcplib.Required()),
			mcplib.WithNumber("ttl", mcplib.Description("Time to live in seconds")),
		),
		s.handleRemember,
	)
}

// toolResult marshals v into a text content payload.
func toolResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(apperr.Wrap(apperr.KindInternal, err, "marshal result"))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// errorResult carries the taxonomy envelope back as an MCP tool error.
func errorResult(err error) *mcplib.CallToolResult {
	data, _ := json.Marshal(apperr.ToEnvelope(err))
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}
