package mcp

import (
	"context"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/mnemo-ai/mnemo/internal/attention"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/registry"
)

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	res, err := s.svc.Recall(ctx, attention.RecallInput{
		Query:   request.GetString("query", ""),
		Project: request.GetString("project", ""),
		Budget:  request.GetInt("budget", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(res), nil
}

func (s *Server) handleProjectContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	pc, err := s.svc.GetProjectContext(ctx, request.GetString("project", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(pc), nil
}

func (s *Server) handleEntanglement(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	snap, err := s.svc.Entanglement(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(snap), nil
}

func (s *Server) handleTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	trace, err := s.svc.Trace(ctx, request.GetString("conversation_id", ""), request.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(trace), nil
}

func (s *Server) handleAlerts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	alerts, err := s.svc.GetAlerts(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(alerts), nil
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	hits, err := s.svc.Search(ctx,
		request.GetString("scope", ""),
		request.GetString("query", ""),
		request.GetInt("k", 0),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(map[string]any{"results": hits, "total": len(hits)}), nil
}

func (s *Server) handleStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats, err := s.svc.GetStats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(stats), nil
}

func (s *Server) handleProjects(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	projects, err := s.svc.ListProjects(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(map[string]any{"projects": projects}), nil
}

func (s *Server) handleSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entries, err := s.svc.Session(ctx, request.GetString("session_id", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(map[string]any{"entries": entries}), nil
}

func (s *Server) handleDecide(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	in := registry.RegisterDecisionInput{
		Project:              request.GetString("project", ""),
		LocalID:              request.GetString("local_id", ""),
		Text:                 request.GetString("text", ""),
		Rationale:            request.GetString("rationale", ""),
		AlternativesRejected: request.GetStringSlice("alternatives", nil),
		EpistemicTier:        request.GetFloat("tier", 0),
		SourceConversation:   request.GetString("source_conversation", ""),
	}
	res, err := s.svc.Decide(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(res), nil
}

func (s *Server) handleThread(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	in := memory.ThreadInput{
		Op:                 request.GetString("op", ""),
		Project:            request.GetString("project", ""),
		LocalID:            request.GetString("local_id", ""),
		Title:              request.GetString("title", ""),
		Description:        request.GetString("description", ""),
		Priority:           model.ThreadPriority(request.GetString("priority", "")),
		SourceConversation: request.GetString("source_conversation", ""),
		Resolution:         request.GetString("resolution", ""),
	}
	if blocker := request.GetString("blocked_by", ""); blocker != "" {
		in.BlockedBy = []string{blocker}
	}
	t, err := s.svc.Thread(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(t), nil
}

func (s *Server) handleFlag(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f, err := s.svc.Flag(ctx,
		request.GetString("project", ""),
		model.FlagCategory(request.GetString("category", "")),
		request.GetString("description", ""),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(f), nil
}

func (s *Server) handlePattern(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	res, err := s.svc.Pattern(ctx,
		request.GetString("project", ""),
		request.GetString("text", ""),
		request.GetFloat("confidence", 0),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(res), nil
}

func (s *Server) handleRemember(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entry, err := s.svc.Remember(ctx,
		request.GetString("key", ""),
		request.GetString("value", ""),
		time.Duration(request.GetInt("ttl", 0))*time.Second,
	)
	if err != nil {
		return errorResult(err), nil
	}
	return toolResult(map[string]any{"key": entry.Key, "expires_at": entry.ExpiresAt}), nil
}
