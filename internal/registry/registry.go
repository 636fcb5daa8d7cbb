// Package registry owns the mutable record kinds: decisions, threads,
// patterns, priming blocks, and expedition flags.
//
// Each registry keeps a mutex-protected in-memory index for local-id
// uniqueness and writes through to the vector store. The vector store is
// the durable copy; indices rehydrate from it on startup.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// EventSink receives audit events. Sink failures never block the primary
// operation; they are logged out-of-band by the caller.
type EventSink interface {
	AppendEvent(ctx context.Context, kind model.EventKind, operation string, ids []string) error
}

// NopSink discards events. Used by tests that don't assert on the log.
type NopSink struct{}

// AppendEvent discards the event.
func (NopSink) AppendEvent(context.Context, model.EventKind, string, []string) error { return nil }

func appendEvent(ctx context.Context, sink EventSink, logger *slog.Logger, kind model.EventKind, operation string, ids []string) {
	if sink == nil {
		return
	}
	if err := sink.AppendEvent(ctx, kind, operation, ids); err != nil {
		logger.Warn("registry: event append failed", "operation", operation, "error", err)
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
