package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// AppendEvent writes one audit record. Called after the primary operation
// succeeds; a failed primary leaves no event.
func (d *DB) AppendEvent(ctx context.Context, kind model.EventKind, operation string, ids []string) error {
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("storage: marshal event ids: %w", err)
	}

	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO events (kind, operation, ids, ts) VALUES (?, ?, ?, ?)`,
		string(kind), operation, string(idsJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: append event %s: %w", operation, err)
	}
	return nil
}

// EventsBetween returns events with from <= ts < to, oldest first, up to
// limit rows. Retrieval is by time range only.
func (d *DB) EventsBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, kind, operation, ids, ts FROM events WHERE ts >= ? AND ts < ? ORDER BY id ASC LIMIT ?`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		var (
			ev      model.Event
			kind    string
			idsJSON string
			ts      string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Operation, &idsJSON, &ts); err != nil {
			return nil, fmt.Errorf("storage: scan event row: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		if err := json.Unmarshal([]byte(idsJSON), &ev.IDs); err != nil {
			return nil, fmt.Errorf("storage: unmarshal event ids: %w", err)
		}
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("storage: parse event timestamp: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
