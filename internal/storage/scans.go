package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// SaveScan appends one scan snapshot and returns its assigned id.
// Snapshots are never updated or deleted.
func (d *DB) SaveScan(ctx context.Context, snap *model.ScanSnapshot) (int64, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal scan snapshot: %w", err)
	}

	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO scans (scanned_at, snapshot) VALUES (?, ?)`,
		snap.ScannedAt.UTC().Format(time.RFC3339Nano), string(body),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: save scan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: scan insert id: %w", err)
	}
	return id, nil
}

// LatestScan returns the most recent snapshot, or ErrNotFound when no scan
// has run yet.
func (d *DB) LatestScan(ctx context.Context) (*model.ScanSnapshot, error) {
	var (
		id   int64
		body string
	)
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, snapshot FROM scans ORDER BY id DESC LIMIT 1`,
	).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest scan: %w", err)
	}

	var snap model.ScanSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("storage: unmarshal scan snapshot: %w", err)
	}
	snap.ID = id
	return &snap, nil
}

// ListScans returns scan summaries newest-first, up to limit rows.
func (d *DB) ListScans(ctx context.Context, limit int) ([]model.ScanSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, snapshot FROM scans ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScanSummary
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		var snap model.ScanSnapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("storage: unmarshal scan snapshot: %w", err)
		}
		out = append(out, model.ScanSummary{ID: id, ScannedAt: snap.ScannedAt, Counts: snap.Counts})
	}
	return out, rows.Err()
}
