package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// SaveRole upserts a project's role assignment. Returns true when the
// project had no role before.
func (d *DB) SaveRole(ctx context.Context, role *model.ProjectRole) (bool, error) {
	var existing int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_roles WHERE project = ?`, role.Project,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("storage: check role: %w", err)
	}

	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO project_roles (project, role, gravity, description, weight, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project) DO UPDATE SET
			role = excluded.role,
			gravity = excluded.gravity,
			description = excluded.description,
			weight = excluded.weight,
			updated_at = excluded.updated_at`,
		role.Project, role.Role, role.GravityType, role.Description,
		role.Weight, role.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("storage: save role: %w", err)
	}
	return existing == 0, nil
}

// GetRole returns a project's role, or ErrNotFound.
func (d *DB) GetRole(ctx context.Context, project string) (*model.ProjectRole, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT project, role, gravity, description, weight, updated_at
		 FROM project_roles WHERE project = ?`, project,
	)
	role, err := scanRole(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get role: %w", err)
	}
	return role, nil
}

// ListRoles returns every role assignment, ordered by role then project.
func (d *DB) ListRoles(ctx context.Context) ([]model.ProjectRole, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT project, role, gravity, description, weight, updated_at
		 FROM project_roles ORDER BY role, project`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ProjectRole
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: role row: %w", err)
		}
		out = append(out, *role)
	}
	return out, rows.Err()
}

// DeleteRole removes a project's role. Returns false when the project had
// no role.
func (d *DB) DeleteRole(ctx context.Context, project string) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		`DELETE FROM project_roles WHERE project = ?`, project,
	)
	if err != nil {
		return false, fmt.Errorf("storage: delete role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete role result: %w", err)
	}
	return n > 0, nil
}

func scanRole(scan func(dest ...any) error) (*model.ProjectRole, error) {
	var (
		role model.ProjectRole
		ts   string
	)
	if err := scan(&role.Project, &role.Role, &role.GravityType, &role.Description, &role.Weight, &ts); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", ts, err)
	}
	role.UpdatedAt = parsed
	return &role, nil
}
