package memory

import (
	"context"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/apperr"
	"github.com/mnemo-ai/mnemo/internal/gravity"
	"github.com/mnemo-ai/mnemo/internal/model"
)

// Gravity runs multi-lens orchestrated recall.
func (s *Service) Gravity(ctx context.Context, in gravity.Input) (*gravity.Result, error) {
	res, err := s.field.Orchestrate(ctx, in)
	if err != nil {
		return nil, err
	}
	s.readEvent(ctx, "gravity", nil)
	return res, nil
}

// AssignRole gives a project its lens role, replacing any existing one.
// Weight clamps to [0, 1]; 0 means full weight. Returns the stored role
// and whether the project had none before.
func (s *Service) AssignRole(ctx context.Context, project, role string, weight float64, description string) (*model.ProjectRole, bool, error) {
	if s.db == nil {
		return nil, false, apperr.New(apperr.KindUnavailable, "role storage unavailable")
	}
	if strings.TrimSpace(project) == "" {
		return nil, false, apperr.Invalid("role project must be non-empty")
	}
	if !gravity.ValidRole(role) {
		return nil, false, apperr.Invalid("unknown role %q, valid: %s", role, strings.Join(gravity.RoleNames(), ", "))
	}
	if weight <= 0 {
		weight = 1.0
	}
	if weight > 1 {
		weight = 1.0
	}
	if description == "" {
		description = gravity.RoleTypes[role].Description
	}

	pr := &model.ProjectRole{
		Project:     project,
		Role:        role,
		GravityType: gravity.GravityTypeFor(role),
		Description: description,
		Weight:      weight,
		UpdatedAt:   s.now(),
	}
	created, err := s.db.SaveRole(ctx, pr)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindUnavailable, err, "save role for %s", project)
	}
	if err := s.db.AppendEvent(ctx, model.EventWrite, "role.assign", []string{project}); err != nil {
		s.logger.Warn("memory: event append failed", "operation", "role.assign", "error", err)
	}
	return pr, created, nil
}

// ListRoles returns every project role assignment.
func (s *Service) ListRoles(ctx context.Context) ([]model.ProjectRole, error) {
	if s.db == nil {
		return nil, nil
	}
	roles, err := s.db.ListRoles(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list roles")
	}
	s.readEvent(ctx, "roles", nil)
	return roles, nil
}

// RemoveRole deletes a project's role assignment.
func (s *Service) RemoveRole(ctx context.Context, project string) error {
	if s.db == nil {
		return apperr.NotFound("project %s has no role", project)
	}
	if strings.TrimSpace(project) == "" {
		return apperr.Invalid("role project must be non-empty")
	}
	removed, err := s.db.DeleteRole(ctx, project)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "delete role for %s", project)
	}
	if !removed {
		return apperr.NotFound("project %s has no role", project)
	}
	if err := s.db.AppendEvent(ctx, model.EventWrite, "role.remove", []string{project}); err != nil {
		s.logger.Warn("memory: event append failed", "operation", "role.remove", "error", err)
	}
	return nil
}
