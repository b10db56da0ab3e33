package services

import (
	"context"
	"log/slog"

	"permission-service/internal/errs"
	"permission-service/internal/models"
	"permission-service/internal/repository"
)

// PermissionService manages the static permission catalog
type PermissionService struct {
	catalog repository.PermissionRepository
	cache   repository.EffectiveCache
}

// NewPermissionService creates a new permission catalog service
func NewPermissionService(catalog repository.PermissionRepository, cache repository.EffectiveCache) *PermissionService {
	return &PermissionService{
		catalog: catalog,
		cache:   cache,
	}
}

// InitializeSystemPermissions seeds the catalog at startup. Idempotent:
// existing rows keep their is_active state untouched.
func (s *PermissionService) InitializeSystemPermissions(ctx context.Context, defs []models.PermissionDefinition) (int, error) {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return 0, errs.NewValidation("name", "permission name cannot be empty")
		}
		if seen[def.Name] {
			return 0, errs.NewValidation("name", "duplicate permission definition '"+def.Name+"'")
		}
		seen[def.Name] = true
	}

	return s.catalog.InitializeSystemPermissions(ctx, defs)
}

// GetPermission retrieves a catalog entry by name
func (s *PermissionService) GetPermission(ctx context.Context, name string) (*models.Permission, error) {
	if name == "" {
		return nil, errs.NewValidation("name", "permission name cannot be empty")
	}
	return s.catalog.GetPermissionByName(ctx, name)
}

// GetAllPermissions retrieves catalog entries with optional category filtering
func (s *PermissionService) GetAllPermissions(ctx context.Context, category string, activeOnly bool, limit, offset int) ([]*models.Permission, error) {
	return s.catalog.GetPermissions(ctx, category, activeOnly, limit, offset)
}

// Activate re-enables a permission for everyone holding a live grant.
func (s *PermissionService) Activate(ctx context.Context, name string) error {
	return s.setActive(ctx, name, true)
}

// Deactivate makes the permission unconditionally false for everyone,
// overriding every grant. Grant rows are not touched.
func (s *PermissionService) Deactivate(ctx context.Context, name string) error {
	return s.setActive(ctx, name, false)
}

func (s *PermissionService) setActive(ctx context.Context, name string, active bool) error {
	if name == "" {
		return errs.NewValidation("name", "permission name cannot be empty")
	}
	if err := s.catalog.SetActive(ctx, name, active); err != nil {
		return err
	}

	// A catalog toggle changes every user's effective set at once.
	if err := s.cache.InvalidateAll(ctx); err != nil {
		slog.Warn("Failed to invalidate effective permission cache", "permission", name, "error", err)
	}

	slog.Info("Permission catalog entry toggled", "name", name, "is_active", active)
	return nil
}

// DeletePermission hard-deletes a catalog entry. Fails with a ConflictError
// while any grant row still references it, preserving audit integrity.
func (s *PermissionService) DeletePermission(ctx context.Context, name string) error {
	if name == "" {
		return errs.NewValidation("name", "permission name cannot be empty")
	}
	if err := s.catalog.DeletePermission(ctx, name); err != nil {
		return err
	}

	if err := s.cache.InvalidateAll(ctx); err != nil {
		slog.Warn("Failed to invalidate effective permission cache", "permission", name, "error", err)
	}
	return nil
}
