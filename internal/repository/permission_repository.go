package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"permission-service/internal/errs"
	"permission-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PermissionRepository handles the permission catalog
type PermissionRepository interface {
	// InitializeSystemPermissions inserts definitions absent from storage.
	// Existing rows are left untouched, is_active included. Safe to call on
	// every process start.
	InitializeSystemPermissions(ctx context.Context, defs []models.PermissionDefinition) (int, error)

	GetPermissionByName(ctx context.Context, name string) (*models.Permission, error)
	GetPermissions(ctx context.Context, category string, activeOnly bool, limit, offset int) ([]*models.Permission, error)
	GetActivePermissionNames(ctx context.Context) ([]string, error)

	// SetActive soft-toggles a catalog entry; grant rows are not touched.
	SetActive(ctx context.Context, name string, active bool) error

	// DeletePermission hard-deletes a catalog entry. It fails with a
	// ConflictError while any grant row, active or historical, still
	// references the permission.
	DeletePermission(ctx context.Context, name string) error
}

// permissionRepository implements PermissionRepository interface
type permissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository creates a new permission catalog repository
func NewPermissionRepository(db *sqlx.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) InitializeSystemPermissions(ctx context.Context, defs []models.PermissionDefinition) (int, error) {
	inserted := 0
	query := `
		INSERT INTO permissions (name, category, description, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (name) DO NOTHING`

	for _, def := range defs {
		if def.Name == "" {
			return inserted, errs.NewValidation("name", "permission name cannot be empty")
		}
		result, err := r.db.ExecContext(ctx, query, def.Name, def.Category, def.Description)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed permission '%s': %w", def.Name, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(rowsAffected)
	}

	slog.Info("Permission catalog seeded", "definitions", len(defs), "inserted", inserted)
	return inserted, nil
}

func (r *permissionRepository) GetPermissionByName(ctx context.Context, name string) (*models.Permission, error) {
	permission := &models.Permission{}
	query := `
		SELECT id, name, category, description, is_active, created_at
		FROM permissions
		WHERE name = $1`

	err := r.db.GetContext(ctx, permission, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get permission by name: %w", err)
	}

	return permission, nil
}

func (r *permissionRepository) GetPermissions(ctx context.Context, category string, activeOnly bool, limit, offset int) ([]*models.Permission, error) {
	var permissions []*models.Permission
	var args []interface{}

	baseQuery := `
		SELECT id, name, category, description, is_active, created_at
		FROM permissions`

	conditions := []string{}
	argIndex := 1

	if category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, category)
		argIndex++
	}
	if activeOnly {
		conditions = append(conditions, "is_active = true")
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY category, name"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++

		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	err := r.db.SelectContext(ctx, &permissions, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}

	return permissions, nil
}

func (r *permissionRepository) GetActivePermissionNames(ctx context.Context) ([]string, error) {
	var names []string
	query := `SELECT name FROM permissions WHERE is_active = true ORDER BY name`

	err := r.db.SelectContext(ctx, &names, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active permission names: %w", err)
	}

	return names, nil
}

func (r *permissionRepository) SetActive(ctx context.Context, name string, active bool) error {
	query := `UPDATE permissions SET is_active = $2 WHERE name = $1`

	result, err := r.db.ExecContext(ctx, query, name, active)
	if err != nil {
		return fmt.Errorf("failed to set permission active state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
	}

	return nil
}

func (r *permissionRepository) DeletePermission(ctx context.Context, name string) error {
	query := `DELETE FROM permissions WHERE name = $1`

	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		var pqErr *pq.Error
		// foreign_key_violation: a grant row still references this permission
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return errs.NewConflict(fmt.Sprintf("permission '%s' is referenced by existing grants", name))
		}
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
	}

	slog.Info("Permission deleted from catalog", "name", name)
	return nil
}
