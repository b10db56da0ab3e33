package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// RoleMembershipProvider answers "which roles does user X hold". Membership is
// owned by the identity subsystem; this service only reads it and treats the
// data as eventually consistent.
type RoleMembershipProvider interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	GetRoleUsers(ctx context.Context, roleID string) ([]string, error)
}

// roleMembershipRepository implements RoleMembershipProvider over the identity
// subsystem's user_roles/roles tables.
type roleMembershipRepository struct {
	db *sqlx.DB
}

// NewRoleMembershipRepository creates a new role membership provider
func NewRoleMembershipRepository(db *sqlx.DB) RoleMembershipProvider {
	return &roleMembershipRepository{db: db}
}

// GetUserRoles retrieves the active, unexpired role ids held by a user
func (r *roleMembershipRepository) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	var roleIDs []string
	query := `
		SELECT ur.role_id::text
		FROM user_roles ur
		INNER JOIN roles r ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND ur.is_active = true AND r.is_active = true
		AND (ur.expires_at IS NULL OR ur.expires_at > EXTRACT(EPOCH FROM CURRENT_TIMESTAMP))
		ORDER BY ur.role_id`

	err := r.db.SelectContext(ctx, &roleIDs, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}

	return roleIDs, nil
}

// GetRoleUsers retrieves all users actively assigned to a role
func (r *roleMembershipRepository) GetRoleUsers(ctx context.Context, roleID string) ([]string, error) {
	var userIDs []string
	query := `
		SELECT ur.user_id
		FROM user_roles ur
		WHERE ur.role_id::text = $1 AND ur.is_active = true
		AND (ur.expires_at IS NULL OR ur.expires_at > EXTRACT(EPOCH FROM CURRENT_TIMESTAMP))
		ORDER BY ur.assigned_at`

	err := r.db.SelectContext(ctx, &userIDs, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role users: %w", err)
	}

	return userIDs, nil
}
