package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/models"
	"permission-service/internal/repository"
)

// ResolverService computes effective permissions for a user from the catalog,
// direct grants and role-derived grants. Reads fail closed: whenever a grant
// cannot be positively confirmed, the answer is false plus the underlying
// error.
type ResolverService struct {
	catalog repository.PermissionRepository
	grants  repository.GrantStore
	roles   repository.RoleMembershipProvider
	cache   repository.EffectiveCache
}

// NewResolverService creates a new resolver service
func NewResolverService(
	catalog repository.PermissionRepository,
	grants repository.GrantStore,
	roles repository.RoleMembershipProvider,
	cache repository.EffectiveCache,
) *ResolverService {
	return &ResolverService{
		catalog: catalog,
		grants:  grants,
		roles:   roles,
		cache:   cache,
	}
}

// HasPermission resolves one permission for one user.
//
// Resolution order:
//  1. unknown or deactivated catalog entry: false for everyone,
//  2. a direct grant row, whatever its status, is authoritative and role
//     grants are ignored; revoking a user's direct row strips the permission
//     even while a role still carries it,
//  3. otherwise any active grant on any held role suffices.
//
// Expiry is evaluated here at read time; nothing sweeps expired rows.
func (s *ResolverService) HasPermission(ctx context.Context, userID, permissionName string) (bool, error) {
	if userID == "" {
		return false, errs.NewValidation("user_id", "user id cannot be empty")
	}
	if permissionName == "" {
		return false, errs.NewValidation("permission", "permission name cannot be empty")
	}

	permission, err := s.catalog.GetPermissionByName(ctx, permissionName)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if !permission.IsActive {
		return false, nil
	}

	now := time.Now()

	direct, err := s.grants.GetDirect(ctx, userID, permissionName)
	if err != nil && !errs.IsNotFound(err) {
		return false, err
	}
	if direct != nil {
		return direct.StatusAt(now) == models.StatusActive, nil
	}

	roleIDs, err := s.roles.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(roleIDs) == 0 {
		return false, nil
	}

	roleGrants, err := s.grants.GetRoleGrants(ctx, roleIDs, permissionName)
	if err != nil {
		return false, err
	}
	for _, grant := range roleGrants {
		if grant.StatusAt(now) == models.StatusActive {
			return true, nil
		}
	}

	return false, nil
}

// HasAnyPermission returns true on the first permission the user holds.
func (s *ResolverService) HasAnyPermission(ctx context.Context, userID string, permissionNames []string) (bool, error) {
	for _, name := range permissionNames {
		allowed, err := s.HasPermission(ctx, userID, name)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions returns false on the first permission the user lacks.
func (s *ResolverService) HasAllPermissions(ctx context.Context, userID string, permissionNames []string) (bool, error) {
	if len(permissionNames) == 0 {
		return true, nil
	}
	for _, name := range permissionNames {
		allowed, err := s.HasPermission(ctx, userID, name)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// GetEffectivePermissions resolves the user's full permission set across the
// active catalog. The result is a pure function of current catalog, grant and
// role state; the cache only short-circuits repeat reads within its TTL.
func (s *ResolverService) GetEffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errs.NewValidation("user_id", "user id cannot be empty")
	}

	if cached, hit, err := s.cache.Get(ctx, userID); err != nil {
		slog.Warn("Effective permission cache read failed", "user_id", userID, "error", err)
	} else if hit {
		return cached, nil
	}

	activeNames, err := s.catalog.GetActivePermissionNames(ctx)
	if err != nil {
		return nil, err
	}

	directGrants, err := s.grants.ListDirect(ctx, userID)
	if err != nil {
		return nil, err
	}
	directByName := make(map[string]*models.UserPermission, len(directGrants))
	for _, grant := range directGrants {
		directByName[grant.PermissionName] = grant
	}

	roleIDs, err := s.roles.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	roleGrants, err := s.grants.ListForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	roleActive := make(map[string]bool)
	for _, grant := range roleGrants {
		if grant.StatusAt(now) == models.StatusActive {
			roleActive[grant.PermissionName] = true
		}
	}

	effective := make([]string, 0, len(activeNames))
	for _, name := range activeNames {
		if direct, ok := directByName[name]; ok {
			if direct.StatusAt(now) == models.StatusActive {
				effective = append(effective, name)
			}
			continue
		}
		if roleActive[name] {
			effective = append(effective, name)
		}
	}
	sort.Strings(effective)

	if err := s.cache.Set(ctx, userID, effective); err != nil {
		slog.Warn("Effective permission cache write failed", "user_id", userID, "error", err)
	}

	return effective, nil
}
