package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() (*ResolverService, *fakeCatalog, *fakeGrantStore, *fakeRoles, *fakeCache) {
	catalog := newFakeCatalog("posts.delete", "posts.create", "chat.ban")
	store := newFakeGrantStore("posts.delete", "posts.create", "chat.ban")
	roles := newFakeRoles()
	cache := newFakeCache()
	return NewResolverService(catalog, store, roles, cache), catalog, store, roles, cache
}

func activeRecord(actor string) *fakeGrantRecord {
	return &fakeGrantRecord{grantedAt: time.Now(), grantedBy: actor}
}

func TestHasPermission_RoleGrant(t *testing.T) {
	resolver, _, store, roles, _ := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", activeRecord("admin"))

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.True(t, allowed, "active role grant should allow the permission")
}

func TestHasPermission_DirectRevokeOverridesRoleGrant(t *testing.T) {
	resolver, _, store, roles, _ := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", activeRecord("admin"))

	revoked := activeRecord("admin")
	revoked.revokedAt = timePtr(time.Now())
	revoked.revokedBy = strPtr("admin")
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", revoked)

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.False(t, allowed, "a revoked direct grant must win over an active role grant")
}

func TestHasPermission_RegrantRestoresAccess(t *testing.T) {
	resolver, _, store, roles, _ := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", activeRecord("admin"))

	revoked := activeRecord("admin")
	revoked.revokedAt = timePtr(time.Now())
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", revoked)
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", activeRecord("admin"))

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestHasPermission_ExpiredDirectGrantBlocksRoleGrant(t *testing.T) {
	resolver, _, store, roles, _ := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", activeRecord("admin"))

	expired := activeRecord("admin")
	expired.expiresAt = timePtr(time.Now().Add(-time.Hour))
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", expired)

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.False(t, allowed, "an expired direct grant is still authoritative over role grants")
}

func TestHasPermission_DeactivatedCatalogEntryOverridesGrants(t *testing.T) {
	resolver, catalog, store, _, _ := newTestResolver()
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", activeRecord("admin"))
	require.NoError(t, catalog.SetActive(context.Background(), "posts.delete", false))

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.False(t, allowed, "deactivating the catalog entry denies everyone")
}

func TestHasPermission_UnknownPermissionIsFalseWithoutError(t *testing.T) {
	resolver, _, _, _, _ := newTestResolver()

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.nonexistent")

	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestHasPermission_ExpiredRoleGrant(t *testing.T) {
	resolver, _, store, roles, _ := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}

	expired := activeRecord("admin")
	expired.expiresAt = timePtr(time.Now().Add(-time.Minute))
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", expired)

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.NoError(t, err)
	assert.False(t, allowed, "expiry applies at read time without any sweep")
}

func TestHasPermission_FailsClosedOnMembershipError(t *testing.T) {
	resolver, _, _, roles, _ := newTestResolver()
	roles.err = errors.New("identity subsystem unavailable")

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.Error(t, err)
	assert.False(t, allowed, "resolution errors must deny, not allow")
}

func TestHasPermission_FailsClosedOnGrantReadError(t *testing.T) {
	resolver, _, store, _, _ := newTestResolver()
	store.readErr = errors.New("connection reset")

	allowed, err := resolver.HasPermission(context.Background(), "user-1", "posts.delete")

	require.Error(t, err)
	assert.False(t, allowed)
}

func TestHasPermission_RejectsEmptyInputs(t *testing.T) {
	resolver, _, _, _, _ := newTestResolver()

	_, err := resolver.HasPermission(context.Background(), "", "posts.delete")
	assert.True(t, errs.IsValidation(err))

	_, err = resolver.HasPermission(context.Background(), "user-1", "")
	assert.True(t, errs.IsValidation(err))
}

func TestHasAnyPermission(t *testing.T) {
	resolver, _, store, _, _ := newTestResolver()
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "chat.ban", activeRecord("admin"))

	allowed, err := resolver.HasAnyPermission(context.Background(), "user-1", []string{"posts.delete", "chat.ban"})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = resolver.HasAnyPermission(context.Background(), "user-1", []string{"posts.delete", "posts.create"})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestHasAllPermissions(t *testing.T) {
	resolver, _, store, _, _ := newTestResolver()
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "chat.ban", activeRecord("admin"))
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", activeRecord("admin"))

	allowed, err := resolver.HasAllPermissions(context.Background(), "user-1", []string{"posts.delete", "chat.ban"})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = resolver.HasAllPermissions(context.Background(), "user-1", []string{"posts.delete", "posts.create"})
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = resolver.HasAllPermissions(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.True(t, allowed, "an empty requirement set is vacuously satisfied")
}

func TestGetEffectivePermissions_PrecedenceAndOrdering(t *testing.T) {
	resolver, _, store, roles, cache := newTestResolver()
	roles.userRoles["user-1"] = []string{"moderator"}

	// direct active
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.create", activeRecord("admin"))
	// direct revoked shadows the role grant for the same name
	revoked := activeRecord("admin")
	revoked.revokedAt = timePtr(time.Now())
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.delete", revoked)
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "posts.delete", activeRecord("admin"))
	store.setRecord(models.Subject{Type: models.SubjectRole, ID: "moderator"}, "chat.ban", activeRecord("admin"))

	effective, err := resolver.GetEffectivePermissions(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"chat.ban", "posts.create"}, effective)

	cached, hit, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, hit, "resolved set should be cached")
	assert.Equal(t, effective, cached)
}

func TestGetEffectivePermissions_ServesCachedSet(t *testing.T) {
	resolver, _, _, _, cache := newTestResolver()
	require.NoError(t, cache.Set(context.Background(), "user-1", []string{"chat.ban"}))

	effective, err := resolver.GetEffectivePermissions(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"chat.ban"}, effective)
}

func TestGetEffectivePermissions_CacheFailureFallsBack(t *testing.T) {
	resolver, _, store, _, cache := newTestResolver()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	store.setRecord(models.Subject{Type: models.SubjectUser, ID: "user-1"}, "posts.create", activeRecord("admin"))

	effective, err := resolver.GetEffectivePermissions(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"posts.create"}, effective, "cache failures must not break resolution")
}
