package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusAt_Active(t *testing.T) {
	now := time.Now()
	grant := UserPermission{GrantedAt: now.Add(-time.Hour)}

	assert.Equal(t, StatusActive, grant.StatusAt(now))
}

func TestStatusAt_ActiveWithFutureExpiry(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	grant := UserPermission{ExpiresAt: &expiry}

	assert.Equal(t, StatusActive, grant.StatusAt(now))
}

func TestStatusAt_Expired(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-time.Minute)
	grant := UserPermission{ExpiresAt: &expiry}

	assert.Equal(t, StatusExpired, grant.StatusAt(now))
}

func TestStatusAt_ExpiryBoundary(t *testing.T) {
	now := time.Now()
	grant := UserPermission{ExpiresAt: &now}

	assert.Equal(t, StatusActive, grant.StatusAt(now), "a grant expires strictly after its expiry instant")
	assert.Equal(t, StatusExpired, grant.StatusAt(now.Add(time.Nanosecond)))
}

func TestStatusAt_Revoked(t *testing.T) {
	now := time.Now()
	revokedAt := now.Add(-time.Minute)
	grant := UserPermission{RevokedAt: &revokedAt}

	assert.Equal(t, StatusRevoked, grant.StatusAt(now))
}

func TestStatusAt_RevocationWinsOverExpiry(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-time.Hour)
	revokedAt := now.Add(-time.Minute)
	grant := UserPermission{ExpiresAt: &expiry, RevokedAt: &revokedAt}

	assert.Equal(t, StatusRevoked, grant.StatusAt(now), "an explicit revocation is reported even after expiry passed")
}

func TestStatusAt_RoleGrant(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-time.Minute)
	grant := RolePermission{ExpiresAt: &expiry}

	assert.Equal(t, StatusExpired, grant.StatusAt(now))
}
