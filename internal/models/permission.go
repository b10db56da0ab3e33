package models

import "time"

type Permission struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PermissionDefinition seeds the catalog at startup. Seeding inserts missing
// names only and never overwrites is_active on existing rows.
type PermissionDefinition struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type SubjectType string

const (
	SubjectUser SubjectType = "user"
	SubjectRole SubjectType = "role"
)

// Subject identifies one side of a grant: a user id or a role id.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

// GrantStatus is computed at read time from revoked_at/expires_at; expiry is
// never written back to storage.
type GrantStatus string

const (
	StatusAbsent  GrantStatus = "absent"
	StatusActive  GrantStatus = "active"
	StatusExpired GrantStatus = "expired"
	StatusRevoked GrantStatus = "revoked"
)

type UserPermission struct {
	ID             int        `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	PermissionID   int        `json:"permission_id" db:"permission_id"`
	PermissionName string     `json:"permission_name" db:"permission_name"`
	GrantedAt      time.Time  `json:"granted_at" db:"granted_at"`
	GrantedBy      string     `json:"granted_by" db:"granted_by"`
	Reason         *string    `json:"reason" db:"reason"`
	ExpiresAt      *time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at" db:"revoked_at"`
	RevokedBy      *string    `json:"revoked_by" db:"revoked_by"`
}

func (up *UserPermission) StatusAt(now time.Time) GrantStatus {
	return grantStatusAt(up.RevokedAt, up.ExpiresAt, now)
}

type RolePermission struct {
	ID             int        `json:"id" db:"id"`
	RoleID         string     `json:"role_id" db:"role_id"`
	PermissionID   int        `json:"permission_id" db:"permission_id"`
	PermissionName string     `json:"permission_name" db:"permission_name"`
	GrantedAt      time.Time  `json:"granted_at" db:"granted_at"`
	GrantedBy      string     `json:"granted_by" db:"granted_by"`
	Reason         *string    `json:"reason" db:"reason"`
	ExpiresAt      *time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at" db:"revoked_at"`
	RevokedBy      *string    `json:"revoked_by" db:"revoked_by"`
}

func (rp *RolePermission) StatusAt(now time.Time) GrantStatus {
	return grantStatusAt(rp.RevokedAt, rp.ExpiresAt, now)
}

// Revocation wins over expiry when both apply: the revocation was an explicit
// operator action and is the state the audit trail reflects.
func grantStatusAt(revokedAt, expiresAt *time.Time, now time.Time) GrantStatus {
	if revokedAt != nil {
		return StatusRevoked
	}
	if expiresAt != nil && now.After(*expiresAt) {
		return StatusExpired
	}
	return StatusActive
}
