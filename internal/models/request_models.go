package models

import "time"

// Grant/Revoke DTOs
type GrantRequest struct {
	SubjectType   SubjectType `json:"subject_type" binding:"required"`
	SubjectID     string      `json:"subject_id" binding:"required"`
	Permission    string      `json:"permission" binding:"required"`
	Reason        *string     `json:"reason"`
	ExpiresAt     *time.Time  `json:"expires_at"`
	CorrelationID string      `json:"correlation_id"`
}

type RevokeRequest struct {
	SubjectType   SubjectType `json:"subject_type" binding:"required"`
	SubjectID     string      `json:"subject_id" binding:"required"`
	Permission    string      `json:"permission" binding:"required"`
	Reason        *string     `json:"reason"`
	CorrelationID string      `json:"correlation_id"`
}

type SyncRequest struct {
	Permissions   []string `json:"permissions"`
	CorrelationID string   `json:"correlation_id"`
}

type BulkGrantRequest struct {
	Permission string  `json:"permission" binding:"required"`
	Reason     *string `json:"reason"`
}

// GrantChange reports the audited state transition a mutation produced.
type GrantChange struct {
	Changed       bool        `json:"changed"`
	PreviousState GrantStatus `json:"previous_state"`
	NewState      GrantStatus `json:"new_state"`
	CorrelationID string      `json:"correlation_id"`
}

// SyncResult lists the minimal change set a reconciliation applied.
type SyncResult struct {
	Granted       []string `json:"granted"`
	Revoked       []string `json:"revoked"`
	CorrelationID string   `json:"correlation_id"`
}

// SubjectOutcome is one subject's result inside a bulk batch operation.
type SubjectOutcome struct {
	SubjectID string `json:"subject_id"`
	Error     string `json:"error,omitempty"`
}

type BulkGrantResult struct {
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Outcomes  []SubjectOutcome `json:"outcomes"`
	Cancelled bool             `json:"cancelled"`
}

// Check DTOs
type PermissionCheckRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

type PermissionCheckResponse struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission,omitempty"`
	Allowed    bool   `json:"allowed"`
}

// Catalog DTOs
type CreatePermissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Description string `json:"description"`
}

// Response DTOs
type PaginatedPermissionsResponse struct {
	Permissions []*Permission `json:"permissions"`
	Total       int           `json:"total"`
	Limit       int           `json:"limit"`
	Offset      int           `json:"offset"`
}

type PaginatedAuditResponse struct {
	Entries []*PermissionAudit `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

type EffectivePermissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}
