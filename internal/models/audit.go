package models

import "time"

type AuditAction string

const (
	ActionGrant       AuditAction = "grant"
	ActionRevoke      AuditAction = "revoke"
	ActionSyncGrant   AuditAction = "sync_grant"
	ActionSyncRevoke  AuditAction = "sync_revoke"
	ActionSyncSummary AuditAction = "sync_summary"
)

// PermissionAudit is one append-only ledger row. Rows are written in the same
// transaction as the grant mutation they record and are never updated.
type PermissionAudit struct {
	ID             int64       `json:"id" db:"id"`
	SubjectType    SubjectType `json:"subject_type" db:"subject_type"`
	SubjectID      string      `json:"subject_id" db:"subject_id"`
	PermissionName string      `json:"permission_name" db:"permission_name"`
	Action         AuditAction `json:"action" db:"action"`
	Actor          string      `json:"actor" db:"actor"`
	Reason         *string     `json:"reason" db:"reason"`
	PreviousState  GrantStatus `json:"previous_state" db:"previous_state"`
	NewState       GrantStatus `json:"new_state" db:"new_state"`
	CorrelationID  string      `json:"correlation_id" db:"correlation_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AuditFilter narrows audit queries; nil/empty fields are not applied.
type AuditFilter struct {
	SubjectType    *SubjectType
	SubjectID      string
	PermissionName string
	Action         *AuditAction
	CorrelationID  string
	From           *time.Time
	To             *time.Time
}
