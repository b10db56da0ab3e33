package event

import "time"

const PermissionQueue string = "permission_events"

type PermissionEventType string

const (
	PermissionGranted PermissionEventType = "granted"
	PermissionRevoked PermissionEventType = "revoked"
	PermissionSynced  PermissionEventType = "synced"
)

// PermissionChangeEvent is published after a committed grant mutation so
// downstream consumers (notification delivery, session refresh) can react.
type PermissionChangeEvent struct {
	ID            string              `json:"id"`
	EventType     PermissionEventType `json:"event_type"`
	SubjectType   string              `json:"subject_type"`
	SubjectID     string              `json:"subject_id"`
	Permissions   []string            `json:"permissions"`
	Actor         string              `json:"actor"`
	CorrelationID string              `json:"correlation_id"`
	OccurredAt    time.Time           `json:"occurred_at"`
}
