package services

import (
	"context"
	"log/slog"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/event"
	"permission-service/internal/models"
	"permission-service/internal/repository"

	"github.com/google/uuid"
)

// GrantService exposes single-subject grant and revoke mutations. Both are
// idempotent and safely retryable: a caller that resends the same correlation
// id gets the same state and no duplicate audit rows.
type GrantService struct {
	grants    repository.GrantStore
	cache     repository.EffectiveCache
	publisher event.Publisher
}

// NewGrantService creates a new grant service
func NewGrantService(grants repository.GrantStore, cache repository.EffectiveCache, publisher event.Publisher) *GrantService {
	return &GrantService{
		grants:    grants,
		cache:     cache,
		publisher: publisher,
	}
}

func (s *GrantService) Grant(ctx context.Context, subject models.Subject, permissionName, actor string, reason *string, expiresAt *time.Time, correlationID string) (*models.GrantChange, error) {
	if err := validateMutation(subject, permissionName, actor); err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	change, err := s.grants.Grant(ctx, repository.GrantParams{
		Subject:        subject,
		PermissionName: permissionName,
		Actor:          actor,
		Reason:         reason,
		ExpiresAt:      expiresAt,
		CorrelationID:  correlationID,
		Action:         models.ActionGrant,
	})
	if err != nil {
		return nil, err
	}

	if change.Changed {
		s.afterMutation(ctx, subject, event.PermissionGranted, []string{permissionName}, actor, correlationID)
	}
	return change, nil
}

func (s *GrantService) Revoke(ctx context.Context, subject models.Subject, permissionName, actor string, reason *string, correlationID string) (*models.GrantChange, error) {
	if err := validateMutation(subject, permissionName, actor); err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	change, err := s.grants.Revoke(ctx, repository.RevokeParams{
		Subject:        subject,
		PermissionName: permissionName,
		Actor:          actor,
		Reason:         reason,
		CorrelationID:  correlationID,
		Action:         models.ActionRevoke,
	})
	if err != nil {
		return nil, err
	}

	if change.Changed {
		s.afterMutation(ctx, subject, event.PermissionRevoked, []string{permissionName}, actor, correlationID)
	}
	return change, nil
}

// ListDirect returns every direct grant row for a user, revoked and expired
// included. Callers filter for "active" themselves.
func (s *GrantService) ListDirect(ctx context.Context, userID string) ([]*models.UserPermission, error) {
	if userID == "" {
		return nil, errs.NewValidation("user_id", "user id cannot be empty")
	}
	return s.grants.ListDirect(ctx, userID)
}

// ListForRole returns every grant row for a role, revoked and expired included.
func (s *GrantService) ListForRole(ctx context.Context, roleID string) ([]*models.RolePermission, error) {
	if roleID == "" {
		return nil, errs.NewValidation("role_id", "role id cannot be empty")
	}
	return s.grants.ListForRole(ctx, roleID)
}

// afterMutation runs the post-commit side effects. Cache invalidation and
// event publishing are best-effort; the committed mutation stands either way.
func (s *GrantService) afterMutation(ctx context.Context, subject models.Subject, eventType event.PermissionEventType, permissions []string, actor, correlationID string) {
	invalidateSubject(ctx, s.cache, subject)

	err := s.publisher.PublishPermissionChange(ctx, event.PermissionChangeEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		SubjectType:   string(subject.Type),
		SubjectID:     subject.ID,
		Permissions:   permissions,
		Actor:         actor,
		CorrelationID: correlationID,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		slog.Warn("Failed to publish permission change event",
			"subject_id", subject.ID,
			"correlation_id", correlationID,
			"error", err)
	}
}

func validateMutation(subject models.Subject, permissionName, actor string) error {
	if subject.Type != models.SubjectUser && subject.Type != models.SubjectRole {
		return errs.NewValidation("subject_type", "subject type must be user or role")
	}
	if subject.ID == "" {
		return errs.NewValidation("subject_id", "subject id cannot be empty")
	}
	if permissionName == "" {
		return errs.NewValidation("permission", "permission name cannot be empty")
	}
	if actor == "" {
		return errs.NewValidation("actor", "actor cannot be empty")
	}
	return nil
}

// invalidateSubject drops cached effective sets touched by a mutation. A user
// mutation affects one entry; a role mutation can affect any member, so the
// whole cache goes.
func invalidateSubject(ctx context.Context, cache repository.EffectiveCache, subject models.Subject) {
	var err error
	if subject.Type == models.SubjectUser {
		err = cache.InvalidateUser(ctx, subject.ID)
	} else {
		err = cache.InvalidateAll(ctx)
	}
	if err != nil {
		slog.Warn("Failed to invalidate effective permission cache",
			"subject_type", subject.Type,
			"subject_id", subject.ID,
			"error", err)
	}
}
