package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/event"
	"permission-service/internal/models"
	"permission-service/internal/repository"

	"github.com/google/uuid"
)

// bulkBatchSize bounds how many subjects one bulk batch touches before the
// cancellation signal is checked again.
const bulkBatchSize = 100

// SyncService reconciles a caller-supplied desired permission set against the
// stored direct grant set with a minimal diff-and-apply. The whole diff+apply
// runs under the subject's lock, so concurrent syncs cannot both act on a
// stale snapshot; the diff is recomputed from current state on every call,
// which makes retries safe.
type SyncService struct {
	grants    repository.GrantStore
	roles     repository.RoleMembershipProvider
	cache     repository.EffectiveCache
	publisher event.Publisher
}

// NewSyncService creates a new sync service
func NewSyncService(
	grants repository.GrantStore,
	roles repository.RoleMembershipProvider,
	cache repository.EffectiveCache,
	publisher event.Publisher,
) *SyncService {
	return &SyncService{
		grants:    grants,
		roles:     roles,
		cache:     cache,
		publisher: publisher,
	}
}

// SyncUserPermissions converges a user's direct grant set to exactly the
// desired names. Role-derived permissions are never touched. When the stored
// set already equals the desired set the call performs zero writes and zero
// audit rows.
func (s *SyncService) SyncUserPermissions(ctx context.Context, userID string, desired []string, actor, correlationID string) (*models.SyncResult, error) {
	return s.sync(ctx, models.Subject{Type: models.SubjectUser, ID: userID}, desired, actor, correlationID)
}

// SyncRolePermissions is the identical algorithm over a role's grant set.
func (s *SyncService) SyncRolePermissions(ctx context.Context, roleID string, desired []string, actor, correlationID string) (*models.SyncResult, error) {
	return s.sync(ctx, models.Subject{Type: models.SubjectRole, ID: roleID}, desired, actor, correlationID)
}

func (s *SyncService) sync(ctx context.Context, subject models.Subject, desired []string, actor, correlationID string) (*models.SyncResult, error) {
	if subject.ID == "" {
		return nil, errs.NewValidation("subject_id", "subject id cannot be empty")
	}
	if actor == "" {
		return nil, errs.NewValidation("actor", "actor cannot be empty")
	}

	desiredSet := make(map[string]bool, len(desired))
	for _, name := range desired {
		if name == "" {
			return nil, errs.NewValidation("permissions", "permission name cannot be empty")
		}
		desiredSet[name] = true
	}

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	result := &models.SyncResult{
		Granted:       []string{},
		Revoked:       []string{},
		CorrelationID: correlationID,
	}

	err := s.grants.WithSubjectLock(ctx, subject, func(ops repository.GrantTxOps) error {
		current, err := ops.ActiveNames()
		if err != nil {
			return err
		}

		toGrant := setDifference(desiredSet, current)
		toRevoke := setDifference(current, desiredSet)
		if len(toGrant) == 0 && len(toRevoke) == 0 {
			return nil
		}

		for _, name := range toGrant {
			if _, err := ops.Grant(repository.GrantParams{
				Subject:        subject,
				PermissionName: name,
				Actor:          actor,
				CorrelationID:  correlationID,
				Action:         models.ActionSyncGrant,
			}); err != nil {
				return err
			}
		}
		for _, name := range toRevoke {
			if _, err := ops.Revoke(repository.RevokeParams{
				Subject:        subject,
				PermissionName: name,
				Actor:          actor,
				CorrelationID:  correlationID,
				Action:         models.ActionSyncRevoke,
			}); err != nil {
				return err
			}
		}

		// One summary row ties the individual sync audit rows back to the
		// batch that caused them.
		summary := fmt.Sprintf("granted=%d revoked=%d", len(toGrant), len(toRevoke))
		if err := ops.AppendAudit(&models.PermissionAudit{
			SubjectType:    subject.Type,
			SubjectID:      subject.ID,
			PermissionName: "",
			Action:         models.ActionSyncSummary,
			Actor:          actor,
			Reason:         &summary,
			PreviousState:  models.StatusAbsent,
			NewState:       models.StatusAbsent,
			CorrelationID:  correlationID,
			CreatedAt:      time.Now(),
		}); err != nil {
			return err
		}

		result.Granted = toGrant
		result.Revoked = toRevoke
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Granted) > 0 || len(result.Revoked) > 0 {
		invalidateSubject(ctx, s.cache, subject)

		if err := s.publisher.PublishPermissionChange(ctx, event.PermissionChangeEvent{
			ID:            uuid.NewString(),
			EventType:     event.PermissionSynced,
			SubjectType:   string(subject.Type),
			SubjectID:     subject.ID,
			Permissions:   append(append([]string{}, result.Granted...), result.Revoked...),
			Actor:         actor,
			CorrelationID: correlationID,
			OccurredAt:    time.Now(),
		}); err != nil {
			slog.Warn("Failed to publish sync event",
				"subject_id", subject.ID,
				"correlation_id", correlationID,
				"error", err)
		}

		slog.Info("Permission set synced",
			"subject_type", subject.Type,
			"subject_id", subject.ID,
			"granted", len(result.Granted),
			"revoked", len(result.Revoked),
			"correlation_id", correlationID)
	}

	return result, nil
}

// GrantToRoleMembers grants a permission directly to every current member of
// a role, in bounded batches. Each subject commits on its own, so the report
// lists per-subject outcomes instead of failing the whole run; cancellation
// stops the next batch but leaves committed batches in place.
func (s *SyncService) GrantToRoleMembers(ctx context.Context, roleID, permissionName, actor string, reason *string) (*models.BulkGrantResult, error) {
	if roleID == "" {
		return nil, errs.NewValidation("role_id", "role id cannot be empty")
	}
	if permissionName == "" {
		return nil, errs.NewValidation("permission", "permission name cannot be empty")
	}
	if actor == "" {
		return nil, errs.NewValidation("actor", "actor cannot be empty")
	}

	members, err := s.roles.GetRoleUsers(ctx, roleID)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	result := &models.BulkGrantResult{Outcomes: []models.SubjectOutcome{}}

	for start := 0; start < len(members); start += bulkBatchSize {
		if ctx.Err() != nil {
			result.Cancelled = true
			slog.Warn("Bulk grant cancelled",
				"role_id", roleID,
				"permission", permissionName,
				"processed", result.Processed)
			break
		}

		end := start + bulkBatchSize
		if end > len(members) {
			end = len(members)
		}

		for _, userID := range members[start:end] {
			subject := models.Subject{Type: models.SubjectUser, ID: userID}
			outcome := models.SubjectOutcome{SubjectID: userID}

			_, err := s.grants.Grant(ctx, repository.GrantParams{
				Subject:        subject,
				PermissionName: permissionName,
				Actor:          actor,
				Reason:         reason,
				CorrelationID:  correlationID,
				Action:         models.ActionGrant,
			})
			if err != nil {
				outcome.Error = err.Error()
			} else {
				result.Succeeded++
				invalidateSubject(ctx, s.cache, subject)
			}

			result.Processed++
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	slog.Info("Bulk grant finished",
		"role_id", roleID,
		"permission", permissionName,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"cancelled", result.Cancelled,
		"correlation_id", correlationID)
	return result, nil
}

func setDifference(a, b map[string]bool) []string {
	var diff []string
	for name := range a {
		if !b[name] {
			diff = append(diff, name)
		}
	}
	sort.Strings(diff)
	return diff
}
