package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permission-service/internal/errs"
	"permission-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GrantParams carries one grant mutation through the store.
type GrantParams struct {
	Subject        models.Subject
	PermissionName string
	Actor          string
	Reason         *string
	ExpiresAt      *time.Time
	CorrelationID  string
	Action         models.AuditAction
}

// RevokeParams carries one revoke mutation through the store.
type RevokeParams struct {
	Subject        models.Subject
	PermissionName string
	Actor          string
	Reason         *string
	CorrelationID  string
	Action         models.AuditAction
}

// GrantTxOps is the mutation surface available inside a subject lock. The
// audit row for each change is written on the same transaction as the grant
// row, so a failure in either aborts both.
type GrantTxOps interface {
	// ActiveNames returns the subject's currently Active, non-expired direct
	// permission names.
	ActiveNames() (map[string]bool, error)
	Grant(p GrantParams) (*models.GrantChange, error)
	Revoke(p RevokeParams) (*models.GrantChange, error)
	AppendAudit(e *models.PermissionAudit) error
}

// GrantStore persists direct user grants and role grants
type GrantStore interface {
	// Grant upserts a grant row: insert when absent, reactivate when revoked
	// or expired, no-op (no audit) when an identical active row exists.
	Grant(ctx context.Context, p GrantParams) (*models.GrantChange, error)

	// Revoke marks the active row revoked. Returns Changed=false and writes
	// no audit when no active row exists.
	Revoke(ctx context.Context, p RevokeParams) (*models.GrantChange, error)

	GetDirect(ctx context.Context, userID, permissionName string) (*models.UserPermission, error)
	GetRoleGrants(ctx context.Context, roleIDs []string, permissionName string) ([]*models.RolePermission, error)
	ListDirect(ctx context.Context, userID string) ([]*models.UserPermission, error)
	ListForRole(ctx context.Context, roleID string) ([]*models.RolePermission, error)
	ListForRoles(ctx context.Context, roleIDs []string) ([]*models.RolePermission, error)

	// WithSubjectLock serializes writers per subject: fn runs inside one
	// transaction holding an advisory lock on the subject key, so two
	// concurrent reconciliations cannot diff against a stale snapshot.
	WithSubjectLock(ctx context.Context, subject models.Subject, fn func(ops GrantTxOps) error) error
}

// grantRepository implements GrantStore interface
type grantRepository struct {
	db *sqlx.DB
}

// NewGrantRepository creates a new grant store
func NewGrantRepository(db *sqlx.DB) GrantStore {
	return &grantRepository{db: db}
}

// grantRow scans either grant table with the subject key aliased.
type grantRow struct {
	ID           int        `db:"id"`
	SubjectID    string     `db:"subject_id"`
	PermissionID int        `db:"permission_id"`
	GrantedAt    time.Time  `db:"granted_at"`
	GrantedBy    string     `db:"granted_by"`
	Reason       *string    `db:"reason"`
	ExpiresAt    *time.Time `db:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at"`
	RevokedBy    *string    `db:"revoked_by"`
}

func (g *grantRow) statusAt(now time.Time) models.GrantStatus {
	up := models.UserPermission{RevokedAt: g.RevokedAt, ExpiresAt: g.ExpiresAt}
	return up.StatusAt(now)
}

func subjectTable(st models.SubjectType) (table, keyColumn string, err error) {
	switch st {
	case models.SubjectUser:
		return "user_permissions", "user_id", nil
	case models.SubjectRole:
		return "role_permissions", "role_id", nil
	default:
		return "", "", errs.NewValidation("subject_type", fmt.Sprintf("unknown subject type '%s'", st))
	}
}

func (r *grantRepository) Grant(ctx context.Context, p GrantParams) (*models.GrantChange, error) {
	var change *models.GrantChange
	err := r.WithSubjectLock(ctx, p.Subject, func(ops GrantTxOps) error {
		c, err := ops.Grant(p)
		if err != nil {
			return err
		}
		change = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *grantRepository) Revoke(ctx context.Context, p RevokeParams) (*models.GrantChange, error) {
	var change *models.GrantChange
	err := r.WithSubjectLock(ctx, p.Subject, func(ops GrantTxOps) error {
		c, err := ops.Revoke(p)
		if err != nil {
			return err
		}
		change = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *grantRepository) GetDirect(ctx context.Context, userID, permissionName string) (*models.UserPermission, error) {
	grant := &models.UserPermission{}
	query := `
		SELECT up.id, up.user_id, up.permission_id, p.name AS permission_name,
		       up.granted_at, up.granted_by, up.reason, up.expires_at, up.revoked_at, up.revoked_by
		FROM user_permissions up
		INNER JOIN permissions p ON up.permission_id = p.id
		WHERE up.user_id = $1 AND p.name = $2`

	err := r.db.GetContext(ctx, grant, query, userID, permissionName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("direct grant (%s, %s): %w", userID, permissionName, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get direct grant: %w", err)
	}

	return grant, nil
}

func (r *grantRepository) GetRoleGrants(ctx context.Context, roleIDs []string, permissionName string) ([]*models.RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	var grants []*models.RolePermission
	query := `
		SELECT rp.id, rp.role_id, rp.permission_id, p.name AS permission_name,
		       rp.granted_at, rp.granted_by, rp.reason, rp.expires_at, rp.revoked_at, rp.revoked_by
		FROM role_permissions rp
		INNER JOIN permissions p ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1) AND p.name = $2`

	err := r.db.SelectContext(ctx, &grants, query, pq.Array(roleIDs), permissionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get role grants: %w", err)
	}

	return grants, nil
}

func (r *grantRepository) ListDirect(ctx context.Context, userID string) ([]*models.UserPermission, error) {
	var grants []*models.UserPermission
	query := `
		SELECT up.id, up.user_id, up.permission_id, p.name AS permission_name,
		       up.granted_at, up.granted_by, up.reason, up.expires_at, up.revoked_at, up.revoked_by
		FROM user_permissions up
		INNER JOIN permissions p ON up.permission_id = p.id
		WHERE up.user_id = $1
		ORDER BY p.name`

	err := r.db.SelectContext(ctx, &grants, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct grants: %w", err)
	}

	return grants, nil
}

func (r *grantRepository) ListForRole(ctx context.Context, roleID string) ([]*models.RolePermission, error) {
	var grants []*models.RolePermission
	query := `
		SELECT rp.id, rp.role_id, rp.permission_id, p.name AS permission_name,
		       rp.granted_at, rp.granted_by, rp.reason, rp.expires_at, rp.revoked_at, rp.revoked_by
		FROM role_permissions rp
		INNER JOIN permissions p ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`

	err := r.db.SelectContext(ctx, &grants, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}

	return grants, nil
}

func (r *grantRepository) ListForRoles(ctx context.Context, roleIDs []string) ([]*models.RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	var grants []*models.RolePermission
	query := `
		SELECT rp.id, rp.role_id, rp.permission_id, p.name AS permission_name,
		       rp.granted_at, rp.granted_by, rp.reason, rp.expires_at, rp.revoked_at, rp.revoked_by
		FROM role_permissions rp
		INNER JOIN permissions p ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)
		ORDER BY rp.role_id, p.name`

	err := r.db.SelectContext(ctx, &grants, query, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list grants for roles: %w", err)
	}

	return grants, nil
}

func (r *grantRepository) WithSubjectLock(ctx context.Context, subject models.Subject, fn func(ops GrantTxOps) error) error {
	if _, _, err := subjectTable(subject.Type); err != nil {
		return err
	}
	if subject.ID == "" {
		return errs.NewValidation("subject_id", "subject id cannot be empty")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.NewStorage("begin subject transaction", err)
	}
	defer tx.Rollback()

	// Advisory lock keyed by subject; released automatically at commit or
	// rollback.
	lockKey := fmt.Sprintf("%s:%s", subject.Type, subject.ID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return errs.NewStorage("acquire subject lock", err)
	}

	ops := &grantTx{ctx: ctx, tx: tx, subject: subject}
	if err := fn(ops); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.NewStorage("commit subject transaction", err)
	}
	return nil
}

// grantTx implements GrantTxOps over one open transaction.
type grantTx struct {
	ctx     context.Context
	tx      *sqlx.Tx
	subject models.Subject
}

func (t *grantTx) ActiveNames() (map[string]bool, error) {
	table, keyColumn, err := subjectTable(t.subject.Type)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Name      string     `db:"name"`
		ExpiresAt *time.Time `db:"expires_at"`
		RevokedAt *time.Time `db:"revoked_at"`
	}
	query := fmt.Sprintf(`
		SELECT p.name, g.expires_at, g.revoked_at
		FROM %s g
		INNER JOIN permissions p ON g.permission_id = p.id
		WHERE g.%s = $1`, table, keyColumn)

	if err := sqlx.SelectContext(t.ctx, t.tx, &rows, query, t.subject.ID); err != nil {
		return nil, fmt.Errorf("failed to load current grant set: %w", err)
	}

	now := time.Now()
	active := make(map[string]bool, len(rows))
	for _, row := range rows {
		up := models.UserPermission{RevokedAt: row.RevokedAt, ExpiresAt: row.ExpiresAt}
		if up.StatusAt(now) == models.StatusActive {
			active[row.Name] = true
		}
	}
	return active, nil
}

func (t *grantTx) Grant(p GrantParams) (*models.GrantChange, error) {
	now := time.Now()
	if p.PermissionName == "" {
		return nil, errs.NewValidation("permission", "permission name cannot be empty")
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return nil, errs.NewValidation("expires_at", "expiry must be in the future")
	}

	table, keyColumn, err := subjectTable(p.Subject.Type)
	if err != nil {
		return nil, err
	}

	permissionID, err := t.permissionID(p.PermissionName)
	if err != nil {
		return nil, err
	}

	row, err := t.lockRow(table, keyColumn, p.Subject.ID, permissionID)
	if err != nil {
		return nil, err
	}

	change := &models.GrantChange{
		Changed:       true,
		PreviousState: models.StatusAbsent,
		NewState:      models.StatusActive,
		CorrelationID: p.CorrelationID,
	}

	if row == nil {
		query := fmt.Sprintf(`
			INSERT INTO %s (%s, permission_id, granted_at, granted_by, reason, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, table, keyColumn)
		if _, err := t.tx.ExecContext(t.ctx, query, p.Subject.ID, permissionID, now, p.Actor, p.Reason, p.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to insert grant: %w", err)
		}
	} else {
		status := row.statusAt(now)
		if status == models.StatusActive && equalTimePtr(row.ExpiresAt, p.ExpiresAt) && equalStringPtr(row.Reason, p.Reason) {
			// Identical active grant already present: true no-op, no audit.
			change.Changed = false
			change.PreviousState = models.StatusActive
			return change, nil
		}
		change.PreviousState = status

		query := fmt.Sprintf(`
			UPDATE %s
			SET granted_at = $2, granted_by = $3, reason = $4, expires_at = $5,
			    revoked_at = NULL, revoked_by = NULL
			WHERE id = $1`, table)
		if _, err := t.tx.ExecContext(t.ctx, query, row.ID, now, p.Actor, p.Reason, p.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to reactivate grant: %w", err)
		}
	}

	entry := &models.PermissionAudit{
		SubjectType:    p.Subject.Type,
		SubjectID:      p.Subject.ID,
		PermissionName: p.PermissionName,
		Action:         p.Action,
		Actor:          p.Actor,
		Reason:         p.Reason,
		PreviousState:  change.PreviousState,
		NewState:       change.NewState,
		CorrelationID:  p.CorrelationID,
		CreatedAt:      now,
	}
	if err := appendAuditTx(t.ctx, t.tx, entry); err != nil {
		return nil, err
	}

	slog.Info("Permission granted",
		"subject_type", p.Subject.Type,
		"subject_id", p.Subject.ID,
		"permission", p.PermissionName,
		"actor", p.Actor,
		"previous_state", change.PreviousState)
	return change, nil
}

func (t *grantTx) Revoke(p RevokeParams) (*models.GrantChange, error) {
	now := time.Now()
	if p.PermissionName == "" {
		return nil, errs.NewValidation("permission", "permission name cannot be empty")
	}

	table, keyColumn, err := subjectTable(p.Subject.Type)
	if err != nil {
		return nil, err
	}

	permissionID, err := t.permissionID(p.PermissionName)
	if err != nil {
		return nil, err
	}

	row, err := t.lockRow(table, keyColumn, p.Subject.ID, permissionID)
	if err != nil {
		return nil, err
	}

	if row == nil {
		return &models.GrantChange{
			Changed:       false,
			PreviousState: models.StatusAbsent,
			NewState:      models.StatusAbsent,
			CorrelationID: p.CorrelationID,
		}, nil
	}

	status := row.statusAt(now)
	if status != models.StatusActive {
		// Nothing to revoke; no state change, no audit.
		return &models.GrantChange{
			Changed:       false,
			PreviousState: status,
			NewState:      status,
			CorrelationID: p.CorrelationID,
		}, nil
	}

	query := fmt.Sprintf(`UPDATE %s SET revoked_at = $2, revoked_by = $3 WHERE id = $1`, table)
	if _, err := t.tx.ExecContext(t.ctx, query, row.ID, now, p.Actor); err != nil {
		return nil, fmt.Errorf("failed to revoke grant: %w", err)
	}

	entry := &models.PermissionAudit{
		SubjectType:    p.Subject.Type,
		SubjectID:      p.Subject.ID,
		PermissionName: p.PermissionName,
		Action:         p.Action,
		Actor:          p.Actor,
		Reason:         p.Reason,
		PreviousState:  models.StatusActive,
		NewState:       models.StatusRevoked,
		CorrelationID:  p.CorrelationID,
		CreatedAt:      now,
	}
	if err := appendAuditTx(t.ctx, t.tx, entry); err != nil {
		return nil, err
	}

	slog.Info("Permission revoked",
		"subject_type", p.Subject.Type,
		"subject_id", p.Subject.ID,
		"permission", p.PermissionName,
		"actor", p.Actor)
	return &models.GrantChange{
		Changed:       true,
		PreviousState: models.StatusActive,
		NewState:      models.StatusRevoked,
		CorrelationID: p.CorrelationID,
	}, nil
}

func (t *grantTx) AppendAudit(e *models.PermissionAudit) error {
	return appendAuditTx(t.ctx, t.tx, e)
}

func (t *grantTx) permissionID(name string) (int, error) {
	var id int
	err := sqlx.GetContext(t.ctx, t.tx, &id, `SELECT id FROM permissions WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("permission '%s': %w", name, errs.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve permission id: %w", err)
	}
	return id, nil
}

func (t *grantTx) lockRow(table, keyColumn, subjectID string, permissionID int) (*grantRow, error) {
	row := &grantRow{}
	query := fmt.Sprintf(`
		SELECT id, %s AS subject_id, permission_id, granted_at, granted_by, reason,
		       expires_at, revoked_at, revoked_by
		FROM %s
		WHERE %s = $1 AND permission_id = $2
		FOR UPDATE`, keyColumn, table, keyColumn)

	err := sqlx.GetContext(t.ctx, t.tx, row, query, subjectID, permissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock grant row: %w", err)
	}
	return row, nil
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
