package repository

import (
	"context"
	"fmt"
	"strings"

	"permission-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// AuditRepository reads the append-only permission audit ledger. Writes go
// through appendAuditTx so every entry shares a transaction with the grant
// mutation it records.
type AuditRepository interface {
	GetAuditEntries(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.PermissionAudit, int, error)
}

// auditRepository implements AuditRepository interface
type auditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepository{db: db}
}

// appendAuditTx appends one ledger row on the caller's transaction. The
// unique index on (correlation_id, subject, permission, action) plus
// ON CONFLICT DO NOTHING deduplicates retried writes of the same logical
// mutation.
func appendAuditTx(ctx context.Context, tx *sqlx.Tx, e *models.PermissionAudit) error {
	query := `
		INSERT INTO permission_audit
			(subject_type, subject_id, permission_name, action, actor, reason,
			 previous_state, new_state, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (correlation_id, subject_type, subject_id, permission_name, action) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		e.SubjectType, e.SubjectID, e.PermissionName, e.Action, e.Actor, e.Reason,
		e.PreviousState, e.NewState, e.CorrelationID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) GetAuditEntries(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.PermissionAudit, int, error) {
	conditions := []string{}
	var args []interface{}
	argIndex := 1

	addCondition := func(clause string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(clause, argIndex))
		args = append(args, value)
		argIndex++
	}

	if filter.SubjectType != nil {
		addCondition("subject_type = $%d", *filter.SubjectType)
	}
	if filter.SubjectID != "" {
		addCondition("subject_id = $%d", filter.SubjectID)
	}
	if filter.PermissionName != "" {
		addCondition("permission_name = $%d", filter.PermissionName)
	}
	if filter.Action != nil {
		addCondition("action = $%d", *filter.Action)
	}
	if filter.CorrelationID != "" {
		addCondition("correlation_id = $%d", filter.CorrelationID)
	}
	if filter.From != nil {
		addCondition("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("created_at <= $%d", *filter.To)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM permission_audit" + whereClause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, subject_type, subject_id, permission_name, action, actor, reason,
		       previous_state, new_state, correlation_id, created_at
		FROM permission_audit` + whereClause + " ORDER BY created_at DESC, id DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++

		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	var entries []*models.PermissionAudit
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get audit entries: %w", err)
	}

	return entries, total, nil
}
