package services

import (
	"context"

	"permission-service/internal/models"
	"permission-service/internal/repository"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditService queries the append-only permission audit ledger
type AuditService struct {
	audit repository.AuditRepository
}

// NewAuditService creates a new audit service
func NewAuditService(audit repository.AuditRepository) *AuditService {
	return &AuditService{audit: audit}
}

// GetAudit returns ledger entries matching the filter, newest first.
func (s *AuditService) GetAudit(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.PermissionAudit, int, error) {
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return s.audit.GetAuditEntries(ctx, filter, limit, offset)
}
