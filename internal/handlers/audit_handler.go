package handlers

import (
	"net/http"
	"time"

	"permission-service/internal/models"
	"permission-service/internal/services"
	"permission-service/utils"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
	}
}

func (a *AuditHandler) RegisterRoutes(router *gin.Engine, m *Middleware) {
	protectedGroup := router.Group("/permission/protected/api/v1")
	protectedGroup.Use(m.RequireActor())
	{
		protectedGroup.GET("/audit", a.GetAudit)
	}
}

func (a *AuditHandler) GetAudit(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	limit, offset := utils.ParsePaginationParams(c)

	entries, total, err := a.auditService.GetAudit(c.Request.Context(), filter, limit, offset)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, models.PaginatedAuditResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func parseAuditFilter(c *gin.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		SubjectID:      c.Query("subject_id"),
		PermissionName: c.Query("permission"),
		CorrelationID:  c.Query("correlation_id"),
	}

	if v := c.Query("subject_type"); v != "" {
		subjectType := models.SubjectType(v)
		filter.SubjectType = &subjectType
	}
	if v := c.Query("action"); v != "" {
		action := models.AuditAction(v)
		filter.Action = &action
	}
	if v := c.Query("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}

	return filter, nil
}
