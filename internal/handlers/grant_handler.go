package handlers

import (
	"net/http"

	"permission-service/internal/models"
	"permission-service/internal/services"
	"permission-service/utils"

	"github.com/gin-gonic/gin"
)

type GrantHandler struct {
	grantService *services.GrantService
	syncService  *services.SyncService
}

func NewGrantHandler(grantService *services.GrantService, syncService *services.SyncService) *GrantHandler {
	return &GrantHandler{
		grantService: grantService,
		syncService:  syncService,
	}
}

func (g *GrantHandler) RegisterRoutes(router *gin.Engine, m *Middleware) {
	// Public routes
	publicGroup := router.Group("/permission/public/api/v1")
	{
		publicGroup.GET("/users/:id/grants", g.ListDirectGrants)
		publicGroup.GET("/roles/:id/grants", g.ListRoleGrants)
	}

	// Protected routes
	protectedGroup := router.Group("/permission/protected/api/v1")
	protectedGroup.Use(m.RequireActor())
	{
		protectedGroup.POST("/grants", g.Grant)
		protectedGroup.POST("/grants/revoke", g.Revoke)
		protectedGroup.PUT("/users/:id/grants/sync", g.SyncUserPermissions)
		protectedGroup.PUT("/roles/:id/grants/sync", g.SyncRolePermissions)
		protectedGroup.POST("/roles/:id/grants/bulk", g.GrantToRoleMembers)
	}
}

// Public Endpoints

func (g *GrantHandler) ListDirectGrants(c *gin.Context) {
	grants, err := g.grantService.ListDirect(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, grants)
}

func (g *GrantHandler) ListRoleGrants(c *gin.Context) {
	grants, err := g.grantService.ListForRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, grants)
}

// Protected Endpoints

func (g *GrantHandler) Grant(c *gin.Context) {
	var req models.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	subject := models.Subject{Type: req.SubjectType, ID: req.SubjectID}
	change, err := g.grantService.Grant(c.Request.Context(), subject, req.Permission,
		actorFromContext(c), req.Reason, req.ExpiresAt, req.CorrelationID)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, change)
}

func (g *GrantHandler) Revoke(c *gin.Context) {
	var req models.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	subject := models.Subject{Type: req.SubjectType, ID: req.SubjectID}
	change, err := g.grantService.Revoke(c.Request.Context(), subject, req.Permission,
		actorFromContext(c), req.Reason, req.CorrelationID)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, change)
}

func (g *GrantHandler) SyncUserPermissions(c *gin.Context) {
	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	result, err := g.syncService.SyncUserPermissions(c.Request.Context(), c.Param("id"),
		req.Permissions, actorFromContext(c), req.CorrelationID)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, result)
}

func (g *GrantHandler) SyncRolePermissions(c *gin.Context) {
	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	result, err := g.syncService.SyncRolePermissions(c.Request.Context(), c.Param("id"),
		req.Permissions, actorFromContext(c), req.CorrelationID)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, result)
}

func (g *GrantHandler) GrantToRoleMembers(c *gin.Context) {
	var req models.BulkGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	result, err := g.syncService.GrantToRoleMembers(c.Request.Context(), c.Param("id"),
		req.Permission, actorFromContext(c), req.Reason)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, result)
}
