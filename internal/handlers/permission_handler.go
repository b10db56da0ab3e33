package handlers

import (
	"context"
	"net/http"

	"permission-service/internal/models"
	"permission-service/internal/services"
	"permission-service/utils"

	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	permissionService *services.PermissionService
	resolverService   *services.ResolverService
}

func NewPermissionHandler(permissionService *services.PermissionService, resolverService *services.ResolverService) *PermissionHandler {
	return &PermissionHandler{
		permissionService: permissionService,
		resolverService:   resolverService,
	}
}

func (p *PermissionHandler) RegisterRoutes(router *gin.Engine, m *Middleware) {
	// Public routes
	publicGroup := router.Group("/permission/public/api/v1")
	{
		publicGroup.GET("/permissions", p.GetAllPermissions)
		publicGroup.GET("/users/:id/permissions/effective", p.GetEffectivePermissions)
		publicGroup.GET("/users/:id/permissions/:name/check", p.CheckPermission)
		publicGroup.POST("/users/:id/permissions/check-any", p.CheckAnyPermission)
		publicGroup.POST("/users/:id/permissions/check-all", p.CheckAllPermissions)
	}

	// Protected routes
	protectedGroup := router.Group("/permission/protected/api/v1")
	protectedGroup.Use(m.RequireActor())
	{
		protectedGroup.POST("/permissions", p.CreatePermission)
		protectedGroup.PUT("/permissions/:name/activate", p.ActivatePermission)
		protectedGroup.PUT("/permissions/:name/deactivate", p.DeactivatePermission)
		protectedGroup.DELETE("/permissions/:name", p.DeletePermission)
	}
}

// Public Endpoints

func (p *PermissionHandler) GetAllPermissions(c *gin.Context) {
	category := c.Query("category") // Optional category filter
	activeOnly := c.Query("active") == "true"
	limit, offset := utils.ParsePaginationParams(c)

	permissions, err := p.permissionService.GetAllPermissions(c.Request.Context(), category, activeOnly, limit, offset)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, models.PaginatedPermissionsResponse{
		Permissions: permissions,
		Total:       len(permissions),
		Limit:       limit,
		Offset:      offset,
	})
}

func (p *PermissionHandler) GetEffectivePermissions(c *gin.Context) {
	userID := c.Param("id")

	permissions, err := p.resolverService.GetEffectivePermissions(c.Request.Context(), userID)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, models.EffectivePermissionsResponse{
		UserID:      userID,
		Permissions: permissions,
	})
}

func (p *PermissionHandler) CheckPermission(c *gin.Context) {
	userID := c.Param("id")
	name := c.Param("name")

	allowed, err := p.resolverService.HasPermission(c.Request.Context(), userID, name)
	if err != nil {
		// Fail closed: the caller sees denied plus the error detail.
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, models.PermissionCheckResponse{
		UserID:     userID,
		Permission: name,
		Allowed:    allowed,
	})
}

func (p *PermissionHandler) CheckAnyPermission(c *gin.Context) {
	p.checkComposite(c, p.resolverService.HasAnyPermission)
}

func (p *PermissionHandler) CheckAllPermissions(c *gin.Context) {
	p.checkComposite(c, p.resolverService.HasAllPermissions)
}

func (p *PermissionHandler) checkComposite(c *gin.Context, check func(ctx context.Context, userID string, names []string) (bool, error)) {
	userID := c.Param("id")

	var req models.PermissionCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	allowed, err := check(c.Request.Context(), userID, req.Permissions)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, models.PermissionCheckResponse{
		UserID:  userID,
		Allowed: allowed,
	})
}

// Protected Endpoints

func (p *PermissionHandler) CreatePermission(c *gin.Context) {
	var req models.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	inserted, err := p.permissionService.InitializeSystemPermissions(c.Request.Context(), []models.PermissionDefinition{{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
	}})
	if err != nil {
		sendServiceError(c, err)
		return
	}
	if inserted == 0 {
		utils.SendError(c, http.StatusConflict, "CONFLICT", "permission already exists")
		return
	}

	permission, err := p.permissionService.GetPermission(c.Request.Context(), req.Name)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusCreated, permission)
}

func (p *PermissionHandler) ActivatePermission(c *gin.Context) {
	if err := p.permissionService.Activate(c.Request.Context(), c.Param("name")); err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendMessage(c, http.StatusOK, "permission activated")
}

func (p *PermissionHandler) DeactivatePermission(c *gin.Context) {
	if err := p.permissionService.Deactivate(c.Request.Context(), c.Param("name")); err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendMessage(c, http.StatusOK, "permission deactivated")
}

func (p *PermissionHandler) DeletePermission(c *gin.Context) {
	if err := p.permissionService.DeletePermission(c.Request.Context(), c.Param("name")); err != nil {
		sendServiceError(c, err)
		return
	}
	utils.SendMessage(c, http.StatusOK, "permission deleted successfully")
}
