package handlers

import (
	"net/http"
	"strings"

	"permission-service/internal/errs"
	"permission-service/internal/services"
	"permission-service/utils"

	"github.com/gin-gonic/gin"
)

const actorContextKey = "actor"

type Middleware struct {
	jwtService *services.JWTService
}

func NewMiddleware(jwtService *services.JWTService) *Middleware {
	return &Middleware{
		jwtService: jwtService,
	}
}

// RequireActor verifies the bearer token and stores the caller's user id so
// mutating handlers can attribute every change to an actor.
func (m *Middleware) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.SendError(c, http.StatusUnauthorized, "MISSING_TOKEN", "authorization header required")
			c.Abort()
			return
		}

		tokenString := authHeader
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = authHeader[7:]
		}

		claims, err := m.jwtService.VerifyToken(tokenString)
		if err != nil {
			utils.SendError(c, http.StatusUnauthorized, "INVALID_TOKEN", "token validation failed")
			c.Abort()
			return
		}

		c.Set(actorContextKey, claims.UserID)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) string {
	return c.GetString(actorContextKey)
}

// sendServiceError maps typed engine errors onto HTTP statuses.
func sendServiceError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		utils.SendError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errs.IsNotFound(err):
		utils.SendError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errs.IsConflict(err):
		utils.SendError(c, http.StatusConflict, "CONFLICT", err.Error())
	default:
		utils.SendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
