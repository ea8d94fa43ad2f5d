package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/recording-sync/pkg/response"
)

// ContextUserID is the gin context key for the LMS user id of an admin request.
const ContextUserID = "user_id"

// TokenValidator resolves a bearer token to a user and role.
type TokenValidator func(token string) (userID, role string, err error)

// RequireAdmin admits requests whose bearer token carries role and records the
// user id for audit logging. Rejections are logged without the token.
func RequireAdmin(validate TokenValidator, role string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Debug("admin request without bearer token", zap.String("path", c.FullPath()), zap.String("ip", c.ClientIP()))
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}
		userID, got, err := validate(token)
		if err != nil {
			logger.Info("admin token rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		if got != role {
			logger.Warn("admin route denied", zap.String("user_id", userID), zap.String("role", got))
			response.Forbidden(c, "admin role required")
			c.Abort()
			return
		}
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserID returns the authenticated user id, or "" outside admin routes.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
