package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/emberlive/backend/internal/auth"
	"github.com/emberlive/backend/pkg/response"
)

// Context keys set by the JWT middleware.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

// JWT rejects requests without a valid bearer token and stores the
// authenticated creator's ID and email in the gin context.
func JWT(tokens *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID.String())
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
