package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vibeapp/mediavault/internal/server/auth"
)

// userIDKey is the gin context key holding the authenticated user id.
const userIDKey = "user_id"

// authMiddleware validates the Bearer token and stores the caller's user id
// in the request context.
func authMiddleware(secretKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header"})
			return
		}

		userID, err := auth.GetUserIDFromToken(strings.TrimSpace(parts[1]), secretKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// callerID returns the authenticated user id set by authMiddleware.
func callerID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// pipelineTokenMiddleware guards the internal result callback with a shared
// secret carried in the X-Pipeline-Token header.
func pipelineTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Pipeline-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid pipeline token"})
			return
		}
		c.Next()
	}
}
