package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kiln/pkg/auth"
)

const (
	// AuthHeaderKey is the standard Authorization header
	AuthHeaderKey = "Authorization"
	// ContextUserKey is the key used to store user claims in context
	ContextUserKey = "user"
)

// AuthMiddleware validates a JWT bearer token on every request. A nil
// service (no secret configured) disables authentication entirely.
func AuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtService == nil {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"hint":  "provide Bearer token",
			})
			return
		}

		claims, err := jwtService.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}
