package auth

import (
	"github.com/gin-gonic/gin"
)

// OptionalAuthMiddleware inspects for a token and sets the userID if present and valid,
// but does not fail if the token is missing or invalid. The unread-count endpoint
// uses this so that logged-out visitors get a zero count instead of a 401.
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := extractToken(c); tokenString != "" {
			if userID, err := parseUserID(tokenString); err == nil {
				c.Set("userID", userID)
			}
		}
		c.Next()
	}
}
