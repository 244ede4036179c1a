// README: Bearer-token auth middleware; verified subject is stored on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller_uid"

// TokenVerifier checks a bearer token and returns its subject.
type TokenVerifier func(token string) (string, error)

func Auth(verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		uid, err := verify(token)
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(callerKey, uid)
		c.Next()
	}
}

// CallerUID returns the subject set by Auth, or "" outside an authenticated route.
func CallerUID(c *gin.Context) string {
	return c.GetString(callerKey)
}
