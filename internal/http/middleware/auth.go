// README: Shared-secret auth for webhook endpoints.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretHeader carries the shared webhook secret agreed with the storefront
// and courier bridges.
const SecretHeader = "X-Relay-Secret"

// SharedSecret rejects requests whose secret header does not match. The
// compare is constant-time; header presence itself still leaks, which is fine.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
