package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	clientKey       = "client_id"
	anonymousClient = "anonymous"
)

// requireToken authenticates bearer tokens against the configured client
// tokens. With no tokens configured every request passes and the client is
// taken from X-Client-ID.
func requireToken(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			client := c.GetHeader("X-Client-ID")
			if client == "" {
				client = anonymousClient
			}
			c.Set(clientKey, client)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}
		for client, want := range tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
				c.Set(clientKey, client)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	}
}

func clientID(c *gin.Context) string {
	if v := c.GetString(clientKey); v != "" {
		return v
	}
	return anonymousClient
}
