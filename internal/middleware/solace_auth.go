package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// EngineAPIKeyMiddleware protects operational endpoints (e.g. triggering
// reset-learning over HTTP) with a shared API key instead of a JWT, for
// scripts and cron jobs that have no user session to hold a bearer token.
func EngineAPIKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get API key from environment
		validAPIKey := os.Getenv("MALLKU_API_KEY")

		// If no API key is set, allow all requests (development mode)
		if validAPIKey == "" {
			c.Next()
			return
		}

		// Check for API key in header
		providedKey := c.GetHeader("X-MALLKU-API-KEY")

		// Also check Authorization header (Bearer token format)
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		// Also check query parameter (for browser requests)
		if providedKey == "" {
			providedKey = c.Query("api_key")
		}

		// Validate API key
		if providedKey != validAPIKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: invalid or missing API key",
				"hint":  "provide API key via X-MALLKU-API-KEY header, Authorization Bearer token, or ?api_key= query param",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
