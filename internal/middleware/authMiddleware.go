package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mallku/internal/auth"
)

// AuthMiddleware guards the optional HTTP surface `engine serve` mounts
// (feedback ingestion, export-state) behind a bearer JWT.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		// Expect header format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		if _, err := auth.ValidateJWT(parts[1]); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimiter implements basic rate limiting
func RateLimiter(requests int, window time.Duration) gin.HandlerFunc {
	// Simple in-memory rate limiter (for production, use Redis)
	type client struct {
		count   int
		resetAt time.Time
	}

	clients := make(map[string]*client)
	var mu sync.Mutex

	return func(c *gin.Context) {
		mu.Lock()
		defer mu.Unlock()

		ip := c.ClientIP()
		now := time.Now()

		if cl, exists := clients[ip]; exists {
			if now.After(cl.resetAt) {
				cl.count = 1
				cl.resetAt = now.Add(window)
			} else if cl.count >= requests {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
				c.Abort()
				return
			} else {
				cl.count++
			}
		} else {
			clients[ip] = &client{
				count:   1,
				resetAt: now.Add(window),
			}
		}

		c.Next()
	}
}
