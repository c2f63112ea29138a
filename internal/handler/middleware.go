package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CronAuth checks the scheduler's shared secret, sent either as
// "Authorization: Bearer <secret>" or as X-Cron-Secret. With requireAuth
// off the middleware is a no-op. With it on and no secret configured every
// request is rejected.
func CronAuth(secret string, requireAuth bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAuth {
			c.Next()
			return
		}
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "cron secret not configured"})
			return
		}
		provided := cronToken(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing cron secret"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid cron secret"})
			return
		}
		c.Next()
	}
}

func cronToken(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Cron-Secret"))
}
