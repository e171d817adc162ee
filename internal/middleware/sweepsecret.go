package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lumora/pkg/payment"
)

// SweepSecret authenticates the external scheduler on /internal routes via a
// static shared secret in the X-Sweep-Secret header. Compared constant-time;
// an empty configured secret disables the routes entirely.
func SweepSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sweeps not configured"})
			return
		}
		if !payment.SecureCompare(secret, c.GetHeader("X-Sweep-Secret")) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid sweep secret"})
			return
		}
		c.Next()
	}
}

// ServiceSecret authenticates the bot backend on the payer-facing API the same
// way: these routes identify payers by telegram_id in the request, so only the
// trusted bot service may call them.
func ServiceSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service auth not configured"})
			return
		}
		if !payment.SecureCompare(secret, c.GetHeader("X-Service-Secret")) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service secret"})
			return
		}
		c.Next()
	}
}
