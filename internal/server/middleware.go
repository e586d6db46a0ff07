package server

import (
	"bytes"
	"io"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"storefront-backend/internal/audit"
	"storefront-backend/internal/infrastructure/ratelimit"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func rateLimitMiddleware(l ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests. Please wait a moment and try again.",
			})
			return
		}
		c.Next()
	}
}

var panCandidate = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

// cardDataScan rejects request bodies that carry card-number-shaped digit
// runs; raw card data must never reach these endpoints. The webhook route is
// exempt because its signature check needs the untouched byte stream and its
// payload is processor-signed, not user input.
func cardDataScan(log audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || c.Request.Body == nil {
			c.Next()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "unable to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if containsCardNumber(body) {
			log.Error(audit.EventCardDataRejected, "path", c.FullPath(), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "security_violation",
				"message": "Request rejected. Never send raw card numbers; use the secure payment form.",
			})
			return
		}
		c.Next()
	}
}

func containsCardNumber(body []byte) bool {
	for _, m := range panCandidate.FindAll(body, -1) {
		digits := make([]byte, 0, len(m))
		for _, b := range m {
			if b >= '0' && b <= '9' {
				digits = append(digits, b)
			}
		}
		if len(digits) >= 13 && len(digits) <= 19 && luhnValid(digits) {
			return true
		}
	}
	return false
}

func luhnValid(digits []byte) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
