package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes is the body limit MaxBodySize applies when given a
// limitBytes of 0 or less. cmd/ocr-worker passes its own 10 MB limit.
const DefaultMaxBodyBytes = 1 << 20 // 1 MB

// MaxBodySize rejects requests whose body exceeds limitBytes before a
// handler attempts to bind it. A limitBytes of 0 applies DefaultMaxBodyBytes.
func MaxBodySize(limitBytes int64) gin.HandlerFunc {
	if limitBytes <= 0 {
		limitBytes = DefaultMaxBodyBytes
	}

	return func(c *gin.Context) {
		if c.Request.ContentLength > limitBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "Request too large",
				"message": "The request body exceeds the allowed size limit",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limitBytes)
		c.Next()
	}
}
