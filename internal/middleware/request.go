package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"product_inventory/internal/logging"
	"product_inventory/internal/reqid"
)

// RequestID honours an upstream X-Request-ID or mints a new one, and stores a
// request-scoped logger in the context.
func RequestID(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(reqid.Header)
		if id == "" || len(id) > 64 {
			id = reqid.New()
		}
		c.Header(reqid.Header, id)

		reqLog := log.With().Str("request_id", id).Logger()
		ctx := reqid.WithValue(c.Request.Context(), id)
		ctx = reqLog.WithContext(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog writes one line per request. Wire RequestID before it.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := zerolog.Ctx(c.Request.Context())
		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

// Recovery turns a panic into a 500 with the generic error envelope.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context(), log).Error().Interface("panic", recovered).Msg("An unhandled exception occurred")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":   500,
			"msg":    "An error occurred while processing your request",
			"errors": []string{"Internal server error"},
		})
	})
}

// Timeout bounds the request context. Store transactions run on this context,
// so a timed-out stock adjustment is rolled back, never half-applied.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
