// Package middleware holds the gin middleware shared by the doctor's HTTP
// surfaces: access logging with correlation ids, error logging and panic
// recovery.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
)

// CorrelationHeader carries a correlation id across services. Event bridges
// that set it get the same id back and in every log line for the request.
const CorrelationHeader = "X-Correlation-ID"

// LoggingMiddleware puts correlation and request ids on the request context
// and writes one access log line after the handler returns
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}
		requestID := c.GetString("request_id")
		if requestID == "" {
			requestID = correlationID
		}

		ctx := logging.WithRequestID(logging.WithCorrelationID(c.Request.Context(), correlationID), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationHeader, correlationID)

		c.Next()

		logger.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			c.Request.UserAgent(), c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}

// ErrorLoggingMiddleware logs every error a handler attached with c.Error
func ErrorLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		fields := logrus.Fields{"route": c.FullPath(), "status": c.Writer.Status()}
		for _, err := range c.Errors {
			logger.LogError(c.Request.Context(), err.Err, "Request failed", fields)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 carrying the correlation id
func RecoveryMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		ctx := c.Request.Context()
		logger.LogPanic(ctx, recovered, "Recovered from handler panic")
		m.RecordPanic("http")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":          "Internal server error",
			"correlation_id": logging.GetCorrelationID(ctx),
		})
	})
}
