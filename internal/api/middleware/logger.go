package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/docpipe/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// Logger injects a request-scoped logger carrying a request id and logs
// every request on completion.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := log.WithFields(logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		}).WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))
		c.Header(requestIDHeader, requestID)

		c.Next()

		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}

		entry := logger.With(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error(c.Request.Context(), "Request failed: method=%s, path=%s, client_ip=%s", c.Request.Method, fullPath, c.ClientIP())
			return
		}
		entry.Info(c.Request.Context(), "Request completed: method=%s, path=%s, client_ip=%s", c.Request.Method, fullPath, c.ClientIP())
	}
}

// GetLogger extracts the request logger, falling back to the context or default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get(loggerKey); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
