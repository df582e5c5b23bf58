package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ideahub/server/audit"
)

const (
	TraceIDKey    = "trace_id"
	TraceIDHeader = "X-Trace-ID"
	// RequestIDHeader is accepted from proxies that do not set X-Trace-ID.
	RequestIDHeader = "X-Request-ID"
)

// TraceID tags every request with a UUID. A valid inbound X-Trace-ID, or
// failing that X-Request-ID, is kept so a trace can cross services. The id
// is echoed in the response and carried on the request context together
// with the client IP for the audit log.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := inboundTraceID(c)
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Request = c.Request.WithContext(audit.WithRequest(c.Request.Context(), traceID, c.ClientIP()))
		c.Next()
	}
}

func inboundTraceID(c *gin.Context) string {
	for _, h := range []string{TraceIDHeader, RequestIDHeader} {
		if id, err := uuid.Parse(c.GetHeader(h)); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// GetTraceID returns the request's trace id, or "" outside TraceID.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}
