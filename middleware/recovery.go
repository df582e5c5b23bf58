package middleware

import (
	"errors"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 with the standard error body.
// A panic caused by the client hanging up is logged without a response,
// since nothing can be written to the connection.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			fields := []zap.Field{
				zap.Any("panic", r),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("trace_id", GetTraceID(c)),
			}
			if err, ok := r.(error); ok && brokenConn(err) {
				log.Warn("client connection lost", fields...)
				c.Abort()
				return
			}
			log.Error("panic recovered", append(fields, zap.Stack("stack"))...)
			abort(c, http.StatusInternalServerError, "internal", "internal server error")
		}()
		c.Next()
	}
}

func brokenConn(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if !errors.As(opErr, &sysErr) {
		return false
	}
	msg := strings.ToLower(sysErr.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
