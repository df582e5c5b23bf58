package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/apperr"
	mw "github.com/ideahub/server/middleware"
	"go.uber.org/zap"
)

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// respondError writes err using the application error taxonomy. Internal
// errors are logged with their cause and answered with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if apperr.KindOf(err) == apperr.Internal {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
	}
	code, message := apperr.Public(err)
	c.AbortWithStatusJSON(status, errorBody(code, message))
}

// bindJSON decodes and validates the body, answering 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return false
	}
	return true
}

func success(c *gin.Context, status int) {
	c.JSON(status, gin.H{"success": true})
}
