package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/apperr"
)

// abort stops the chain with the standard error body.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// AbortWithError stops the chain with the status and public body of an
// apperr value.
func AbortWithError(c *gin.Context, err error) {
	code, message := apperr.Public(err)
	abort(c, apperr.HTTPStatus(err), code, message)
}
