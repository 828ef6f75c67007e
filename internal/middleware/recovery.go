package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/pkg/errors"
	"github.com/pablohfr/notifications-service/pkg/logger"
	"github.com/pablohfr/notifications-service/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
					zap.Stack("stack"),
				)
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// NotFoundHandler renders unknown routes with the standard error envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound)
}
