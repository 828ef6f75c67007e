package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/pablohfr/notifications-service/internal/services"
	appErrors "github.com/pablohfr/notifications-service/pkg/errors"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// storeError maps store failures onto API errors.
func storeError(err error) error {
	if errors.Is(err, services.ErrStoreUnavailable) {
		return appErrors.ErrServiceUnavailable.WithInternal(err)
	}
	return appErrors.FromError(err)
}
