package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pablohfr/notifications-service/internal/middleware"
	"github.com/pablohfr/notifications-service/internal/services"
	appErrors "github.com/pablohfr/notifications-service/pkg/errors"
	"github.com/pablohfr/notifications-service/pkg/response"
)

const defaultPageSize = 25

// NotificationLister pages through a user's notifications.
type NotificationLister interface {
	ListForUser(ctx context.Context, input services.ListNotificationsInput) ([]services.NotificationDTO, error)
}

// HistoryProvider builds the recent-history snapshot for a user.
type HistoryProvider interface {
	Recent(ctx context.Context, identity string) (services.HistoryPayload, error)
}

// NotificationHandler exposes read-only HTTP endpoints for notifications.
type NotificationHandler struct {
	store   NotificationLister
	history HistoryProvider
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(store NotificationLister, history HistoryProvider) (*NotificationHandler, error) {
	if store == nil || history == nil {
		return nil, errors.New("notification handler: store and history are required")
	}
	return &NotificationHandler{store: store, history: history}, nil
}

type listQuery struct {
	Limit  int `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `form:"offset" json:"offset" validate:"min=0"`
}

// List returns a page of notifications for the current user, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var query listQuery
	if !bindQuery(c, &query) {
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultPageSize
	}

	items, err := h.store.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID: userID,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		response.Error(c, storeError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  query.Limit,
		Offset: query.Offset,
		Count:  len(items),
	})
}

// Recent returns the same snapshot a new WebSocket connection receives.
func (h *NotificationHandler) Recent(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payload, err := h.history.Recent(requestContext(c), userID)
	if err != nil {
		response.Error(c, storeError(err))
		return
	}

	response.Success(c, http.StatusOK, payload)
}
