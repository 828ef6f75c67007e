package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pablohfr/notifications-service/internal/middleware"
	appErrors "github.com/pablohfr/notifications-service/pkg/errors"
	"github.com/pablohfr/notifications-service/pkg/response"
)

// StreamServer upgrades a request into a live channel for identity.
type StreamServer interface {
	Serve(identity string, w http.ResponseWriter, r *http.Request)
}

// RealtimeHandler resolves the caller's identity and hands the request to the hub.
type RealtimeHandler struct {
	hub          StreamServer
	jwt          middleware.TokenValidator
	requireToken bool
}

// NewRealtimeHandler constructs a realtime handler. A nil validator disables
// token handling; requireToken then rejects every handshake.
func NewRealtimeHandler(hub StreamServer, jwt middleware.TokenValidator, requireToken bool) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt, requireToken: requireToken}
}

// Stream validates the caller and upgrades the request. A valid token wins
// over the userId query parameter; an invalid one is rejected.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	identity, ok := h.resolveIdentity(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	h.hub.Serve(identity, c.Writer, c.Request)
}

func (h *RealtimeHandler) resolveIdentity(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}

	if token != "" {
		if h.jwt == nil {
			return "", false
		}
		claims, err := h.jwt.ValidateAccessToken(token)
		if err != nil {
			return "", false
		}
		return claims.UserID(), true
	}

	if h.requireToken {
		return "", false
	}
	return strings.TrimSpace(c.Query("userId")), true
}
