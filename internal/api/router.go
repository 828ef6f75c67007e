package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/app"
	iauth "github.com/pablohfr/notifications-service/internal/auth"
	"github.com/pablohfr/notifications-service/internal/handlers"
	"github.com/pablohfr/notifications-service/internal/middleware"
	"github.com/pablohfr/notifications-service/pkg/logger"
)

// Dependencies are the services the HTTP surface needs.
type Dependencies struct {
	DB      *gorm.DB
	Store   handlers.NotificationLister
	History handlers.HistoryProvider
	Hub     handlers.StreamServer
	JWT     *iauth.JWTService // nil when no secret is configured
	Config  *app.Config
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, errors.New("config must be provided")
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	r.GET("/health", handlers.Health(deps.DB))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	var validator middleware.TokenValidator
	if deps.JWT != nil {
		validator = deps.JWT
	}

	realtimePath := strings.TrimSpace(cfg.Realtime.Path)
	if realtimePath == "" {
		realtimePath = "/ws"
	}
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, validator, cfg.Realtime.RequireToken)
	r.GET(realtimePath, realtimeHandler.Stream)

	if err := registerNotificationRoutes(r, deps, validator); err != nil {
		return nil, err
	}

	r.NoRoute(middleware.NotFoundHandler)
	return r, nil
}

func registerNotificationRoutes(r *gin.Engine, deps Dependencies, validator middleware.TokenValidator) error {
	if deps.Store == nil || deps.History == nil {
		return nil
	}
	if validator == nil {
		logger.WithModule("api").Warn("auth.jwt.secret not set; notification REST routes disabled")
		return nil
	}

	handler, err := handlers.NewNotificationHandler(deps.Store, deps.History)
	if err != nil {
		return err
	}

	group := r.Group("/api/notifications")
	group.Use(middleware.SecurityHeaders(), middleware.Auth(validator))
	{
		group.GET("", handler.List)
		group.GET("/recent", handler.Recent)
	}
	return nil
}
