package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/api"
	"github.com/pablohfr/notifications-service/internal/app"
	"github.com/pablohfr/notifications-service/internal/app/maintenance"
	iauth "github.com/pablohfr/notifications-service/internal/auth"
	"github.com/pablohfr/notifications-service/internal/broker"
	"github.com/pablohfr/notifications-service/internal/database"
	"github.com/pablohfr/notifications-service/internal/realtime"
	"github.com/pablohfr/notifications-service/internal/services"
	"github.com/pablohfr/notifications-service/pkg/logger"
)

// runtimeStack bundles the long-lived components of the service.
type runtimeStack struct {
	DB          *gorm.DB
	Store       *services.NotificationStore
	Registry    *realtime.Registry
	History     *services.HistoryService
	Hub         *realtime.Hub
	Coordinator *services.FanoutCoordinator
	Consumer    *broker.Consumer
	Cleaner     *maintenance.Cleaner
	Router      *gin.Engine
}

// bootstrapRuntime initialises storage, the realtime hub, the broker consumer
// and the HTTP router. Nothing is started except the maintenance scheduler.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = services.NewNotificationStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise notification store: %w", err)
	}

	stack.Registry = realtime.NewRegistry()
	stack.History, err = services.NewHistoryService(stack.Registry, stack.Store,
		services.WithHistoryWindow(cfg.Notifications.HistoryWindow),
		services.WithHistoryLimit(cfg.Notifications.HistoryLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise history service: %w", err)
	}

	origins := cfg.Realtime.AllowedOrigins
	if len(origins) == 0 {
		origins = cfg.Server.AllowedOrigins
	}
	stack.Hub = realtime.NewHub(stack.History,
		realtime.WithAllowedOrigins(origins),
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
		realtime.WithAttachTimeout(cfg.Realtime.AttachTimeout),
	)

	stack.Coordinator, err = services.NewFanoutCoordinator(stack.Store, realtime.NewDispatcher(stack.Registry),
		services.WithProcessingTimeout(cfg.Broker.HandlerTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise fan-out coordinator: %w", err)
	}

	stack.Consumer, err = broker.NewConsumer(cfg.BrokerSettings(), stack.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("initialise broker consumer: %w", err)
	}

	jwtSvc, err := initialiseJWT(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Store, cfg.Notifications.Retention.MaxAge,
		maintenance.WithRetentionSchedule(cfg.Notifications.Retention.Schedule),
	)
	if err := stack.Cleaner.RunOnce(ctx); err != nil {
		log.Warn("initial retention sweep failed", zap.Error(err))
	}
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:      stack.DB,
		Store:   stack.Store,
		History: stack.History,
		Hub:     stack.Hub,
		JWT:     jwtSvc,
		Config:  cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance stop: %w", ctx.Err()))
		}
	}
	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errs
}

// initialiseJWT returns nil when no secret is configured; handshakes then
// fall back to the userId query parameter.
func initialiseJWT(cfg *app.Config, log *zap.Logger) (*iauth.JWTService, error) {
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		log.Warn("auth.jwt.secret not set; websocket handshakes are not authenticated")
		return nil, nil
	}
	svc, err := iauth.NewJWTService(cfg.JWTConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}
	return svc, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
