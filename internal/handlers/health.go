package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/database"
	"github.com/pablohfr/notifications-service/pkg/logger"
)

const healthTimeout = 2 * time.Second

// Health reports readiness based on a database ping.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			logger.WithModule("health").Warn("database ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success":    false,
				"status":     "degraded",
				"database":   "down",
				"checked_at": time.Now().UTC(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"status":     "ok",
			"database":   "up",
			"checked_at": time.Now().UTC(),
		})
	}
}
