package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/pablohfr/notifications-service/internal/models"
)

// AutoMigrate creates or updates the schema for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Covers the history query: WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC.
	if !db.Migrator().HasIndex(&models.Notification{}, "idx_notifications_user_created") {
		if err := db.Exec("CREATE INDEX idx_notifications_user_created ON notifications (user_id, created_at)").Error; err != nil {
			return fmt.Errorf("auto migrate: history index: %w", err)
		}
	}
	return nil
}
