package app

import (
	"strings"

	"github.com/pablohfr/notifications-service/pkg/logger"
)

const serviceName = "notifications-service"

// ConfigureLogging initialises the global logger from the server settings, defaulting to info.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.Init(logger.Options{
		Level:   level,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})
}
