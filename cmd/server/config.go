package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/cadence-api/internal/config"
)

// loadAppConfig loads configuration from the environment, .env and the
// optional config file.
func loadAppConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"nats_url_present", cfg.Runtime.NATSURL != "",
		"operator_token_present", cfg.Server.OperatorToken != "")
	return cfg, nil
}
