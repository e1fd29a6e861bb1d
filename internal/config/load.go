package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// CADENCE_SERVER_PORT or CADENCE_RUNTIME_NATS_URL.
const EnvPrefix = "CADENCE"

var defaults = map[string]any{
	"server.port":               8080,
	"server.log_level":          "info",
	"server.shutdown_timeout":   "10s",
	"server.operator_token":     "",
	"database.url":              "",
	"database.max_open_conns":   10,
	"database.max_idle_conns":   5,
	"auth.jwt_secret":           "",
	"runtime.nats_url":          "",
	"runtime.probe_timeout":     "2s",
	"runtime.state_bucket":      "cadence",
	"runtime.jobs_bucket":       "cadencejobs",
	"runtime.subject_prefix":    "cadence",
	"runtime.client_name":       "cadence-api",
	"scheduler.sweep_interval":  "1s",
	"notify.heartbeat_interval": "15s",
	"notify.connection_timeout": "10s",
	"notify.max_connections":    1000,
	"notify.queue_size":         64,
}

// Load reads configuration from a local .env file, an optional config.yaml
// in the working directory, and CADENCE_* environment variables, in
// increasing order of precedence. The result is validated.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path
// searches the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Notify.ConnectionTimeout >= cfg.Notify.HeartbeatInterval*3 {
		return fmt.Errorf("invalid configuration: notify.connection_timeout must be shorter than three heartbeat intervals")
	}
	return nil
}
