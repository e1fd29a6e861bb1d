package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Notify    NotifyConfig    `mapstructure:"notify" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// OperatorToken guards the operator endpoints. Empty disables them.
	OperatorToken string `mapstructure:"operator_token" validate:"omitempty,min=16"`
}

// DatabaseConfig contains the fallback relational backend settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains the settings used to verify stream tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// RuntimeConfig describes the distributed runtime and how it is probed.
type RuntimeConfig struct {
	// NATSURL is the runtime address. Empty means always run degraded.
	NATSURL      string        `mapstructure:"nats_url" validate:"omitempty,url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`

	// StateBucket holds tasks, rules, reminders, tags and audit records.
	StateBucket string `mapstructure:"state_bucket" validate:"required,alphanum"`

	// JobsBucket holds scheduled jobs.
	JobsBucket string `mapstructure:"jobs_bucket" validate:"required,alphanum"`

	// SubjectPrefix namespaces every published subject.
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`

	// ClientName identifies this process to the runtime.
	ClientName string `mapstructure:"client_name"`
}

// SchedulerConfig controls the job sweep.
type SchedulerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// NotifyConfig controls the notification stream.
type NotifyConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" validate:"gt=0"`
	MaxConnections    int           `mapstructure:"max_connections" validate:"gt=0"`
	QueueSize         int           `mapstructure:"queue_size" validate:"gt=0"`
}
