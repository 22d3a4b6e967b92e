package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all bridge configuration.
type Config struct {
	Bridge   BridgeConfig
	Logging  LogConfig
	Admin    AdminConfig
	Dispatch DispatchConfig
}

// BridgeConfig holds queue and allocation settings.
type BridgeConfig struct {
	MaxQueueDepth int  `envconfig:"DIPLOMACY_MAX_QUEUE_DEPTH" default:"1024" validate:"min=1,max=1048576"`
	SecureMemory  bool `envconfig:"DIPLOMACY_SECURE_MEMORY" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// AdminConfig holds the observability HTTP server configuration.
type AdminConfig struct {
	Enabled        bool   `envconfig:"ADMIN_ENABLED" default:"false"`
	Address        string `envconfig:"ADMIN_ADDR" default:"127.0.0.1:9464" validate:"required,hostname_port"`
	RateLimitRPS   int    `envconfig:"ADMIN_RATE_LIMIT_RPS" default:"50" validate:"min=1"`
	RateLimitBurst int    `envconfig:"ADMIN_RATE_LIMIT_BURST" default:"100" validate:"min=1"`
}

// DispatchConfig holds managed-side consumer settings.
type DispatchConfig struct {
	Workers         int           `envconfig:"DISPATCH_WORKERS" default:"2" validate:"min=1,max=256"`
	IdleInterval    time.Duration `envconfig:"DISPATCH_IDLE" default:"5ms" validate:"min=1ms"`
	RatePerSecond   float64       `envconfig:"DISPATCH_RATE" default:"0" validate:"min=0"`
	BreakerFailures uint32        `envconfig:"DISPATCH_BREAKER_FAILURES" default:"5" validate:"min=1"`
	BreakerTimeout  time.Duration `envconfig:"DISPATCH_BREAKER_TIMEOUT" default:"30s" validate:"min=1ms"`
	Handler         string        `envconfig:"DISPATCH_HANDLER" default:"discard" validate:"oneof=discard echo"`
}

var validate = validator.New()

// Load loads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			MaxQueueDepth: 1024,
			SecureMemory:  false,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Admin: AdminConfig{
			Enabled:        false,
			Address:        "127.0.0.1:9464",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Dispatch: DispatchConfig{
			Workers:         2,
			IdleInterval:    5 * time.Millisecond,
			RatePerSecond:   0,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			Handler:         "discard",
		},
	}
}
