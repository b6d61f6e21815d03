// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds nav-dispatch configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"nav-dispatch"`

	// Subjects
	NavigateSubject     string `envconfig:"NAV_NAVIGATE_SUBJECT" default:"nav.navigate"`
	ResultSubject       string `envconfig:"NAV_RESULT_SUBJECT" default:"nav.results"`
	EventSubject        string `envconfig:"NAV_EVENT_SUBJECT" default:"nav.events"`
	LaunchSubjectPrefix string `envconfig:"NAV_LAUNCH_SUBJECT_PREFIX" default:"nav.launch"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"NAV_REQUEST_TIMEOUT" default:"25s"`
	LaunchTimeout  time.Duration `envconfig:"NAV_LAUNCH_TIMEOUT" default:"5s"`
	// ResultTTL bounds how long a result token stays pending. Zero disables expiry.
	ResultTTL time.Duration `envconfig:"NAV_RESULT_TTL" default:"10m"`

	// Navigate workers. Instances sharing QueueGroup split the navigate
	// subject; empty means every instance sees every request.
	QueueGroup  string `envconfig:"NAV_QUEUE_GROUP" default:"nav-dispatch"`
	MaxInFlight int    `envconfig:"NAV_MAX_IN_FLIGHT" default:"64"`

	// Handler manifest
	ManifestFile       string `envconfig:"NAV_MANIFEST_FILE"`
	ManifestConstraint string `envconfig:"NAV_MANIFEST_CONSTRAINT"`

	// Built-in middleware
	AuthPath      string   `envconfig:"NAV_AUTH_PATH" default:"/login"`
	SessionPaths  []string `envconfig:"NAV_SESSION_PATHS"`
	SensitiveKeys []string `envconfig:"NAV_SENSITIVE_KEYS"`

	// Database (empty = in-memory session store)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the dispatch server.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.NavigateSubject == "" || c.ResultSubject == "" {
		return fmt.Errorf("%s - NAV_NAVIGATE_SUBJECT and NAV_RESULT_SUBJECT must be set", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - NAV_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("%s - NAV_LAUNCH_TIMEOUT must be positive", logPrefix)
	}
	if c.ResultTTL < 0 {
		return fmt.Errorf("%s - NAV_RESULT_TTL must not be negative", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("%s - NAV_MAX_IN_FLIGHT must be positive", logPrefix)
	}
	if !strings.HasPrefix(c.AuthPath, "/") {
		return fmt.Errorf("%s - NAV_AUTH_PATH must start with /", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// UseDatabase reports whether sessions are kept in Postgres.
func (c *Config) UseDatabase() bool {
	return c.DatabaseURL != ""
}
