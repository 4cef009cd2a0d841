// Package config provides configuration loading from environment variables
// and an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrProjectIDRequired is returned when GENAPI_PROJECT_ID is not set.
	ErrProjectIDRequired = errors.New("config: GENAPI_PROJECT_ID is required")
	// ErrProductIDRequired is returned when GENAPI_PRODUCT_ID is not set.
	ErrProductIDRequired = errors.New("config: GENAPI_PRODUCT_ID is required")
	// ErrUserIDRequired is returned when USER_ID is not set or not positive.
	ErrUserIDRequired = errors.New("config: USER_ID is required")
	// ErrInvalidPolling is returned when the polling settings are not positive.
	ErrInvalidPolling = errors.New("config: POLL_INTERVAL and POLL_MAX_ATTEMPTS must be positive")
	// ErrInvalidImageLimits is returned when the image buffer settings are not positive.
	ErrInvalidImageLimits = errors.New("config: IMAGE_SLOTS and MAX_IMAGE_BYTES must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Generation service settings
	BaseURL     string        `env:"GENAPI_BASE_URL, default=http://localhost:39603" json:"base_url"`
	ProjectID   string        `env:"GENAPI_PROJECT_ID, required" json:"project_id"`
	ProductID   string        `env:"GENAPI_PRODUCT_ID, required" json:"product_id"`
	Environment string        `env:"GENAPI_ENV, default=production" json:"environment"` // "production", "test" or "fake"
	NeedWait    bool          `env:"GENAPI_NEED_WAIT, default=true" json:"need_wait"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT, default=60s" json:"http_timeout"`

	// User identity
	UserID    int64  `env:"USER_ID, required" json:"user_id"`
	UserEmail string `env:"USER_EMAIL" json:"-"` // Masked in JSON

	// Polling settings
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=6s" json:"poll_interval"`
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS, default=100" json:"poll_max_attempts"`

	// Image buffer settings
	ImageSlots    int   `env:"IMAGE_SLOTS, default=6" json:"image_slots"`
	MaxImageBytes int64 `env:"MAX_IMAGE_BYTES, default=2097152" json:"max_image_bytes"`

	// Archive settings
	ArchiveDir string `env:"ARCHIVE_DIR, default=/tmp/img2video" json:"archive_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// Variables from the given dotenv files (".env" when none are given) are
// loaded first without overriding the process environment; missing files
// are ignored. It returns an error if required variables are not set.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		msg := err.Error()
		switch {
		case strings.Contains(msg, "GENAPI_PROJECT_ID"):
			return nil, ErrProjectIDRequired
		case strings.Contains(msg, "GENAPI_PRODUCT_ID"):
			return nil, ErrProductIDRequired
		case strings.Contains(msg, "USER_ID") && strings.Contains(msg, "missing"):
			return nil, ErrUserIDRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and usable.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return ErrProjectIDRequired
	}
	if c.ProductID == "" {
		return ErrProductIDRequired
	}
	if c.UserID <= 0 {
		return ErrUserIDRequired
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts <= 0 {
		return ErrInvalidPolling
	}
	if c.ImageSlots <= 0 || c.MaxImageBytes <= 0 {
		return ErrInvalidImageLimits
	}
	return nil
}

// NewLogger creates a structured logger writing to stderr, so that command
// output on stdout stays clean.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stderr)
}

// NewLoggerTo creates a structured logger writing to w.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{BaseURL: %s, ProjectID: %s, ProductID: %s, Environment: %s, NeedWait: %t, HTTPTimeout: %s, UserID: %d, PollInterval: %s, PollMaxAttempts: %d, ImageSlots: %d, MaxImageBytes: %d, ArchiveDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.BaseURL,
		c.ProjectID,
		c.ProductID,
		c.Environment,
		c.NeedWait,
		c.HTTPTimeout,
		c.UserID,
		c.PollInterval,
		c.PollMaxAttempts,
		c.ImageSlots,
		c.MaxImageBytes,
		c.ArchiveDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
