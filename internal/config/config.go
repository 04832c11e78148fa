// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrSynthesisURLRequired is returned when SYNTHESIS_URL is not set.
	ErrSynthesisURLRequired = errors.New("config: SYNTHESIS_URL is required")
	// ErrSynthesisAPIKeyRequired is returned when SYNTHESIS_API_KEY is not set.
	ErrSynthesisAPIKeyRequired = errors.New("config: SYNTHESIS_API_KEY is required")
	// ErrAlignmentURLRequired is returned when ALIGNMENT_URL is not set.
	ErrAlignmentURLRequired = errors.New("config: ALIGNMENT_URL is required")
	// ErrDefaultVoiceRequired is returned when DEFAULT_VOICE_ID is not set.
	ErrDefaultVoiceRequired = errors.New("config: DEFAULT_VOICE_ID is required")
	// ErrInvalidConfig is returned when a value is out of range.
	ErrInvalidConfig = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Synthesis settings
	SynthesisURL     string `env:"SYNTHESIS_URL, required" json:"synthesis_url"`
	SynthesisAPIKey  string `env:"SYNTHESIS_API_KEY, required" json:"-"` // Masked in JSON
	SynthesisModelID string `env:"SYNTHESIS_MODEL_ID, default=eleven_v3" json:"synthesis_model_id"`
	DefaultVoiceID   string `env:"DEFAULT_VOICE_ID, required" json:"default_voice_id"`

	// Alignment settings
	AlignmentURL    string `env:"ALIGNMENT_URL, required" json:"alignment_url"`
	AlignmentAPIKey string `env:"ALIGNMENT_API_KEY" json:"-"` // Falls back to SYNTHESIS_API_KEY

	// Processing settings
	BatchMaxChars        int           `env:"BATCH_MAX_CHARS, default=500" json:"batch_max_chars" validate:"min=1"`
	BatchDelay           time.Duration `env:"BATCH_DELAY, default=500ms" json:"batch_delay" validate:"min=0"`
	MaxConcurrentUploads int           `env:"MAX_CONCURRENT_UPLOADS, default=5" json:"max_concurrent_uploads" validate:"min=1,max=5"`
	StartPaddingSec      float64       `env:"START_PADDING_SEC, default=0.1" json:"start_padding_sec" validate:"min=0"`
	EndPaddingSec        float64       `env:"END_PADDING_SEC, default=0.15" json:"end_padding_sec" validate:"min=0"`

	// Local storage and cache settings
	StorageDir    string `env:"STORAGE_DIR, default=/tmp/scenepartner/audio" json:"storage_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL, default=/audio" json:"public_base_url"`
	CacheDir      string `env:"CACHE_DIR, default=/tmp/scenepartner/cache" json:"cache_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
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

// Load reads configuration from a .env file (when present) and environment
// variables using go-envconfig. It returns an error if required variables
// are not set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		msg := err.Error()
		switch {
		case strings.Contains(msg, "SYNTHESIS_URL"):
			return nil, ErrSynthesisURLRequired
		case strings.Contains(msg, "SYNTHESIS_API_KEY"):
			return nil, ErrSynthesisAPIKeyRequired
		case strings.Contains(msg, "ALIGNMENT_URL"):
			return nil, ErrAlignmentURLRequired
		case strings.Contains(msg, "DEFAULT_VOICE_ID"):
			return nil, ErrDefaultVoiceRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.AlignmentAPIKey == "" {
		cfg.AlignmentAPIKey = cfg.SynthesisAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and that
// numeric settings are within range.
func (c *Config) Validate() error {
	if c.SynthesisURL == "" {
		return ErrSynthesisURLRequired
	}
	if c.SynthesisAPIKey == "" {
		return ErrSynthesisAPIKeyRequired
	}
	if c.AlignmentURL == "" {
		return ErrAlignmentURLRequired
	}
	if c.DefaultVoiceID == "" {
		return ErrDefaultVoiceRequired
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, SynthesisURL: %s, SynthesisAPIKey: %s, SynthesisModelID: %s, AlignmentURL: %s, DefaultVoiceID: %s, BatchMaxChars: %d, BatchDelay: %s, MaxConcurrentUploads: %d, StorageDir: %s, CacheDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.SynthesisURL,
		mask(c.SynthesisAPIKey),
		c.SynthesisModelID,
		c.AlignmentURL,
		c.DefaultVoiceID,
		c.BatchMaxChars,
		c.BatchDelay,
		c.MaxConcurrentUploads,
		c.StorageDir,
		c.CacheDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
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
