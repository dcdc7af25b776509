// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	Env            string `mapstructure:"APP_ENV"`

	DBMaxOpenConns           int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Staging area for submissions awaiting review. Never publicly served.
	StagingDir       string `mapstructure:"STAGING_DIR"`
	StagingURLPrefix string `mapstructure:"STAGING_URL_PREFIX"`
	MaxUploadSizeMB  int    `mapstructure:"MAX_UPLOAD_SIZE_MB"`

	SubmissionRateLimit         int `mapstructure:"SUBMISSION_RATE_LIMIT"`
	SubmissionRateWindowSeconds int `mapstructure:"SUBMISSION_RATE_WINDOW_SECONDS"`

	// Durable object store. Driver is one of s3, filesystem, memory.
	ObjectStoreDriver         string `mapstructure:"OBJECT_STORE_DRIVER"`
	ObjectStoreBucket         string `mapstructure:"OBJECT_STORE_BUCKET"`
	ObjectStoreRegion         string `mapstructure:"OBJECT_STORE_REGION"`
	ObjectStoreEndpoint       string `mapstructure:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreAccessKeyID    string `mapstructure:"OBJECT_STORE_ACCESS_KEY_ID"`
	ObjectStoreSecretKey      string `mapstructure:"OBJECT_STORE_SECRET_ACCESS_KEY"`
	ObjectStorePublicBaseURL  string `mapstructure:"OBJECT_STORE_PUBLIC_BASE_URL"`
	ObjectStoreTimeoutSeconds int    `mapstructure:"OBJECT_STORE_TIMEOUT_SECONDS"`
	MediaDir                  string `mapstructure:"MEDIA_DIR"`
	MediaURLPrefix            string `mapstructure:"MEDIA_URL_PREFIX"`

	RetentionDays             int    `mapstructure:"RETENTION_DAYS"`
	MaxRetainedRejected       int    `mapstructure:"MAX_RETAINED_REJECTED"`
	RetentionSchedulerEnabled bool   `mapstructure:"RETENTION_SCHEDULER_ENABLED"`
	RetentionSchedule         string `mapstructure:"RETENTION_SCHEDULE"`

	TracingEnabled bool   `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint   string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "fanvault")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("STAGING_DIR", "./data/staging")
	viper.SetDefault("STAGING_URL_PREFIX", "/api/admin/staging")
	viper.SetDefault("MAX_UPLOAD_SIZE_MB", 10)
	viper.SetDefault("SUBMISSION_RATE_LIMIT", 20)
	viper.SetDefault("SUBMISSION_RATE_WINDOW_SECONDS", 3600)

	viper.SetDefault("OBJECT_STORE_DRIVER", "filesystem")
	viper.SetDefault("OBJECT_STORE_BUCKET", "")
	viper.SetDefault("OBJECT_STORE_REGION", "us-east-1")
	viper.SetDefault("OBJECT_STORE_ENDPOINT", "")
	viper.SetDefault("OBJECT_STORE_ACCESS_KEY_ID", "")
	viper.SetDefault("OBJECT_STORE_SECRET_ACCESS_KEY", "")
	viper.SetDefault("OBJECT_STORE_PUBLIC_BASE_URL", "")
	viper.SetDefault("OBJECT_STORE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("MEDIA_DIR", "./data/media")
	viper.SetDefault("MEDIA_URL_PREFIX", "/media")

	viper.SetDefault("RETENTION_DAYS", 7)
	viper.SetDefault("MAX_RETAINED_REJECTED", 100)
	viper.SetDefault("RETENTION_SCHEDULER_ENABLED", true)
	viper.SetDefault("RETENTION_SCHEDULE", "0 2 * * *")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.ObjectStoreDriver = strings.ToLower(strings.TrimSpace(c.ObjectStoreDriver))
	c.StagingURLPrefix = strings.TrimRight(c.StagingURLPrefix, "/")
	c.MediaURLPrefix = strings.TrimRight(c.MediaURLPrefix, "/")
	c.ObjectStorePublicBaseURL = strings.TrimRight(c.ObjectStorePublicBaseURL, "/")
}

// IsProduction reports whether the config targets a production-like environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// MaxUploadBytes is the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// ObjectStoreTimeout bounds a single durable upload.
func (c *Config) ObjectStoreTimeout() time.Duration {
	return time.Duration(c.ObjectStoreTimeoutSeconds) * time.Second
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.MaxUploadSizeMB <= 0 {
		return errors.New("MAX_UPLOAD_SIZE_MB must be positive")
	}
	if c.DBConnMaxLifetimeMinutes <= 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must be positive")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}

	switch c.ObjectStoreDriver {
	case "s3", "filesystem", "memory":
	default:
		return fmt.Errorf("OBJECT_STORE_DRIVER %q is not one of s3, filesystem, memory", c.ObjectStoreDriver)
	}
	if c.ObjectStoreTimeoutSeconds < 0 {
		return errors.New("OBJECT_STORE_TIMEOUT_SECONDS must not be negative")
	}
	// MEDIA_DIR is served publicly with the filesystem driver; staged bytes
	// must never be reachable through it.
	if c.ObjectStoreDriver == "filesystem" && c.MediaDir != "" && c.StagingDir != "" {
		overlap, err := pathsOverlap(c.MediaDir, c.StagingDir)
		if err != nil {
			return fmt.Errorf("resolve MEDIA_DIR/STAGING_DIR: %w", err)
		}
		if overlap {
			return fmt.Errorf("MEDIA_DIR %q and STAGING_DIR %q must not overlap", c.MediaDir, c.StagingDir)
		}
	}

	if c.RetentionSchedulerEnabled {
		if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
			return fmt.Errorf("RETENTION_SCHEDULE %q: %w", c.RetentionSchedule, err)
		}
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.ObjectStoreDriver == "memory" {
			return errors.New("OBJECT_STORE_DRIVER=memory is not allowed in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else {
		// Development/Test warnings
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}

// pathsOverlap reports whether a and b are the same directory or one is
// nested inside the other.
func pathsOverlap(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return within(absA, absB) || within(absB, absA), nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
