package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // QUOTA_TIMEZONE must resolve without system zoneinfo

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseURL string
	BaseURL     string // Used for links in notification emails

	Auth      AuthConfig
	Quota     QuotaConfig
	SMTP      SMTPConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// QuotaConfig holds the free tier and the month reference timezone.
// A negative cap means unlimited.
type QuotaConfig struct {
	Location               *time.Location
	FreePlanMaxForms       int64
	FreePlanMaxSubmissions int64
	FreePlanMaxStorageMB   int64
	MaxUploadMB            int64 // Hard cap on a single multipart request body
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type StorageConfig struct {
	Provider string // "local" or "r2"

	LocalPath string
	LocalURL  string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

// WorkerConfig controls the notification worker. When disabled, threshold
// notifications are only logged.
type WorkerConfig struct {
	Enabled      bool
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// RateLimitConfig is the per-IP API limit.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// MetricsConfig guards /metrics with basic auth. Empty credentials leave it open.
type MetricsConfig struct {
	Username string
	Password string
}

// NewConfig reads the environment, loading .env first when present. It
// reports every malformed or missing value at once.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Env:         env.str("ENV", "development"),
		Port:        env.int("PORT", 8080),
		LogLevel:    env.str("LOG_LEVEL", "debug"),
		DatabaseURL: env.str("DATABASE_URL", ""),
		BaseURL:     env.str("BASE_URL", "http://localhost:8080"),
		Auth: AuthConfig{
			JWTSecret: env.str("JWT_SECRET", ""),
			JWTIssuer: env.str("JWT_ISSUER", "formwell"),
		},
		Quota: QuotaConfig{
			Location:               env.location("QUOTA_TIMEZONE", time.UTC),
			FreePlanMaxForms:       env.int64("FREE_PLAN_MAX_FORMS", 3),
			FreePlanMaxSubmissions: env.int64("FREE_PLAN_MAX_SUBMISSIONS", 100),
			FreePlanMaxStorageMB:   env.int64("FREE_PLAN_MAX_STORAGE_MB", 100),
			MaxUploadMB:            env.int64("MAX_UPLOAD_MB", 25),
		},
		// Defaults point at Mailhog.
		SMTP: SMTPConfig{
			Host:     env.str("SMTP_HOST", "localhost"),
			Port:     env.int("SMTP_PORT", 1025),
			Username: env.str("SMTP_USERNAME", ""),
			Password: env.str("SMTP_PASSWORD", ""),
			From:     env.str("SMTP_FROM", "noreply@formwell.app"),
			FromName: env.str("SMTP_FROM_NAME", "Formwell"),
		},
		Storage: StorageConfig{
			Provider:          env.str("STORAGE_PROVIDER", "local"),
			LocalPath:         env.str("LOCAL_STORAGE_PATH", "./storage"),
			LocalURL:          env.str("LOCAL_STORAGE_URL", "http://localhost:8080/files"),
			R2AccountID:       env.str("R2_ACCOUNT_ID", ""),
			R2AccessKeyID:     env.str("R2_ACCESS_KEY_ID", ""),
			R2SecretAccessKey: env.str("R2_SECRET_ACCESS_KEY", ""),
			R2BucketName:      env.str("R2_BUCKET_NAME", ""),
			R2PublicURL:       env.str("R2_PUBLIC_URL", ""),
		},
		Worker: WorkerConfig{
			Enabled:      env.bool("WORKER_ENABLED", true),
			Concurrency:  env.int("WORKER_CONCURRENCY", 2),
			PollInterval: env.duration("WORKER_POLL_INTERVAL", 5*time.Second),
			JobTimeout:   env.duration("WORKER_JOB_TIMEOUT", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Requests: env.int("API_RATE_LIMIT", 120),
			Window:   env.duration("API_RATE_WINDOW", time.Minute),
		},
		Metrics: MetricsConfig{
			Username: env.str("METRICS_USERNAME", ""),
			Password: env.str("METRICS_PASSWORD", ""),
		},
	}

	if cfg.Auth.JWTSecret == "" && cfg.Env == "development" {
		cfg.Auth.JWTSecret = "development-secret-do-not-use-in-production"
	}

	if err := errors.Join(append(env.errs, cfg.validate()...)...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.Quota.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.Quota.MaxUploadMB))
	}

	switch c.Storage.Provider {
	case "local":
	case "r2":
		required := map[string]string{
			"R2_ACCOUNT_ID":        c.Storage.R2AccountID,
			"R2_ACCESS_KEY_ID":     c.Storage.R2AccessKeyID,
			"R2_SECRET_ACCESS_KEY": c.Storage.R2SecretAccessKey,
			"R2_BUCKET_NAME":       c.Storage.R2BucketName,
		}
		for _, key := range []string{"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME"} {
			if required[key] == "" {
				errs = append(errs, fmt.Errorf("%s is required when STORAGE_PROVIDER is r2", key))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_PROVIDER must be local or r2, got %q", c.Storage.Provider))
	}
	return errs
}

// envReader reads typed values and collects parse failures instead of
// silently using the fallback.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (e *envReader) parse(key string, parse func(string) error) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	if err := parse(value); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
	}
}

func (e *envReader) int(key string, fallback int) int {
	v := fallback
	e.parse(key, func(s string) error {
		n, err := strconv.Atoi(s)
		if err == nil {
			v = n
		}
		return err
	})
	return v
}

func (e *envReader) int64(key string, fallback int64) int64 {
	v := fallback
	e.parse(key, func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			v = n
		}
		return err
	})
	return v
}

func (e *envReader) bool(key string, fallback bool) bool {
	v := fallback
	e.parse(key, func(s string) error {
		b, err := strconv.ParseBool(s)
		if err == nil {
			v = b
		}
		return err
	})
	return v
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := fallback
	e.parse(key, func(s string) error {
		d, err := time.ParseDuration(s)
		if err == nil {
			v = d
		}
		return err
	})
	return v
}

func (e *envReader) location(key string, fallback *time.Location) *time.Location {
	v := fallback
	e.parse(key, func(s string) error {
		loc, err := time.LoadLocation(s)
		if err == nil {
			v = loc
		}
		return err
	})
	return v
}
