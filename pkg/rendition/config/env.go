package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig mirrors the environment variables understood by WithEnv. Empty
// values leave the current configuration untouched; booleans and counts
// where zero is meaningful are read as strings for that reason.
type envConfig struct {
	Port        string `env:"PORT" env-description:"HTTP port"`
	Environment string `env:"ENVIRONMENT" env-description:"development, production or testing"`

	DatabaseURL string `env:"DATABASE_URL" env-description:"memory or postgres://..."`
	DBSchema    string `env:"DB_SCHEMA" env-description:"Postgres search_path"`

	QueueType       string        `env:"QUEUE_TYPE" env-description:"memory or redis"`
	RedisURL        string        `env:"REDIS_URL" env-description:"redis://host:6379/0, selects the redis queue"`
	QueueKeyPrefix  string        `env:"QUEUE_KEY_PREFIX"`
	QueueWorkers    int           `env:"QUEUE_WORKERS"`
	QueueMaxRetries string        `env:"QUEUE_MAX_RETRIES"`
	QueueRetryDelay time.Duration `env:"QUEUE_RETRY_DELAY"`

	LocalEnabled    string `env:"LOCAL_STORAGE_ENABLED"`
	UploadDir       string `env:"UPLOAD_DIR" env-description:"root of the local provider"`
	UploadURLPrefix string `env:"UPLOAD_URL_PREFIX"`

	RemoteStorageURL string `env:"REMOTE_STORAGE_URL" env-description:"memory:// or s3://bucket?region=...&endpoint=..."`
	PublicBaseURL    string `env:"PUBLIC_BASE_URL"`
	AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	Region           string `env:"AWS_REGION"`

	Quality      int           `env:"RENDITION_QUALITY"`
	PollInterval time.Duration `env:"RENDITION_POLL_INTERVAL"`
	MaxAttempts  int           `env:"RENDITION_POLL_ATTEMPTS"`
	CreateDelay  string        `env:"RENDITION_CREATE_DELAY"`

	EventLogging string `env:"EVENT_LOGGING"`
	Metrics      string `env:"METRICS_ENABLED"`
}

// WithEnv applies environment variable overrides.
//
// Server:
//
//	PORT, ENVIRONMENT
//
// Database:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	DB_SCHEMA    - optional search_path
//
// Queue:
//
//	REDIS_URL    - switches to the redis queue when set
//	QUEUE_TYPE, QUEUE_KEY_PREFIX, QUEUE_WORKERS, QUEUE_MAX_RETRIES, QUEUE_RETRY_DELAY
//
// Storage:
//
//	UPLOAD_DIR, UPLOAD_URL_PREFIX, LOCAL_STORAGE_ENABLED
//	REMOTE_STORAGE_URL - "memory://" or "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	PUBLIC_BASE_URL, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION
//
// Pipeline:
//
//	RENDITION_QUALITY, RENDITION_POLL_INTERVAL, RENDITION_POLL_ATTEMPTS, RENDITION_CREATE_DELAY
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return env.apply(c)
	}
}

// WithEnvFile reads a .env style file. Its variables are exported to the
// process environment before the overrides are applied.
func WithEnvFile(path string) Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadConfig(path, &env); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return env.apply(c)
	}
}

// EnvUsage describes the recognised environment variables.
func EnvUsage() string {
	desc, err := cleanenv.GetDescription(&envConfig{}, nil)
	if err != nil {
		return ""
	}
	return desc
}

func (e envConfig) apply(c *ServerConfig) error {
	if e.Port != "" {
		c.Port = e.Port
	}
	if e.Environment != "" {
		c.Environment = e.Environment
	}

	if err := applyDatabaseURL(e.DatabaseURL, c); err != nil {
		return err
	}
	if e.DBSchema != "" {
		c.DBSchema = e.DBSchema
	}

	if e.RedisURL != "" {
		c.RedisURL = e.RedisURL
		c.QueueType = "redis"
	}
	if e.QueueType != "" {
		c.QueueType = e.QueueType
	}
	if e.QueueKeyPrefix != "" {
		c.Queue.KeyPrefix = e.QueueKeyPrefix
	}
	if e.QueueWorkers > 0 {
		c.Queue.Workers = e.QueueWorkers
	}
	if e.QueueMaxRetries != "" {
		n, err := strconv.Atoi(e.QueueMaxRetries)
		if err != nil {
			return fmt.Errorf("invalid integer for QUEUE_MAX_RETRIES: %w", err)
		}
		c.Queue.MaxRetries = n
	}
	if e.QueueRetryDelay > 0 {
		c.Queue.RetryDelay = e.QueueRetryDelay
	}

	if e.LocalEnabled != "" {
		enabled, err := strconv.ParseBool(e.LocalEnabled)
		if err != nil {
			return fmt.Errorf("invalid boolean for LOCAL_STORAGE_ENABLED: %w", err)
		}
		c.Local.Enabled = enabled
	}
	if e.UploadDir != "" {
		c.Local.BaseDir = e.UploadDir
	}
	if e.UploadURLPrefix != "" {
		c.Local.URLPrefix = e.UploadURLPrefix
	}

	if err := applyRemoteStorageURL(e.RemoteStorageURL, c); err != nil {
		return err
	}
	if e.PublicBaseURL != "" {
		c.Remote.PublicBaseURL = e.PublicBaseURL
	}
	if e.AccessKeyID != "" {
		c.Remote.AccessKeyID = e.AccessKeyID
	}
	if e.SecretAccessKey != "" {
		c.Remote.SecretAccessKey = e.SecretAccessKey
	}
	if e.Region != "" {
		c.Remote.Region = e.Region
	}

	if e.Quality > 0 {
		c.Settings.Quality = e.Quality
	}
	if e.PollInterval > 0 {
		c.Settings.PollInterval = e.PollInterval
	}
	if e.MaxAttempts > 0 {
		c.Settings.MaxAttempts = e.MaxAttempts
	}
	if e.CreateDelay != "" {
		d, err := time.ParseDuration(e.CreateDelay)
		if err != nil {
			return fmt.Errorf("invalid duration for RENDITION_CREATE_DELAY: %w", err)
		}
		c.Settings.CreateDelay = d
	}

	if e.EventLogging != "" {
		enabled, err := strconv.ParseBool(e.EventLogging)
		if err != nil {
			return fmt.Errorf("invalid boolean for EVENT_LOGGING: %w", err)
		}
		c.EnableEventLogging = enabled
	}
	if e.Metrics != "" {
		enabled, err := strconv.ParseBool(e.Metrics)
		if err != nil {
			return fmt.Errorf("invalid boolean for METRICS_ENABLED: %w", err)
		}
		c.EnableMetrics = enabled
	}
	return nil
}

// applyDatabaseURL picks the database type from the URL scheme
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "":
		return nil
	case dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
	}
	return nil
}

// applyRemoteStorageURL configures the remote provider from a URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true
func applyRemoteStorageURL(raw string, c *ServerConfig) error {
	if raw == "" {
		return nil
	}
	if raw == "memory" || raw == "memory://" {
		c.Remote.Type = "memory"
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid REMOTE_STORAGE_URL: %w", err)
	}
	if u.Scheme != "s3" {
		return fmt.Errorf("unsupported REMOTE_STORAGE_URL format: %s (use 'memory://' or 's3://...')", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in REMOTE_STORAGE_URL")
	}

	c.Remote.Type = "s3"
	c.Remote.Bucket = u.Host
	q := u.Query()
	if v := q.Get("region"); v != "" {
		c.Remote.Region = v
	}
	if v := q.Get("endpoint"); v != "" {
		c.Remote.Endpoint = v
	}
	if v := q.Get("path_style"); v != "" {
		pathStyle, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid path_style in REMOTE_STORAGE_URL: %w", err)
		}
		c.Remote.UsePathStyle = pathStyle
	}
	if v := q.Get("create_bucket"); v != "" {
		create, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid create_bucket in REMOTE_STORAGE_URL: %w", err)
		}
		c.Remote.CreateBucket = create
	}
	return nil
}
