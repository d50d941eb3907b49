package config

import (
	"fmt"
	"time"

	"github.com/tendant/simple-rendition/pkg/rendition"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the search_path (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryQueue selects the in-process queue
func WithMemoryQueue(workers int) Option {
	return func(c *ServerConfig) error {
		if workers < 1 {
			return fmt.Errorf("workers must be at least 1, got: %d", workers)
		}
		c.QueueType = "memory"
		c.Queue.Workers = workers
		return nil
	}
}

// WithRedisQueue selects the Redis queue
func WithRedisQueue(redisURL, keyPrefix string) Option {
	return func(c *ServerConfig) error {
		if redisURL == "" {
			return fmt.Errorf("redis URL is required for the redis queue")
		}
		c.QueueType = "redis"
		c.RedisURL = redisURL
		if keyPrefix != "" {
			c.Queue.KeyPrefix = keyPrefix
		}
		return nil
	}
}

// WithQueueRetries sets how often and how late failed tasks are retried
func WithQueueRetries(maxRetries int, delay time.Duration) Option {
	return func(c *ServerConfig) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		c.Queue.MaxRetries = maxRetries
		c.Queue.RetryDelay = delay
		return nil
	}
}

// WithLocalStorage configures the filesystem provider
// If name is empty, defaults to "local"
func WithLocalStorage(name, baseDir, urlPrefix string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("base directory cannot be empty")
		}
		if name != "" {
			c.Local.Name = name
		}
		c.Local.Enabled = true
		c.Local.BaseDir = baseDir
		if urlPrefix != "" {
			c.Local.URLPrefix = urlPrefix
		}
		return nil
	}
}

// WithoutLocalStorage disables the filesystem provider
func WithoutLocalStorage() Option {
	return func(c *ServerConfig) error {
		c.Local.Enabled = false
		return nil
	}
}

// WithS3Storage configures the S3 remote provider
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("bucket cannot be empty")
		}
		c.Remote.Type = "s3"
		c.Remote.Bucket = bucket
		if region != "" {
			c.Remote.Region = region
		}
		return nil
	}
}

// WithS3Credentials sets static credentials for the S3 provider
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("both access key ID and secret access key are required")
		}
		c.Remote.AccessKeyID = accessKeyID
		c.Remote.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 provider at an S3-compatible service (MinIO)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.Remote.Endpoint = endpoint
		c.Remote.UsePathStyle = usePathStyle
		return nil
	}
}

// WithMemoryRemoteStorage uses the in-memory remote provider
func WithMemoryRemoteStorage(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.Remote.Type = "memory"
		c.Remote.PublicBaseURL = baseURL
		return nil
	}
}

// WithPublicBaseURL sets the URL prefix remote objects are served from
func WithPublicBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.Remote.PublicBaseURL = baseURL
		return nil
	}
}

// WithSettings replaces the pipeline tunables
func WithSettings(settings rendition.Settings) Option {
	return func(c *ServerConfig) error {
		if err := settings.Validate(); err != nil {
			return err
		}
		c.Settings = settings
		return nil
	}
}

// WithCreateDelay overrides the delay between asset creation and processing
func WithCreateDelay(delay time.Duration) Option {
	return func(c *ServerConfig) error {
		if delay < 0 {
			return fmt.Errorf("create delay cannot be negative")
		}
		c.Settings.CreateDelay = delay
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithMetrics enables or disables the Prometheus registry
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}
