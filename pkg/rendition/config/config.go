package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tendant/simple-rendition/pkg/rendition"
	"github.com/tendant/simple-rendition/pkg/rendition/codec/webp"
	"github.com/tendant/simple-rendition/pkg/rendition/metrics"
	memoryqueue "github.com/tendant/simple-rendition/pkg/rendition/queue/memory"
	redisqueue "github.com/tendant/simple-rendition/pkg/rendition/queue/redis"
	"github.com/tendant/simple-rendition/pkg/rendition/repo/memory"
	repopg "github.com/tendant/simple-rendition/pkg/rendition/repo/postgres"
	fsstorage "github.com/tendant/simple-rendition/pkg/rendition/storage/fs"
	memorystorage "github.com/tendant/simple-rendition/pkg/rendition/storage/memory"
	s3storage "github.com/tendant/simple-rendition/pkg/rendition/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		QueueType:    "memory",
		Queue: QueueConfig{
			KeyPrefix:  redisqueue.DefaultKeyPrefix,
			Workers:    memoryqueue.DefaultWorkers,
			MaxRetries: memoryqueue.DefaultMaxRetries,
			RetryDelay: memoryqueue.DefaultRetryDelay,
		},
		Local: LocalProviderConfig{
			Enabled:   true,
			Name:      fsstorage.ProviderName,
			BaseDir:   "./public/uploads",
			URLPrefix: "/uploads",
		},
		Remote: RemoteProviderConfig{
			Region: "us-east-1",
		},
		Settings:           rendition.DefaultSettings(),
		EnableEventLogging: true,
		EnableMetrics:      true,
	}
}

// ServerConfig represents server configuration for the rendition service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use for search_path (optional)

	// Work queue configuration
	QueueType string // "memory", "redis"
	RedisURL  string
	Queue     QueueConfig

	// Storage providers
	Local  LocalProviderConfig
	Remote RemoteProviderConfig

	// Pipeline tunables
	Settings rendition.Settings

	// Server options
	EnableEventLogging bool
	EnableMetrics      bool
}

// QueueConfig tunes the deferred work queue
type QueueConfig struct {
	KeyPrefix  string // redis only
	Workers    int    // memory only
	MaxRetries int
	RetryDelay time.Duration
}

// LocalProviderConfig configures the filesystem provider
type LocalProviderConfig struct {
	Enabled   bool
	Name      string
	BaseDir   string
	URLPrefix string
}

// RemoteProviderConfig configures the remote provider
type RemoteProviderConfig struct {
	Type            string // "", "s3", "memory"
	Name            string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	CreateBucket    bool
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.QueueType != "memory" && c.QueueType != "redis" {
		return errors.New("queue_type must be 'memory' or 'redis'")
	}
	if c.QueueType == "redis" && c.RedisURL == "" {
		return errors.New("redis_url is required when using the redis queue")
	}

	switch c.Remote.Type {
	case "", "memory":
	case "s3":
		if c.Remote.Bucket == "" {
			return errors.New("remote bucket is required for s3")
		}
	default:
		return fmt.Errorf("unsupported remote provider type: %s", c.Remote.Type)
	}

	if c.Local.Enabled && c.Local.BaseDir == "" {
		return errors.New("local base_dir is required when the local provider is enabled")
	}
	if !c.Local.Enabled && c.Remote.Type == "" {
		return errors.New("at least one storage provider must be configured")
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid rendition settings: %w", err)
	}
	return nil
}

// Worker runs a queue until its context is done.
type Worker interface {
	Run(ctx context.Context, handler rendition.TaskHandler) error
}

// Runtime bundles everything BuildPipeline assembled.
type Runtime struct {
	Store    rendition.AssetStore
	Pipeline *rendition.Pipeline
	Assets   *rendition.AssetService
	Worker   Worker
	Registry *prometheus.Registry

	closers []func()
}

// Run processes queued tasks until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	return r.Worker.Run(ctx, r.Pipeline.Handler())
}

// Close releases pools and clients.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildPipeline creates the pipeline, its asset service and the queue worker
// from the server configuration.
func (c *ServerConfig) BuildPipeline(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	store, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	rt.Store = store

	local, remote, err := c.buildProviders(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage providers: %w", err)
	}

	scheduler, worker, err := c.buildQueue(logger, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build queue: %w", err)
	}
	rt.Worker = worker

	var sinks rendition.MultiEventSink
	if c.EnableEventLogging {
		sinks = append(sinks, rendition.NewLoggingEventSink(logger))
	}
	if c.EnableMetrics {
		rt.Registry = prometheus.NewRegistry()
		rt.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sink, err := metrics.NewSink(metrics.DefaultNamespace, rt.Registry)
		if err != nil {
			rt.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	options := []rendition.Option{
		rendition.WithAssetStore(store),
		rendition.WithEncoder(webp.New()),
		rendition.WithScheduler(scheduler),
		rendition.WithSettings(c.Settings),
		rendition.WithLogger(logger),
		rendition.WithProviders(local, remote),
	}
	if len(sinks) > 0 {
		options = append(options, rendition.WithEventSink(sinks))
	}

	pipeline, err := rendition.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Pipeline = pipeline

	hooks := pipeline.Hooks()
	if c.EnableEventLogging {
		hooks.Append(rendition.LoggingHooks(logger))
	}
	rt.Assets = rendition.NewAssetService(store,
		rendition.WithHooks(hooks),
		rendition.WithServiceLogger(logger),
	)
	return rt, nil
}

// buildRepository creates an AssetStore based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (rendition.AssetStore, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		repo := repopg.NewWithPool(pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres with the configured search_path.
func PingPostgres(databaseURL, schema string) error {
	pool, err := newPool(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildProviders returns the local and remote providers. Unconfigured
// providers are returned as untyped nils.
func (c *ServerConfig) buildProviders(ctx context.Context) (rendition.Provider, rendition.Provider, error) {
	var local, remote rendition.Provider

	if c.Local.Enabled {
		backend, err := fsstorage.New(fsstorage.Config{
			Name:      c.Local.Name,
			BaseDir:   c.Local.BaseDir,
			URLPrefix: c.Local.URLPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		local = backend
	}

	switch c.Remote.Type {
	case "":
	case "memory":
		remote = memorystorage.New(memorystorage.Config{
			Name:    c.Remote.Name,
			BaseURL: c.Remote.PublicBaseURL,
		})
	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Name:                   c.Remote.Name,
			Region:                 c.Remote.Region,
			Bucket:                 c.Remote.Bucket,
			AccessKeyID:            c.Remote.AccessKeyID,
			SecretAccessKey:        c.Remote.SecretAccessKey,
			Endpoint:               c.Remote.Endpoint,
			UsePathStyle:           c.Remote.UsePathStyle,
			PublicBaseURL:          c.Remote.PublicBaseURL,
			CreateBucketIfNotExist: c.Remote.CreateBucket,
		})
		if err != nil {
			return nil, nil, err
		}
		remote = backend
	default:
		return nil, nil, fmt.Errorf("unsupported remote provider type: %s", c.Remote.Type)
	}
	return local, remote, nil
}

// buildQueue returns the scheduler the pipeline enqueues into and the worker
// that drains it.
func (c *ServerConfig) buildQueue(logger *slog.Logger, rt *Runtime) (rendition.Scheduler, Worker, error) {
	switch c.QueueType {
	case "memory":
		q := memoryqueue.New(memoryqueue.Config{
			Workers:    c.Queue.Workers,
			MaxRetries: c.Queue.MaxRetries,
			RetryDelay: c.Queue.RetryDelay,
			Logger:     logger,
		})
		rt.closers = append(rt.closers, q.Stop)
		return q, q, nil
	case "redis":
		q, client, err := redisqueue.NewFromURL(c.RedisURL, redisqueue.Config{
			KeyPrefix:  c.Queue.KeyPrefix,
			MaxRetries: c.Queue.MaxRetries,
			RetryDelay: c.Queue.RetryDelay,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		return q, q, nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue type: %s", c.QueueType)
	}
}
