// Package redis provides a deferred work queue backed by a Redis sorted set
// scored by due time. Several processes may run workers against the same
// keys; a task is claimed by whichever worker removes it first.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// Defaults
const (
	DefaultKeyPrefix    = "rendition:queue"
	DefaultPollInterval = 250 * time.Millisecond
	DefaultBatchSize    = 32
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 5 * time.Second
)

// Config holds queue settings
type Config struct {
	KeyPrefix    string
	PollInterval time.Duration
	BatchSize    int64
	MaxRetries   int
	RetryDelay   time.Duration
	Logger       *slog.Logger
}

// Queue implements rendition.Scheduler on Redis.
type Queue struct {
	rdb          redis.Cmdable
	dueKey       string
	attemptsKey  string
	pollInterval time.Duration
	batchSize    int64
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

var _ rendition.Scheduler = (*Queue)(nil)

// New creates a queue on top of an existing client.
func New(rdb redis.Cmdable, config Config) *Queue {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Queue{
		rdb:          rdb,
		dueKey:       config.KeyPrefix + ":due",
		attemptsKey:  config.KeyPrefix + ":attempts",
		pollInterval: config.PollInterval,
		batchSize:    config.BatchSize,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		logger:       config.Logger.With("component", "redis_queue"),
		now:          time.Now,
	}
}

// NewFromURL parses a redis:// URL and creates a queue with its own client.
func NewFromURL(url string, config Config) (*Queue, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return New(client, config), client, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Schedule adds assetID to the due set. ZADD NX leaves an existing entry
// and its due time untouched, so repeated schedules coalesce.
func (q *Queue) Schedule(ctx context.Context, assetID uuid.UUID, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	due := q.now().Add(delay)
	added, err := q.rdb.ZAddNX(ctx, q.dueKey, redis.Z{Score: score(due), Member: assetID.String()}).Result()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", assetID, err)
	}
	if added == 0 {
		q.logger.DebugContext(ctx, "task already pending, coalesced", "asset_id", assetID)
	}
	return nil
}

// Pending returns the number of tasks in the due set.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.dueKey).Result()
}

// Run polls for due tasks until ctx is done.
func (q *Queue) Run(ctx context.Context, handler rendition.TaskHandler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := q.ProcessDue(ctx, handler); err != nil && ctx.Err() == nil {
			q.logger.ErrorContext(ctx, "poll due tasks", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessDue claims and runs every task that is due now, returning how many
// ran.
func (q *Queue) ProcessDue(ctx context.Context, handler rendition.TaskHandler) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(score(q.now()), 'f', 0, 64),
		Count: q.batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read due tasks: %w", err)
	}

	ran := 0
	for _, member := range members {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		claimed, err := q.rdb.ZRem(ctx, q.dueKey, member).Result()
		if err != nil {
			return ran, fmt.Errorf("claim task %s: %w", member, err)
		}
		if claimed == 0 {
			continue
		}

		assetID, err := uuid.Parse(member)
		if err != nil {
			q.logger.WarnContext(ctx, "dropping malformed task", "member", member, "err", err)
			continue
		}
		ran++
		q.complete(ctx, assetID, handler(ctx, assetID))
	}
	return ran, nil
}

func (q *Queue) complete(ctx context.Context, assetID uuid.UUID, taskErr error) {
	member := assetID.String()
	if taskErr == nil {
		if err := q.rdb.HDel(ctx, q.attemptsKey, member).Err(); err != nil {
			q.logger.WarnContext(ctx, "clear attempts", "asset_id", assetID, "err", err)
		}
		return
	}

	attempt, err := q.rdb.HIncrBy(ctx, q.attemptsKey, member, 1).Result()
	if err != nil {
		q.logger.ErrorContext(ctx, "record attempt", "asset_id", assetID, "err", err)
		return
	}
	if int(attempt) > q.maxRetries {
		q.logger.ErrorContext(ctx, "task failed, giving up", "asset_id", assetID, "attempts", attempt, "err", taskErr)
		if err := q.rdb.HDel(ctx, q.attemptsKey, member).Err(); err != nil {
			q.logger.WarnContext(ctx, "clear attempts", "asset_id", assetID, "err", err)
		}
		return
	}

	q.logger.WarnContext(ctx, "task failed, retrying", "asset_id", assetID, "attempt", attempt, "retry_in", q.retryDelay, "err", taskErr)
	if err := q.Schedule(ctx, assetID, q.retryDelay); err != nil {
		q.logger.ErrorContext(ctx, "reschedule task", "asset_id", assetID, "err", err)
	}
}
