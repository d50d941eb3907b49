// Package memory provides an in-process deferred work queue: one pending
// timer per asset, a fixed worker pool and bounded retries.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// Defaults
const (
	DefaultWorkers    = 1
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
	DefaultBuffer     = 256
)

// ErrStopped is returned when scheduling on a stopped queue.
var ErrStopped = errors.New("queue stopped")

// ErrNotStarted is returned by Drain before Start.
var ErrNotStarted = errors.New("queue not started")

// Config holds queue tuning
type Config struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Buffer     int
	Logger     *slog.Logger
}

// Queue implements rendition.Scheduler with in-process timers.
type Queue struct {
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	pending  map[uuid.UUID]*task
	attempts map[uuid.UUID]int
	active   int
	started  bool
	stopped  bool

	ready  chan uuid.UUID
	done   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ rendition.Scheduler = (*Queue)(nil)

// New creates a queue. Call Start to begin processing.
func New(config Config) *Queue {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Queue{
		workers:    config.Workers,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		logger:     config.Logger.With("component", "memory_queue"),
		pending:    make(map[uuid.UUID]*task),
		attempts:   make(map[uuid.UUID]int),
		ready:      make(chan uuid.UUID, config.Buffer),
		done:       make(chan struct{}),
	}
}

// Start launches the worker pool. The handler runs with a context derived
// from ctx; cancelling ctx stops the workers.
func (q *Queue) Start(ctx context.Context, handler rendition.TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handler)
	}
}

// Schedule arranges for the handler to run for assetID after delay. A task
// already pending for the asset absorbs the request.
func (q *Queue) Schedule(ctx context.Context, assetID uuid.UUID, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if _, ok := q.pending[assetID]; ok {
		q.logger.DebugContext(ctx, "task already pending, coalesced", "asset_id", assetID)
		return nil
	}
	q.addLocked(assetID, delay)
	return nil
}

type task struct {
	timer *time.Timer
}

// addLocked arms a timer for assetID. Caller holds q.mu.
func (q *Queue) addLocked(assetID uuid.UUID, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.active++
	t := &task{}
	q.pending[assetID] = t
	t.timer = time.AfterFunc(delay, func() { q.fire(assetID, t) })
}

func (q *Queue) fire(assetID uuid.UUID, t *task) {
	q.mu.Lock()
	if q.pending[assetID] != t {
		// drained or stopped meanwhile
		q.mu.Unlock()
		return
	}
	delete(q.pending, assetID)
	q.mu.Unlock()
	q.dispatch(assetID)
}

func (q *Queue) dispatch(assetID uuid.UUID) {
	select {
	case q.ready <- assetID:
	case <-q.done:
		q.finish()
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
}

func (q *Queue) work(ctx context.Context, handler rendition.TaskHandler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case assetID := <-q.ready:
			q.run(ctx, handler, assetID)
		}
	}
}

func (q *Queue) run(ctx context.Context, handler rendition.TaskHandler, assetID uuid.UUID) {
	defer q.finish()

	err := handler(ctx, assetID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.attempts, assetID)
		return
	}

	attempt := q.attempts[assetID] + 1
	if attempt > q.maxRetries || q.stopped || ctx.Err() != nil {
		delete(q.attempts, assetID)
		q.logger.ErrorContext(ctx, "task failed, giving up", "asset_id", assetID, "attempts", attempt, "err", err)
		return
	}
	q.attempts[assetID] = attempt
	if _, ok := q.pending[assetID]; ok {
		// a fresh schedule is already waiting and will do the work
		return
	}
	q.logger.WarnContext(ctx, "task failed, retrying", "asset_id", assetID, "attempt", attempt, "retry_in", q.retryDelay, "err", err)
	q.addLocked(assetID, q.retryDelay)
}

// Pending returns the number of tasks waiting on their timer.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain fires every pending task immediately, including retries, and blocks
// until the queue is idle or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	started, stopped := q.started, q.stopped
	q.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if stopped {
		return ErrStopped
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.flush() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// flush dispatches pending timers and returns the number of tasks still
// outstanding before the flush.
func (q *Queue) flush() int {
	q.mu.Lock()
	active := q.active
	var due []uuid.UUID
	for id, t := range q.pending {
		if t.timer.Stop() {
			delete(q.pending, id)
			due = append(due, id)
		}
	}
	q.mu.Unlock()

	for _, id := range due {
		q.dispatch(id)
	}
	return active
}

// Stop cancels pending timers and waits for running tasks to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, t := range q.pending {
		if t.timer.Stop() {
			q.active--
		}
		delete(q.pending, id)
	}
	close(q.done)
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Run starts the workers and blocks until ctx is done, then stops the queue.
func (q *Queue) Run(ctx context.Context, handler rendition.TaskHandler) error {
	q.Start(ctx, handler)
	<-ctx.Done()
	q.Stop()
	return ctx.Err()
}
