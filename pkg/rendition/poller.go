package rendition

import (
	"context"
	"log/slog"
	"time"
)

// Poller waits for a freshly written object to become readable.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      *slog.Logger

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller from settings.
func NewPoller(settings Settings, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		Interval:    settings.PollInterval,
		MaxAttempts: settings.MaxAttempts,
		Logger:      logger,
		sleep:       sleepContext,
	}
}

// Await issues up to MaxAttempts existence checks spaced Interval apart. It
// returns nil once the object exists and ErrTimedOut when the ceiling is
// reached. Check errors count as "not yet".
func (p *Poller) Await(ctx context.Context, locator string, provider Provider) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := provider.Exists(ctx, locator)
		if err == nil && ok {
			return nil
		}
		if err != nil && !IsNotFound(err) && p.Logger != nil {
			p.Logger.Debug("availability check failed", "locator", locator, "attempt", attempt, "err", err)
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}

	return &StorageError{Provider: provider.Name(), Locator: locator, Op: "await", Err: ErrTimedOut}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
