package rendition

import (
	"errors"
	"time"
)

// Default pipeline settings.
const (
	DefaultQuality      = 89
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxAttempts  = 30
	DefaultCreateDelay  = 3 * time.Second
)

// Settings carries the tunables of the pipeline. Components receive a copy
// at construction; nothing reads process-wide state.
type Settings struct {
	// Quality is the target codec quality (1-100)
	Quality int
	// PollInterval spaces availability checks
	PollInterval time.Duration
	// MaxAttempts caps availability checks per rendition
	MaxAttempts int
	// CreateDelay defers processing after an AssetCreated notification
	CreateDelay time.Duration
}

// DefaultSettings returns quality 89, 500ms x 30 polling and a 3s delay.
func DefaultSettings() Settings {
	return Settings{
		Quality:      DefaultQuality,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		CreateDelay:  DefaultCreateDelay,
	}
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	if s.Quality < 1 || s.Quality > 100 {
		return errors.New("quality must be between 1 and 100")
	}
	if s.PollInterval < 0 {
		return errors.New("poll interval must not be negative")
	}
	if s.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if s.CreateDelay < 0 {
		return errors.New("create delay must not be negative")
	}
	return nil
}

// PollBudget is the longest time a single availability wait may take.
func (s Settings) PollBudget() time.Duration {
	return time.Duration(s.MaxAttempts) * s.PollInterval
}
