package rendition

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// RenditionCreated does nothing and returns nil
func (n *NoopEventSink) RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *Rendition) error {
	return nil
}

// RenditionSkipped does nothing and returns nil
func (n *NoopEventSink) RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error {
	return nil
}

// AssetProcessed does nothing and returns nil
func (n *NoopEventSink) AssetProcessed(ctx context.Context, result *ProcessResult, elapsed time.Duration) error {
	return nil
}

// RenditionDeleted does nothing and returns nil
func (n *NoopEventSink) RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error {
	return nil
}

// LoggingEventSink writes pipeline events to a structured logger.
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates an event sink that logs at debug level.
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger.With("component", "rendition_events")}
}

func (l *LoggingEventSink) RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *Rendition) error {
	l.logger.DebugContext(ctx, "rendition created", "asset_id", assetID, "format", name, "url", r.URL)
	return nil
}

func (l *LoggingEventSink) RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error {
	l.logger.DebugContext(ctx, "rendition skipped", "asset_id", assetID, "format", name, "kind", ErrorKind(reason))
	return nil
}

func (l *LoggingEventSink) AssetProcessed(ctx context.Context, result *ProcessResult, elapsed time.Duration) error {
	l.logger.DebugContext(ctx, "asset processed",
		"asset_id", result.AssetID,
		"generated", len(result.Generated),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"reason", result.Reason,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (l *LoggingEventSink) RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error {
	l.logger.DebugContext(ctx, "rendition deleted", "asset_id", assetID, "format", name, "kind", ErrorKind(err))
	return nil
}

// MultiEventSink fans events out to several sinks, returning the first error.
type MultiEventSink []EventSink

func (m MultiEventSink) RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *Rendition) error {
	var first error
	for _, s := range m {
		if err := s.RenditionCreated(ctx, assetID, name, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error {
	var first error
	for _, s := range m {
		if err := s.RenditionSkipped(ctx, assetID, name, reason); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) AssetProcessed(ctx context.Context, result *ProcessResult, elapsed time.Duration) error {
	var first error
	for _, s := range m {
		if err := s.AssetProcessed(ctx, result, elapsed); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error {
	var first error
	for _, s := range m {
		if e := s.RenditionDeleted(ctx, assetID, name, err); e != nil && first == nil {
			first = e
		}
	}
	return first
}
