package rendition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the asset rendition orchestrator and cleanup handler.
type Pipeline struct {
	store     AssetStore
	providers *ProviderSet
	encoder   Encoder
	scheduler Scheduler
	events    EventSink
	settings  Settings
	logger    *slog.Logger
	generator *Generator
}

// Option represents a functional option for configuring the pipeline
type Option func(*Pipeline)

// WithAssetStore sets the asset record store
func WithAssetStore(store AssetStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithProviders sets the local and remote storage providers
func WithProviders(local, remote Provider) Option {
	return func(p *Pipeline) {
		p.providers = NewProviderSet(local, remote)
	}
}

// WithEncoder sets the codec
func WithEncoder(encoder Encoder) Option {
	return func(p *Pipeline) {
		p.encoder = encoder
	}
}

// WithScheduler sets the deferred task scheduler
func WithScheduler(scheduler Scheduler) Option {
	return func(p *Pipeline) {
		p.scheduler = scheduler
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink EventSink) Option {
	return func(p *Pipeline) {
		p.events = sink
	}
}

// WithSettings overrides the default settings
func WithSettings(settings Settings) Option {
	return func(p *Pipeline) {
		p.settings = settings
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new pipeline with the given options
func New(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		settings: DefaultSettings(),
		logger:   slog.Default(),
		events:   NewNoopEventSink(),
	}

	for _, option := range options {
		option(p)
	}

	if p.store == nil {
		return nil, fmt.Errorf("asset store is required")
	}
	if p.encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if p.providers == nil || (p.providers.Local() == nil && p.providers.Remote() == nil) {
		return nil, fmt.Errorf("at least one storage provider is required")
	}
	if err := p.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	p.logger = p.logger.With("component", "rendition_pipeline")
	p.generator = NewGenerator(p.encoder, p.settings, p.logger, p.events)
	return p, nil
}

// Settings returns the settings the pipeline was built with.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Handler returns the task handler a Scheduler should run.
func (p *Pipeline) Handler() TaskHandler {
	return func(ctx context.Context, assetID uuid.UUID) error {
		_, err := p.ProcessAsset(ctx, assetID)
		return err
	}
}

// OnAssetCreated schedules ProcessAsset to run Settings.CreateDelay after
// the creation notification. It never waits for processing.
func (p *Pipeline) OnAssetCreated(ctx context.Context, assetID uuid.UUID) error {
	return p.schedule(ctx, assetID, p.settings.CreateDelay)
}

// Reprocess schedules ProcessAsset without the creation delay.
func (p *Pipeline) Reprocess(ctx context.Context, assetID uuid.UUID) error {
	return p.schedule(ctx, assetID, 0)
}

func (p *Pipeline) schedule(ctx context.Context, assetID uuid.UUID, delay time.Duration) error {
	if p.scheduler == nil {
		return &AssetError{AssetID: assetID, Op: "schedule", Err: errors.New("scheduler is required")}
	}
	if err := p.scheduler.Schedule(ctx, assetID, delay); err != nil {
		return &AssetError{AssetID: assetID, Op: "schedule", Err: err}
	}
	p.logger.Debug("asset scheduled", "asset_id", assetID, "delay_ms", delay.Milliseconds())
	return nil
}

// ProcessAsset re-reads the asset, generates every missing derived
// rendition and merges them into the asset's format map. Rendition failures
// are logged and reported in the result; only asset store failures are
// returned as errors.
func (p *Pipeline) ProcessAsset(ctx context.Context, assetID uuid.UUID) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With("asset_id", assetID)
	result := &ProcessResult{AssetID: assetID}

	asset, err := p.store.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			log.Warn("asset vanished before processing")
			result.Reason = "asset_not_found"
			return p.finish(ctx, result, start), nil
		}
		return nil, &AssetError{AssetID: assetID, Op: "get", Err: err}
	}

	switch {
	case !asset.IsImage():
		result.Reason = "not_image"
	case HasTargetExt(asset.Ext):
		result.Reason = "already_target"
	case len(asset.Formats) == 0:
		// Breakpoints may still be in flight; there is no readiness signal.
		log.Info("no breakpoint formats recorded yet, skipping")
		result.Reason = "no_breakpoints"
	}
	if result.Reason != "" {
		return p.finish(ctx, result, start), nil
	}

	provider, err := p.providers.ForURL(asset.URL)
	if err != nil {
		log.Error("no provider for asset", "url", asset.URL, "err", err)
		result.Reason = "no_provider"
		return p.finish(ctx, result, start), nil
	}

	delta := make(map[string]Rendition)
	for _, name := range sourceFormatNames(asset) {
		source, ok := asset.Format(name)
		if !ok || HasTargetExt(source.Ext) {
			continue
		}

		target := DerivedFormatName(name)
		if _, exists := asset.Formats[target]; exists {
			result.Skipped = append(result.Skipped, target)
			continue
		}

		r := p.generator.Generate(ctx, assetID, name, source, provider)
		if r == nil {
			result.Failed = append(result.Failed, target)
			continue
		}
		delta[target] = *r
		result.Generated = append(result.Generated, target)
	}

	if len(delta) > 0 {
		if _, err := p.store.MergeFormats(ctx, assetID, delta); err != nil {
			return result, &AssetError{AssetID: assetID, Op: "merge_formats", Err: err}
		}
	}

	log.Info("asset processed",
		"generated", len(result.Generated),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
	)
	return p.finish(ctx, result, start), nil
}

func (p *Pipeline) finish(ctx context.Context, result *ProcessResult, start time.Time) *ProcessResult {
	_ = p.events.AssetProcessed(ctx, result, time.Since(start))
	return result
}

// OnAssetDeleting removes every derived rendition the asset references.
// Absent files are ignored and individual failures do not stop the rest.
func (p *Pipeline) OnAssetDeleting(ctx context.Context, assetID uuid.UUID) (*CleanupResult, error) {
	log := p.logger.With("asset_id", assetID)
	result := &CleanupResult{AssetID: assetID}

	asset, err := p.store.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return result, nil
		}
		return nil, &AssetError{AssetID: assetID, Op: "get", Err: err}
	}

	for _, name := range sortedKeys(asset.Formats) {
		r := asset.Formats[name]
		if !IsDerivedRendition(name, r) {
			continue
		}

		provider, err := p.providers.ForRendition(r, asset.URL)
		if err != nil {
			log.Error("no provider for rendition", "format", name, "url", r.URL, "err", err)
			result.Failed = append(result.Failed, name)
			_ = p.events.RenditionDeleted(ctx, assetID, name, err)
			continue
		}

		err = provider.Delete(ctx, sourceLocator(r))
		_ = p.events.RenditionDeleted(ctx, assetID, name, err)
		switch {
		case err == nil:
			result.Deleted = append(result.Deleted, name)
		case IsNotFound(err):
			result.Missing = append(result.Missing, name)
		default:
			log.Error("failed to delete rendition", "format", name, "provider", provider.Name(), "err", err)
			result.Failed = append(result.Failed, name)
		}
	}

	log.Info("renditions cleaned up",
		"deleted", len(result.Deleted),
		"missing", len(result.Missing),
		"failed", len(result.Failed),
	)
	return result, nil
}

// sourceFormatNames lists "original" followed by the sorted breakpoint
// names, leaving out derived entries.
func sourceFormatNames(asset *Asset) []string {
	names := []string{OriginalFormat}
	for _, name := range sortedKeys(asset.Formats) {
		if name == OriginalFormat || IsDerivedFormatName(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func sortedKeys(formats map[string]Rendition) []string {
	keys := make([]string, 0, len(formats))
	for k := range formats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
