package rendition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Generator produces one derived rendition from one source format.
type Generator struct {
	encoder  Encoder
	poller   *Poller
	settings Settings
	logger   *slog.Logger
	events   EventSink
}

// NewGenerator creates a generator. A nil logger uses slog.Default and a nil
// sink discards events.
func NewGenerator(encoder Encoder, settings Settings, logger *slog.Logger, events EventSink) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NewNoopEventSink()
	}
	return &Generator{
		encoder:  encoder,
		poller:   NewPoller(settings, logger),
		settings: settings,
		logger:   logger,
		events:   events,
	}
}

// Generate runs poll, fetch, encode and upload for one source format and
// returns the new rendition. Every failure is logged and reported as nil:
// callers treat nil as "skip this format".
func (g *Generator) Generate(ctx context.Context, assetID uuid.UUID, formatName string, source Rendition, provider Provider) *Rendition {
	log := g.logger.With("asset_id", assetID, "format", formatName, "provider", provider.Name())

	if HasTargetExt(source.Ext) {
		log.Debug("source already in target format")
		return nil
	}

	r, err := g.generate(ctx, source, provider)
	if err != nil {
		kind := ErrorKind(err)
		switch kind {
		case "not_found", "timed_out":
			log.Warn("source not available, skipping rendition", "kind", kind, "err", err)
		default:
			log.Error("rendition generation failed", "kind", kind, "err", err)
		}
		_ = g.events.RenditionSkipped(ctx, assetID, formatName, err)
		return nil
	}

	log.Info("rendition generated", "name", r.Name, "url", r.URL, "size_in_bytes", r.SizeBytes)
	_ = g.events.RenditionCreated(ctx, assetID, DerivedFormatName(formatName), r)
	return r
}

func (g *Generator) generate(ctx context.Context, source Rendition, provider Provider) (*Rendition, error) {
	locator := sourceLocator(source)
	if locator == "" {
		return nil, NotFound(provider.Name(), "locate", source.Name)
	}

	if provider.RequiresPolling() {
		if err := g.poller.Await(ctx, locator, provider); err != nil {
			return nil, err
		}
	}

	data, err := provider.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	encoded, err := g.encoder.Encode(ctx, data, TargetMime, g.settings.Quality)
	if err != nil {
		if !errors.Is(err, ErrEncode) {
			err = &EncodeError{TargetMime: TargetMime, Err: err}
		}
		return nil, err
	}

	fileName := ReplaceExt(locatorFileName(locator, source.Name), TargetExt)
	uploaded, err := provider.Upload(ctx, UploadRequest{
		Name:          fileName,
		SourceLocator: locator,
		Data:          encoded,
		Mime:          TargetMime,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}

	name := fileName
	if source.Name != "" {
		name = ReplaceExt(source.Name, TargetExt)
	}

	return &Rendition{
		Name:             name,
		Hash:             source.Hash,
		Ext:              TargetExt,
		Mime:             TargetMime,
		Width:            source.Width,
		Height:           source.Height,
		SizeBytes:        int64(len(encoded)),
		URL:              uploaded.URL,
		Path:             uploaded.Path,
		Provider:         provider.Name(),
		ProviderMetadata: uploaded.ProviderMetadata,
	}, nil
}

// sourceLocator picks the locator a provider understands for a format.
func sourceLocator(r Rendition) string {
	if r.URL != "" {
		return r.URL
	}
	if r.Hash != "" && r.Ext != "" {
		return r.Hash + r.Ext
	}
	return r.Name
}

// locatorFileName returns the last path element of a URL or path locator.
func locatorFileName(locator, fallback string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(strings.TrimSuffix(p, "/"))
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	return base
}
