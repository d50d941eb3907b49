package rendition

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider defines the interface for storage providers holding asset bytes
type Provider interface {
	// Name identifies the provider; it is recorded on every rendition it stores
	Name() string

	// Fetch reads the bytes behind a locator. Absence is ErrNotFound.
	Fetch(ctx context.Context, locator string) ([]byte, error)

	// Exists is the HEAD-equivalent availability check used while polling
	Exists(ctx context.Context, locator string) (bool, error)

	// Upload stores bytes and reports where they landed
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// Delete removes the object behind a locator. Absence is ErrNotFound.
	Delete(ctx context.Context, locator string) error

	// RequiresPolling reports whether fresh uploads may not be readable yet
	RequiresPolling() bool
}

// AssetStore defines the interface for the CMS asset record store
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error

	// MergeFormats overlays delta on the stored format map (delta wins) and
	// returns the updated asset.
	MergeFormats(ctx context.Context, id uuid.UUID, delta map[string]Rendition) (*Asset, error)
}

// Encoder defines the codec used to produce renditions
type Encoder interface {
	// Encode converts data to targetMime at the given quality (1-100)
	Encode(ctx context.Context, data []byte, targetMime string, quality int) ([]byte, error)
}

// EncoderFunc adapts a plain function to the Encoder interface.
type EncoderFunc func(ctx context.Context, data []byte, targetMime string, quality int) ([]byte, error)

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, data []byte, targetMime string, quality int) ([]byte, error) {
	return f(ctx, data, targetMime, quality)
}

// TaskHandler processes one deferred task for an asset.
type TaskHandler func(ctx context.Context, assetID uuid.UUID) error

// Scheduler defines the interface for deferred per-asset work queues
type Scheduler interface {
	// Schedule arranges for the handler to run for assetID after delay.
	// A task still pending for the same asset may absorb the request.
	Schedule(ctx context.Context, assetID uuid.UUID, delay time.Duration) error
}

// EventSink defines the interface for pipeline event handling
type EventSink interface {
	// RenditionCreated is fired after a rendition is uploaded
	RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *Rendition) error

	// RenditionSkipped is fired when a source format produced no rendition
	RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error

	// AssetProcessed is fired after an orchestrator run completes
	AssetProcessed(ctx context.Context, result *ProcessResult, elapsed time.Duration) error

	// RenditionDeleted is fired for every cleanup attempt; err is nil, a
	// NotFound error, or the failure
	RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error
}
