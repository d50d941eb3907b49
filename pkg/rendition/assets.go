package rendition

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateAssetRequest contains the fields of a new asset record
type CreateAssetRequest struct {
	Name             string               `json:"name"`
	Hash             string               `json:"hash"`
	Ext              string               `json:"ext"`
	Mime             string               `json:"mime"`
	Width            int                  `json:"width,omitempty"`
	Height           int                  `json:"height,omitempty"`
	SizeBytes        int64                `json:"size_in_bytes"`
	URL              string               `json:"url"`
	Provider         string               `json:"provider,omitempty"`
	ProviderMetadata map[string]any       `json:"provider_metadata,omitempty"`
	Formats          map[string]Rendition `json:"formats,omitempty"`
}

// AssetService is the CMS-side surface over the asset store. It fires the
// lifecycle hooks the pipeline listens to.
type AssetService struct {
	store  AssetStore
	hooks  Hooks
	logger *slog.Logger
}

// AssetServiceOption configures an AssetService
type AssetServiceOption func(*AssetService)

// WithHooks registers lifecycle hooks
func WithHooks(hooks *Hooks) AssetServiceOption {
	return func(s *AssetService) {
		s.hooks.Append(hooks)
	}
}

// WithServiceLogger sets the logger used for hook failures
func WithServiceLogger(logger *slog.Logger) AssetServiceOption {
	return func(s *AssetService) {
		s.logger = logger
	}
}

// NewAssetService creates an asset service over store
func NewAssetService(store AssetStore, opts ...AssetServiceOption) *AssetService {
	s := &AssetService{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAsset stores a new asset record and fires AfterAssetCreate. Hook
// failures are logged and do not undo the creation.
func (s *AssetService) CreateAsset(ctx context.Context, req CreateAssetRequest) (*Asset, error) {
	if req.Name == "" && req.URL == "" {
		return nil, errors.New("asset name or url is required")
	}

	now := time.Now().UTC()
	asset := &Asset{
		ID:               uuid.New(),
		Name:             req.Name,
		Hash:             req.Hash,
		Ext:              req.Ext,
		Mime:             req.Mime,
		Width:            req.Width,
		Height:           req.Height,
		SizeBytes:        req.SizeBytes,
		URL:              req.URL,
		Provider:         req.Provider,
		ProviderMetadata: req.ProviderMetadata,
		Formats:          CloneFormats(req.Formats),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if asset.Ext == "" {
		asset.Ext = strings.ToLower(path.Ext(firstNonEmpty(asset.Name, asset.URL)))
	}

	if err := s.hooks.executeBeforeAssetCreate(ctx, asset); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "before_create", Err: err}
	}

	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	if err := s.hooks.executeAfterAssetCreate(ctx, asset); err != nil {
		s.logger.Error("after create hook failed", "asset_id", asset.ID, "err", err)
		s.hooks.executeOnError(ctx, "after_create", err)
	}

	return asset, nil
}

// GetAsset returns one asset record
func (s *AssetService) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return s.store.GetAsset(ctx, id)
}

// ListAssets returns every asset record
func (s *AssetService) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.store.ListAssets(ctx)
}

// DeleteAsset fires BeforeAssetDelete while the record is readable, removes
// it and fires AfterAssetDelete.
func (s *AssetService) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetAsset(ctx, id); err != nil {
		return err
	}

	if err := s.hooks.executeBeforeAssetDelete(ctx, id); err != nil {
		s.hooks.executeOnError(ctx, "before_delete", err)
		return &AssetError{AssetID: id, Op: "before_delete", Err: err}
	}

	if err := s.store.DeleteAsset(ctx, id); err != nil {
		s.hooks.executeOnError(ctx, "delete", err)
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}

	if err := s.hooks.executeAfterAssetDelete(ctx, id); err != nil {
		s.logger.Error("after delete hook failed", "asset_id", id, "err", err)
		s.hooks.executeOnError(ctx, "after_delete", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
