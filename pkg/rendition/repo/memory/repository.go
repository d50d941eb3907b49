package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// Repository implements rendition.AssetStore using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*rendition.Asset
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets: make(map[uuid.UUID]*rendition.Asset),
	}
}

// copyAsset detaches a record from the caller, including its format map
func copyAsset(a *rendition.Asset) *rendition.Asset {
	cp := *a
	cp.Formats = rendition.CloneFormats(a.Formats)
	return &cp
}

func (r *Repository) CreateAsset(ctx context.Context, asset *rendition.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*rendition.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, rendition.ErrAssetNotFound
	}
	return copyAsset(asset), nil
}

func (r *Repository) ListAssets(ctx context.Context) ([]*rendition.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*rendition.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, copyAsset(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[id]; !exists {
		return rendition.ErrAssetNotFound
	}
	delete(r.assets, id)
	return nil
}

func (r *Repository) MergeFormats(ctx context.Context, id uuid.UUID, delta map[string]rendition.Rendition) (*rendition.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, rendition.ErrAssetNotFound
	}
	asset.Formats = rendition.MergeFormats(asset.Formats, delta)
	asset.UpdatedAt = time.Now().UTC()
	return copyAsset(asset), nil
}
