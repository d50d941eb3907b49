package rendition

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Hook system lets the CMS side react to asset lifecycle events without
// knowing about the pipeline. The pipeline registers itself through
// Pipeline.Hooks.

// Hooks defines all available asset lifecycle hooks
type Hooks struct {
	BeforeAssetCreate []BeforeAssetCreateHook
	AfterAssetCreate  []AfterAssetCreateHook
	BeforeAssetDelete []BeforeAssetDeleteHook
	AfterAssetDelete  []AfterAssetDeleteHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeAssetCreateHook is called before an asset record is stored
type BeforeAssetCreateHook func(hctx *HookContext, asset *Asset) error

// AfterAssetCreateHook is called after an asset record is stored (AssetCreated)
type AfterAssetCreateHook func(hctx *HookContext, asset *Asset) error

// BeforeAssetDeleteHook is called while the record is still readable (AssetDeleting)
type BeforeAssetDeleteHook func(hctx *HookContext, assetID uuid.UUID) error

// AfterAssetDeleteHook is called after the record is removed
type AfterAssetDeleteHook func(hctx *HookContext, assetID uuid.UUID) error

// ErrorHook is called when an error occurs
type ErrorHook func(hctx *HookContext, operation string, err error)

// Append adds every hook of other after the existing ones.
func (h *Hooks) Append(other *Hooks) {
	if other == nil {
		return
	}
	h.BeforeAssetCreate = append(h.BeforeAssetCreate, other.BeforeAssetCreate...)
	h.AfterAssetCreate = append(h.AfterAssetCreate, other.AfterAssetCreate...)
	h.BeforeAssetDelete = append(h.BeforeAssetDelete, other.BeforeAssetDelete...)
	h.AfterAssetDelete = append(h.AfterAssetDelete, other.AfterAssetDelete...)
	h.OnError = append(h.OnError, other.OnError...)
}

// executeBeforeAssetCreate runs all BeforeAssetCreate hooks
func (h *Hooks) executeBeforeAssetCreate(ctx context.Context, asset *Asset) error {
	if len(h.BeforeAssetCreate) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeAssetCreate {
		if err := hook(hctx, asset); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeAfterAssetCreate runs all AfterAssetCreate hooks
func (h *Hooks) executeAfterAssetCreate(ctx context.Context, asset *Asset) error {
	if len(h.AfterAssetCreate) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterAssetCreate {
		if err := hook(hctx, asset); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeBeforeAssetDelete runs all BeforeAssetDelete hooks
func (h *Hooks) executeBeforeAssetDelete(ctx context.Context, assetID uuid.UUID) error {
	if len(h.BeforeAssetDelete) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeAssetDelete {
		if err := hook(hctx, assetID); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeAfterAssetDelete runs all AfterAssetDelete hooks
func (h *Hooks) executeAfterAssetDelete(ctx context.Context, assetID uuid.UUID) error {
	if len(h.AfterAssetDelete) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterAssetDelete {
		if err := hook(hctx, assetID); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeOnError runs all OnError hooks
func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// Hooks returns lifecycle hooks that feed AssetCreated and AssetDeleting
// notifications into the pipeline. Cleanup is best-effort, so the delete
// hook never blocks the record removal.
func (p *Pipeline) Hooks() *Hooks {
	return &Hooks{
		AfterAssetCreate: []AfterAssetCreateHook{
			func(hctx *HookContext, asset *Asset) error {
				return p.OnAssetCreated(hctx.Context, asset.ID)
			},
		},
		BeforeAssetDelete: []BeforeAssetDeleteHook{
			func(hctx *HookContext, assetID uuid.UUID) error {
				if _, err := p.OnAssetDeleting(hctx.Context, assetID); err != nil {
					p.logger.Error("rendition cleanup failed", "asset_id", assetID, "err", err)
				}
				return nil
			},
		},
	}
}

// LoggingHooks logs asset lifecycle operations
func LoggingHooks(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{
		AfterAssetCreate: []AfterAssetCreateHook{
			func(hctx *HookContext, asset *Asset) error {
				logger.Info("asset created", "asset_id", asset.ID, "mime", asset.Mime, "formats", len(asset.Formats))
				return nil
			},
		},
		AfterAssetDelete: []AfterAssetDeleteHook{
			func(hctx *HookContext, assetID uuid.UUID) error {
				logger.Info("asset deleted", "asset_id", assetID)
				return nil
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, operation string, err error) {
				logger.Error("asset operation failed", "operation", operation, "err", err)
			},
		},
	}
}
