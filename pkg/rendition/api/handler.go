// Package api exposes the asset records, their renditions and the CMS
// lifecycle webhook over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// AssetService is the record surface the handlers need
type AssetService interface {
	CreateAsset(ctx context.Context, req rendition.CreateAssetRequest) (*rendition.Asset, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*rendition.Asset, error)
	ListAssets(ctx context.Context) ([]*rendition.Asset, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error
}

// Processor is the pipeline surface the handlers need
type Processor interface {
	OnAssetCreated(ctx context.Context, assetID uuid.UUID) error
	OnAssetDeleting(ctx context.Context, assetID uuid.UUID) (*rendition.CleanupResult, error)
	Reprocess(ctx context.Context, assetID uuid.UUID) error
}

// Lifecycle event names accepted by the webhook
const (
	EventAssetCreated  = "asset.created"
	EventAssetDeleting = "asset.deleting"
)

// EventRequest is the webhook body sent by the CMS
type EventRequest struct {
	Event   string `json:"event"`
	AssetID string `json:"asset_id"`
}

// RenditionResponse is one derived rendition of an asset
type RenditionResponse struct {
	Format string `json:"format"`
	rendition.Rendition
}

// SrcsetResponse is the responsive-image view of an asset's renditions.
// Srcset lists the WebP renditions by ascending width; Sources is ready to
// render as <picture> sources, WebP first.
type SrcsetResponse struct {
	AssetID        string                    `json:"asset_id"`
	Srcset         string                    `json:"srcset"`
	FallbackSrcset string                    `json:"fallback_srcset"`
	Sources        []rendition.PictureSource `json:"sources"`
}

// CleanupResponse reports the outcome of an asset.deleting event
type CleanupResponse struct {
	AssetID string   `json:"asset_id"`
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
	Failed  []string `json:"failed"`
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine readable code and a message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssetHandler handles HTTP requests for assets and their renditions
type AssetHandler struct {
	assets    AssetService
	processor Processor
	logger    *slog.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(assets AssetService, processor Processor, logger *slog.Logger) *AssetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetHandler{
		assets:    assets,
		processor: processor,
		logger:    logger.With("component", "api"),
	}
}

// Routes returns the routes for assets
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateAsset)
	r.Get("/", h.ListAssets)
	r.Get("/{id}", h.GetAsset)
	r.Delete("/{id}", h.DeleteAsset)

	r.Get("/{id}/renditions", h.ListRenditions)
	r.Post("/{id}/renditions", h.ReprocessAsset)

	return r
}

// CreateAsset registers an asset record; renditions follow asynchronously
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req rendition.CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	asset, err := h.assets.CreateAsset(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create asset", "name", req.Name, "err", err)
		writeError(w, r, http.StatusBadRequest, "create_failed", err.Error())
		return
	}

	h.logger.Info("Asset created", "asset_id", asset.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, asset)
}

// ListAssets lists every asset record
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.ListAssets(r.Context())
	if err != nil {
		h.logger.Error("Failed to list assets", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if assets == nil {
		assets = []*rendition.Asset{}
	}
	render.JSON(w, r, assets)
}

// GetAsset returns one asset record
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assetID(w, r)
	if !ok {
		return
	}

	asset, err := h.assets.GetAsset(r.Context(), id)
	if err != nil {
		h.writeAssetError(w, r, id, err)
		return
	}
	render.JSON(w, r, asset)
}

// DeleteAsset removes an asset; its renditions are cleaned up first
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if err := h.assets.DeleteAsset(r.Context(), id); err != nil {
		h.writeAssetError(w, r, id, err)
		return
	}

	h.logger.Info("Asset deleted", "asset_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListRenditions returns the derived renditions of an asset, or with
// ?view=srcset their srcset and <picture> sources
func (h *AssetHandler) ListRenditions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assetID(w, r)
	if !ok {
		return
	}

	asset, err := h.assets.GetAsset(r.Context(), id)
	if err != nil {
		h.writeAssetError(w, r, id, err)
		return
	}

	switch r.URL.Query().Get("view") {
	case "":
	case "srcset":
		render.JSON(w, r, SrcsetResponse{
			AssetID:        id.String(),
			Srcset:         rendition.Srcset(asset, true),
			FallbackSrcset: rendition.Srcset(asset, false),
			Sources:        rendition.PictureSources(asset),
		})
		return
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_view", "Unknown view: "+r.URL.Query().Get("view"))
		return
	}

	resp := []RenditionResponse{}
	for name, rend := range asset.Formats {
		if rendition.IsDerivedRendition(name, rend) {
			resp = append(resp, RenditionResponse{Format: name, Rendition: rend})
		}
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Format < resp[j].Format })
	render.JSON(w, r, resp)
}

// ReprocessAsset schedules rendition generation without the creation delay
func (h *AssetHandler) ReprocessAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if _, err := h.assets.GetAsset(r.Context(), id); err != nil {
		h.writeAssetError(w, r, id, err)
		return
	}
	if err := h.processor.Reprocess(r.Context(), id); err != nil {
		h.logger.Error("Failed to schedule reprocessing", "asset_id", id, "err", err)
		writeError(w, r, http.StatusServiceUnavailable, "schedule_failed", err.Error())
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"asset_id": id.String(), "status": "scheduled"})
}

// HandleEvent receives CMS lifecycle notifications
func (h *AssetHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id, err := uuid.Parse(req.AssetID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_asset_id", "Invalid asset ID")
		return
	}

	switch req.Event {
	case EventAssetCreated:
		if err := h.processor.OnAssetCreated(r.Context(), id); err != nil {
			h.logger.Error("Failed to schedule asset", "asset_id", id, "err", err)
			writeError(w, r, http.StatusServiceUnavailable, "schedule_failed", err.Error())
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]string{"asset_id": id.String(), "status": "scheduled"})

	case EventAssetDeleting:
		result, err := h.processor.OnAssetDeleting(r.Context(), id)
		if err != nil {
			h.logger.Error("Failed to clean up renditions", "asset_id", id, "err", err)
			writeError(w, r, http.StatusInternalServerError, "cleanup_failed", err.Error())
			return
		}
		render.JSON(w, r, CleanupResponse{
			AssetID: id.String(),
			Deleted: nonNil(result.Deleted),
			Missing: nonNil(result.Missing),
			Failed:  nonNil(result.Failed),
		})

	default:
		writeError(w, r, http.StatusBadRequest, "unknown_event", "Unknown event: "+req.Event)
	}
}

func (h *AssetHandler) assetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_asset_id", "Invalid asset ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *AssetHandler) writeAssetError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if errors.Is(err, rendition.ErrAssetNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "Asset not found")
		return
	}
	h.logger.Error("Asset operation failed", "asset_id", id, "err", err)
	writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
