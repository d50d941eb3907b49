package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-rendition/pkg/rendition"
	"github.com/tendant/simple-rendition/pkg/rendition/metrics"
	memoryqueue "github.com/tendant/simple-rendition/pkg/rendition/queue/memory"
	"github.com/tendant/simple-rendition/pkg/rendition/repo/memory"
	memorystorage "github.com/tendant/simple-rendition/pkg/rendition/storage/memory"
)

type testEnv struct {
	router  http.Handler
	queue   *memoryqueue.Queue
	storage *memorystorage.Backend
	assets  *rendition.AssetService
}

// setupTestEnv wires a pipeline over in-memory stores with a stub encoder
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()
	storage := memorystorage.New(memorystorage.Config{})
	queue := memoryqueue.New(memoryqueue.Config{})
	t.Cleanup(queue.Stop)

	registry := prometheus.NewRegistry()
	sink, err := metrics.NewSink("", registry)
	require.NoError(t, err)

	settings := rendition.DefaultSettings()
	settings.PollInterval = time.Millisecond
	pipeline, err := rendition.New(
		rendition.WithAssetStore(repo),
		rendition.WithProviders(nil, storage),
		rendition.WithEncoder(rendition.EncoderFunc(func(ctx context.Context, data []byte, mime string, q int) ([]byte, error) {
			return append([]byte("RIFF"), data...), nil
		})),
		rendition.WithScheduler(queue),
		rendition.WithEventSink(sink),
		rendition.WithSettings(settings),
	)
	require.NoError(t, err)
	queue.Start(context.Background(), pipeline.Handler())

	assets := rendition.NewAssetService(repo, rendition.WithHooks(pipeline.Hooks()))
	return &testEnv{
		router:  NewRouter(assets, pipeline, registry, nil),
		queue:   queue,
		storage: storage,
		assets:  assets,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createAsset(t *testing.T) *rendition.Asset {
	t.Helper()
	originalURL := e.storage.Put("uploads/photo_abc.jpg", []byte("jpeg"), "image/jpeg")
	thumbURL := e.storage.Put("uploads/thumbnail_photo_abc.jpg", []byte("thumb"), "image/jpeg")

	w := e.do(t, http.MethodPost, "/api/v1/assets", rendition.CreateAssetRequest{
		Name: "photo.jpg",
		Hash: "photo_abc",
		Mime: "image/jpeg",
		URL:  originalURL,
		Formats: map[string]rendition.Rendition{
			"thumbnail": {Name: "thumbnail_photo.jpg", Hash: "thumbnail_photo_abc", Ext: ".jpg", Mime: "image/jpeg", URL: thumbURL},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var asset rendition.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &asset))
	return &asset
}

func TestRouter_Health(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestAssetHandler_CreateAndProcess(t *testing.T) {
	env := setupTestEnv(t)
	asset := env.createAsset(t)
	assert.Equal(t, ".jpg", asset.Ext)
	assert.Equal(t, 1, env.queue.Pending())

	require.NoError(t, env.queue.Drain(context.Background()))

	w := env.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID.String()+"/renditions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var renditions []RenditionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &renditions))
	require.Len(t, renditions, 2)
	assert.Equal(t, "thumbnail_webp", renditions[0].Format)
	assert.Equal(t, "webp", renditions[1].Format)
	assert.Equal(t, rendition.TargetMime, renditions[1].Mime)
	assert.Equal(t, "memory", renditions[1].Provider)

	_, _, ok := env.storage.Get("uploads/photo_abc.webp")
	assert.True(t, ok)

	w = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rendition_generated_total 2")
}

func TestAssetHandler_RenditionsSrcset(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	asset, err := env.assets.CreateAsset(ctx, rendition.CreateAssetRequest{
		Name:  "hero.jpg",
		Hash:  "hero_1",
		Mime:  "image/jpeg",
		Width: 1200,
		URL:   env.storage.Put("uploads/hero_1.jpg", []byte("jpeg"), "image/jpeg"),
		Formats: map[string]rendition.Rendition{
			"medium": {Name: "medium_hero.jpg", Ext: ".jpg", Mime: "image/jpeg", Width: 750,
				URL: env.storage.Put("uploads/medium_hero_1.jpg", []byte("medium"), "image/jpeg")},
			"thumbnail": {Name: "thumbnail_hero.jpg", Ext: ".jpg", Mime: "image/jpeg", Width: 156,
				URL: env.storage.Put("uploads/thumbnail_hero_1.jpg", []byte("thumb"), "image/jpeg")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, env.queue.Drain(ctx))

	w := env.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID.String()+"/renditions?view=srcset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp SrcsetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	base := "https://memory.invalid/uploads/"
	assert.Equal(t, base+"thumbnail_hero_1.webp 156w, "+base+"medium_hero_1.webp 750w, "+base+"hero_1.webp 1200w", resp.Srcset)
	assert.Equal(t, base+"thumbnail_hero_1.jpg 156w, "+base+"medium_hero_1.jpg 750w, "+base+"hero_1.jpg 1200w", resp.FallbackSrcset)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, rendition.PictureSource{Srcset: resp.Srcset, Type: rendition.TargetMime}, resp.Sources[0])
	assert.Equal(t, "image/jpeg", resp.Sources[1].Type)

	w = env.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID.String()+"/renditions?view=gallery", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssetHandler_GetAsset(t *testing.T) {
	env := setupTestEnv(t)
	asset := env.createAsset(t)

	w := env.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/assets/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/assets/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/assets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var all []rendition.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestAssetHandler_CreateInvalid(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/assets", rendition.CreateAssetRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "create_failed", resp.Error.Code)
}

func TestAssetHandler_Reprocess(t *testing.T) {
	env := setupTestEnv(t)
	asset := env.createAsset(t)
	require.NoError(t, env.queue.Drain(context.Background()))

	w := env.do(t, http.MethodPost, "/api/v1/assets/"+asset.ID.String()+"/renditions", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, env.queue.Drain(context.Background()))

	w = env.do(t, http.MethodPost, "/api/v1/assets/"+uuid.New().String()+"/renditions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssetHandler_DeleteCleansUpRenditions(t *testing.T) {
	env := setupTestEnv(t)
	asset := env.createAsset(t)
	require.NoError(t, env.queue.Drain(context.Background()))

	w := env.do(t, http.MethodDelete, "/api/v1/assets/"+asset.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, _, ok := env.storage.Get("uploads/photo_abc.webp")
	assert.False(t, ok)
	_, _, ok = env.storage.Get("uploads/photo_abc.jpg")
	assert.True(t, ok, "source is left alone")

	w = env.do(t, http.MethodGet, "/api/v1/assets/"+asset.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/assets/"+asset.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssetHandler_Events(t *testing.T) {
	env := setupTestEnv(t)
	asset := env.createAsset(t)
	require.NoError(t, env.queue.Drain(context.Background()))

	w := env.do(t, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAssetCreated, AssetID: asset.ID.String()})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, env.queue.Drain(context.Background()))

	w = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAssetDeleting, AssetID: asset.ID.String()})
	require.Equal(t, http.StatusOK, w.Code)
	var cleanup CleanupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleanup))
	assert.ElementsMatch(t, []string{"webp", "thumbnail_webp"}, cleanup.Deleted)
	assert.Empty(t, cleanup.Failed)

	// second delivery finds nothing left to delete
	w = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAssetDeleting, AssetID: asset.ID.String()})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleanup))
	assert.Empty(t, cleanup.Deleted)
	assert.ElementsMatch(t, []string{"webp", "thumbnail_webp"}, cleanup.Missing)

	w = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{Event: "asset.renamed", AssetID: asset.ID.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAssetCreated, AssetID: "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
