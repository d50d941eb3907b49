package rendition_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-rendition/pkg/rendition"
	memoryrepo "github.com/tendant/simple-rendition/pkg/rendition/repo/memory"
	"github.com/tendant/simple-rendition/pkg/rendition/storage/fs"
	memorystorage "github.com/tendant/simple-rendition/pkg/rendition/storage/memory"
)

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *fakeEncoder) Encode(ctx context.Context, data []byte, targetMime string, quality int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if targetMime != rendition.TargetMime || quality != rendition.DefaultQuality {
		return nil, errors.New("unexpected encode parameters")
	}
	if e.fail[string(data)] {
		return nil, errors.New("corrupt image")
	}
	return append([]byte("webp:"), data...), nil
}

func (e *fakeEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingScheduler struct {
	mu     sync.Mutex
	ids    []uuid.UUID
	delays []time.Duration
	err    error
}

func (s *recordingScheduler) Schedule(ctx context.Context, assetID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, assetID)
	s.delays = append(s.delays, delay)
	return nil
}

type recordingSink struct {
	rendition.NoopEventSink
	mu      sync.Mutex
	created []string
	skipped []string
	deleted []string
}

func (s *recordingSink) RenditionCreated(ctx context.Context, assetID uuid.UUID, name string, r *rendition.Rendition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, name)
	return nil
}

func (s *recordingSink) RenditionSkipped(ctx context.Context, assetID uuid.UUID, name string, reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, name)
	return nil
}

func (s *recordingSink) RenditionDeleted(ctx context.Context, assetID uuid.UUID, name string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

type fixture struct {
	repo      *memoryrepo.Repository
	storage   *memorystorage.Backend
	encoder   *fakeEncoder
	scheduler *recordingScheduler
	sink      *recordingSink
	pipeline  *rendition.Pipeline
}

func testSettings() rendition.Settings {
	s := rendition.DefaultSettings()
	s.PollInterval = time.Millisecond
	s.MaxAttempts = 5
	return s
}

func newFixture(t *testing.T, storageConfig memorystorage.Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:      memoryrepo.New(),
		storage:   memorystorage.New(storageConfig),
		encoder:   &fakeEncoder{fail: map[string]bool{}},
		scheduler: &recordingScheduler{},
		sink:      &recordingSink{},
	}
	p, err := rendition.New(
		rendition.WithAssetStore(f.repo),
		rendition.WithProviders(nil, f.storage),
		rendition.WithEncoder(f.encoder),
		rendition.WithScheduler(f.scheduler),
		rendition.WithEventSink(f.sink),
		rendition.WithSettings(testSettings()),
	)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// seedPhoto stores a jpeg original with a jpg thumbnail and a png medium
// breakpoint and returns its record.
func (f *fixture) seedPhoto(t *testing.T) *rendition.Asset {
	t.Helper()
	asset := &rendition.Asset{
		ID:   uuid.New(),
		Name: "photo.jpg",
		Hash: "abc",
		Ext:  ".jpg",
		Mime: "image/jpeg",
		URL:  f.storage.Put("uploads/abc.jpg", []byte("original"), "image/jpeg"),
		Formats: map[string]rendition.Rendition{
			"thumbnail": {
				Name: "thumbnail_photo.jpg", Hash: "thumbnail_abc", Ext: ".jpg", Mime: "image/jpeg",
				URL: f.storage.Put("uploads/thumbnail_abc.jpg", []byte("thumbnail"), "image/jpeg"),
			},
			"medium": {
				Name: "medium_photo.png", Hash: "medium_abc", Ext: ".png", Mime: "image/png",
				URL: f.storage.Put("uploads/medium_abc.png", []byte("medium"), "image/png"),
			},
		},
	}
	require.NoError(t, f.repo.CreateAsset(context.Background(), asset))
	return asset
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := rendition.New(rendition.WithEncoder(&fakeEncoder{}), rendition.WithProviders(nil, memorystorage.New(memorystorage.Config{})))
	assert.Error(t, err)

	_, err = rendition.New(rendition.WithAssetStore(memoryrepo.New()), rendition.WithProviders(nil, memorystorage.New(memorystorage.Config{})))
	assert.Error(t, err)

	_, err = rendition.New(rendition.WithAssetStore(memoryrepo.New()), rendition.WithEncoder(&fakeEncoder{}))
	assert.Error(t, err)

	bad := rendition.DefaultSettings()
	bad.MaxAttempts = 0
	_, err = rendition.New(
		rendition.WithAssetStore(memoryrepo.New()),
		rendition.WithEncoder(&fakeEncoder{}),
		rendition.WithProviders(nil, memorystorage.New(memorystorage.Config{})),
		rendition.WithSettings(bad),
	)
	assert.Error(t, err)
}

func TestProcessAsset_GeneratesEveryDerivedRendition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"webp", "medium_webp", "thumbnail_webp"}, result.Generated)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Reason)

	stored, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, stored.Formats, 5)

	// breakpoints are left untouched
	assert.Equal(t, asset.Formats["thumbnail"], stored.Formats["thumbnail"])
	assert.Equal(t, asset.Formats["medium"], stored.Formats["medium"])

	webp := stored.Formats["webp"]
	assert.Equal(t, "photo.webp", webp.Name)
	assert.Equal(t, rendition.TargetExt, webp.Ext)
	assert.Equal(t, rendition.TargetMime, webp.Mime)
	assert.Equal(t, "https://memory.invalid/uploads/abc.webp", webp.URL)
	assert.Equal(t, memorystorage.ProviderName, webp.Provider)
	assert.Equal(t, int64(len("webp:original")), webp.SizeBytes)

	thumb := stored.Formats["thumbnail_webp"]
	assert.Equal(t, "thumbnail_photo.webp", thumb.Name)
	assert.Equal(t, rendition.TargetMime, thumb.Mime)
	assert.Equal(t, "https://memory.invalid/uploads/thumbnail_abc.webp", thumb.URL)

	medium := stored.Formats["medium_webp"]
	assert.Equal(t, "medium_photo.webp", medium.Name)
	assert.Equal(t, rendition.TargetMime, medium.Mime)

	data, mime, ok := f.storage.Get("uploads/medium_abc.webp")
	require.True(t, ok)
	assert.Equal(t, "webp:medium", string(data))
	assert.Equal(t, rendition.TargetMime, mime)

	assert.ElementsMatch(t, []string{"webp", "medium_webp", "thumbnail_webp"}, f.sink.created)
}

func TestProcessAsset_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	_, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	first, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	calls := f.encoder.Calls()

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Equal(t, []string{"webp", "medium_webp", "thumbnail_webp"}, result.Skipped)
	assert.Equal(t, calls, f.encoder.Calls())

	second, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Formats, second.Formats)
}

func TestProcessAsset_KeepsExistingDerivedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	existing := rendition.Rendition{Name: "hand_made.webp", Ext: ".webp", Mime: rendition.TargetMime, URL: "https://memory.invalid/uploads/hand_made.webp"}
	_, err := f.repo.MergeFormats(ctx, asset.ID, map[string]rendition.Rendition{"thumbnail_webp": existing})
	require.NoError(t, err)

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"webp", "medium_webp"}, result.Generated)
	assert.Equal(t, []string{"thumbnail_webp"}, result.Skipped)

	stored, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, existing, stored.Formats["thumbnail_webp"])

	_, _, ok := f.storage.Get("uploads/thumbnail_abc.webp")
	assert.False(t, ok)
}

func TestProcessAsset_SkipsWholeAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})

	tests := []struct {
		name   string
		asset  *rendition.Asset
		reason string
	}{
		{
			name: "already webp",
			asset: &rendition.Asset{ID: uuid.New(), Name: "a.webp", Ext: ".webp", Mime: "image/webp", URL: "https://memory.invalid/a.webp",
				Formats: map[string]rendition.Rendition{"thumbnail": {Name: "thumbnail_a.webp", Ext: ".webp"}}},
			reason: "already_target",
		},
		{
			name: "not an image",
			asset: &rendition.Asset{ID: uuid.New(), Name: "doc.pdf", Ext: ".pdf", Mime: "application/pdf", URL: "https://memory.invalid/doc.pdf",
				Formats: map[string]rendition.Rendition{"thumbnail": {Name: "thumbnail_doc.jpg", Ext: ".jpg"}}},
			reason: "not_image",
		},
		{
			name:   "no breakpoints yet",
			asset:  &rendition.Asset{ID: uuid.New(), Name: "a.jpg", Ext: ".jpg", Mime: "image/jpeg", URL: "https://memory.invalid/a.jpg"},
			reason: "no_breakpoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, f.repo.CreateAsset(ctx, tt.asset))

			result, err := f.pipeline.ProcessAsset(ctx, tt.asset.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, result.Reason)
			assert.Empty(t, result.Generated)

			stored, err := f.repo.GetAsset(ctx, tt.asset.ID)
			require.NoError(t, err)
			assert.Equal(t, len(tt.asset.Formats), len(stored.Formats))
		})
	}
	assert.Zero(t, f.encoder.Calls())
	assert.Empty(t, f.storage.Keys())
}

func TestProcessAsset_MissingAsset(t *testing.T) {
	f := newFixture(t, memorystorage.Config{})

	result, err := f.pipeline.ProcessAsset(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "asset_not_found", result.Reason)
}

func TestProcessAsset_NoProviderForURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := &rendition.Asset{ID: uuid.New(), Name: "a.jpg", Ext: ".jpg", Mime: "image/jpeg", URL: "/uploads/a.jpg",
		Formats: map[string]rendition.Rendition{"small": {Name: "small_a.jpg", Ext: ".jpg", URL: "/uploads/small_a.jpg"}}}
	require.NoError(t, f.repo.CreateAsset(ctx, asset))

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "no_provider", result.Reason)
}

func TestProcessAsset_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	// thumbnail never shows up, medium does not decode
	require.NoError(t, f.storage.Delete(ctx, asset.Formats["thumbnail"].URL))
	f.encoder.fail["medium"] = true

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"webp"}, result.Generated)
	assert.Equal(t, []string{"medium_webp", "thumbnail_webp"}, result.Failed)
	assert.Equal(t, testSettings().MaxAttempts, f.storage.Checks(asset.Formats["thumbnail"].URL))

	stored, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Formats, "webp")
	assert.NotContains(t, stored.Formats, "medium_webp")
	assert.NotContains(t, stored.Formats, "thumbnail_webp")
	assert.ElementsMatch(t, []string{"medium", "thumbnail"}, f.sink.skipped)

	// a later run fills the gaps once the sources recover
	f.encoder.fail["medium"] = false
	f.storage.Put("uploads/thumbnail_abc.jpg", []byte("thumbnail"), "image/jpeg")

	result, err = f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"medium_webp", "thumbnail_webp"}, result.Generated)
	assert.Equal(t, []string{"webp"}, result.Skipped)
}

func TestProcessAsset_FetchFailureIsPerRendition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	f.storage.FailWith("fetch", errors.New("connection reset"))
	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Len(t, result.Failed, 3)

	f.storage.FailWith("fetch", nil)
	f.storage.FailWith("upload", errors.New("quota exceeded"))
	result, err = f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Len(t, result.Failed, 3)
	assert.Equal(t, 3, f.encoder.Calls(), "fetch failures never reach the encoder")
}

func TestProcessAsset_WaitsForEventualConsistency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{VisibleAfter: 2})
	asset := f.seedPhoto(t)

	result, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, result.Generated, 3)
	assert.Equal(t, 3, f.storage.Checks(asset.URL))
	assert.Equal(t, 3, f.storage.Checks(asset.Formats["thumbnail"].URL))
}

func TestOnAssetCreated_SchedulesWithDelay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	id := uuid.New()

	require.NoError(t, f.pipeline.OnAssetCreated(ctx, id))
	require.NoError(t, f.pipeline.Reprocess(ctx, id))

	assert.Equal(t, []uuid.UUID{id, id}, f.scheduler.ids)
	assert.Equal(t, []time.Duration{testSettings().CreateDelay, 0}, f.scheduler.delays)
	assert.Zero(t, f.encoder.Calls())

	f.scheduler.err = errors.New("queue full")
	err := f.pipeline.OnAssetCreated(ctx, id)
	var assetErr *rendition.AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, "schedule", assetErr.Op)
}

func TestHandler_ProcessesAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	require.NoError(t, f.pipeline.Handler()(ctx, asset.ID))
	stored, err := f.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Formats, "webp")
}

func TestOnAssetDeleting_RemovesDerivedOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	_, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, f.storage.Keys(), 6)

	result, err := f.pipeline.OnAssetDeleting(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"medium_webp", "thumbnail_webp", "webp"}, result.Deleted)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"uploads/abc.jpg", "uploads/medium_abc.png", "uploads/thumbnail_abc.jpg"}, f.storage.Keys())

	// second run finds nothing to delete and still succeeds
	result, err = f.pipeline.OnAssetDeleting(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.Equal(t, []string{"medium_webp", "thumbnail_webp", "webp"}, result.Missing)
}

func TestOnAssetDeleting_ToleratesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	asset := f.seedPhoto(t)

	_, err := f.pipeline.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)

	f.storage.FailWith("delete", errors.New("access denied"))
	result, err := f.pipeline.OnAssetDeleting(ctx, asset.ID)
	require.NoError(t, err)
	assert.Len(t, result.Failed, 3)
	assert.Len(t, f.sink.deleted, 3)

	result, err = f.pipeline.OnAssetDeleting(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
}

func TestOnAssetDeleting_DerivedByExtension(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	url := f.storage.Put("uploads/custom.webp", []byte("x"), rendition.TargetMime)
	asset := &rendition.Asset{ID: uuid.New(), Name: "a.jpg", Ext: ".jpg", Mime: "image/jpeg", URL: "https://memory.invalid/uploads/a.jpg",
		Formats: map[string]rendition.Rendition{"custom": {Name: "custom.webp", Ext: ".webp", URL: url}}}
	require.NoError(t, f.repo.CreateAsset(ctx, asset))

	result, err := f.pipeline.OnAssetDeleting(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, result.Deleted)
	assert.Empty(t, f.storage.Keys())
}

// countingProvider counts existence checks on the wrapped provider
type countingProvider struct {
	rendition.Provider
	mu     sync.Mutex
	exists int
}

func (p *countingProvider) Exists(ctx context.Context, locator string) (bool, error) {
	p.mu.Lock()
	p.exists++
	p.mu.Unlock()
	return p.Provider.Exists(ctx, locator)
}

func TestProcessAsset_LocalProviderIsNotPolled(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := fs.New(fs.Config{BaseDir: dir})
	require.NoError(t, err)
	local := &countingProvider{Provider: backend}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.jpg"), []byte("original"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thumbnail_abc.jpg"), []byte("thumbnail"), 0644))

	repo := memoryrepo.New()
	asset := &rendition.Asset{
		ID: uuid.New(), Name: "photo.jpg", Hash: "abc", Ext: ".jpg", Mime: "image/jpeg", URL: "/uploads/abc.jpg",
		Formats: map[string]rendition.Rendition{
			"thumbnail": {Name: "thumbnail_photo.jpg", Hash: "thumbnail_abc", Ext: ".jpg", Mime: "image/jpeg", URL: "/uploads/thumbnail_abc.jpg"},
		},
	}
	require.NoError(t, repo.CreateAsset(ctx, asset))

	p, err := rendition.New(
		rendition.WithAssetStore(repo),
		rendition.WithProviders(local, nil),
		rendition.WithEncoder(&fakeEncoder{fail: map[string]bool{}}),
		rendition.WithSettings(testSettings()),
	)
	require.NoError(t, err)

	result, err := p.ProcessAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"webp", "thumbnail_webp"}, result.Generated)
	assert.Zero(t, local.exists)

	stored, err := repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/thumbnail_abc.webp", stored.Formats["thumbnail_webp"].URL)
	assert.Equal(t, fs.ProviderName, stored.Formats["thumbnail_webp"].Provider)

	data, err := os.ReadFile(filepath.Join(dir, "abc.webp"))
	require.NoError(t, err)
	assert.Equal(t, "webp:original", string(data))
}

func TestOnAssetDeleting_KeepsBreakpointNamedLikeDerived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memorystorage.Config{})
	owned := f.storage.Put("uploads/small_webp_abc.jpg", []byte("jpeg"), "image/jpeg")
	derived := f.storage.Put("uploads/abc.webp", []byte("webp"), rendition.TargetMime)
	asset := &rendition.Asset{ID: uuid.New(), Name: "a.jpg", Ext: ".jpg", Mime: "image/jpeg", URL: "https://memory.invalid/uploads/abc.jpg",
		Formats: map[string]rendition.Rendition{
			"small_webp": {Name: "small_webp_a.jpg", Ext: ".jpg", Mime: "image/jpeg", URL: owned},
			"webp":       {Name: "a.webp", Ext: ".webp", Mime: rendition.TargetMime, URL: derived},
		}}
	require.NoError(t, f.repo.CreateAsset(ctx, asset))

	result, err := f.pipeline.OnAssetDeleting(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"webp"}, result.Deleted)
	assert.Equal(t, []string{"uploads/small_webp_abc.jpg"}, f.storage.Keys())
}
