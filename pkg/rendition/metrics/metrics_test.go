package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

func TestSink_RecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewSink("", reg)
	require.NoError(t, err)

	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, sink.RenditionCreated(ctx, id, "webp", &rendition.Rendition{SizeBytes: 100}))
	require.NoError(t, sink.RenditionCreated(ctx, id, "thumbnail_webp", &rendition.Rendition{SizeBytes: 50}))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.generated))
	assert.Equal(t, 150.0, testutil.ToFloat64(sink.encodedBytes))

	timeout := &rendition.StorageError{Op: "await", Err: rendition.ErrTimedOut}
	require.NoError(t, sink.RenditionSkipped(ctx, id, "medium", timeout))
	require.NoError(t, sink.RenditionSkipped(ctx, id, "small", &rendition.EncodeError{TargetMime: rendition.TargetMime, Err: errors.New("bad")}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.skipped.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.skipped.WithLabelValues("encode")))

	require.NoError(t, sink.RenditionDeleted(ctx, id, "webp", nil))
	require.NoError(t, sink.RenditionDeleted(ctx, id, "small_webp", rendition.NotFound("s3", "delete", "x.webp")))
	require.NoError(t, sink.RenditionDeleted(ctx, id, "medium_webp", errors.New("boom")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.deleted.WithLabelValues(ResultDeleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.deleted.WithLabelValues(ResultMissing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.deleted.WithLabelValues(ResultFailed)))

	require.NoError(t, sink.AssetProcessed(ctx, &rendition.ProcessResult{AssetID: id}, 120*time.Millisecond))
	count, err := testutil.GatherAndCount(reg, "rendition_asset_processing_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSink("rendition", reg)
	require.NoError(t, err)
	second, err := NewSink("rendition", reg)
	require.NoError(t, err)

	require.NoError(t, first.RenditionCreated(context.Background(), uuid.New(), "webp", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(second.generated))
}
