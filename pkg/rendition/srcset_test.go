package rendition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func srcsetAsset() *Asset {
	return &Asset{
		Name: "photo.jpg", Ext: ".jpg", Mime: "image/png", Width: 1200, URL: "/uploads/photo.jpg",
		Formats: map[string]Rendition{
			"thumbnail":      {Ext: ".jpg", Width: 156, URL: "/uploads/thumbnail_photo.jpg"},
			"medium":         {Ext: ".jpg", Width: 750, URL: "/uploads/medium_photo.jpg"},
			"webp":           {Ext: ".webp", Width: 1200, URL: "/uploads/photo.webp"},
			"thumbnail_webp": {Ext: ".webp", Width: 156, URL: "/uploads/thumbnail_photo.webp"},
			"medium_webp":    {Ext: ".webp", Width: 750, URL: "/uploads/medium_photo.webp"},
		},
	}
}

func TestSrcset_SortedByWidth(t *testing.T) {
	asset := srcsetAsset()

	assert.Equal(t,
		"/uploads/thumbnail_photo.webp 156w, /uploads/medium_photo.webp 750w, /uploads/photo.webp 1200w",
		Srcset(asset, true))
	assert.Equal(t,
		"/uploads/thumbnail_photo.jpg 156w, /uploads/medium_photo.jpg 750w, /uploads/photo.jpg 1200w",
		Srcset(asset, false))
}

func TestPictureSources(t *testing.T) {
	sources := PictureSources(srcsetAsset())
	if assert.Len(t, sources, 2) {
		assert.Equal(t, TargetMime, sources[0].Type)
		assert.Equal(t, "image/png", sources[1].Type)
	}

	// breakpoints only: no webp source yet
	asset := srcsetAsset()
	for _, name := range []string{"webp", "thumbnail_webp", "medium_webp"} {
		delete(asset.Formats, name)
	}
	asset.Mime = ""
	sources = PictureSources(asset)
	if assert.Len(t, sources, 1) {
		assert.Equal(t, "image/jpeg", sources[0].Type)
	}

	assert.Empty(t, PictureSources(&Asset{URL: "/uploads/a.jpg"}))
	assert.Empty(t, PictureSources(nil))
}

func TestSrcset_BreakpointNamedLikeDerived(t *testing.T) {
	asset := srcsetAsset()
	asset.Formats["small_webp"] = Rendition{Ext: ".jpg", Width: 500, URL: "/uploads/small_webp_photo.jpg"}

	assert.NotContains(t, Srcset(asset, true), "small_webp_photo.jpg")
	assert.Equal(t,
		"/uploads/thumbnail_photo.jpg 156w, /uploads/small_webp_photo.jpg 500w, /uploads/medium_photo.jpg 750w, /uploads/photo.jpg 1200w",
		Srcset(asset, false))
}
