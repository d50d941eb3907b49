package rendition

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Target codec constants.
const (
	TargetExt  = ".webp"
	TargetMime = "image/webp"
)

// OriginalFormat is the implicit format name of the asset itself.
const OriginalFormat = "original"

// Asset is the source record owned by the CMS. The pipeline only reads it
// and appends entries to Formats.
type Asset struct {
	ID               uuid.UUID            `json:"id"`
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
	Formats          map[string]Rendition `json:"formats"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Rendition is one concrete encoded variant of an asset.
//
// Provider names the storage provider that holds the bytes. It is recorded
// when the pipeline creates the rendition so cleanup does not have to infer
// it from the URL.
type Rendition struct {
	Name             string         `json:"name"`
	Hash             string         `json:"hash"`
	Ext              string         `json:"ext"`
	Mime             string         `json:"mime"`
	Width            int            `json:"width,omitempty"`
	Height           int            `json:"height,omitempty"`
	SizeBytes        int64          `json:"size_in_bytes"`
	URL              string         `json:"url"`
	Path             string         `json:"path,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// Original returns the asset itself viewed as the "original" format.
func (a *Asset) Original() Rendition {
	return Rendition{
		Name:             a.Name,
		Hash:             a.Hash,
		Ext:              a.Ext,
		Mime:             a.Mime,
		Width:            a.Width,
		Height:           a.Height,
		SizeBytes:        a.SizeBytes,
		URL:              a.URL,
		Provider:         a.Provider,
		ProviderMetadata: a.ProviderMetadata,
	}
}

// Format returns the named format, treating "original" as the asset itself.
func (a *Asset) Format(name string) (Rendition, bool) {
	if name == OriginalFormat {
		return a.Original(), true
	}
	r, ok := a.Formats[name]
	return r, ok
}

// IsImage reports whether the asset carries an image MIME type.
func (a *Asset) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.Mime), "image/")
}

// HasTargetExt reports whether ext already denotes the target codec.
func HasTargetExt(ext string) bool {
	return strings.EqualFold(ext, TargetExt)
}

// ReplaceExt swaps the extension of a file name for ext.
func ReplaceExt(name, ext string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	return base + ext
}

// CloneFormats returns a shallow copy of a format map. A nil map yields an
// empty, non-nil map.
func CloneFormats(formats map[string]Rendition) map[string]Rendition {
	out := make(map[string]Rendition, len(formats))
	for k, v := range formats {
		out[k] = v
	}
	return out
}

// MergeFormats overlays delta on top of base. Delta wins on collision and
// base is never modified.
func MergeFormats(base, delta map[string]Rendition) map[string]Rendition {
	out := CloneFormats(base)
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// UploadRequest describes bytes handed to a Provider.
type UploadRequest struct {
	// Name is the stored file name (e.g. "abc123.webp").
	Name string
	// SourceLocator is the locator of the file the bytes were derived from.
	// Providers use it to place the upload next to its source.
	SourceLocator string
	Data          []byte
	Mime          string
}

// UploadResult is what a Provider reports after a successful upload.
type UploadResult struct {
	URL              string
	Path             string
	ProviderMetadata map[string]any
}

// ProcessResult summarizes one orchestrator run for an asset.
type ProcessResult struct {
	AssetID   uuid.UUID
	Generated []string
	Skipped   []string
	Failed    []string
	// Reason is set when the whole asset was skipped.
	Reason string
}

// CleanupResult summarizes one cleanup run for an asset.
type CleanupResult struct {
	AssetID uuid.UUID
	Deleted []string
	Missing []string
	Failed  []string
}
