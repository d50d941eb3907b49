// Package webp encodes images to WebP for the rendition pipeline.
package webp

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/tendant/simple-rendition/pkg/rendition"
)

// Encoder implements rendition.Encoder with lossy (or lossless) WebP.
type Encoder struct {
	// Lossless ignores quality and produces lossless WebP
	Lossless bool
}

// New creates a lossy WebP encoder.
func New() *Encoder {
	return &Encoder{}
}

// Encode decodes data (JPEG, PNG, GIF, BMP, TIFF or WebP) and re-encodes it
// as WebP at quality. Every failure is an *rendition.EncodeError.
func (e *Encoder) Encode(ctx context.Context, data []byte, targetMime string, quality int) ([]byte, error) {
	if targetMime != rendition.TargetMime {
		return nil, &rendition.EncodeError{TargetMime: targetMime, Err: fmt.Errorf("unsupported target")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &rendition.EncodeError{TargetMime: targetMime, Err: err}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &rendition.EncodeError{TargetMime: targetMime, Err: fmt.Errorf("decode source: %w", err)}
	}

	if quality < 1 || quality > 100 {
		quality = rendition.DefaultQuality
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{
		Lossless: e.Lossless,
		Quality:  float32(quality),
	}); err != nil {
		return nil, &rendition.EncodeError{TargetMime: targetMime, Err: fmt.Errorf("encode %s source: %w", format, err)}
	}
	return buf.Bytes(), nil
}
