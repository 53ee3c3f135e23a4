// Package preview turns selected image bytes into a displayable image.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxEdge is the longest preview edge; larger images are scaled down.
const DefaultMaxEdge = 1024

// MaxPixels bounds width*height of any image decoded here. The limit is
// checked from the header before pixel data is allocated.
const MaxPixels = 40_000_000

// ErrTooManyPixels is returned for images whose dimensions exceed MaxPixels.
var ErrTooManyPixels = errors.New("image dimensions too large")

type Generator interface {
	Generate(ctx context.Context, mediaType string, data []byte) (*Image, error)
}

// Image is an encoded preview ready for rendering.
type Image struct {
	MediaType string
	Data      []byte
	Width     int
	Height    int
	// Format is the source format reported by the decoder, e.g. "png".
	Format string
	Scaled bool
}

type Decoder struct {
	// MaxEdge <= 0 disables scaling.
	MaxEdge int
}

func NewDecoder(maxEdge int) *Decoder {
	return &Decoder{MaxEdge: maxEdge}
}

// Generate decodes data to verify it is a renderable image. Small images are
// passed through untouched; larger ones are scaled so the longest edge fits
// MaxEdge and re-encoded as PNG.
func (d *Decoder) Generate(ctx context.Context, mediaType string, data []byte) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := decodeBounded(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mediaType, err)
	}

	b := img.Bounds()
	if d.MaxEdge <= 0 || max(b.Dx(), b.Dy()) <= d.MaxEdge {
		return &Image{
			MediaType: mediaType,
			Data:      data,
			Width:     b.Dx(),
			Height:    b.Dy(),
			Format:    format,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scaled := resizeWithinMax(toNRGBA(img), d.MaxEdge)
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	sb := scaled.Bounds()
	return &Image{
		MediaType: "image/png",
		Data:      buf.Bytes(),
		Width:     sb.Dx(),
		Height:    sb.Dy(),
		Format:    format,
		Scaled:    true,
	}, nil
}

// Alpha describes the transparency of a processed image.
type Alpha struct {
	// Transparent is set when any pixel is not fully opaque.
	Transparent bool
	// Subject bounds the pixels with alpha above SubjectThreshold; empty when
	// there are none.
	Subject image.Rectangle
	Width   int
	Height  int
}

// SubjectThreshold is the minimum alpha of a subject pixel, in 0..1.
const SubjectThreshold = 0.1

// Analyze decodes data and reports its alpha coverage.
func Analyze(data []byte) (*Alpha, error) {
	img, _, err := decodeBounded(data)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	nrgba := toNRGBA(img)
	b := nrgba.Bounds()
	return &Alpha{
		Transparent: hasUsefulAlpha(nrgba),
		Subject:     alphaBBox(nrgba, SubjectThreshold),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// decodeBounded decodes data after checking its header dimensions against
// MaxPixels.
func decodeBounded(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	return image.Decode(bytes.NewReader(data))
}
