package tile_encoder

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cshum/vipsgen/vips"

	"mvtview/internal/raster"
)

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WebP Format = "webp"
)

const (
	jpegQuality = 82
	webpQuality = 80
)

// ParseFormat accepts png, jpg, jpeg and webp in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("unsupported tile format: %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Encode serialises the canvas. JPEG and WebP go through libvips, which must
// have been started by the caller.
func Encode(c *raster.Canvas, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	if f == PNG || f == "" {
		return buf.Bytes(), nil
	}

	image, err := vips.NewPngloadBuffer(buf.Bytes(), vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load png: %w", err)
	}
	defer image.Close()

	switch f {
	case JPEG:
		// No alpha channel in JPEG
		if image.HasAlpha() {
			flattenOpts := vips.DefaultFlattenOptions()
			flattenOpts.Background = []float64{221, 221, 221} // #ddd
			if err := image.Flatten(flattenOpts); err != nil {
				return nil, fmt.Errorf("failed to flatten: %w", err)
			}
		}
		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = jpegQuality
		jpegOpts.Interlace = false
		data, err := image.JpegsaveBuffer(jpegOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export jpeg: %w", err)
		}
		return data, nil
	case WebP:
		webpOpts := vips.DefaultWebpsaveBufferOptions()
		webpOpts.Q = webpQuality
		data, err := image.WebpsaveBuffer(webpOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export webp: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported tile format: %q", f)
}
