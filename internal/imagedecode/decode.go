// Package imagedecode extracts validated image metadata from fetched
// bytes without decoding to raw pixels.
package imagedecode

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Metadata describes a decoded image's dimensions, format, and size.
type Metadata struct {
	Width     int
	Height    int
	Format    string
	SizeBytes int
}

// Decode reads image metadata from data and enforces the pixel-budget
// invariant. It never allocates a full pixel buffer.
func Decode(data []byte, maxImagePixels int64) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("image has unknown dimensions")
	}

	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels > maxImagePixels {
		return nil, fmt.Errorf("image %dx%d (%d px) exceeds pixel budget of %d", cfg.Width, cfg.Height, pixels, maxImagePixels)
	}

	return &Metadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		SizeBytes: len(data),
	}, nil
}
