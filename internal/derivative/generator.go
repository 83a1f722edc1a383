// Package derivative renders the fixed set of WebP size-variants from a
// validated source image using libvips.
package derivative

import (
	"fmt"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/cardvault/image-worker/internal/config"
	"github.com/cardvault/image-worker/internal/hashutil"
)

// Rendition is one generated size-variant, ready for upload.
type Rendition struct {
	Variant     string
	Bytes       []byte
	Width       int
	Height      int
	StoragePath string
}

// Generator renders thumb/grid/detail WebP renditions in the configured
// fixed order, aborting the whole batch on the first failure.
type Generator struct {
	specs []config.DerivativeSpec
}

// New builds a Generator for the given ordered variant specs.
func New(specs []config.DerivativeSpec) *Generator {
	return &Generator{specs: specs}
}

// Generate renders every configured variant, in fixed order, from the
// original image bytes. originalWidth bounds target widths so no variant
// is ever upscaled. The first failing variant aborts the whole batch.
func (g *Generator) Generate(data []byte, originalWidth int, sha256Hex string) ([]Rendition, error) {
	renditions := make([]Rendition, 0, len(g.specs))
	for _, spec := range g.specs {
		rendition, err := renderVariant(data, spec, originalWidth, sha256Hex)
		if err != nil {
			return nil, fmt.Errorf("derivative: render %s: %w", spec.Variant, err)
		}
		renditions = append(renditions, rendition)
	}
	return renditions, nil
}

func renderVariant(data []byte, spec config.DerivativeSpec, originalWidth int, sha256Hex string) (Rendition, error) {
	targetWidth := spec.Width
	if originalWidth > 0 && originalWidth < targetWidth {
		targetWidth = originalWidth
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return Rendition{}, fmt.Errorf("load source: %w", err)
	}
	defer ref.Close()

	if ref.Width() > targetWidth {
		scale := float64(targetWidth) / float64(ref.Width())
		if err := ref.Resize(scale, govips.KernelLanczos3); err != nil {
			return Rendition{}, fmt.Errorf("resize: %w", err)
		}
	}

	exportParams := govips.NewWebpExportParams()
	exportParams.Quality = spec.Quality
	exportParams.StripMetadata = true

	encoded, _, err := ref.ExportWebp(exportParams)
	if err != nil {
		return Rendition{}, fmt.Errorf("encode webp: %w", err)
	}

	return Rendition{
		Variant:     spec.Variant,
		Bytes:       encoded,
		Width:       ref.Width(),
		Height:      ref.Height(),
		StoragePath: hashutil.DerivativeStoragePath(sha256Hex, spec.Variant),
	}, nil
}
