// Package collage detects multi-card composite images: aspect-ratio
// outliers plus vertical-edge density on a downscaled grayscale render.
package collage

import (
	"bytes"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	aspectRatioHighCutoff = 1.5
	aspectRatioLowCutoff  = 0.4
	downscaleWidth        = 200
	edgeDensityThreshold  = 0.15
	middleColumnFraction  = 0.6
	strongColumnMagnitude = 100
)

// Result is the outcome of collage detection.
type Result struct {
	IsCollage  bool
	Confidence float64
}

// Detect reports whether an image looks like a multi-card collage rather
// than a single card. Width and height are the original decoded dimensions.
func Detect(data []byte, width, height int) Result {
	if height > 0 {
		ratio := float64(width) / float64(height)
		if ratio > aspectRatioHighCutoff || ratio < aspectRatioLowCutoff {
			return Result{IsCollage: true, Confidence: 0.9}
		}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{IsCollage: false, Confidence: 0.5}
	}

	gray := imaging.Grayscale(src)
	bounds := gray.Bounds()
	scaleHeight := int(math.Round(float64(downscaleWidth) * float64(bounds.Dy()) / float64(bounds.Dx())))
	if scaleHeight < 1 {
		scaleHeight = 1
	}
	small := imaging.Resize(gray, downscaleWidth, scaleHeight, imaging.Lanczos)

	w := small.Bounds().Dx()
	h := small.Bounds().Dy()
	if w < 3 || h < 3 {
		return Result{IsCollage: false, Confidence: 0.5}
	}

	lum := make([][]float64, h)
	for y := 0; y < h; y++ {
		lum[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			lum[y][x] = luminance(small.At(x, y))
		}
	}

	marginFraction := (1 - middleColumnFraction) / 2
	colStart := int(float64(w) * marginFraction)
	colEnd := int(float64(w) * (1 - marginFraction))
	if colStart < 1 {
		colStart = 1
	}
	if colEnd > w-1 {
		colEnd = w - 1
	}
	if colEnd <= colStart {
		return Result{IsCollage: false, Confidence: 0.5}
	}

	var strongColumns int
	middleWidth := colEnd - colStart
	for x := colStart; x < colEnd; x++ {
		var sum float64
		for y := 1; y < h-1; y++ {
			sum += math.Abs(sobelVertical(lum, x, y))
		}
		mean := sum / float64(h-2)
		if mean > strongColumnMagnitude {
			strongColumns++
		}
	}

	edgeRatio := float64(strongColumns) / float64(middleWidth)
	if edgeRatio > edgeDensityThreshold {
		return Result{IsCollage: true, Confidence: math.Min(0.95, 0.5+edgeRatio)}
	}
	return Result{IsCollage: false, Confidence: math.Min(0.95, 0.5+(edgeDensityThreshold-edgeRatio))}
}

func luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// sobelVertical applies the 3x3 vertical Sobel kernel, which responds to
// horizontal gradients (vertical edges, such as card-to-card seams).
func sobelVertical(lum [][]float64, x, y int) float64 {
	return -1*lum[y-1][x-1] + 1*lum[y-1][x+1] +
		-2*lum[y][x-1] + 2*lum[y][x+1] +
		-1*lum[y+1][x-1] + 1*lum[y+1][x+1]
}
