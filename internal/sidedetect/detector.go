// Package sidedetect implements the heuristic front/back card-side
// detector: aspect ratio plus border colorimetry on a downscaled thumbnail.
package sidedetect

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	expectedAspectRatio = 63.0 / 88.0
	aspectTolerance     = 0.08
	sampleSize          = 64
	borderFraction      = 0.10
)

// Side is the detected face of a card.
type Side string

const (
	SideFront   Side = "front"
	SideBack    Side = "back"
	SideUnknown Side = "unknown"
)

// Method names how a SideDetectionResult was produced.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodVision    Method = "vision"
	MethodManual    Method = "manual"
)

// Result is the outcome of side detection.
type Result struct {
	Side       Side
	Confidence float64
	Method     Method
}

func unknownResult() Result {
	return Result{Side: SideUnknown, Confidence: 0.5, Method: MethodHeuristic}
}

// Detect runs the heuristic detector against the original image bytes and
// its already-decoded width/height. It never returns an error: any
// internal failure degrades to an unknown verdict per spec.
func Detect(data []byte, width, height int) (res Result) {
	defer func() {
		if recover() != nil { // a corrupt decode anywhere below degrades to unknown, never panics the pipeline
			res = unknownResult()
		}
	}()

	score := 0.0

	if height > 0 {
		ratio := float64(width) / float64(height)
		if math.Abs(ratio-expectedAspectRatio) <= aspectTolerance {
			score += 0.2
		}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return unknownResult()
	}

	thumb := imaging.Resize(src, sampleSize, sampleSize, imaging.Lanczos)

	border := int(math.Round(sampleSize * borderFraction))
	var blueCount, yellowCount, total int
	var hueHistogram [12]int

	for y := 0; y < sampleSize; y++ {
		for x := 0; x < sampleSize; x++ {
			onBorder := x < border || x >= sampleSize-border || y < border || y >= sampleSize-border
			if !onBorder {
				continue
			}
			r, g, b := pixel8(thumb, x, y)
			total++

			if isBlueBackPixel(r, g, b) {
				blueCount++
			} else if isYellowFrontPixel(r, g, b) {
				yellowCount++
			}

			bucket := hueBucket(r, g, b)
			if bucket >= 0 {
				hueHistogram[bucket]++
			}
		}
	}

	if total == 0 {
		return unknownResult()
	}

	blueRatio := float64(blueCount) / float64(total)
	yellowRatio := float64(yellowCount) / float64(total)
	isBlueBack := blueRatio > 0.5
	hasYellowBorder := yellowRatio > 0.3

	maxBucket := 0
	for _, c := range hueHistogram {
		if c > maxBucket {
			maxBucket = c
		}
	}
	hasVariedColors := float64(maxBucket) < 0.4*float64(total)

	switch {
	case isBlueBack:
		score -= 0.6
	case hasYellowBorder:
		score += 0.3
	case hasVariedColors:
		score += 0.2
	}

	switch {
	case score >= 0.3:
		return Result{Side: SideFront, Confidence: math.Min(0.95, 0.5+score), Method: MethodHeuristic}
	case score <= -0.3:
		return Result{Side: SideBack, Confidence: math.Min(0.95, 0.5+math.Abs(score)), Method: MethodHeuristic}
	default:
		return Result{Side: SideUnknown, Confidence: 0.5, Method: MethodHeuristic}
	}
}

func pixel8(img image.Image, x, y int) (r, g, b uint8) {
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
}

func isBlueBackPixel(r, g, b uint8) bool {
	bf, rf, gf := float64(b), float64(r), float64(g)
	return bf > 120 && bf > 1.5*rf && bf > 1.2*gf
}

func isYellowFrontPixel(r, g, b uint8) bool {
	return r > 180 && g > 150 && b < 100
}

// hueBucket returns the 30-degree hue bucket (0-11) for an RGB pixel.
// Achromatic pixels (max == min) have undefined hue; by HSV convention
// they fall into bucket 0, so a uniformly gray border reads as
// single-hue rather than as spuriously "varied".
func hueBucket(r, g, b uint8) int {
	rf, gf, bf := float64(r), float64(g), float64(b)
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min
	if delta == 0 {
		return 0
	}

	var hue float64
	switch max {
	case rf:
		hue = 60 * math.Mod((gf-bf)/delta, 6)
	case gf:
		hue = 60 * ((bf-rf)/delta + 2)
	default:
		hue = 60 * ((rf-gf)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	bucket := int(hue / 30)
	if bucket > 11 {
		bucket = 11
	}
	return bucket
}
