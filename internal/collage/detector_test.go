package collage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeRGBA(t *testing.T, w, h int, fill func(x, y int) color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectWideAspectRatioIsCollage(t *testing.T) {
	data := encodeRGBA(t, 1600, 800, func(x, y int) color.RGBA {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	})
	res := Detect(data, 1600, 800)
	if !res.IsCollage {
		t.Fatalf("expected wide image to be flagged as collage")
	}
}

func TestDetectNarrowAspectRatioIsCollage(t *testing.T) {
	data := encodeRGBA(t, 400, 1600, func(x, y int) color.RGBA {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	})
	res := Detect(data, 400, 1600)
	if !res.IsCollage {
		t.Fatalf("expected tall image to be flagged as collage")
	}
}

func TestDetectFlatSingleCardIsNotCollage(t *testing.T) {
	data := encodeRGBA(t, 630, 880, func(x, y int) color.RGBA {
		return color.RGBA{R: 100, G: 100, B: 100, A: 255}
	})
	res := Detect(data, 630, 880)
	if res.IsCollage {
		t.Fatalf("expected flat single card to not be a collage")
	}
}

func TestDetectVerticalSeamsTriggerCollage(t *testing.T) {
	data := encodeRGBA(t, 630, 880, func(x, y int) color.RGBA {
		if (x/30)%2 == 0 {
			return color.RGBA{R: 20, G: 20, B: 20, A: 255}
		}
		return color.RGBA{R: 235, G: 235, B: 235, A: 255}
	})
	res := Detect(data, 630, 880)
	if !res.IsCollage {
		t.Fatalf("expected alternating vertical stripes to read as a collage")
	}
}

func TestDetectGarbageBytesDegradesGracefully(t *testing.T) {
	res := Detect([]byte("not an image"), 630, 880)
	if res.IsCollage {
		t.Fatalf("expected non-collage default on decode failure")
	}
}
