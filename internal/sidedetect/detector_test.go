package sidedetect

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

func TestDetectBlueBack(t *testing.T) {
	data := encodeRGBA(t, 630, 880, func(x, y int) color.RGBA {
		return color.RGBA{R: 10, G: 20, B: 200, A: 255}
	})
	res := Detect(data, 630, 880)
	if res.Side != SideBack {
		t.Fatalf("expected back, got %s (confidence %f)", res.Side, res.Confidence)
	}
	if res.Method != MethodHeuristic {
		t.Fatalf("expected heuristic method, got %s", res.Method)
	}
}

func TestDetectYellowBorderFront(t *testing.T) {
	data := encodeRGBA(t, 630, 880, func(x, y int) color.RGBA {
		return color.RGBA{R: 230, G: 200, B: 40, A: 255}
	})
	res := Detect(data, 630, 880)
	if res.Side != SideFront {
		t.Fatalf("expected front, got %s (confidence %f)", res.Side, res.Confidence)
	}
}

func TestDetectGarbageBytesDegradesToUnknown(t *testing.T) {
	res := Detect([]byte("not an image"), 100, 100)
	if res.Side != SideUnknown {
		t.Fatalf("expected unknown on decode failure, got %s", res.Side)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("expected neutral confidence, got %f", res.Confidence)
	}
}

func TestDetectAspectRatioContributesButDoesNotDecideAlone(t *testing.T) {
	data := encodeRGBA(t, 63, 88, func(x, y int) color.RGBA {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	})
	res := Detect(data, 63, 88)
	if res.Side != SideUnknown {
		t.Fatalf("expected unknown for neutral gray card, got %s", res.Side)
	}
}
