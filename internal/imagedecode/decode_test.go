package imagedecode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeValid(t *testing.T) {
	data := encodeTestPNG(t, 64, 32)
	meta, err := Decode(data, 20_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Width != 64 || meta.Height != 32 {
		t.Fatalf("unexpected dimensions: %dx%d", meta.Width, meta.Height)
	}
	if meta.Format != "png" {
		t.Fatalf("unexpected format: %s", meta.Format)
	}
	if meta.SizeBytes != len(data) {
		t.Fatalf("unexpected size: %d", meta.SizeBytes)
	}
}

func TestDecodeExceedsPixelBudget(t *testing.T) {
	data := encodeTestPNG(t, 200, 200)
	_, err := Decode(data, 1000) // 40000 px > 1000 budget
	if err == nil {
		t.Fatalf("expected pixel budget error")
	}
}

func TestDecodeGarbageBytes(t *testing.T) {
	_, err := Decode([]byte("not an image"), 20_000_000)
	if err == nil {
		t.Fatalf("expected decode error for garbage input")
	}
}
