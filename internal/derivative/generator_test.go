package derivative

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/cardvault/image-worker/internal/config"
)

func TestMain(m *testing.M) {
	govips.Startup(nil)
	defer govips.Shutdown()
	m.Run()
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func testSpecs() []config.DerivativeSpec {
	return []config.DerivativeSpec{
		{Variant: "thumb", Width: 160, Quality: 75},
		{Variant: "grid", Width: 360, Quality: 80},
		{Variant: "detail", Width: 960, Quality: 80},
	}
}

func TestGenerateProducesAllVariantsInOrder(t *testing.T) {
	data := makeJPEG(t, 1200, 1600)
	gen := New(testSpecs())

	renditions, err := gen.Generate(data, 1200, "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(renditions) != 3 {
		t.Fatalf("expected 3 renditions, got %d", len(renditions))
	}

	wantOrder := []string{"thumb", "grid", "detail"}
	for i, r := range renditions {
		if r.Variant != wantOrder[i] {
			t.Fatalf("expected variant %s at index %d, got %s", wantOrder[i], i, r.Variant)
		}
		if len(r.Bytes) == 0 {
			t.Fatalf("expected non-empty bytes for %s", r.Variant)
		}
		if r.StoragePath != "derivatives/ab/abc123/"+r.Variant+".webp" {
			t.Fatalf("unexpected storage path: %s", r.StoragePath)
		}
	}
}

func TestGenerateNeverUpscales(t *testing.T) {
	data := makeJPEG(t, 100, 140)
	gen := New(testSpecs())

	renditions, err := gen.Generate(data, 100, "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range renditions {
		if r.Width > 100 {
			t.Fatalf("variant %s was upscaled to width %d from original 100", r.Variant, r.Width)
		}
	}
}

func TestGenerateRejectsGarbageBytes(t *testing.T) {
	gen := New(testSpecs())
	_, err := gen.Generate([]byte("not an image"), 100, "abc123")
	if err == nil {
		t.Fatalf("expected error for garbage input")
	}
}
