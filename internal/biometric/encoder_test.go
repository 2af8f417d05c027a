package biometric

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// gridCapture draws white lines every 10px on black, like the dummy
// fingerprint used for manual testing.
func gridCapture(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := 0; i < size; i += 10 {
		for j := 0; j < size; j++ {
			img.SetGray(i, j, color.Gray{Y: 255})
			img.SetGray(j, i, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func uniformCapture(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeProducesFixedLengthVector(t *testing.T) {
	enc := NewEncoder()
	v, err := enc.Encode(gridCapture(t, 200))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if v.Len() != DefaultSize*DefaultSize {
		t.Fatalf("expected %d bits, got %d", DefaultSize*DefaultSize, v.Len())
	}
	if v.Bit(0) != 1 {
		t.Fatalf("expected grid line at origin")
	}
	if v.Bit(5*DefaultSize+5) != 0 {
		t.Fatalf("expected background between lines")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder()
	capture := gridCapture(t, 317)

	a, err := enc.Encode(capture)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := enc.Encode(capture)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d, err := a.Hamming(b)
	if err != nil {
		t.Fatalf("hamming: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected identical vectors, distance %d", d)
	}
}

func TestEncodeBinarizesAroundThreshold(t *testing.T) {
	enc := NewEncoder(WithSize(16, 16))

	white, err := enc.Encode(uniformCapture(t, 64, color.White))
	if err != nil {
		t.Fatalf("encode white: %v", err)
	}
	black, err := enc.Encode(uniformCapture(t, 64, color.Black))
	if err != nil {
		t.Fatalf("encode black: %v", err)
	}
	d, _ := white.Hamming(black)
	if d != 16*16 {
		t.Fatalf("expected every bit to differ, got %d", d)
	}
}

func TestEncodeRejectsInvalidCapture(t *testing.T) {
	enc := NewEncoder()
	for name, capture := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := enc.Encode(capture)
			if !errors.Is(err, failure.ErrInvalidCapture) {
				t.Fatalf("expected invalid capture, got %v", err)
			}
		})
	}
}

func blankPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeRejectsOversizedCapture(t *testing.T) {
	enc := NewEncoder()
	for name, capture := range map[string][]byte{
		"wide": blankPNG(t, MaxDimension+1, 2),
		"tall": blankPNG(t, 2, 12000),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := enc.Encode(capture)
			if !errors.Is(err, failure.ErrInvalidCapture) {
				t.Fatalf("expected invalid capture, got %v", err)
			}
		})
	}

	if _, err := enc.Encode(blankPNG(t, MaxDimension, 2)); err != nil {
		t.Fatalf("capture at the bound should encode: %v", err)
	}
}

func TestEncodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprint.png")
	if err := os.WriteFile(path, gridCapture(t, 200), 0o600); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	enc := NewEncoder()
	if _, err := enc.EncodeFile(path); err != nil {
		t.Fatalf("encode file: %v", err)
	}
	if _, err := enc.EncodeFile(filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, failure.ErrInvalidCapture) {
		t.Fatalf("expected invalid capture for missing file, got %v", err)
	}
}

func TestFeatureVectorHammingAndFlip(t *testing.T) {
	v := FromBits([]byte{1, 0, 1, 1, 0, 0, 0, 1, 1, 0})
	noisy := v.Flip(0, 9)

	d, err := v.Hamming(noisy)
	if err != nil {
		t.Fatalf("hamming: %v", err)
	}
	if d != 2 {
		t.Fatalf("expected distance 2, got %d", d)
	}
	if _, err := v.Hamming(FromBits([]byte{1})); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}
	if v.Bit(0) != 1 || noisy.Bit(0) != 0 {
		t.Fatalf("flip must not mutate the original vector")
	}
}

func TestNewFeatureVectorMasksTrailingBits(t *testing.T) {
	v, err := NewFeatureVector([]byte{0xFF, 0xFF}, 10)
	if err != nil {
		t.Fatalf("new vector: %v", err)
	}
	if got := v.Bytes()[1]; got != 0xC0 {
		t.Fatalf("expected trailing bits cleared, got %#x", got)
	}
	if _, err := NewFeatureVector([]byte{0xFF}, 10); err == nil {
		t.Fatalf("expected error for short packed input")
	}
}
