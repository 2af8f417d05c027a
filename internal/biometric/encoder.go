// Package biometric turns raw fingerprint captures into canonical feature
// vectors. It is the only stage where capture-device noise is filtered;
// everything downstream assumes the vector is as stable as this stage made it.
package biometric

import (
	"bytes"
	"fmt"
	"image"
	"os"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

const (
	// DefaultSize is the canonical edge length captures are resampled to.
	DefaultSize = 200
	// DefaultThreshold is the grayscale cut-off; brighter pixels become 1.
	DefaultThreshold = 127
	// MaxDimension bounds the declared width and height of a capture. Headers
	// are checked before any pixel buffer is allocated.
	MaxDimension = 4096
)

// Encoder normalizes captures into FeatureVectors of a fixed length.
type Encoder struct {
	width     int
	height    int
	threshold uint8
}

// Option customizes an Encoder.
type Option func(*Encoder)

// WithSize overrides the canonical resolution.
func WithSize(width, height int) Option {
	return func(e *Encoder) {
		e.width = width
		e.height = height
	}
}

// WithThreshold overrides the binarization threshold.
func WithThreshold(threshold uint8) Option {
	return func(e *Encoder) { e.threshold = threshold }
}

// NewEncoder builds an encoder with the 200x200 / 127 defaults.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{width: DefaultSize, height: DefaultSize, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VectorLen is the length in bits of every vector this encoder produces.
func (e *Encoder) VectorLen() int { return e.width * e.height }

// Encode decodes capture, converts it to grayscale, resamples it bilinearly to
// the canonical size, binarizes and flattens it row by row. Captures larger
// than MaxDimension on either side are refused from their header alone.
func (e *Encoder) Encode(capture []byte) (FeatureVector, error) {
	if len(capture) == 0 {
		return FeatureVector{}, failure.New(failure.InvalidCapture, "capture is empty")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(capture))
	if err != nil {
		return FeatureVector{}, failure.Wrap(failure.InvalidCapture, err, "decode capture header")
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return FeatureVector{}, failure.New(failure.InvalidCapture,
			"capture is %dx%d, larger than %dx%d", cfg.Width, cfg.Height, MaxDimension, MaxDimension)
	}
	src, format, err := image.Decode(bytes.NewReader(capture))
	if err != nil {
		return FeatureVector{}, failure.Wrap(failure.InvalidCapture, err, "decode capture")
	}
	b := src.Bounds()
	if b.Empty() {
		return FeatureVector{}, failure.New(failure.InvalidCapture, "%s capture has zero size", format)
	}

	gray := image.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)

	canon := image.NewGray(image.Rect(0, 0, e.width, e.height))
	draw.BiLinear.Scale(canon, canon.Bounds(), gray, b, draw.Src, nil)

	values := make([]byte, e.width*e.height)
	for y := 0; y < e.height; y++ {
		row := canon.Pix[y*canon.Stride : y*canon.Stride+e.width]
		for x, p := range row {
			if p > e.threshold {
				values[y*e.width+x] = 1
			}
		}
	}
	return FromBits(values), nil
}

// EncodeFile reads and encodes a capture stored on disk.
func (e *Encoder) EncodeFile(path string) (FeatureVector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FeatureVector{}, failure.Wrap(failure.InvalidCapture, err, fmt.Sprintf("read capture %s", path))
	}
	return e.Encode(raw)
}
