package biometric

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrLengthMismatch is returned when two vectors of different lengths are compared.
var ErrLengthMismatch = errors.New("feature vectors differ in length")

// FeatureVector is a fixed-length, packed bit vector. Bit i lives in byte i/8
// at position 7-i%8 (MSB first), so the packed form is stable across runs.
type FeatureVector struct {
	bits []byte
	n    int
}

// NewFeatureVector wraps packed bits holding n significant bits. The input is copied.
func NewFeatureVector(packed []byte, n int) (FeatureVector, error) {
	if n <= 0 {
		return FeatureVector{}, fmt.Errorf("feature vector length must be positive, got %d", n)
	}
	if len(packed) != (n+7)/8 {
		return FeatureVector{}, fmt.Errorf("packed length %d does not hold %d bits", len(packed), n)
	}
	buf := make([]byte, len(packed))
	copy(buf, packed)
	if rem := n % 8; rem != 0 {
		buf[len(buf)-1] &= byte(0xFF << (8 - rem))
	}
	return FeatureVector{bits: buf, n: n}, nil
}

// FromBits builds a vector from one value per bit; any non-zero value is a 1.
func FromBits(values []byte) FeatureVector {
	v := FeatureVector{bits: make([]byte, (len(values)+7)/8), n: len(values)}
	for i, b := range values {
		if b != 0 {
			v.bits[i/8] |= 0x80 >> (i % 8)
		}
	}
	return v
}

// Len returns the number of bits in the vector.
func (v FeatureVector) Len() int { return v.n }

// Bit returns bit i as 0 or 1.
func (v FeatureVector) Bit(i int) byte {
	return (v.bits[i/8] >> (7 - i%8)) & 1
}

// Bytes returns a copy of the packed representation.
func (v FeatureVector) Bytes() []byte {
	out := make([]byte, len(v.bits))
	copy(out, v.bits)
	return out
}

// Hamming returns the number of differing bits between v and other.
func (v FeatureVector) Hamming(other FeatureVector) (int, error) {
	if v.n != other.n {
		return 0, ErrLengthMismatch
	}
	d := 0
	for i := range v.bits {
		d += bits.OnesCount8(v.bits[i] ^ other.bits[i])
	}
	return d, nil
}

// Flip returns a copy of v with the given bit positions inverted.
func (v FeatureVector) Flip(positions ...int) FeatureVector {
	out := FeatureVector{bits: v.Bytes(), n: v.n}
	for _, p := range positions {
		out.bits[p/8] ^= 0x80 >> (p % 8)
	}
	return out
}
