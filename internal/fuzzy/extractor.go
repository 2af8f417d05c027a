// Package fuzzy implements a code-offset fuzzy extractor over binary feature
// vectors. A repetition code of length 2t+1 corrects up to t flipped bits per
// message bit, so any sample within Hamming distance t of the enrollment
// sample reproduces the same key. A keyed verification tag stored with the
// helper turns "too noisy" into an explicit KeyMismatch.
//
// Security of the helper against key recovery is taken as an assumption of
// the construction and is not re-proved here.
package fuzzy

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"

	"github.com/onramp-pay/onramp_pay/internal/biometric"
	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/keys"
)

const (
	// DefaultPrecision is the number of secret bytes carried through the code.
	DefaultPrecision = 32
	// DefaultTolerance is the number of bit errors always corrected.
	DefaultTolerance = 6

	saltSize  = 32
	tagSize   = sha256.Size
	keyInfo   = "onramp/fuzzy/key"
	tagLabel  = "onramp/fuzzy/verify"
	minSecret = 16
)

// Extractor derives stable keys from noisy feature vectors. Its precision and
// tolerance are fixed at construction and must match the helper data.
type Extractor struct {
	precision int
	tolerance int
	rand      io.Reader
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithRand replaces the entropy source used by Generate.
func WithRand(r io.Reader) Option {
	return func(x *Extractor) { x.rand = r }
}

// New builds an extractor carrying precision secret bytes with tolerance t.
func New(precision, tolerance int, opts ...Option) (*Extractor, error) {
	if precision < minSecret || precision > 64 {
		return nil, fmt.Errorf("precision must be between %d and 64 bytes, got %d", minSecret, precision)
	}
	if tolerance < 0 || tolerance > 1<<14 {
		return nil, fmt.Errorf("tolerance out of range: %d", tolerance)
	}
	x := &Extractor{precision: precision, tolerance: tolerance, rand: rand.Reader}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Precision returns the number of secret bytes encoded per helper.
func (x *Extractor) Precision() int { return x.precision }

// Tolerance returns the guaranteed number of correctable bit errors.
func (x *Extractor) Tolerance() int { return x.tolerance }

// CodeBits is the number of vector bits a helper binds.
func (x *Extractor) CodeBits() int { return x.precision * 8 * blockLen(x.tolerance) }

// Generate draws a fresh secret, binds it to v and returns the derived key with
// its helper data. The caller owns the key and must wipe it. Generate is
// randomized: each call draws a new salt and secret, so two calls on the same
// vector yield different keys; only Reproduce with the stored helper is stable.
func (x *Extractor) Generate(v biometric.FeatureVector) ([]byte, HelperData, error) {
	need := x.CodeBits()
	if v.Len() < need {
		return nil, HelperData{}, fmt.Errorf("feature vector has %d bits, extractor needs %d", v.Len(), need)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(x.rand, salt); err != nil {
		return nil, HelperData{}, fmt.Errorf("read salt: %w", err)
	}
	message := make([]byte, x.precision)
	defer keys.Wipe(message)
	if _, err := io.ReadFull(x.rand, message); err != nil {
		return nil, HelperData{}, fmt.Errorf("read secret: %w", err)
	}

	positions, err := selectPositions(salt, v.Len(), need)
	if err != nil {
		return nil, HelperData{}, err
	}

	block := blockLen(x.tolerance)
	offset := make([]byte, (need+7)/8)
	for i, pos := range positions {
		bit := v.Bit(pos) ^ bitAt(message, i/block)
		offset[i/8] |= bit << (7 - i%8)
	}

	key, err := keys.DeriveScalar(message, salt, keyInfo)
	if err != nil {
		return nil, HelperData{}, err
	}

	helper := HelperData{
		Version:   HelperVersion,
		Precision: uint16(x.precision),
		Tolerance: uint16(x.tolerance),
		VectorLen: uint32(v.Len()),
		Salt:      salt,
		Offset:    offset,
		Tag:       verificationTag(key),
	}
	return key, helper, nil
}

// Reproduce recovers the key bound to helper from a fresh sample. It fails
// with KeyMismatch when the sample is too far from the enrollment sample for
// the verification tag to match.
func (x *Extractor) Reproduce(v biometric.FeatureVector, helper HelperData) ([]byte, error) {
	if err := helper.validate(); err != nil {
		return nil, failure.Wrap(failure.KeyMismatch, err, "unusable helper data")
	}
	if int(helper.Precision) != x.precision || int(helper.Tolerance) != x.tolerance {
		return nil, failure.New(failure.KeyMismatch,
			"helper data was produced with precision %d tolerance %d, extractor uses %d/%d",
			helper.Precision, helper.Tolerance, x.precision, x.tolerance)
	}
	if v.Len() != int(helper.VectorLen) {
		return nil, failure.New(failure.InvalidCapture, "feature vector has %d bits, enrollment used %d", v.Len(), helper.VectorLen)
	}

	need := x.CodeBits()
	positions, err := selectPositions(helper.Salt, v.Len(), need)
	if err != nil {
		return nil, err
	}

	block := blockLen(x.tolerance)
	message := make([]byte, x.precision)
	defer keys.Wipe(message)
	for m := 0; m < x.precision*8; m++ {
		ones := 0
		for j := 0; j < block; j++ {
			i := m*block + j
			ones += int(v.Bit(positions[i]) ^ bitAt(helper.Offset, i))
		}
		// Majority vote without branching on the secret.
		bit := byte(subtle.ConstantTimeLessOrEq(x.tolerance+1, ones))
		message[m/8] |= bit << (7 - m%8)
	}

	key, err := keys.DeriveScalar(message, helper.Salt, keyInfo)
	if err != nil {
		return nil, failure.Wrap(failure.KeyMismatch, err, "derive key")
	}
	if !hmac.Equal(verificationTag(key), helper.Tag) {
		keys.Wipe(key)
		return nil, failure.New(failure.KeyMismatch, "sample is outside the error tolerance of the enrolled template")
	}
	return key, nil
}

func blockLen(tolerance int) int { return 2*tolerance + 1 }

func bitAt(b []byte, i int) byte { return (b[i/8] >> (7 - i%8)) & 1 }

func verificationTag(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(tagLabel))
	return mac.Sum(nil)
}

// selectPositions picks need distinct bit positions out of n with a partial
// Fisher-Yates shuffle driven by a ChaCha20 stream keyed by salt. It depends
// only on public inputs, so its cost carries no information about the sample.
func selectPositions(salt []byte, n, need int) ([]int, error) {
	if need > n {
		return nil, fmt.Errorf("cannot select %d positions out of %d", need, n)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(salt, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, fmt.Errorf("init position stream: %w", err)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var word [4]byte
	next := func(bound uint32) uint32 {
		limit := ^uint32(0) - ^uint32(0)%bound
		for {
			clear(word[:])
			stream.XORKeyStream(word[:], word[:])
			r := binary.BigEndian.Uint32(word[:])
			if r < limit {
				return r % bound
			}
		}
	}
	for i := 0; i < need; i++ {
		j := i + int(next(uint32(n-i)))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:need], nil
}
