package fuzzy

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// HelperVersion tags the only helper layout currently produced.
const HelperVersion uint8 = 1

// ErrMalformedHelper is returned when stored helper data cannot be decoded.
var ErrMalformedHelper = errors.New("malformed helper data")

// HelperData is the public correction material produced at enrollment.
// It records the parameters it was produced with so a later Reproduce with a
// differently configured extractor is detected instead of silently failing.
type HelperData struct {
	Version   uint8
	Precision uint16
	Tolerance uint16
	VectorLen uint32
	Salt      []byte
	Offset    []byte
	Tag       []byte
}

// MarshalBinary encodes the helper with RLP.
func (h HelperData) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(&h)
}

// UnmarshalBinary decodes and validates an RLP-encoded helper.
func (h *HelperData) UnmarshalBinary(data []byte) error {
	var decoded HelperData
	if err := rlp.DecodeBytes(data, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHelper, err)
	}
	if err := decoded.validate(); err != nil {
		return err
	}
	*h = decoded
	return nil
}

// ParseHelper decodes helper bytes as stored by the credential store.
func ParseHelper(data []byte) (HelperData, error) {
	var h HelperData
	if err := h.UnmarshalBinary(data); err != nil {
		return HelperData{}, err
	}
	return h, nil
}

func (h HelperData) validate() error {
	if h.Version != HelperVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedHelper, h.Version)
	}
	if len(h.Salt) != saltSize || len(h.Tag) != tagSize {
		return fmt.Errorf("%w: bad salt or tag length", ErrMalformedHelper)
	}
	bitsNeeded := int(h.Precision) * 8 * blockLen(int(h.Tolerance))
	if len(h.Offset) != (bitsNeeded+7)/8 {
		return fmt.Errorf("%w: offset holds %d bytes, want %d", ErrMalformedHelper, len(h.Offset), (bitsNeeded+7)/8)
	}
	return nil
}
