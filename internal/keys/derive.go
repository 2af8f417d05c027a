package keys

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

const (
	credentialInfo    = "onramp/credential/key"
	maxDeriveAttempts = 256
	// MinCredentialSecret is the shortest authenticator secret accepted.
	MinCredentialSecret = 16
)

// secp256k1 group order, big-endian.
var curveOrder = common.FromHex("0xFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

// ValidScalar reports whether b is a 32-byte value in [1, N-1].
func ValidScalar(b []byte) bool {
	if len(b) != Size {
		return false
	}
	nonZero := false
	for _, x := range b {
		if x != 0 {
			nonZero = true
			break
		}
	}
	return nonZero && bytes.Compare(b, curveOrder) < 0
}

// DeriveScalar expands ikm with HKDF-SHA256 into a valid private scalar.
// Out-of-range candidates are discarded and the next counter value tried, so
// the result is a deterministic function of (ikm, salt, info).
func DeriveScalar(ikm, salt []byte, info string) ([]byte, error) {
	out := make([]byte, Size)
	for counter := 0; counter < maxDeriveAttempts; counter++ {
		r := hkdf.New(sha256.New, ikm, salt, append([]byte(info), byte(counter)))
		if _, err := io.ReadFull(r, out); err != nil {
			Wipe(out)
			return nil, fmt.Errorf("expand key: %w", err)
		}
		if ValidScalar(out) {
			return out, nil
		}
	}
	Wipe(out)
	return nil, ErrInvalidScalar
}

// DeriveFromCredential turns an authenticator-issued deterministic secret
// into a private scalar bound to credentialID. The secret is assumed to have
// arrived over an already authenticated channel.
func DeriveFromCredential(secret []byte, credentialID string) ([]byte, error) {
	if len(secret) < MinCredentialSecret {
		return nil, failure.New(failure.InvalidCapture, "authenticator secret must be at least %d bytes", MinCredentialSecret)
	}
	if credentialID == "" {
		return nil, failure.New(failure.InvalidCapture, "credential id is required")
	}
	return DeriveScalar(secret, []byte(credentialID), credentialInfo)
}

// AddressOf returns the account address controlled by secret without
// keeping the key around. The secret itself is left untouched.
func AddressOf(secret []byte) (common.Address, error) {
	priv, err := crypto.ToECDSA(secret)
	if err != nil {
		return common.Address{}, ErrInvalidScalar
	}
	defer wipePrivateKey(priv)
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}
