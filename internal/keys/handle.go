// Package keys owns the lifecycle of ephemeral signing keys. A key exists
// only inside a Handle, can sign exactly one transaction, and is zeroized on
// every exit path.
package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Size is the length in bytes of a secp256k1 private scalar.
const Size = 32

const redacted = "keys.Handle(REDACTED)"

var (
	// ErrHandleConsumed is returned when a handle is used after signing or destruction.
	ErrHandleConsumed = errors.New("key handle already consumed")
	// ErrInvalidScalar indicates secret bytes that cannot serve as a private key.
	ErrInvalidScalar = errors.New("secret is not a valid secp256k1 scalar")
)

// Handle is the exclusive owner of one private key.
type Handle struct {
	mu       sync.Mutex
	buf      []byte
	consumed bool
}

// NewHandle takes ownership of secret: the bytes are copied into the handle
// and the caller's slice is wiped, whether or not construction succeeds.
func NewHandle(secret []byte) (*Handle, error) {
	defer Wipe(secret)
	if len(secret) != Size || !ValidScalar(secret) {
		return nil, ErrInvalidScalar
	}
	buf := make([]byte, Size)
	copy(buf, secret)
	return &Handle{buf: buf}, nil
}

// SignTransaction signs tx for chainID with EIP-155 replay protection and
// consumes the handle. The key is wiped before this returns, on success or error.
func (h *Handle) SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return nil, ErrHandleConsumed
	}
	h.consumed = true
	defer h.wipeLocked()

	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	priv, err := crypto.ToECDSA(h.buf)
	if err != nil {
		return nil, ErrInvalidScalar
	}
	defer wipePrivateKey(priv)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// Destroy wipes the key. Safe to call more than once.
func (h *Handle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consumed = true
	h.wipeLocked()
}

func (h *Handle) wipeLocked() {
	Wipe(h.buf)
}

// Use runs fn with a handle built from secret and destroys it when fn
// returns or panics.
func Use(secret []byte, fn func(*Handle) error) error {
	h, err := NewHandle(secret)
	if err != nil {
		return err
	}
	defer h.Destroy()
	return fn(h)
}

func (h *Handle) String() string   { return redacted }
func (h *Handle) GoString() string { return redacted }

// LogValue keeps the key out of structured logs.
func (h *Handle) LogValue() slog.Value { return slog.StringValue(redacted) }

// Wipe zeroes b in place.
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

func wipePrivateKey(priv *ecdsa.PrivateKey) {
	if priv == nil || priv.D == nil {
		return
	}
	words := priv.D.Bits()
	clear(words)
	runtime.KeepAlive(words)
	priv.D.SetInt64(0)
}
