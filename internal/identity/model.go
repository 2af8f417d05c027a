package identity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Mode is how a user proves ownership of their payment key.
type Mode string

const (
	ModeBiometric  Mode = "biometric"
	ModeCredential Mode = "credential"
)

// Record is the single enrollment row kept per user. It never holds key
// material: biometric users carry extractor helper data, credential users
// carry the authenticator's credential id.
type Record struct {
	UserID       string
	Mode         Mode
	Helper       []byte
	CredentialID string
	Address      common.Address
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
