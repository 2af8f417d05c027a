package merchant

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrDuplicateName indicates a merchant with the same name (ignoring case) exists.
	ErrDuplicateName = errors.New("merchant name already exists")
	// ErrInvalidAddress indicates the receiver address is not a 20-byte hex address.
	ErrInvalidAddress = errors.New("receiver address is not a valid account address")
)

// Merchant is a whitelisted payee. ReceiverAddress is the only field payment
// authorization trusts.
type Merchant struct {
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description" yaml:"description"`
	ReceiverAddress string         `json:"receiver_address" yaml:"receiver_address"`
	BusinessType    string         `json:"business_type,omitempty" yaml:"business_type,omitempty"`
	KYCInfo         map[string]any `json:"kyc_info,omitempty" yaml:"kyc_info,omitempty"`
	CreatedAt       time.Time      `json:"created_at,omitempty" yaml:"-"`
}

// SameName reports whether two merchant names collide.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
