// Package authorization checks a requested payment against the spending
// limit and the merchant whitelist. Its Authorization is the only input the
// signing stage trusts.
package authorization

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/merchant"
)

// Authorization is a successful check for one exact (receiver, amount) pair.
type Authorization struct {
	Merchant merchant.Merchant
	Receiver common.Address
	Amount   decimal.Decimal
}

// Authorizer validates payments. It holds no state.
type Authorizer struct{}

// New returns an Authorizer.
func New() Authorizer { return Authorizer{} }

// Authorize runs the checks in a fixed order; the first failure decides the
// rejection: amount must be positive, within limit (inclusive), and the
// receiver must match a merchant's address ignoring case.
func (Authorizer) Authorize(receiver string, amount decimal.Decimal, merchants []merchant.Merchant, limit decimal.Decimal) (Authorization, error) {
	if !amount.IsPositive() {
		return Authorization{}, failure.New(failure.InvalidAmount, "amount must be greater than 0, received %s", amount.String())
	}
	if amount.GreaterThan(limit) {
		return Authorization{}, failure.New(failure.LimitExceeded, "amount %s exceeds spending limit of %s", amount.String(), limit.String())
	}

	receiver = strings.TrimSpace(receiver)
	for _, m := range merchants {
		if m.ReceiverAddress == "" || !strings.EqualFold(m.ReceiverAddress, receiver) {
			continue
		}
		if !common.IsHexAddress(m.ReceiverAddress) {
			continue
		}
		return Authorization{
			Merchant: m,
			Receiver: common.HexToAddress(m.ReceiverAddress),
			Amount:   amount,
		}, nil
	}
	return Authorization{}, failure.New(failure.UnknownMerchant, "receiver address %s is not a recognized merchant", receiver)
}

// Covers reports whether a is a successful authorization for exactly this pair.
func (a Authorization) Covers(receiver common.Address, amount decimal.Decimal) bool {
	return a.Receiver == receiver && a.Amount.Equal(amount) && a.Amount.IsPositive()
}
