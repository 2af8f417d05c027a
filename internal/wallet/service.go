package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/chain"
	"github.com/onramp-pay/onramp_pay/internal/identity"
)

// Credentials looks up enrollment records.
type Credentials interface {
	Find(ctx context.Context, userID string) (identity.Record, error)
}

// Service exposes the user's payment account backed by the chain.
type Service struct {
	credentials Credentials
	chain       chain.Client
	limit       decimal.Decimal
}

// NewService builds a wallet service instance.
func NewService(credentials Credentials, client chain.Client, limit decimal.Decimal) *Service {
	return &Service{credentials: credentials, chain: client, limit: limit}
}

// Get returns the account bound to ownerID at enrollment.
func (s *Service) Get(ctx context.Context, ownerID string) (Wallet, error) {
	rec, err := s.credentials.Find(ctx, ownerID)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{OwnerID: rec.UserID, Address: rec.Address.Hex(), Mode: string(rec.Mode)}, nil
}

// Balance asks the node for the owner's current balance.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	rec, err := s.credentials.Find(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	wei, err := s.chain.BalanceAt(ctx, rec.Address)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Address:       rec.Address.Hex(),
		Amount:        chain.FromWei(wei),
		Wei:           wei.String(),
		SpendingLimit: s.limit,
		AsOf:          time.Now().UTC(),
	}, nil
}
