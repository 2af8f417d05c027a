package merchant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Service exposes read access to the whitelist and merchant registration.
type Service struct {
	repo Repository
}

// NewService builds a merchant service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput captures a merchant registration request.
type RegisterInput struct {
	Name            string
	Description     string
	ReceiverAddress string
	BusinessType    string
	KYCInfo         map[string]any
}

// Register adds a merchant whose name is unique ignoring case.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Merchant, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Merchant{}, errors.New("merchant name is required")
	}
	addr := strings.TrimSpace(input.ReceiverAddress)
	if !common.IsHexAddress(addr) {
		return Merchant{}, ErrInvalidAddress
	}
	kyc := input.KYCInfo
	if kyc == nil {
		kyc = map[string]any{}
	}

	m := Merchant{
		Name:            name,
		Description:     input.Description,
		ReceiverAddress: addr,
		BusinessType:    input.BusinessType,
		KYCInfo:         kyc,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return Merchant{}, err
	}
	return m, nil
}

// List returns the whitelist in catalog order.
func (s *Service) List(ctx context.Context) ([]Merchant, error) {
	return s.repo.List(ctx)
}
