package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the on-chain account an enrolled user pays from.
type Wallet struct {
	OwnerID string
	Address string
	Mode    string
}

// Balance is the account balance as last reported by the node.
type Balance struct {
	Address       string
	Amount        decimal.Decimal
	Wei           string
	SpendingLimit decimal.Decimal
	AsOf          time.Time
}
