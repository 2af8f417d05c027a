// Package journal keeps the history of payment attempts per user. It records
// what the pipeline decided and what the node accepted; balances live on
// chain.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateTransaction indicates an entry with the same transaction hash
	// was already journaled.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

const (
	// StatusBroadcast marks a transaction the node accepted.
	StatusBroadcast = "broadcast"
	// StatusFailed marks an attempt that ended before or at broadcast.
	StatusFailed = "failed"
)

// DefaultListLimit bounds history queries without an explicit limit.
const DefaultListLimit = 50

// Entry is one payment attempt.
type Entry struct {
	ID           string
	UserID       string
	Sender       string
	Receiver     string
	MerchantName string
	Amount       decimal.Decimal
	TxHash       string
	Nonce        uint64
	Status       string
	Reason       string
	CreatedAt    time.Time
}

// Journal defines the contract implemented by journal backends.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
