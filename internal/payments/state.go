package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// State is a pipeline stage. Every payment ends in Done or Failed.
type State int

const (
	Validating State = iota
	Deriving
	Signing
	Broadcasting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Deriving:
		return "deriving"
	case Signing:
		return "signing"
	case Broadcasting:
		return "broadcasting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Proof is what the caller presents to unlock their key. Exactly one field
// is expected, matching how the user enrolled.
type Proof struct {
	Capture []byte
	Secret  []byte
}

// Request is one payment attempt.
type Request struct {
	UserID   string
	Receiver string
	Amount   decimal.Decimal
	Proof    Proof
}

// Record describes a transaction the node accepted.
type Record struct {
	TxHash          string
	ReceiverAddress string
	Amount          decimal.Decimal
	MerchantName    string
	Sender          string
	Nonce           uint64
	CreatedAt       time.Time
}

// Outcome is the terminal result of a payment. Record is set when State is
// Done; Reason, Message and Stage describe a failure otherwise.
type Outcome struct {
	State   State
	Stage   State
	Record  Record
	Reason  failure.Reason
	Message string
}

// Observer receives pipeline progress. metrics.Metrics implements it.
type Observer interface {
	PaymentStarted()
	StageCompleted(stage string, d time.Duration)
	PaymentFinished(reason string)
}

type nopObserver struct{}

func (nopObserver) PaymentStarted()                      {}
func (nopObserver) StageCompleted(string, time.Duration) {}
func (nopObserver) PaymentFinished(string)               {}
