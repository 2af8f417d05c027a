// Package chain talks to the blockchain node: connectivity, nonce and gas
// price reads, and broadcast of signed transactions.
package chain

import (
	"context"
	"errors"
	"math/big"
	"net"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

const (
	// TransferGasLimit is the fixed gas for a plain value transfer.
	TransferGasLimit uint64 = 21_000
	// SepoliaChainID is the default deployment target.
	SepoliaChainID int64 = 11155111
	// DefaultRPCURL is the default Sepolia endpoint.
	DefaultRPCURL = "https://sepolia.drpc.org"
)

// Client is the node boundary used by the payment pipeline.
type Client interface {
	// Ping verifies the node is reachable and serves the configured chain.
	Ping(ctx context.Context) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	ChainID() *big.Int
}

// BuildTransfer assembles an unsigned value transfer. The chain id is bound
// when the transaction is signed.
func BuildTransfer(nonce uint64, to common.Address, value, gasPrice *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(value),
		Gas:      TransferGasLimit,
		GasPrice: new(big.Int).Set(gasPrice),
	})
}

// classify maps a transport or node error onto the failure taxonomy. A
// JSON-RPC error means the node answered and is reported with the answered
// reason; anything else counts as the node being out of reach.
func classify(err error, op string, answered failure.Reason) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return failure.Wrap(failure.NodeTimeout, err, op)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return failure.Wrap(answered, err, op)
	}
	return failure.Wrap(failure.NodeUnreachable, err, op)
}
