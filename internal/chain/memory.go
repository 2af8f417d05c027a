package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// DefaultGasPrice is what a MemoryNode quotes unless told otherwise (1 gwei).
var DefaultGasPrice = big.NewInt(1_000_000_000)

// MemoryNode is an in-process Client used in development and tests. It keeps
// balances and nonces per account and accepts transactions that a real node
// would accept for a plain transfer.
type MemoryNode struct {
	mu           sync.Mutex
	chainID      *big.Int
	gasPrice     *big.Int
	balances     map[common.Address]*big.Int
	nonces       map[common.Address]uint64
	sent         []*types.Transaction
	down         bool
	checkBalance bool
	calls        map[string]int
}

// MemoryOption customizes a MemoryNode.
type MemoryOption func(*MemoryNode)

// WithBalanceCheck makes the node reject transfers the sender cannot pay for.
func WithBalanceCheck() MemoryOption {
	return func(n *MemoryNode) { n.checkBalance = true }
}

// WithGasPrice sets the quoted gas price.
func WithGasPrice(price *big.Int) MemoryOption {
	return func(n *MemoryNode) { n.gasPrice = new(big.Int).Set(price) }
}

// NewMemoryNode builds a node serving chainID.
func NewMemoryNode(chainID *big.Int, opts ...MemoryOption) *MemoryNode {
	n := &MemoryNode{
		chainID:  new(big.Int).Set(chainID),
		gasPrice: new(big.Int).Set(DefaultGasPrice),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fund credits wei to account.
func (n *MemoryNode) Fund(account common.Address, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	bal := n.balanceOf(account)
	bal.Add(bal, wei)
}

// SetDown makes every call fail as if the node were unreachable.
func (n *MemoryNode) SetDown(down bool) {
	n.mu.Lock()
	n.down = down
	n.mu.Unlock()
}

// Sent returns the accepted transactions in broadcast order.
func (n *MemoryNode) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Calls returns how many times method was invoked.
func (n *MemoryNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (n *MemoryNode) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *MemoryNode) balanceOf(account common.Address) *big.Int {
	bal, ok := n.balances[account]
	if !ok {
		bal = new(big.Int)
		n.balances[account] = bal
	}
	return bal
}

// enter records the call and checks availability. Callers hold n.mu.
func (n *MemoryNode) enter(ctx context.Context, method string) error {
	n.calls[method]++
	if err := ctx.Err(); err != nil {
		return classify(err, method, failure.NodeUnreachable)
	}
	if n.down {
		return failure.New(failure.NodeUnreachable, "%s: node unreachable", method)
	}
	return nil
}

func (n *MemoryNode) ChainID() *big.Int { return new(big.Int).Set(n.chainID) }

func (n *MemoryNode) Ping(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enter(ctx, "ping")
}

func (n *MemoryNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, "nonce"); err != nil {
		return 0, err
	}
	return n.nonces[account], nil
}

func (n *MemoryNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, "gas_price"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(n.gasPrice), nil
}

func (n *MemoryNode) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, "balance"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(n.balanceOf(account)), nil
}

// SendTransaction recovers the sender, checks chain id and nonce, and applies
// the transfer.
func (n *MemoryNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enter(ctx, "send"); err != nil {
		return err
	}
	if tx.ChainId().Cmp(n.chainID) != 0 {
		return failure.New(failure.BroadcastRejected, "invalid chain id %s", tx.ChainId())
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return failure.Wrap(failure.BroadcastRejected, err, "invalid sender")
	}
	want := n.nonces[from]
	switch {
	case tx.Nonce() < want:
		return failure.New(failure.BroadcastRejected, "nonce too low: next nonce %d, tx nonce %d", want, tx.Nonce())
	case tx.Nonce() > want:
		return failure.New(failure.BroadcastRejected, "nonce gap: next nonce %d, tx nonce %d", want, tx.Nonce())
	}
	if tx.Gas() < TransferGasLimit {
		return failure.New(failure.BroadcastRejected, "intrinsic gas too low")
	}

	cost := tx.Cost()
	bal := n.balanceOf(from)
	if n.checkBalance && bal.Cmp(cost) < 0 {
		return failure.New(failure.BroadcastRejected, "insufficient funds for gas * price + value: have %s want %s", bal, cost)
	}
	if bal.Cmp(cost) >= 0 {
		bal.Sub(bal, cost)
	}
	if to := tx.To(); to != nil {
		recv := n.balanceOf(*to)
		recv.Add(recv, tx.Value())
	}
	n.nonces[from] = want + 1
	n.sent = append(n.sent, tx)
	return nil
}

// String is used in startup logs.
func (n *MemoryNode) String() string {
	return fmt.Sprintf("memory-node(chain=%s)", n.chainID)
}
