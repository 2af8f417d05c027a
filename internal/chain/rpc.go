package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// RPCClient is a Client backed by a JSON-RPC node.
type RPCClient struct {
	eth     *ethclient.Client
	chainID *big.Int
	limiter *rate.Limiter
	timeout time.Duration
}

// RPCOption customizes an RPCClient.
type RPCOption func(*RPCClient)

// WithRateLimit caps outbound calls per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) RPCOption {
	return func(c *RPCClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCallTimeout bounds each node call. Zero leaves the caller's deadline alone.
func WithCallTimeout(d time.Duration) RPCOption {
	return func(c *RPCClient) { c.timeout = d }
}

// Dial connects to url and checks the node serves chainID.
func Dial(ctx context.Context, url string, chainID *big.Int, opts ...RPCOption) (*RPCClient, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, classify(err, "dial node", failure.NodeUnreachable)
	}
	c := &RPCClient{eth: ethclient.NewClient(raw), chainID: new(big.Int).Set(chainID)}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Ping(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return c, nil
}

// ChainID returns the configured chain id.
func (c *RPCClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close releases the underlying connection.
func (c *RPCClient) Close() { c.eth.Close() }

func (c *RPCClient) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, classify(err, "wait for rpc slot", failure.NodeUnreachable)
		}
	}
	if c.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// Ping asks the node for its chain id and compares it with the configured one.
func (c *RPCClient) Ping(ctx context.Context) error {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	remote, err := c.eth.ChainID(ctx)
	if err != nil {
		return classify(err, "query chain id", failure.NodeUnreachable)
	}
	if remote.Cmp(c.chainID) != 0 {
		return failure.New(failure.NodeUnreachable, "node serves chain %s, expected %s", remote, c.chainID)
	}
	return nil
}

// PendingNonceAt returns the next nonce for account, counting pending transactions.
func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, classify(err, "get transaction count", failure.NodeUnreachable)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's current gas price.
func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(err, "get gas price", failure.NodeUnreachable)
	}
	return price, nil
}

// SendTransaction submits a signed transaction. Node-side rejections keep the
// node's own message.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return classify(err, "node rejected transaction", failure.BroadcastRejected)
	}
	return nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *RPCClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	bal, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, classify(err, "get balance", failure.NodeUnreachable)
	}
	return bal, nil
}
