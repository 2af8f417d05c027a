package infra

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/onramp-pay/onramp_pay/internal/chain"
)

// MemoryRPCURL selects the in-process node instead of a JSON-RPC endpoint.
const MemoryRPCURL = "memory"

// NewChainClient dials the node at url and verifies it serves chainID. The
// returned close func releases the connection.
func NewChainClient(ctx context.Context, url string, chainID int64, timeout time.Duration, ratePerSecond float64) (chain.Client, func(), error) {
	id := big.NewInt(chainID)
	if url == MemoryRPCURL {
		return chain.NewMemoryNode(id), func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := chain.Dial(dialCtx, url, id,
		chain.WithCallTimeout(timeout),
		chain.WithRateLimit(ratePerSecond, 1+int(ratePerSecond)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect chain node: %w", err)
	}
	return client, client.Close, nil
}
