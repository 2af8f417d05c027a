package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of wei decimals in one ether.
const EtherDecimals = 18

var weiPerEther = decimal.New(1, EtherDecimals)

// ToWei converts an ether amount to wei. Amounts finer than one wei are rejected
// rather than rounded so the signed value always equals the authorized one.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	wei := amount.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount.String(), EtherDecimals)
	}
	return wei.BigInt(), nil
}

// FromWei converts wei to ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}
