package distributor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountStatus represents the funding status of a sender account
type AccountStatus struct {
	Address      common.Address
	Balance      *big.Int
	RequiredFund *big.Int
	MissingFund  *big.Int
	Nonce        uint64
	IsFunded     bool
}

// DistributionResult holds the result of fund distribution
type DistributionResult struct {
	// Accounts that hold enough to send their whole batch
	ReadyAccounts []*AccountStatus

	// Accounts that could not be funded
	UnfundedAccounts []*AccountStatus

	// Total amount distributed
	TotalDistributed *big.Int

	// Number of funding transactions sent
	TxCount int
}

// Config holds distribution configuration
type Config struct {
	// Gas limit of each benchmark transaction
	GasPerTx uint64

	// Number of transactions each sender will send
	TxsPerAccount int

	// Native value carried by each benchmark transaction; nil for none
	ValuePerTx *big.Int

	// Gas price for calculations and funding transfers; nil asks the node
	GasPrice *big.Int

	// Extra buffer percentage (e.g., 10 for 10% extra)
	BufferPercent int

	// Funding transfers per second
	SendRate int

	// Balance polling interval while waiting for funding
	PollInterval time.Duration
}

// DefaultConfig returns default distribution configuration
func DefaultConfig() *Config {
	return &Config{
		GasPerTx:      21000,
		TxsPerAccount: 10,
		GasPrice:      big.NewInt(1000000000), // 1 Gwei
		BufferPercent: 20,
		SendRate:      100,
		PollInterval:  500 * time.Millisecond,
	}
}

// CalculateRequiredFund calculates the balance a sender needs for its batch
func (c *Config) CalculateRequiredFund() *big.Int {
	// Required = (gasPerTx * gasPrice + valuePerTx) * txsPerAccount * (1 + buffer/100)
	perTx := new(big.Int).SetUint64(c.GasPerTx)
	if c.GasPrice != nil {
		perTx.Mul(perTx, c.GasPrice)
	}
	if c.ValuePerTx != nil {
		perTx.Add(perTx, c.ValuePerTx)
	}
	baseCost := perTx.Mul(perTx, big.NewInt(int64(c.TxsPerAccount)))

	if c.BufferPercent > 0 {
		buffer := new(big.Int).Mul(baseCost, big.NewInt(int64(c.BufferPercent)))
		buffer.Div(buffer, big.NewInt(100))
		baseCost.Add(baseCost, buffer)
	}

	return baseCost
}
