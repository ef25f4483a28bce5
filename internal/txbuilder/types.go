package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignedTx represents a signed transaction ready to send.
// It is not modified after BuildBatch returns it.
type SignedTx struct {
	Tx       *types.Transaction
	RawTx    []byte
	Hash     common.Hash
	From     common.Address
	Nonce    uint64
	GasLimit uint64
}

// BuilderConfig holds configuration for transaction building
type BuilderConfig struct {
	ChainID  *big.Int
	GasLimit uint64
	GasPrice *big.Int // nil: ask the node
	Value    *big.Int // native value per transfer, default 1 wei
}
