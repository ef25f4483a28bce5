package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xmhha/tpsbench/internal/config"
)

// TransferPayload is a native coin transfer
type TransferPayload struct {
	recipient common.Address // If zero, transfers to self
	value     *big.Int
	gasLimit  uint64
}

// NewTransferPayload creates a transfer payload of value wei per transaction
func NewTransferPayload(value *big.Int, gasLimit uint64) *TransferPayload {
	if value == nil {
		value = big.NewInt(1)
	}
	if gasLimit == 0 {
		gasLimit = 21000
	}
	return &TransferPayload{value: value, gasLimit: gasLimit}
}

// WithRecipient sets the recipient address
func (p *TransferPayload) WithRecipient(addr common.Address) *TransferPayload {
	cp := *p
	cp.recipient = addr
	return &cp
}

// Call implements Payload
func (p *TransferPayload) Call(from common.Address) (common.Address, *big.Int, []byte) {
	to := p.recipient
	if to == (common.Address{}) {
		to = from
	}
	return to, new(big.Int).Set(p.value), nil
}

// Gas implements Payload
func (p *TransferPayload) Gas() uint64 {
	return p.gasLimit
}

// Name returns the payload name
func (p *TransferPayload) Name() string {
	return string(config.ModeTransfer)
}

// TransferBuilder builds one-off transfers outside of a batch, e.g. account funding
type TransferBuilder struct {
	*BaseBuilder
}

// NewTransferBuilder creates a new transfer builder
func NewTransferBuilder(config *BuilderConfig, estimator GasEstimator) *TransferBuilder {
	return &TransferBuilder{BaseBuilder: NewBaseBuilder(config, estimator)}
}

// BuildSingle signs one transfer of value from key to to
func (b *TransferBuilder) BuildSingle(
	ctx context.Context,
	key *ecdsa.PrivateKey,
	nonce uint64,
	to common.Address,
	value *big.Int,
) (*SignedTx, error) {
	gasPrice, err := b.GetGasSettings(ctx)
	if err != nil {
		return nil, err
	}
	gas := b.config.GasLimit
	if gas == 0 {
		gas = 21000
	}

	return signLegacy(types.LatestSignerForChainID(b.config.ChainID), key, crypto.PubkeyToAddress(key.PublicKey), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
	})
}
