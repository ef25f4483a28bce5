package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyBatch = errors.New("batch must contain at least one transaction")

// Payload is the template every transaction of a batch is built from
type Payload interface {
	// Call returns the target, native value and calldata for a transaction sent by from
	Call(from common.Address) (to common.Address, value *big.Int, data []byte)
	// Gas returns the gas limit of one transaction
	Gas() uint64
	// Name returns the payload name
	Name() string
}

// GasEstimator interface for gas estimation
type GasEstimator interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// BaseBuilder provides common functionality for all builders
type BaseBuilder struct {
	config    *BuilderConfig
	estimator GasEstimator
}

// NewBaseBuilder creates a new base builder
func NewBaseBuilder(config *BuilderConfig, estimator GasEstimator) *BaseBuilder {
	return &BaseBuilder{
		config:    config,
		estimator: estimator,
	}
}

// GetGasSettings returns the legacy gas price, fetching from network if not configured
func (b *BaseBuilder) GetGasSettings(ctx context.Context) (*big.Int, error) {
	if b.config.GasPrice != nil {
		return b.config.GasPrice, nil
	}
	if b.estimator == nil {
		return nil, errors.New("no gas price configured and no estimator available")
	}

	price, err := b.estimator.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	// Headroom over the suggestion so a batch stays valid across a few base fee bumps
	return new(big.Int).Mul(price, big.NewInt(2)), nil
}

// BatchBuilder signs nonce-sequenced batches for one account
type BatchBuilder struct {
	ChainID  *big.Int
	GasPrice *big.Int
}

// NewBatchBuilder resolves the gas price once and returns a builder that reuses it
func NewBatchBuilder(ctx context.Context, config *BuilderConfig, estimator GasEstimator) (*BatchBuilder, error) {
	if config.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	price, err := NewBaseBuilder(config, estimator).GetGasSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &BatchBuilder{ChainID: config.ChainID, GasPrice: price}, nil
}

// BuildBatch signs count transactions from key with nonces startNonce..startNonce+count-1.
// On any failure the first error is returned and no transactions.
func (b *BatchBuilder) BuildBatch(ctx context.Context, key *ecdsa.PrivateKey, startNonce uint64, count int, payload Payload) ([]*SignedTx, error) {
	if count < 1 {
		return nil, ErrEmptyBatch
	}
	if key == nil {
		return nil, errors.New("no key provided")
	}
	if payload == nil {
		return nil, errors.New("no payload provided")
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(b.ChainID)
	gasLimit := payload.Gas()

	batch := make([]*SignedTx, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nonce := startNonce + uint64(i)
		to, value, data := payload.Call(from)

		stx, err := signLegacy(signer, key, from, &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: b.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
		if err != nil {
			return nil, err
		}
		batch = append(batch, stx)
	}

	return batch, nil
}

// signLegacy signs an EIP-155 protected legacy (type 0) transaction and encodes it
func signLegacy(signer types.Signer, key *ecdsa.PrivateKey, from common.Address, inner *types.LegacyTx) (*SignedTx, error) {
	signed, err := types.SignTx(types.NewTx(inner), signer, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with nonce %d: %w", inner.Nonce, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction with nonce %d: %w", inner.Nonce, err)
	}
	return &SignedTx{
		Tx:       signed,
		RawTx:    raw,
		Hash:     signed.Hash(),
		From:     from,
		Nonce:    inner.Nonce,
		GasLimit: inner.Gas,
	}, nil
}
