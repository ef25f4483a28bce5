package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/internal/config"
)

// Factory creates payloads based on configuration
type Factory struct {
	mode     config.Mode
	token    common.Address
	value    *big.Int
	gasLimit uint64
}

// NewFactory creates a new payload factory
func NewFactory(mode config.Mode, token common.Address, value *big.Int, gasLimit uint64) *Factory {
	return &Factory{
		mode:     mode,
		token:    token,
		value:    value,
		gasLimit: gasLimit,
	}
}

// NewFactoryFromConfig creates a payload factory for a validated config
func NewFactoryFromConfig(cfg *config.Config) *Factory {
	var token common.Address
	if cfg.Contract != "" {
		token = common.HexToAddress(cfg.Contract)
	}
	return NewFactory(cfg.GetMode(), token, nil, cfg.GasLimit)
}

// PayloadFor returns the payload that sends to recipient
func (f *Factory) PayloadFor(recipient common.Address) (Payload, error) {
	switch f.mode {
	case config.ModeTransfer:
		return NewTransferPayload(f.value, f.gasLimit).WithRecipient(recipient), nil
	case config.ModeERC20Transfer:
		p, err := NewERC20Payload(f.token, f.gasLimit)
		if err != nil {
			return nil, err
		}
		return p.WithRecipient(recipient), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", f.mode)
	}
}
