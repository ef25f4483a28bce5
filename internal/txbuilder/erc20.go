package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/internal/config"
)

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20Payload calls transfer(address,uint256) on a token contract
type ERC20Payload struct {
	token     common.Address
	recipient common.Address // If zero, transfers to self
	amount    *big.Int
	gasLimit  uint64
	abi       abi.ABI
}

// NewERC20Payload creates an ERC20 transfer payload on token
func NewERC20Payload(token common.Address, gasLimit uint64) (*ERC20Payload, error) {
	if token == (common.Address{}) {
		return nil, fmt.Errorf("token address is required")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	if gasLimit == 0 {
		// ERC20 transfer typically costs around 65000 gas
		gasLimit = 65000
	}
	return &ERC20Payload{
		token:    token,
		amount:   big.NewInt(1),
		gasLimit: gasLimit,
		abi:      parsed,
	}, nil
}

// WithRecipient sets the recipient address
func (p *ERC20Payload) WithRecipient(addr common.Address) *ERC20Payload {
	cp := *p
	cp.recipient = addr
	return &cp
}

// WithAmount sets the transfer amount in token units
func (p *ERC20Payload) WithAmount(amount *big.Int) *ERC20Payload {
	cp := *p
	cp.amount = amount
	return &cp
}

// Call implements Payload
func (p *ERC20Payload) Call(from common.Address) (common.Address, *big.Int, []byte) {
	recipient := p.recipient
	if recipient == (common.Address{}) {
		recipient = from
	}
	// Pack only fails on argument type mismatch, which the fixed signature rules out
	data, _ := p.abi.Pack("transfer", recipient, p.amount)
	return p.token, new(big.Int), data
}

// Gas implements Payload
func (p *ERC20Payload) Gas() uint64 {
	return p.gasLimit
}

// Name returns the payload name
func (p *ERC20Payload) Name() string {
	return string(config.ModeERC20Transfer)
}

// Token returns the token contract address
func (p *ERC20Payload) Token() common.Address {
	return p.token
}
