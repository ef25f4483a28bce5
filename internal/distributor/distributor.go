package distributor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/0xmhha/tpsbench/internal/logging"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/internal/util/progress"
)

var (
	ErrInsufficientFunds = errors.New("insufficient distributor funds")
	ErrNoAccountsToFund  = errors.New("no accounts to fund")
	ErrFundingTimeout    = errors.New("timeout waiting for funding confirmation")
)

// transferGas is the gas limit of a plain value transfer
const transferGas = 21000

// Client interface for blockchain operations
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// Distributor tops up sender accounts from the funder account
type Distributor struct {
	client       Client
	config       *Config
	chainID      *big.Int
	limiter      ratelimit.Limiter
	logger       *zap.Logger
	showProgress bool
}

// Option configures a Distributor
type Option func(*Distributor)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Distributor) { d.logger = logging.OrNop(l) }
}

// WithProgress toggles the console progress bars
func WithProgress(enabled bool) Option {
	return func(d *Distributor) { d.showProgress = enabled }
}

// New creates a new Distributor instance
func New(client Client, config *Config, opts ...Option) *Distributor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SendRate <= 0 {
		config.SendRate = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}

	d := &Distributor{
		client:       client,
		config:       config,
		limiter:      ratelimit.New(config.SendRate),
		logger:       zap.NewNop(),
		showProgress: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Distributor) newBar(max int, description string) *progressbar.ProgressBar {
	return progress.New(max, description, d.showProgress)
}

// Distribute funds every sender whose balance is below its batch cost
func (d *Distributor) Distribute(
	ctx context.Context,
	funderKey *ecdsa.PrivateKey,
	senders []common.Address,
) (*DistributionResult, error) {
	if len(senders) == 0 {
		return nil, ErrNoAccountsToFund
	}

	if d.chainID == nil {
		chainID, err := d.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		d.chainID = chainID
	}

	if d.config.GasPrice == nil || d.config.GasPrice.Sign() == 0 {
		gasPrice, err := d.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		d.config.GasPrice = gasPrice
	}

	requiredFund := d.config.CalculateRequiredFund()
	d.logger.Info("starting fund distribution",
		zap.Int("accounts", len(senders)),
		zap.Stringer("required_per_account", requiredFund),
		zap.Uint64("gas_per_tx", d.config.GasPerTx),
		zap.Int("txs_per_account", d.config.TxsPerAccount),
		zap.Int("buffer_percent", d.config.BufferPercent),
	)

	statuses, err := d.checkBalances(ctx, senders, requiredFund)
	if err != nil {
		return nil, fmt.Errorf("failed to check balances: %w", err)
	}

	var funded, unfunded []*AccountStatus
	for _, status := range statuses {
		if status.IsFunded {
			funded = append(funded, status)
		} else {
			unfunded = append(unfunded, status)
		}
	}

	if len(unfunded) == 0 {
		d.logger.Info("all accounts already funded", zap.Int("accounts", len(funded)))
		return &DistributionResult{
			ReadyAccounts:    funded,
			TotalDistributed: big.NewInt(0),
		}, nil
	}

	// Smallest shortfall first funds the most accounts
	sort.SliceStable(unfunded, func(i, j int) bool {
		return unfunded[i].MissingFund.Cmp(unfunded[j].MissingFund) < 0
	})

	result, err := d.fundAccounts(ctx, funderKey, unfunded)
	if err != nil {
		return nil, err
	}

	result.ReadyAccounts = append(funded, result.ReadyAccounts...)
	return result, nil
}

// checkBalances reads the balance and nonce of every account
func (d *Distributor) checkBalances(
	ctx context.Context,
	accounts []common.Address,
	requiredFund *big.Int,
) ([]*AccountStatus, error) {
	bar := d.newBar(len(accounts), "checking balances")
	statuses := make([]*AccountStatus, 0, len(accounts))

	for _, addr := range accounts {
		balance, err := d.client.BalanceAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance for %s: %w", addr.Hex(), err)
		}

		nonce, err := d.client.PendingNonceAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce for %s: %w", addr.Hex(), err)
		}

		status := &AccountStatus{
			Address:      addr,
			Balance:      balance,
			RequiredFund: requiredFund,
			Nonce:        nonce,
			MissingFund:  big.NewInt(0),
		}
		if balance.Cmp(requiredFund) >= 0 {
			status.IsFunded = true
		} else {
			status.MissingFund = new(big.Int).Sub(requiredFund, balance)
		}

		statuses = append(statuses, status)
		progress.Add(bar, 1, d.logger)
	}

	return statuses, nil
}

// fundAccounts sends one nonce-sequenced transfer per account the funder can afford
func (d *Distributor) fundAccounts(
	ctx context.Context,
	funderKey *ecdsa.PrivateKey,
	unfunded []*AccountStatus,
) (*DistributionResult, error) {
	funderAddr := crypto.PubkeyToAddress(funderKey.PublicKey)

	funderBalance, err := d.client.BalanceAt(ctx, funderAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get funder balance: %w", err)
	}

	gasPrice := new(big.Int).Set(d.config.GasPrice)
	transferCost := new(big.Int).Mul(gasPrice, big.NewInt(transferGas))

	fundable := make([]*AccountStatus, 0, len(unfunded))
	remaining := new(big.Int).Set(funderBalance)
	total := big.NewInt(0)

	for _, account := range unfunded {
		cost := new(big.Int).Add(account.MissingFund, transferCost)
		if remaining.Cmp(cost) < 0 {
			break
		}

		fundable = append(fundable, account)
		remaining.Sub(remaining, cost)
		total.Add(total, account.MissingFund)
	}

	if len(fundable) == 0 {
		d.logger.Error("funder cannot fund any account",
			zap.String("funder", funderAddr.Hex()),
			zap.Stringer("balance", funderBalance),
			zap.Stringer("minimum_needed", unfunded[0].MissingFund),
		)
		return nil, ErrInsufficientFunds
	}

	// One nonce fetch, then strictly sequential nonces
	nonce, err := d.client.PendingNonceAt(ctx, funderAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get funder nonce: %w", err)
	}

	builder := txbuilder.NewTransferBuilder(&txbuilder.BuilderConfig{
		ChainID:  d.chainID,
		GasLimit: transferGas,
		GasPrice: gasPrice,
	}, nil)

	d.logger.Info("funding accounts",
		zap.String("funder", funderAddr.Hex()),
		zap.Stringer("funder_balance", funderBalance),
		zap.Int("accounts", len(fundable)),
	)
	bar := d.newBar(len(fundable), "funding accounts")

	ready := make([]*AccountStatus, 0, len(fundable))
	for _, account := range fundable {
		signed, err := builder.BuildSingle(ctx, funderKey, nonce, account.Address, account.MissingFund)
		if err != nil {
			return nil, fmt.Errorf("failed to build funding tx: %w", err)
		}

		d.limiter.Take()
		if err := d.client.SendTransaction(ctx, signed.Tx); err != nil {
			return nil, fmt.Errorf("failed to send funding tx to %s: %w", account.Address.Hex(), err)
		}
		d.logger.Debug("funding tx sent",
			zap.String("to", account.Address.Hex()),
			zap.Uint64("nonce", nonce),
			zap.Stringer("value", account.MissingFund),
		)
		nonce++

		account.IsFunded = true
		account.Balance = new(big.Int).Add(account.Balance, account.MissingFund)
		ready = append(ready, account)
		progress.Add(bar, 1, d.logger)
	}

	result := &DistributionResult{
		ReadyAccounts:    ready,
		UnfundedAccounts: append([]*AccountStatus(nil), unfunded[len(fundable):]...),
		TotalDistributed: total,
		TxCount:          len(ready),
	}

	d.logger.Info("funding transactions sent",
		zap.Int("funded", len(ready)),
		zap.Stringer("total_distributed", total),
	)
	if len(result.UnfundedAccounts) > 0 {
		d.logger.Warn("some accounts could not be funded, insufficient funder balance",
			zap.Int("unfunded", len(result.UnfundedAccounts)))
	}

	return result, nil
}

// WaitForFunding polls balances until every account holds its required fund
func (d *Distributor) WaitForFunding(
	ctx context.Context,
	accounts []*AccountStatus,
	timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bar := d.newBar(len(accounts), "confirming")
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for _, account := range accounts {
		for {
			balance, err := d.client.BalanceAt(ctx, account.Address, nil)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %s", ErrFundingTimeout, account.Address.Hex())
				}
				return fmt.Errorf("failed to check balance: %w", err)
			}
			if balance.Cmp(account.RequiredFund) >= 0 {
				account.Balance = balance
				progress.Add(bar, 1, d.logger)
				break
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", ErrFundingTimeout, account.Address.Hex())
			case <-ticker.C:
			}
		}
	}

	d.logger.Info("all funding transactions confirmed", zap.Int("accounts", len(accounts)))
	return nil
}

// GetAccountNonces fetches the current nonce for each account
func (d *Distributor) GetAccountNonces(
	ctx context.Context,
	accounts []*AccountStatus,
) ([]uint64, error) {
	nonces := make([]uint64, len(accounts))

	for i, account := range accounts {
		nonce, err := d.client.PendingNonceAt(ctx, account.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce for %s: %w", account.Address.Hex(), err)
		}
		nonces[i] = nonce
		account.Nonce = nonce
	}

	return nonces, nil
}
