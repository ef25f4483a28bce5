package distributor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/0xmhha/tpsbench/internal/testing"
	"github.com/0xmhha/tpsbench/internal/wallet"
)

// recordingChain forwards to a StubChain, keeps every funding transfer and
// can fail individual calls
type recordingChain struct {
	*testutil.StubChain

	sent       []*gethtypes.Transaction
	sendErr    error
	balanceErr error
	nonceErr   error
}

func newRecordingChain() *recordingChain {
	return &recordingChain{StubChain: testutil.NewStubChain()}
}

func (c *recordingChain) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return c.StubChain.BalanceAt(ctx, account, block)
}

func (c *recordingChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if c.nonceErr != nil {
		return 0, c.nonceErr
	}
	return c.StubChain.PendingNonceAt(ctx, account)
}

func (c *recordingChain) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	if err := c.StubChain.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.sent = append(c.sent, tx)
	return nil
}

func funder(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key := testutil.MustParseKey(t, testutil.TestPrivateKey)
	return key, testutil.AddressFromKey(key)
}

func senders(t *testing.T, n int) []common.Address {
	t.Helper()
	keys, err := wallet.GenerateBenchKeys("distributor-test", n)
	require.NoError(t, err)
	return wallet.Addresses(keys)
}

// batchConfig is ten 21000 gas transfers at 1 gwei plus a 20% buffer:
// 252000 gwei per sender, 273000 gwei per funding transfer
func batchConfig() *Config {
	return &Config{
		GasPerTx:      21000,
		TxsPerAccount: 10,
		GasPrice:      testutil.Gwei(1),
		BufferPercent: 20,
		SendRate:      1000,
		PollInterval:  time.Millisecond,
	}
}

func fundingCost(cfg *Config) *big.Int {
	transfer := new(big.Int).Mul(cfg.GasPrice, big.NewInt(transferGas))
	return transfer.Add(transfer, cfg.CalculateRequiredFund())
}

func TestConfig_CalculateRequiredFund(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want *big.Int
	}{
		{
			name: "transfer batch with buffer",
			cfg:  Config{GasPerTx: 21000, TxsPerAccount: 10, GasPrice: testutil.Gwei(1), BufferPercent: 20},
			want: testutil.Gwei(252000),
		},
		{
			name: "no buffer",
			cfg:  Config{GasPerTx: 21000, TxsPerAccount: 10, GasPrice: testutil.Gwei(1)},
			want: testutil.Gwei(210000),
		},
		{
			name: "token transfers",
			cfg:  Config{GasPerTx: 100000, TxsPerAccount: 5, GasPrice: testutil.Gwei(2), BufferPercent: 10},
			want: testutil.Gwei(1100000),
		},
		{
			name: "value carried per tx",
			cfg:  Config{GasPerTx: 21000, TxsPerAccount: 10, GasPrice: testutil.Gwei(1), ValuePerTx: big.NewInt(1)},
			want: new(big.Int).Add(testutil.Gwei(210000), big.NewInt(10)),
		},
		{
			name: "unknown gas price counts value only",
			cfg:  Config{GasPerTx: 21000, TxsPerAccount: 4, ValuePerTx: big.NewInt(3)},
			want: big.NewInt(21000*4 + 3*4),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.CalculateRequiredFund()
			assert.Zero(t, tt.want.Cmp(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(newRecordingChain(), nil)
	assert.Equal(t, uint64(21000), d.config.GasPerTx)
	assert.Equal(t, 20, d.config.BufferPercent)
	assert.True(t, d.showProgress)

	d = New(newRecordingChain(), &Config{GasPerTx: 50000}, WithProgress(false))
	assert.Equal(t, uint64(50000), d.config.GasPerTx)
	assert.Equal(t, 100, d.config.SendRate)
	assert.Equal(t, 500*time.Millisecond, d.config.PollInterval)
	assert.False(t, d.showProgress)
}

func TestDistributor_NoAccounts(t *testing.T) {
	key, _ := funder(t)
	d := New(newRecordingChain(), batchConfig(), WithProgress(false))

	_, err := d.Distribute(context.Background(), key, nil)
	assert.ErrorIs(t, err, ErrNoAccountsToFund)
}

func TestDistributor_SkipsFundedAccounts(t *testing.T) {
	chain := newRecordingChain()
	key, _ := funder(t)
	accounts := senders(t, 2)
	for _, addr := range accounts {
		chain.SetBalance(addr, testutil.Ether(1))
	}

	d := New(chain, batchConfig(), WithProgress(false))
	result, err := d.Distribute(context.Background(), key, accounts)
	require.NoError(t, err)

	assert.Len(t, result.ReadyAccounts, 2)
	assert.Empty(t, result.UnfundedAccounts)
	assert.Zero(t, result.TxCount)
	assert.Zero(t, result.TotalDistributed.Sign())
	assert.Empty(t, chain.sent)
}

func TestDistributor_FundsShortfallOnly(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	chain.SetBalance(funderAddr, testutil.Ether(10))

	cfg := batchConfig()
	required := cfg.CalculateRequiredFund()
	accounts := senders(t, 3)
	half := new(big.Int).Div(required, big.NewInt(2))
	chain.SetBalance(accounts[0], testutil.Ether(1))
	chain.SetBalance(accounts[1], half)

	d := New(chain, cfg, WithProgress(false))
	result, err := d.Distribute(context.Background(), key, accounts)
	require.NoError(t, err)

	assert.Len(t, result.ReadyAccounts, 3)
	assert.Equal(t, 2, result.TxCount)
	require.Len(t, chain.sent, 2)

	// smallest shortfall is funded first
	assert.Equal(t, accounts[1], *chain.sent[0].To())
	assert.Zero(t, new(big.Int).Sub(required, half).Cmp(chain.sent[0].Value()))
	assert.Equal(t, accounts[2], *chain.sent[1].To())
	assert.Zero(t, required.Cmp(chain.sent[1].Value()))

	want := new(big.Int).Sub(new(big.Int).Mul(required, big.NewInt(2)), half)
	assert.Zero(t, want.Cmp(result.TotalDistributed))

	for _, addr := range accounts[1:] {
		bal, err := chain.BalanceAt(context.Background(), addr, nil)
		require.NoError(t, err)
		assert.Zero(t, required.Cmp(bal))
	}
}

func TestDistributor_InsufficientFunds(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	chain.SetBalance(funderAddr, big.NewInt(1000))

	d := New(chain, batchConfig(), WithProgress(false))
	_, err := d.Distribute(context.Background(), key, senders(t, 1))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, chain.sent)
}

func TestDistributor_PartialFunding(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	cfg := batchConfig()

	// enough for exactly two transfers
	balance := new(big.Int).Mul(fundingCost(cfg), big.NewInt(2))
	chain.SetBalance(funderAddr, balance.Add(balance, big.NewInt(1)))

	accounts := senders(t, 5)
	d := New(chain, cfg, WithProgress(false))
	result, err := d.Distribute(context.Background(), key, accounts)
	require.NoError(t, err)

	require.Len(t, result.ReadyAccounts, 2)
	require.Len(t, result.UnfundedAccounts, 3)
	assert.Equal(t, 2, result.TxCount)
	assert.Equal(t, accounts[0], result.ReadyAccounts[0].Address)
	assert.Equal(t, accounts[1], result.ReadyAccounts[1].Address)
	for _, status := range result.UnfundedAccounts {
		assert.False(t, status.IsFunded)
		assert.Zero(t, status.MissingFund.Cmp(status.RequiredFund))
	}
}

func TestDistributor_SequentialNoncesAndSuggestedPrice(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	chain.SetBalance(funderAddr, testutil.Ether(10))

	cfg := batchConfig()
	cfg.GasPrice = nil
	d := New(chain, cfg, WithProgress(false))

	_, err := d.Distribute(context.Background(), key, senders(t, 2))
	require.NoError(t, err)

	// a second round continues from the pool nonce
	more, err := wallet.GenerateBenchKeys("distributor-test-more", 2)
	require.NoError(t, err)
	_, err = d.Distribute(context.Background(), key, wallet.Addresses(more))
	require.NoError(t, err)

	suggested, err := chain.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	signer := gethtypes.LatestSignerForChainID(testutil.TestChainID)

	require.Len(t, chain.sent, 4)
	for i, tx := range chain.sent {
		assert.Equal(t, uint64(i), tx.Nonce())
		assert.Zero(t, suggested.Cmp(tx.GasPrice()))
		assert.Equal(t, uint64(transferGas), tx.Gas())

		from, err := gethtypes.Sender(signer, tx)
		require.NoError(t, err)
		assert.Equal(t, funderAddr, from)
	}
}

func TestDistributor_ClientErrors(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name   string
		inject func(c *recordingChain)
	}{
		{"balance", func(c *recordingChain) { c.balanceErr = boom }},
		{"nonce", func(c *recordingChain) { c.nonceErr = boom }},
		{"send", func(c *recordingChain) { c.sendErr = boom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newRecordingChain()
			key, funderAddr := funder(t)
			chain.SetBalance(funderAddr, testutil.Ether(10))
			tt.inject(chain)

			d := New(chain, batchConfig(), WithProgress(false))
			_, err := d.Distribute(context.Background(), key, senders(t, 1))
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestDistributor_GetAccountNonces(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	chain.SetBalance(funderAddr, testutil.Ether(10))

	accounts := []*AccountStatus{{Address: funderAddr}, {Address: senders(t, 1)[0]}}
	d := New(chain, batchConfig(), WithProgress(false))
	_, err := d.Distribute(context.Background(), key, []common.Address{accounts[1].Address})
	require.NoError(t, err)

	nonces, err := d.GetAccountNonces(context.Background(), accounts)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 0}, nonces)
	assert.Equal(t, uint64(1), accounts[0].Nonce)

	chain.nonceErr = errors.New("unavailable")
	_, err = d.GetAccountNonces(context.Background(), accounts)
	assert.Error(t, err)
}

func TestDistributor_WaitForFunding(t *testing.T) {
	chain := newRecordingChain()
	key, funderAddr := funder(t)
	chain.SetBalance(funderAddr, testutil.Ether(10))

	cfg := batchConfig()
	cfg.TxsPerAccount = 100
	d := New(chain, cfg, WithProgress(false))

	result, err := d.Distribute(context.Background(), key, senders(t, 4))
	require.NoError(t, err)
	require.Equal(t, 4, result.TxCount)

	require.NoError(t, d.WaitForFunding(context.Background(), result.ReadyAccounts, time.Second))
	assert.Equal(t, 4, chain.Accepted())
	for _, status := range result.ReadyAccounts {
		assert.GreaterOrEqual(t, status.Balance.Cmp(status.RequiredFund), 0)
	}
}

func TestDistributor_WaitForFundingTimeout(t *testing.T) {
	d := New(newRecordingChain(), batchConfig(), WithProgress(false))

	accounts := []*AccountStatus{{Address: senders(t, 1)[0], RequiredFund: big.NewInt(1)}}
	err := d.WaitForFunding(context.Background(), accounts, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrFundingTimeout)
}
