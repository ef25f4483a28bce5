package testing

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/internal/config"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
)

// TestConfig creates a valid test configuration
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.URLs = []string{"http://localhost:8545"}
	cfg.PrivateKey = "0x" + TestPrivateKey
	cfg.SubAccounts = 3
	cfg.TxPerAccount = 100
	cfg.BatchSize = 10
	cfg.RetryInitial = time.Millisecond
	cfg.RetryMax = 10 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.Timeout = 30 * time.Second
	return cfg
}

// TestConfigERC20 creates a test configuration for ERC20 transfer mode
func TestConfigERC20(t *testing.T) *config.Config {
	t.Helper()
	cfg := TestConfig(t)
	cfg.Mode = "ERC20_TRANSFER"
	cfg.Contract = "0x1234567890123456789012345678901234567890"
	cfg.GasLimit = 65000
	return cfg
}

// TestBatch signs count self-transfers from key starting at startNonce
func TestBatch(t *testing.T, key *ecdsa.PrivateKey, startNonce uint64, count int) []*txbuilder.SignedTx {
	t.Helper()
	return TestBatchTo(t, key, common.Address{}, startNonce, count)
}

// TestBatchTo signs count transfers from key to recipient starting at startNonce
func TestBatchTo(t *testing.T, key *ecdsa.PrivateKey, recipient common.Address, startNonce uint64, count int) []*txbuilder.SignedTx {
	t.Helper()
	b := &txbuilder.BatchBuilder{ChainID: TestChainID, GasPrice: Gwei(1)}
	payload := txbuilder.NewTransferPayload(nil, 0).WithRecipient(recipient)
	batch, err := b.BuildBatch(context.Background(), key, startNonce, count, payload)
	if err != nil {
		t.Fatalf("failed to build test batch: %v", err)
	}
	return batch
}
