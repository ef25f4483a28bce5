package testing

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

func TestGenerateTestKeys(t *testing.T) {
	keys := GenerateTestKeys(t, 5)
	if len(keys) != 5 {
		t.Errorf("Expected 5 keys, got %d", len(keys))
	}

	// Verify all keys are unique
	seen := make(map[string]bool)
	for i, key := range keys {
		addr := AddressFromKey(key).Hex()
		if seen[addr] {
			t.Errorf("Key %d has duplicate address", i)
		}
		seen[addr] = true
	}
}

func TestMustParseKey(t *testing.T) {
	key1 := MustParseKey(t, "0x"+TestPrivateKey)
	key2 := MustParseKey(t, TestPrivateKey)

	if AddressFromKey(key1) != AddressFromKey(key2) {
		t.Errorf("Keys should produce same address: %s vs %s", AddressFromKey(key1).Hex(), AddressFromKey(key2).Hex())
	}
}

func TestFunderAddress(t *testing.T) {
	if got, want := FunderAddress(t), AddressFromKey(MustParseKey(t, TestPrivateKey)); got != want {
		t.Errorf("FunderAddress() = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestUnits(t *testing.T) {
	if Ether(5).Cmp(new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))) != 0 {
		t.Errorf("5 ether mismatch: %s", Ether(5))
	}
	if Gwei(100).Cmp(big.NewInt(100e9)) != 0 {
		t.Errorf("100 gwei mismatch: %s", Gwei(100))
	}
}

func TestTestBatch(t *testing.T) {
	key := MustParseKey(t, TestPrivateKey)
	batch := TestBatch(t, key, 7, 4)

	if len(batch) != 4 {
		t.Fatalf("Expected 4 txs, got %d", len(batch))
	}
	for i, tx := range batch {
		if tx.Nonce != uint64(7+i) {
			t.Errorf("tx[%d].Nonce = %d, want %d", i, tx.Nonce, 7+i)
		}
	}
}

func TestStubChain_IncludesAndFinalizes(t *testing.T) {
	chain := StartStubChain(t, WithFinalityDepth(2))

	key := MustParseKey(t, TestPrivateKey)
	batch := TestBatch(t, key, 0, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs, err := chain.BatchSendRawTransactions(ctx, [][]byte{batch[0].RawTx, batch[1].RawTx})
	if err != nil || errs[0] != nil || errs[1] != nil {
		t.Fatalf("BatchSendRawTransactions() = %v, %v", errs, err)
	}

	w, err := chain.SubmitAndWatch(ctx, batch[2])
	if err != nil {
		t.Fatalf("SubmitAndWatch() error: %v", err)
	}

	included, err := w.Included(ctx)
	if err != nil {
		t.Fatalf("Included() error: %v", err)
	}
	finalized, err := w.Finalized(ctx)
	if err != nil {
		t.Fatalf("Finalized() error: %v", err)
	}
	if included != finalized {
		t.Errorf("Finalized() = %v, want inclusion block %v", finalized, included)
	}

	summary, err := chain.BlockSummary(ctx, included.Hash)
	if err != nil {
		t.Fatalf("BlockSummary() error: %v", err)
	}
	if summary.Transactions == 0 {
		t.Error("including block reports no transactions")
	}

	nonce, _ := chain.CurrentNonce(ctx, AddressFromKey(key))
	if nonce != 3 {
		t.Errorf("CurrentNonce() = %d, want 3", nonce)
	}
	if chain.Accepted() != 3 {
		t.Errorf("Accepted() = %d, want 3", chain.Accepted())
	}
}

func TestStubChain_FailureInjection(t *testing.T) {
	chain := NewStubChain()
	key := MustParseKey(t, TestPrivateKey)
	batch := TestBatch(t, key, 0, 3)
	ctx := context.Background()

	chain.FailSubmissions(1)
	if _, err := chain.SubmitAndWatch(ctx, batch[0]); !errors.Is(err, ErrStubSubmit) {
		t.Errorf("SubmitAndWatch() error = %v, want ErrStubSubmit", err)
	}
	if _, err := chain.SubmitAndWatch(ctx, batch[0]); err != nil {
		t.Errorf("SubmitAndWatch() after injected failure: %v", err)
	}
	// resubmission of a pooled tx is tolerated
	if _, err := chain.SubmitAndWatch(ctx, batch[0]); err != nil {
		t.Errorf("SubmitAndWatch() of known tx: %v", err)
	}

	chain.RejectWhen(func(tx *gethtypes.Transaction) error {
		if tx.Nonce() == 1 {
			return errors.New("nonce rejected")
		}
		return nil
	})
	if _, err := chain.SendRawTransaction(ctx, batch[1].RawTx); err == nil {
		t.Error("SendRawTransaction() expected rejection")
	}
	if _, err := chain.SendRawTransaction(ctx, batch[2].RawTx); err != nil {
		t.Errorf("SendRawTransaction() error: %v", err)
	}
	if chain.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", chain.Rejected())
	}
}

func TestStubChain_Subscriptions(t *testing.T) {
	chain := NewStubChain(WithFinalityDepth(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	best, _ := chain.SubscribeBestHeads(ctx)
	finalized, _ := chain.SubscribeFinalizedHeads(ctx)

	chain.ProduceBlock()
	chain.ProduceBlock()

	if h := <-best; h.Number.Uint64() != 1 {
		t.Errorf("first best head = %d, want 1", h.Number.Uint64())
	}
	if h := <-best; h.Number.Uint64() != 2 {
		t.Errorf("second best head = %d, want 2", h.Number.Uint64())
	}
	if h := <-finalized; h.Number.Uint64() != 0 {
		t.Errorf("first finalized head = %d, want 0", h.Number.Uint64())
	}
	if h := <-finalized; h.Number.Uint64() != 1 {
		t.Errorf("second finalized head = %d, want 1", h.Number.Uint64())
	}

	cancel()
	for range best {
	}
}

func TestStubChain_Parents(t *testing.T) {
	chain := NewStubChain()
	for i := 0; i < 5; i++ {
		chain.ProduceBlock()
	}

	head := chain.Head()
	if head.Number != 5 {
		t.Fatalf("Head() = %d, want 5", head.Number)
	}

	s, err := chain.BlockSummary(context.Background(), head.Hash)
	if err != nil {
		t.Fatalf("BlockSummary() error: %v", err)
	}
	if s.ParentHash != chain.RefAt(4).Hash {
		t.Error("parent hash does not link to previous block")
	}
}
