package client

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// fakeEth serves the subset of the eth namespace the client uses
type fakeEth struct {
	mu        sync.Mutex
	canonical []*gethtypes.Header
	byHash    map[common.Hash]*gethtypes.Header
	txCount   map[common.Hash]uint
	receipts  map[common.Hash][]types.BlockRef // consumed front to back, last entry sticks
	finalized uint64
	nonces    map[common.Address]uint64
	reject    map[common.Hash]error
	sent      []common.Hash
}

func newFakeEth(blocks int) *fakeEth {
	f := &fakeEth{
		byHash:   make(map[common.Hash]*gethtypes.Header),
		txCount:  make(map[common.Hash]uint),
		receipts: make(map[common.Hash][]types.BlockRef),
		nonces:   make(map[common.Address]uint64),
		reject:   make(map[common.Hash]error),
	}
	for i := 0; i < blocks; i++ {
		f.appendBlock(0, uint(i))
	}
	return f
}

func (f *fakeEth) newHeader(number uint64, parent common.Hash, fork byte) *gethtypes.Header {
	return &gethtypes.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Time:       1_700_000_000 + number*2,
		Extra:      []byte{fork},
	}
}

func (f *fakeEth) appendBlock(fork byte, txs uint) *gethtypes.Header {
	var parent common.Hash
	if n := len(f.canonical); n > 0 {
		parent = f.canonical[n-1].Hash()
	}
	h := f.newHeader(uint64(len(f.canonical)), parent, fork)
	f.canonical = append(f.canonical, h)
	f.byHash[h.Hash()] = h
	f.txCount[h.Hash()] = txs
	return h
}

// replaceBlock swaps the canonical header at number for a sibling
func (f *fakeEth) replaceBlock(number uint64, fork byte) *gethtypes.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.newHeader(number, f.canonical[number].ParentHash, fork)
	f.canonical[number] = h
	f.byHash[h.Hash()] = h
	return h
}

func (f *fakeEth) setReceipts(hash common.Hash, refs ...types.BlockRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = refs
}

func (f *fakeEth) setFinalized(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = n
}

func (f *fakeEth) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reject[tx.Hash()]; err != nil {
		return common.Hash{}, err
	}
	f.sent = append(f.sent, tx.Hash())
	return tx.Hash(), nil
}

func (f *fakeEth) GetTransactionReceipt(hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := f.receipts[hash]
	if len(refs) == 0 {
		return nil, nil
	}
	ref := refs[0]
	if len(refs) > 1 {
		f.receipts[hash] = refs[1:]
	}
	return &gethtypes.Receipt{
		Status:            gethtypes.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		Logs:              []*gethtypes.Log{},
		TxHash:            hash,
		BlockHash:         ref.Hash,
		BlockNumber:       new(big.Int).SetUint64(ref.Number),
	}, nil
}

func (f *fakeEth) GetBlockByNumber(number rpc.BlockNumber, _ bool) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch number {
	case rpc.LatestBlockNumber, rpc.PendingBlockNumber:
		return f.canonical[len(f.canonical)-1], nil
	case rpc.FinalizedBlockNumber, rpc.SafeBlockNumber:
		return f.canonical[f.finalized], nil
	}
	if int(number) >= len(f.canonical) {
		return nil, nil
	}
	return f.canonical[number], nil
}

func (f *fakeEth) GetBlockByHash(hash common.Hash, _ bool) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHash[hash], nil
}

func (f *fakeEth) GetBlockTransactionCountByHash(hash common.Hash) (*hexutil.Uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byHash[hash]; !ok {
		return nil, nil
	}
	n := hexutil.Uint(f.txCount[hash])
	return &n, nil
}

func (f *fakeEth) GetTransactionCount(addr common.Address, _ string) (hexutil.Uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return hexutil.Uint64(f.nonces[addr]), nil
}

func newTestClient(t *testing.T, f *fakeEth) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", f))
	t.Cleanup(server.Stop)

	c := NewWithRPC("http://inproc", rpc.DialInProc(server), WithPollInterval(5*time.Millisecond))
	t.Cleanup(c.Close)
	return c
}

func testBatch(t *testing.T, count int) []*txbuilder.SignedTx {
	t.Helper()
	key, err := crypto.HexToECDSA("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	b := &txbuilder.BatchBuilder{ChainID: big.NewInt(1337), GasPrice: big.NewInt(1)}
	batch, err := b.BuildBatch(context.Background(), key, 0, count, txbuilder.NewTransferPayload(nil, 0))
	require.NoError(t, err)
	return batch
}

func TestClient_CurrentNonce(t *testing.T) {
	f := newFakeEth(1)
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	f.nonces[addr] = 42

	nonce, err := newTestClient(t, f).CurrentNonce(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestClient_SendRawTransaction(t *testing.T) {
	f := newFakeEth(1)
	c := newTestClient(t, f)
	tx := testBatch(t, 1)[0]

	hash, err := c.SendRawTransaction(context.Background(), tx.RawTx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, hash)
}

func TestClient_BatchSendRawTransactions(t *testing.T) {
	f := newFakeEth(1)
	c := newTestClient(t, f)
	batch := testBatch(t, 3)
	f.reject[batch[1].Hash] = errors.New("nonce too low")

	raws := make([][]byte, len(batch))
	for i, tx := range batch {
		raws[i] = tx.RawTx
	}

	errs, err := c.BatchSendRawTransactions(context.Background(), raws)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorContains(t, errs[1], "nonce too low")
	assert.NoError(t, errs[2])
	assert.Equal(t, []common.Hash{batch[0].Hash, batch[2].Hash}, f.sent)
}

func TestClient_SubmitAndWatch(t *testing.T) {
	f := newFakeEth(6)
	c := newTestClient(t, f)
	tx := testBatch(t, 1)[0]

	block := f.canonical[3]
	ref := types.BlockRef{Number: 3, Hash: block.Hash()}
	f.setReceipts(tx.Hash, ref)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := c.SubmitAndWatch(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, w.Hash())

	included, err := w.Included(ctx)
	require.NoError(t, err)
	assert.Equal(t, ref, included)

	// Finality arrives later
	go func() {
		time.Sleep(30 * time.Millisecond)
		f.setFinalized(2)
		time.Sleep(30 * time.Millisecond)
		f.setFinalized(4)
	}()

	finalized, err := w.Finalized(ctx)
	require.NoError(t, err)
	assert.Equal(t, ref, finalized)
}

func TestClient_SubmitAndWatch_Reorg(t *testing.T) {
	f := newFakeEth(5)
	c := newTestClient(t, f)
	tx := testBatch(t, 1)[0]

	stale := types.BlockRef{Number: 2, Hash: f.canonical[2].Hash()}
	replacement := f.replaceBlock(2, 1)
	fresh := types.BlockRef{Number: 2, Hash: replacement.Hash()}
	f.setReceipts(tx.Hash, stale, fresh)
	f.setFinalized(3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := c.SubmitAndWatch(ctx, tx)
	require.NoError(t, err)

	finalized, err := w.Finalized(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, finalized)
}

func TestClient_SubmitAndWatch_Errors(t *testing.T) {
	f := newFakeEth(2)
	c := newTestClient(t, f)
	batch := testBatch(t, 2)

	f.reject[batch[0].Hash] = errors.New("insufficient funds for gas * price + value")
	_, err := c.SubmitAndWatch(context.Background(), batch[0])
	assert.ErrorContains(t, err, "insufficient funds")

	// Duplicates of a pooled transaction are still watched
	f.reject[batch[1].Hash] = errors.New("already known")
	w, err := c.SubmitAndWatch(context.Background(), batch[1])
	require.NoError(t, err)

	// Never included: the watch gives up with the context
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = w.Included(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_BlockSummary(t *testing.T) {
	f := newFakeEth(4)
	c := newTestClient(t, f)
	h := f.canonical[3]

	s, err := c.BlockSummary(context.Background(), h.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.Number)
	assert.Equal(t, h.Hash(), s.Hash)
	assert.Equal(t, f.canonical[2].Hash(), s.ParentHash)
	assert.Equal(t, time.Unix(int64(h.Time), 0), s.Time)
	assert.Equal(t, 3, s.Transactions)

	_, err = c.BlockSummary(context.Background(), common.HexToHash("0xdead"))
	assert.Error(t, err)
}

func TestClient_SubscribeHeadsPolling(t *testing.T) {
	f := newFakeEth(3)
	f.setFinalized(1)
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	best, err := c.SubscribeBestHeads(ctx)
	require.NoError(t, err)
	finalized, err := c.SubscribeFinalizedHeads(ctx)
	require.NoError(t, err)

	h := <-best
	assert.Equal(t, uint64(2), h.Number.Uint64())
	h = <-finalized
	assert.Equal(t, uint64(1), h.Number.Uint64())

	f.mu.Lock()
	f.appendBlock(0, 7)
	f.mu.Unlock()
	f.setFinalized(2)

	h = <-best
	assert.Equal(t, uint64(3), h.Number.Uint64())
	h = <-finalized
	assert.Equal(t, uint64(2), h.Number.Uint64())

	cancel()
	for range best {
	}
	for range finalized {
	}
}

func TestIsKnownTransaction(t *testing.T) {
	assert.True(t, IsKnownTransaction(errors.New("already known")))
	assert.True(t, IsKnownTransaction(errors.New("Known transaction: 0xabc")))
	assert.False(t, IsKnownTransaction(errors.New("nonce too low")))
	assert.False(t, IsKnownTransaction(nil))
}

func TestPool_For(t *testing.T) {
	p := &Pool{clients: []*Client{{url: "a"}, {url: "b"}, {url: "c"}}}

	tests := []struct {
		account int
		want    string
	}{
		{0, "a"}, {1, "b"}, {2, "c"}, {3, "a"}, {10, "b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.For(tt.account).URL(), "account %d", tt.account)
	}
	assert.Equal(t, "a", p.Primary().URL())
	assert.Equal(t, 3, p.Len())

	_, err := NewPool(nil)
	assert.Error(t, err)
}
