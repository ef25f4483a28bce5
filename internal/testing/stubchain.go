package testing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/0xmhha/tpsbench/internal/client"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// ErrStubSubmit is returned by injected boundary submission failures
var ErrStubSubmit = errors.New("stub: transient submit failure")

// StubChain is an in-memory chain for tests. Once started it produces a block
// every BlockTime, including pending transactions in arrival order, and keeps
// the finalized head FinalityDepth blocks behind the best head. It satisfies
// the dispatcher, analyzer, distributor and pipeline client interfaces.
type StubChain struct {
	mu sync.Mutex

	chainID       *big.Int
	signer        gethtypes.Signer
	blockTime     time.Duration
	onChainStep   uint64
	finalityDepth uint64
	maxTxPerBlock int
	pollInterval  time.Duration
	gasPrice      *big.Int

	headers   []*gethtypes.Header
	txCounts  map[common.Hash]int
	index     map[common.Hash]int
	pending   []*gethtypes.Transaction
	known     map[common.Hash]bool
	included  map[common.Hash]types.BlockRef
	nonces    map[common.Address]uint64
	balances  map[common.Address]*big.Int
	finalized uint64

	rejectSend     func(tx *gethtypes.Transaction) error
	stallFinality  func(tx *txbuilder.SignedTx) bool
	stalled        map[common.Hash]bool
	submitFailures int
	accepted       int
	rejected       int

	bestSubs []chan *gethtypes.Header
	finSubs  []chan *gethtypes.Header

	stop chan struct{}
	done chan struct{}
}

// StubOption configures a StubChain
type StubOption func(*StubChain)

// WithBlockTime sets the wall-clock interval between produced blocks
func WithBlockTime(d time.Duration) StubOption {
	return func(c *StubChain) { c.blockTime = d }
}

// WithFinalityDepth sets how many blocks the finalized head trails the best head
func WithFinalityDepth(n uint64) StubOption {
	return func(c *StubChain) { c.finalityDepth = n }
}

// WithMaxTxPerBlock caps transactions per block
func WithMaxTxPerBlock(n int) StubOption {
	return func(c *StubChain) { c.maxTxPerBlock = n }
}

// NewStubChain creates a chain holding only a genesis block
func NewStubChain(opts ...StubOption) *StubChain {
	c := &StubChain{
		chainID:       new(big.Int).Set(TestChainID),
		blockTime:     5 * time.Millisecond,
		onChainStep:   2,
		finalityDepth: 2,
		maxTxPerBlock: 1000,
		pollInterval:  time.Millisecond,
		gasPrice:      big.NewInt(1e9),
		txCounts:      make(map[common.Hash]int),
		index:         make(map[common.Hash]int),
		known:         make(map[common.Hash]bool),
		included:      make(map[common.Hash]types.BlockRef),
		nonces:        make(map[common.Address]uint64),
		balances:      make(map[common.Address]*big.Int),
		stalled:       make(map[common.Hash]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = gethtypes.LatestSignerForChainID(c.chainID)
	c.appendHeader(0)
	return c
}

// Start begins block production; Stop ends it
func (c *StubChain) Start() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.blockTime)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.ProduceBlock()
			}
		}
	}()
}

// Stop halts block production and closes every subscription
func (c *StubChain) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range append(c.bestSubs, c.finSubs...) {
		close(ch)
	}
	c.bestSubs, c.finSubs = nil, nil
}

// ProduceBlock seals one block from the pending pool and advances finality
func (c *StubChain) ProduceBlock() *gethtypes.Header {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	if n > c.maxTxPerBlock {
		n = c.maxTxPerBlock
	}
	txs := c.pending[:n]
	c.pending = c.pending[n:]

	h := c.appendHeader(len(txs))
	ref := types.BlockRef{Number: h.Number.Uint64(), Hash: h.Hash()}
	for _, tx := range txs {
		c.included[tx.Hash()] = ref
	}
	notify(c.bestSubs, h)

	if ref.Number >= c.finalityDepth {
		if fin := ref.Number - c.finalityDepth; fin > c.finalized || (fin == 0 && c.finalized == 0) {
			c.finalized = fin
			notify(c.finSubs, c.headers[fin])
		}
	}
	return h
}

// appendHeader must be called with mu held
func (c *StubChain) appendHeader(txs int) *gethtypes.Header {
	number := uint64(len(c.headers))
	var parent common.Hash
	if number > 0 {
		parent = c.headers[number-1].Hash()
	}
	h := &gethtypes.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Time:       1_700_000_000 + number*c.onChainStep,
	}
	c.headers = append(c.headers, h)
	c.index[h.Hash()] = int(number)
	c.txCounts[h.Hash()] = txs
	return h
}

func notify(subs []chan *gethtypes.Header, h *gethtypes.Header) {
	for _, ch := range subs {
		select {
		case ch <- h:
		default:
		}
	}
}

// RejectWhen makes SendRawTransaction and batches reject every tx fn returns an error for
func (c *StubChain) RejectWhen(fn func(tx *gethtypes.Transaction) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectSend = fn
}

// StallFinalityWhen makes watches of every tx fn matches report inclusion but
// never finality, like a tail stuck behind a nonce gap on a real node
func (c *StubChain) StallFinalityWhen(fn func(tx *txbuilder.SignedTx) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallFinality = fn
}

// FailSubmissions makes the next n SubmitAndWatch calls fail before reaching the pool
func (c *StubChain) FailSubmissions(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitFailures = n
}

// SetBalance sets the balance of addr
func (c *StubChain) SetBalance(addr common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(balance)
}

// Accepted returns how many transactions entered the pool
func (c *StubChain) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Rejected returns how many transactions were refused
func (c *StubChain) Rejected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// Head returns the best block reference
func (c *StubChain) Head() types.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.headers[len(c.headers)-1]
	return types.BlockRef{Number: h.Number.Uint64(), Hash: h.Hash()}
}

// RefAt returns the block reference at height n
func (c *StubChain) RefAt(n uint64) types.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.headers[n]
	return types.BlockRef{Number: n, Hash: h.Hash()}
}

// InclusionOf returns where tx landed, if it did
func (c *StubChain) InclusionOf(hash common.Hash) (types.BlockRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.included[hash]
	return ref, ok
}

func (c *StubChain) accept(raw []byte) (*gethtypes.Transaction, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return tx, c.acceptLocked(tx)
}

func (c *StubChain) acceptLocked(tx *gethtypes.Transaction) error {
	if c.known[tx.Hash()] {
		return errors.New("already known")
	}
	from, err := gethtypes.Sender(c.signer, tx)
	if err != nil {
		c.rejected++
		return fmt.Errorf("invalid sender: %w", err)
	}
	if c.rejectSend != nil {
		if err := c.rejectSend(tx); err != nil {
			c.rejected++
			return err
		}
	}

	c.known[tx.Hash()] = true
	c.pending = append(c.pending, tx)
	c.accepted++
	if tx.Nonce()+1 > c.nonces[from] {
		c.nonces[from] = tx.Nonce() + 1
	}
	if to := tx.To(); to != nil && tx.Value().Sign() > 0 {
		bal := c.balances[*to]
		if bal == nil {
			bal = new(big.Int)
		}
		c.balances[*to] = new(big.Int).Add(bal, tx.Value())
	}
	return nil
}

// ChainID returns the chain ID
func (c *StubChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// SuggestGasPrice returns a fixed gas price
func (c *StubChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

// BalanceAt returns the balance of account; pending credits count immediately
func (c *StubChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal := c.balances[account]; bal != nil {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// PendingNonceAt returns the next nonce of account
func (c *StubChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// CurrentNonce returns the next nonce of account
func (c *StubChain) CurrentNonce(ctx context.Context, account common.Address) (uint64, error) {
	return c.PendingNonceAt(ctx, account)
}

// SendTransaction adds a signed transaction to the pool
func (c *StubChain) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptLocked(tx)
}

// SendRawTransaction adds a raw transaction to the pool
func (c *StubChain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	tx, err := c.accept(raw)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// BatchSendRawTransactions adds every raw transaction, reporting per-element errors
func (c *StubChain) BatchSendRawTransactions(_ context.Context, raws [][]byte) ([]error, error) {
	errs := make([]error, len(raws))
	for i, raw := range raws {
		_, errs[i] = c.accept(raw)
	}
	return errs, nil
}

// SubmitAndWatch submits tx and returns a handle following it
func (c *StubChain) SubmitAndWatch(_ context.Context, tx *txbuilder.SignedTx) (client.Watch, error) {
	c.mu.Lock()
	if c.submitFailures > 0 {
		c.submitFailures--
		c.mu.Unlock()
		return nil, ErrStubSubmit
	}
	if c.stallFinality != nil && c.stallFinality(tx) {
		c.stalled[tx.Hash] = true
	}
	c.mu.Unlock()

	if _, err := c.accept(tx.RawTx); err != nil && !client.IsKnownTransaction(err) {
		return nil, err
	}
	return &stubWatch{chain: c, hash: tx.Hash}, nil
}

// BlockSummary returns the summary of the block with hash
func (c *StubChain) BlockSummary(_ context.Context, hash common.Hash) (*types.BlockSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[hash]
	if !ok {
		return nil, fmt.Errorf("block %s not found", hash.Hex())
	}
	h := c.headers[i]
	return &types.BlockSummary{
		Number:       h.Number.Uint64(),
		Hash:         h.Hash(),
		ParentHash:   h.ParentHash,
		Time:         time.Unix(int64(h.Time), 0),
		Transactions: c.txCounts[hash],
	}, nil
}

// SubscribeBestHeads streams each produced block until ctx ends or the chain stops
func (c *StubChain) SubscribeBestHeads(ctx context.Context) (<-chan *gethtypes.Header, error) {
	return c.subscribe(ctx, &c.bestSubs), nil
}

// SubscribeFinalizedHeads streams each newly finalized block until ctx ends or the chain stops
func (c *StubChain) SubscribeFinalizedHeads(ctx context.Context) (<-chan *gethtypes.Header, error) {
	return c.subscribe(ctx, &c.finSubs), nil
}

func (c *StubChain) subscribe(ctx context.Context, subs *[]chan *gethtypes.Header) <-chan *gethtypes.Header {
	ch := make(chan *gethtypes.Header, 1024)
	c.mu.Lock()
	*subs = append(*subs, ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range *subs {
			if s == ch {
				*subs = append((*subs)[:i], (*subs)[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch
}

type stubWatch struct {
	chain *StubChain
	hash  common.Hash
}

func (w *stubWatch) Hash() common.Hash {
	return w.hash
}

func (w *stubWatch) Included(ctx context.Context) (types.BlockRef, error) {
	return w.poll(ctx, false)
}

func (w *stubWatch) Finalized(ctx context.Context) (types.BlockRef, error) {
	return w.poll(ctx, true)
}

func (w *stubWatch) poll(ctx context.Context, finalized bool) (types.BlockRef, error) {
	ticker := time.NewTicker(w.chain.pollInterval)
	defer ticker.Stop()

	for {
		w.chain.mu.Lock()
		ref, ok := w.chain.included[w.hash]
		done := ok && (!finalized || (w.chain.finalized >= ref.Number && !w.chain.stalled[w.hash]))
		w.chain.mu.Unlock()
		if done {
			return ref, nil
		}

		select {
		case <-ctx.Done():
			return types.BlockRef{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
