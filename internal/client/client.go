package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// DefaultPollInterval is how often receipts and the finalized head are polled
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the Ethereum client with additional functionality
type Client struct {
	url          string
	eth          *ethclient.Client
	rpc          *rpc.Client
	pollInterval time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithPollInterval sets the receipt and head polling interval
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a new client instance
func New(url string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", url, err)
	}

	return NewWithRPC(url, rpcClient, opts...), nil
}

// NewWithRPC wraps an already connected RPC client
func NewWithRPC(url string, rpcClient *rpc.Client, opts ...Option) *Client {
	c := &Client{
		url:          url,
		eth:          ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the client connection
func (c *Client) Close() {
	c.rpc.Close()
}

// URL returns the endpoint the client is connected to
func (c *Client) URL() string {
	return c.url
}

// IsWebSocket reports whether the endpoint supports subscriptions
func (c *Client) IsWebSocket() bool {
	return strings.HasPrefix(c.url, "ws://") || strings.HasPrefix(c.url, "wss://")
}

// ChainID returns the chain ID
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BalanceAt returns the balance of an account at a given block
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

// PendingNonceAt returns the pending nonce for an account
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// CurrentNonce returns the next nonce the node expects from account, pending pool included
func (c *Client) CurrentNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce for %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the suggested gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// SendTransaction sends a signed transaction
func (c *Client) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt of a transaction by hash
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// HeaderByNumber returns the header of a block by number
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

// FinalizedHeader returns the header at the node's finalized tag
func (c *Client) FinalizedHeader(ctx context.Context) (*gethtypes.Header, error) {
	return c.eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// SendRawTransaction sends a raw transaction via RPC without waiting for inclusion
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(rawTx))
	return hash, err
}

// BatchSendRawTransactions sends multiple raw transactions in one JSON-RPC batch.
// The returned slice holds the per-transaction errors (nil on acceptance); the
// error is set only when the batch itself could not be delivered.
func (c *Client) BatchSendRawTransactions(ctx context.Context, rawTxs [][]byte) ([]error, error) {
	batch := make([]rpc.BatchElem, len(rawTxs))
	results := make([]common.Hash, len(rawTxs))

	for i, rawTx := range rawTxs {
		batch[i] = rpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []interface{}{hexutil.Encode(rawTx)},
			Result: &results[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	errs := make([]error, len(batch))
	for i, elem := range batch {
		errs[i] = elem.Error
	}
	return errs, nil
}

// SubmitAndWatch submits tx and returns a handle that follows it to finality.
// A node answering "already known" counts as a successful submission, so a
// retried submission of the same transaction keeps watching it.
func (c *Client) SubmitAndWatch(ctx context.Context, tx *txbuilder.SignedTx) (Watch, error) {
	if _, err := c.SendRawTransaction(ctx, tx.RawTx); err != nil && !IsKnownTransaction(err) {
		return nil, fmt.Errorf("failed to submit tx %s: %w", tx.Hash.Hex(), err)
	}
	return newTxWatch(c, tx.Hash, c.pollInterval), nil
}

// SubscribeBestHeads streams new best-chain heads. WebSocket endpoints use
// eth_subscribe; HTTP endpoints poll the latest header. The channel is closed
// when ctx ends or the subscription drops.
func (c *Client) SubscribeBestHeads(ctx context.Context) (<-chan *gethtypes.Header, error) {
	if !c.IsWebSocket() {
		return c.pollHeads(ctx, func(ctx context.Context) (*gethtypes.Header, error) {
			return c.eth.HeaderByNumber(ctx, nil)
		}), nil
	}

	in := make(chan *gethtypes.Header, 16)
	sub, err := c.eth.SubscribeNewHead(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}

	out := make(chan *gethtypes.Header, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case h := <-in:
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SubscribeFinalizedHeads streams each new finalized head by polling the finalized tag
func (c *Client) SubscribeFinalizedHeads(ctx context.Context) (<-chan *gethtypes.Header, error) {
	// Fail fast on nodes without finality support
	if _, err := c.FinalizedHeader(ctx); err != nil {
		return nil, fmt.Errorf("failed to query finalized head: %w", err)
	}
	return c.pollHeads(ctx, c.FinalizedHeader), nil
}

func (c *Client) pollHeads(ctx context.Context, fetch func(context.Context) (*gethtypes.Header, error)) <-chan *gethtypes.Header {
	out := make(chan *gethtypes.Header, 16)
	go func() {
		defer close(out)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		var last common.Hash
		for {
			if h, err := fetch(ctx); err == nil && h != nil && h.Hash() != last {
				last = h.Hash()
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// BlockSummary returns the header data and transaction count of the block with hash
func (c *Client) BlockSummary(ctx context.Context, hash common.Hash) (*types.BlockSummary, error) {
	header, err := c.eth.HeaderByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get header %s: %w", hash.Hex(), err)
	}

	count, err := c.eth.TransactionCount(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction count of %s: %w", hash.Hex(), err)
	}

	return &types.BlockSummary{
		Number:       header.Number.Uint64(),
		Hash:         header.Hash(),
		ParentHash:   header.ParentHash,
		Time:         time.Unix(int64(header.Time), 0),
		Transactions: int(count),
	}, nil
}

// IsKnownTransaction reports whether err is the node rejecting a duplicate of a pooled transaction
func IsKnownTransaction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// IsNotFound reports whether err means the object does not exist (yet)
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
