package client

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/pkg/types"
)

// Watch follows a submitted transaction to inclusion and finality
type Watch interface {
	// Hash returns the watched transaction hash
	Hash() common.Hash
	// Included blocks until the transaction is in a block
	Included(ctx context.Context) (types.BlockRef, error)
	// Finalized blocks until the including block is finalized
	Finalized(ctx context.Context) (types.BlockRef, error)
}

type txWatch struct {
	c        *Client
	hash     common.Hash
	interval time.Duration

	mu       sync.Mutex
	included *types.BlockRef
}

func newTxWatch(c *Client, hash common.Hash, interval time.Duration) *txWatch {
	return &txWatch{c: c, hash: hash, interval: interval}
}

func (w *txWatch) Hash() common.Hash {
	return w.hash
}

// Included polls the receipt until the transaction is in a block
func (w *txWatch) Included(ctx context.Context) (types.BlockRef, error) {
	w.mu.Lock()
	if w.included != nil {
		ref := *w.included
		w.mu.Unlock()
		return ref, nil
	}
	w.mu.Unlock()

	ref, err := w.awaitReceipt(ctx)
	if err != nil {
		return types.BlockRef{}, err
	}

	w.mu.Lock()
	w.included = &ref
	w.mu.Unlock()
	return ref, nil
}

// Finalized waits for inclusion, then for the finalized head to reach the
// inclusion height. If the canonical block at that height is no longer the
// including block, inclusion is awaited again.
func (w *txWatch) Finalized(ctx context.Context) (types.BlockRef, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		ref, err := w.Included(ctx)
		if err != nil {
			return types.BlockRef{}, err
		}

		finalized, err := w.c.FinalizedHeader(ctx)
		if err != nil {
			return types.BlockRef{}, fmt.Errorf("failed to get finalized head: %w", err)
		}

		if finalized.Number.Uint64() >= ref.Number {
			canonical, err := w.c.HeaderByNumber(ctx, new(big.Int).SetUint64(ref.Number))
			if err != nil {
				return types.BlockRef{}, fmt.Errorf("failed to get header #%d: %w", ref.Number, err)
			}
			if canonical.Hash() == ref.Hash {
				return ref, nil
			}
			// Reorged out; forget the inclusion and look again
			w.mu.Lock()
			w.included = nil
			w.mu.Unlock()
			continue
		}

		select {
		case <-ctx.Done():
			return types.BlockRef{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *txWatch) awaitReceipt(ctx context.Context) (types.BlockRef, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.c.TransactionReceipt(ctx, w.hash)
		switch {
		case err == nil && receipt != nil:
			return types.BlockRef{Number: receipt.BlockNumber.Uint64(), Hash: receipt.BlockHash}, nil
		case err != nil && !IsNotFound(err):
			return types.BlockRef{}, fmt.Errorf("failed to get receipt of %s: %w", w.hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return types.BlockRef{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
