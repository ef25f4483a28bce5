package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/internal/client"
	"github.com/0xmhha/tpsbench/internal/txbuilder"
	"github.com/0xmhha/tpsbench/pkg/types"
)

var (
	ErrEmptyBatch        = txbuilder.ErrEmptyBatch
	ErrBoundaryExhausted = errors.New("boundary transaction retries exhausted")
)

// Client is the chain access the dispatcher needs
type Client interface {
	SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error)
	BatchSendRawTransactions(ctx context.Context, rawTxs [][]byte) ([]error, error)
	SubmitAndWatch(ctx context.Context, tx *txbuilder.SignedTx) (client.Watch, error)
}

// Watch is the tracking handle of a boundary transaction
type Watch = client.Watch

// Recorder receives the measurement window boundaries
type Recorder interface {
	SetBeginTimestamp(t time.Time)
	SetBeginBlock(ref types.BlockRef)
	SetFinalizeBlock(ref types.BlockRef)
	SetEndTimestamp(t time.Time)
	AddTxCount(n uint64)
}

// Observer is notified of dispatch progress. Implementations must be safe for concurrent use.
type Observer interface {
	TxsSent(n int)
	TxsFailed(n int)
	BoundaryRetried(pos Position)
	BoundaryExhausted(pos Position)
	TailFinalized(latency time.Duration)
	BatchDispatched(d time.Duration)
}

// Position identifies a boundary element of a batch
type Position int

const (
	Head Position = iota
	Tail
)

func (p Position) String() string {
	switch p {
	case Head:
		return "head"
	case Tail:
		return "tail"
	default:
		return "unknown"
	}
}

// BoundaryError is returned when a head or tail transaction could not be
// submitted or followed within the retry budget
type BoundaryError struct {
	Position Position
	Attempts int
	Err      error
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("%s transaction failed after %d attempts: %v", e.Position, e.Attempts, e.Err)
}

// Unwrap exposes both ErrBoundaryExhausted and the last attempt's error
func (e *BoundaryError) Unwrap() []error {
	return []error{ErrBoundaryExhausted, e.Err}
}

// Result summarizes one dispatched batch
type Result struct {
	Tracked        int
	Untracked      int
	Accepted       int
	InteriorFailed int
	HeadBlock      *types.BlockRef
	TailBlock      *types.BlockRef
	Duration       time.Duration
}

// Config holds dispatcher configuration
type Config struct {
	// BatchSize is the number of interior transactions per JSON-RPC batch; 1 sends them one by one
	BatchSize int

	// MaxConcurrent is the max concurrent interior requests
	MaxConcurrent int

	// RateLimit caps interior transactions per second; 0 disables pacing
	RateLimit float64

	// BoundaryRetries is the number of retries after the first boundary attempt
	BoundaryRetries int

	// RetryInitial and RetryMax bound the exponential backoff between boundary attempts
	RetryInitial time.Duration
	RetryMax     time.Duration

	// BoundaryTimeout bounds each inclusion or finality wait of a boundary transaction
	BoundaryTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       100,
		MaxConcurrent:   10,
		BoundaryRetries: 5,
		RetryInitial:    500 * time.Millisecond,
		RetryMax:        10 * time.Second,
		BoundaryTimeout: 2 * time.Minute,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.BoundaryRetries < 0 {
		c.BoundaryRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	if c.BoundaryTimeout <= 0 {
		c.BoundaryTimeout = 2 * time.Minute
	}
	return nil
}
