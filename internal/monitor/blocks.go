package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/tpsbench/internal/logging"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// Kind names the head stream a BlockMonitor follows
type Kind int

const (
	Best Kind = iota
	Finalized
)

func (k Kind) String() string {
	if k == Finalized {
		return "finalized"
	}
	return "best"
}

// Sink receives the height of every observed block and when it arrived
type Sink func(number uint64, at time.Time)

// SummarySource resolves the transaction count of a notified block
type SummarySource interface {
	BlockSummary(ctx context.Context, hash common.Hash) (*types.BlockSummary, error)
}

// BlockMonitor logs a stream of head notifications. It is purely
// observational: failures are logged and never stop the run.
type BlockMonitor struct {
	Kind Kind

	src    SummarySource
	sink   Sink
	logger *zap.Logger
	seen   atomic.Int64
}

// NewBlockMonitor creates a monitor for kind. src and sink may be nil.
func NewBlockMonitor(kind Kind, src SummarySource, sink Sink, logger *zap.Logger) *BlockMonitor {
	return &BlockMonitor{
		Kind:   kind,
		src:    src,
		sink:   sink,
		logger: logging.OrNop(logger).With(zap.Stringer("stream", kind)),
	}
}

// Run consumes heads until ctx is done or the channel closes. A BlockMonitor runs once.
func (m *BlockMonitor) Run(ctx context.Context, heads <-chan *gethtypes.Header) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-heads:
			if !ok {
				if ctx.Err() == nil {
					m.logger.Warn("head subscription closed", zap.Int64("blocks", m.seen.Load()))
				}
				return
			}
			m.observe(ctx, h, time.Now())
		}
	}
}

// observe hands the arrival time to the sink before any RPC, and fetches the
// tx count only when debug logging will print it
func (m *BlockMonitor) observe(ctx context.Context, h *gethtypes.Header, at time.Time) {
	m.seen.Add(1)
	number := h.Number.Uint64()

	if m.sink != nil {
		m.sink(number, at)
	}
	if !m.logger.Core().Enabled(zap.DebugLevel) {
		return
	}

	fields := []zap.Field{
		zap.Uint64("number", number),
		zap.String("hash", h.Hash().Hex()),
	}
	if m.src != nil {
		summary, err := m.src.BlockSummary(ctx, h.Hash())
		if err != nil {
			m.logger.Warn("failed to fetch block summary", zap.Uint64("number", number), zap.Error(err))
		} else {
			fields = append(fields, zap.Int("txs", summary.Transactions))
		}
	}
	m.logger.Debug("block", fields...)
}

// Blocks returns how many notifications were observed
func (m *BlockMonitor) Blocks() int64 {
	return m.seen.Load()
}
