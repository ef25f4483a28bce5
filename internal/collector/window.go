package collector

import (
	"sync"
	"time"

	"github.com/0xmhha/tpsbench/pkg/types"
)

// Window aggregates the measurement window of one run across all concurrent
// batches. Begin markers keep the first value written, end markers keep the
// last, and the transaction count only grows. A Window is never reset; start
// a new run with a new Window.
type Window struct {
	mu sync.Mutex

	beginTime     time.Time
	endTime       time.Time
	beginBlock    *types.BlockRef
	finalizeBlock *types.BlockRef
	txCount       uint64
}

// NewWindow creates an empty window
func NewWindow() *Window {
	return &Window{}
}

// SetBeginTimestamp records t unless a begin timestamp is already set
func (w *Window) SetBeginTimestamp(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.beginTime.IsZero() {
		w.beginTime = t
	}
}

// SetBeginBlock records ref unless a begin block is already set
func (w *Window) SetBeginBlock(ref types.BlockRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.beginBlock == nil {
		w.beginBlock = &ref
	}
}

// SetFinalizeBlock overwrites the finalize block
func (w *Window) SetFinalizeBlock(ref types.BlockRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalizeBlock = &ref
}

// SetEndTimestamp overwrites the end timestamp
func (w *Window) SetEndTimestamp(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.endTime = t
}

// AddTxCount adds n accepted transactions
func (w *Window) AddTxCount(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txCount += n
}

// Snapshot returns a consistent copy of the window
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		BeginTime: w.beginTime,
		EndTime:   w.endTime,
		TxCount:   w.txCount,
	}
	if w.beginBlock != nil {
		ref := *w.beginBlock
		s.BeginBlock = &ref
	}
	if w.finalizeBlock != nil {
		ref := *w.finalizeBlock
		s.FinalizeBlock = &ref
	}
	return s
}

// Snapshot is a point-in-time copy of a Window
type Snapshot struct {
	BeginTime     time.Time
	EndTime       time.Time
	BeginBlock    *types.BlockRef
	FinalizeBlock *types.BlockRef
	TxCount       uint64
}

// Complete reports whether every boundary marker is set
func (s Snapshot) Complete() bool {
	return !s.BeginTime.IsZero() && !s.EndTime.IsZero() && s.BeginBlock != nil && s.FinalizeBlock != nil
}

// Duration returns end minus begin, or zero when either is unset
func (s Snapshot) Duration() time.Duration {
	if s.BeginTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.BeginTime)
}

// TPS returns accepted transactions per second of window duration
func (s Snapshot) TPS() float64 {
	d := s.Duration()
	if d <= 0 {
		return 0
	}
	return float64(s.TxCount) / d.Seconds()
}
