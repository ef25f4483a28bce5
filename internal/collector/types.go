package collector

import (
	"time"

	"github.com/0xmhha/tpsbench/pkg/types"
)

// BlockStat is one block of the measurement window
type BlockStat struct {
	types.BlockSummary
	// FinalityLag is window end minus the block's on-chain time
	FinalityLag time.Duration
}

// LatencyStats summarizes a latency distribution
type LatencyStats struct {
	Count int
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	P50   time.Duration
	P95   time.Duration
}

// Report represents the final run report
type Report struct {
	// Window
	BeginTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	BeginBlock    types.BlockRef
	FinalizeBlock types.BlockRef
	TxCount       uint64
	TPS           float64

	// Blocks between begin and finalize, oldest first
	Blocks       []BlockStat
	BlockTxTotal int
	BlockSpan    time.Duration
	BlockTPS     float64
	AvgBlockTime time.Duration

	// Inclusion to finality latency seen by the block monitors, if tracked
	Finality *LatencyStats
}
