package analyzer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/0xmhha/tpsbench/internal/collector"
	"github.com/0xmhha/tpsbench/pkg/types"
)

// WalkBack follows parent hashes from the finalize block down to the begin
// block, both included, and returns the blocks oldest first. maxDepth bounds
// the number of parent hops; running out of hops, or passing below the begin
// height without meeting its hash, yields ErrDivergentChain.
func WalkBack(ctx context.Context, src BlockSource, from, to types.BlockRef, maxDepth int) ([]types.BlockSummary, error) {
	if maxDepth <= 0 {
		return nil, ErrInvalidDepth
	}
	if from.Number < to.Number {
		return nil, fmt.Errorf("finalize block %s is below begin block %s: %w", from, to, ErrDivergentChain)
	}

	var blocks []types.BlockSummary
	hash := from.Hash

	for hops := 0; ; hops++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := src.BlockSummary(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch block %s: %w", hash.TerminalString(), err)
		}
		blocks = append(blocks, *block)

		if block.Hash == to.Hash {
			break
		}
		if block.Number <= to.Number {
			return nil, fmt.Errorf("reached height %d at %s without meeting %s: %w",
				block.Number, block.Hash.TerminalString(), to, ErrDivergentChain)
		}
		if hops == maxDepth {
			return nil, fmt.Errorf("no begin block %s within %d hops of %s: %w", to, maxDepth, from, ErrDivergentChain)
		}
		hash = block.ParentHash
	}

	// Reverse into chronological order
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

// Compute turns a completed measurement window into the run report
func Compute(ctx context.Context, src BlockSource, snap collector.Snapshot, maxDepth int) (*collector.Report, error) {
	if !snap.Complete() {
		return nil, ErrIncompleteWindow
	}

	report := &collector.Report{
		BeginTime:     snap.BeginTime,
		EndTime:       snap.EndTime,
		Duration:      snap.Duration(),
		BeginBlock:    *snap.BeginBlock,
		FinalizeBlock: *snap.FinalizeBlock,
		TxCount:       snap.TxCount,
		TPS:           snap.TPS(),
	}

	blocks, err := WalkBack(ctx, src, report.FinalizeBlock, report.BeginBlock, maxDepth)
	if err != nil {
		return nil, err
	}

	report.Blocks = make([]collector.BlockStat, len(blocks))
	for i, b := range blocks {
		report.Blocks[i] = collector.BlockStat{
			BlockSummary: b,
			FinalityLag:  snap.EndTime.Sub(b.Time),
		}
		report.BlockTxTotal += b.Transactions
	}

	if n := len(blocks); n > 1 {
		report.BlockSpan = blocks[n-1].Time.Sub(blocks[0].Time)
		report.AvgBlockTime = report.BlockSpan / time.Duration(n-1)
		if report.BlockSpan > 0 {
			report.BlockTPS = float64(report.BlockTxTotal) / report.BlockSpan.Seconds()
		}
	}

	return report, nil
}

// WriteTable renders the per-block table and the run summary to w
func WriteTable(w io.Writer, report *collector.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Block", "Hash", "Time", "TxCount", "Block Time", "Finality Lag"})
	table.SetBorder(true)

	for i, block := range report.Blocks {
		blockTime := "-"
		if i > 0 {
			blockTime = fmt.Sprintf("%.2fs", block.Time.Sub(report.Blocks[i-1].Time).Seconds())
		}

		table.Append([]string{
			fmt.Sprintf("%d", block.Number),
			block.Hash.TerminalString(),
			block.Time.Format("15:04:05"),
			fmt.Sprintf("%d", block.Transactions),
			blockTime,
			fmt.Sprintf("%.2fs", block.FinalityLag.Seconds()),
		})
	}

	table.SetFooter([]string{
		"TOTAL",
		fmt.Sprintf("%d blocks", len(report.Blocks)),
		fmt.Sprintf("%.2fs", report.BlockSpan.Seconds()),
		fmt.Sprintf("%d", report.BlockTxTotal),
		fmt.Sprintf("Avg: %.2fs", report.AvgBlockTime.Seconds()),
		fmt.Sprintf("TPS: %.2f", report.BlockTPS),
	})

	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary:\n")
	fmt.Fprintf(w, "  Begin Block: %s\n", report.BeginBlock)
	fmt.Fprintf(w, "  Finalize Block: %s\n", report.FinalizeBlock)
	fmt.Fprintf(w, "  Duration: %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Total Transactions: %d\n", report.TxCount)
	fmt.Fprintf(w, "  TPS (send to finality): %.2f\n", report.TPS)
	fmt.Fprintf(w, "  TPS (on-chain): %.2f\n", report.BlockTPS)

	if f := report.Finality; f != nil && f.Count > 0 {
		fmt.Fprintf(w, "  Finality Latency (%d blocks): avg %s, min %s, max %s, p50 %s, p95 %s\n",
			f.Count, f.Avg, f.Min, f.Max, f.P50, f.P95)
	}
}
