package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/tpsbench/internal/collector"
	"github.com/0xmhha/tpsbench/pkg/types"
)

var genesisTime = time.Unix(1_700_000_000, 0)

func hashOf(n uint64, fork byte) common.Hash {
	h := common.BigToHash(new(big.Int).SetUint64(n))
	h[0] = fork
	return h
}

// chain builds heights first..last on fork 1, each block holding 10+n%3 transactions
func chain(first, last uint64) map[common.Hash]*types.BlockSummary {
	blocks := make(map[common.Hash]*types.BlockSummary)
	for n := first; n <= last; n++ {
		blocks[hashOf(n, 1)] = &types.BlockSummary{
			Number:       n,
			Hash:         hashOf(n, 1),
			ParentHash:   hashOf(n-1, 1),
			Time:         genesisTime.Add(time.Duration(n) * 2 * time.Second),
			Transactions: 10 + int(n%3),
		}
	}
	return blocks
}

func expectBlocks(src *MockBlockSource, blocks map[common.Hash]*types.BlockSummary) {
	src.EXPECT().
		BlockSummary(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, hash common.Hash) (*types.BlockSummary, error) {
			b, ok := blocks[hash]
			if !ok {
				return nil, fmt.Errorf("unknown block %s", hash.Hex())
			}
			return b, nil
		}).
		AnyTimes()
}

func ref(n uint64, fork byte) types.BlockRef {
	return types.BlockRef{Number: n, Hash: hashOf(n, fork)}
}

func TestWalkBack(t *testing.T) {
	tests := []struct {
		name     string
		from     types.BlockRef
		to       types.BlockRef
		maxDepth int
		want     int
		wantErr  error
	}{
		{name: "ten hops", from: ref(110, 1), to: ref(100, 1), maxDepth: 10, want: 11},
		{name: "generous depth", from: ref(110, 1), to: ref(100, 1), maxDepth: 10000, want: 11},
		{name: "same block", from: ref(105, 1), to: ref(105, 1), maxDepth: 1, want: 1},
		{name: "depth too small", from: ref(110, 1), to: ref(100, 1), maxDepth: 9, wantErr: ErrDivergentChain},
		{name: "begin on another fork", from: ref(110, 1), to: ref(100, 2), maxDepth: 100, wantErr: ErrDivergentChain},
		{name: "finalize below begin", from: ref(100, 1), to: ref(110, 1), maxDepth: 100, wantErr: ErrDivergentChain},
		{name: "zero depth", from: ref(110, 1), to: ref(100, 1), maxDepth: 0, wantErr: ErrInvalidDepth},
		{name: "negative depth", from: ref(110, 1), to: ref(100, 1), maxDepth: -1, wantErr: ErrInvalidDepth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			t.Cleanup(ctrl.Finish)

			src := NewMockBlockSource(ctrl)
			expectBlocks(src, chain(90, 120))

			blocks, err := WalkBack(context.Background(), src, tt.from, tt.to, tt.maxDepth)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, blocks)
				return
			}
			require.NoError(t, err)
			require.Len(t, blocks, tt.want)

			assert.Equal(t, tt.to.Hash, blocks[0].Hash)
			assert.Equal(t, tt.from.Hash, blocks[len(blocks)-1].Hash)
			for i := 1; i < len(blocks); i++ {
				assert.Equal(t, blocks[i-1].Number+1, blocks[i].Number)
				assert.Equal(t, blocks[i-1].Hash, blocks[i].ParentHash)
			}
		})
	}
}

func TestWalkBack_FetchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	src := NewMockBlockSource(ctrl)
	boom := errors.New("connection refused")
	src.EXPECT().BlockSummary(gomock.Any(), hashOf(110, 1)).Return(nil, boom)

	_, err := WalkBack(context.Background(), src, ref(110, 1), ref(100, 1), 100)
	assert.ErrorIs(t, err, boom)
}

func TestWalkBack_Cancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WalkBack(ctx, NewMockBlockSource(ctrl), ref(110, 1), ref(100, 1), 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompute(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	blocks := chain(100, 110)
	src := NewMockBlockSource(ctrl)
	expectBlocks(src, blocks)

	begin, finalize := ref(100, 1), ref(110, 1)
	snap := collector.Snapshot{
		BeginTime:     genesisTime.Add(199 * time.Second),
		EndTime:       genesisTime.Add(229 * time.Second),
		BeginBlock:    &begin,
		FinalizeBlock: &finalize,
		TxCount:       300,
	}

	report, err := Compute(context.Background(), src, snap, 100)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, report.Duration)
	assert.Equal(t, uint64(300), report.TxCount)
	assert.InDelta(t, 10.0, report.TPS, 1e-9)

	require.Len(t, report.Blocks, 11)
	wantTxs := 0
	for _, b := range blocks {
		wantTxs += b.Transactions
	}
	assert.Equal(t, wantTxs, report.BlockTxTotal)
	assert.Equal(t, 20*time.Second, report.BlockSpan)
	assert.Equal(t, 2*time.Second, report.AvgBlockTime)
	assert.InDelta(t, float64(wantTxs)/20, report.BlockTPS, 1e-9)

	// block 110 is at +220s, window ends at +229s
	assert.Equal(t, 9*time.Second, report.Blocks[10].FinalityLag)
	assert.Equal(t, 29*time.Second, report.Blocks[0].FinalityLag)
}

func TestCompute_IncompleteWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	begin := ref(100, 1)
	snap := collector.Snapshot{
		BeginTime:  genesisTime,
		BeginBlock: &begin,
		TxCount:    10,
	}

	_, err := Compute(context.Background(), NewMockBlockSource(ctrl), snap, 100)
	assert.ErrorIs(t, err, ErrIncompleteWindow)
}

func TestWriteTable(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	src := NewMockBlockSource(ctrl)
	expectBlocks(src, chain(100, 103))

	begin, finalize := ref(100, 1), ref(103, 1)
	report, err := Compute(context.Background(), src, collector.Snapshot{
		BeginTime:     genesisTime.Add(200 * time.Second),
		EndTime:       genesisTime.Add(210 * time.Second),
		BeginBlock:    &begin,
		FinalizeBlock: &finalize,
		TxCount:       40,
	}, 10)
	require.NoError(t, err)
	report.Finality = &collector.LatencyStats{Count: 3, Avg: time.Second}

	var buf bytes.Buffer
	WriteTable(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "Total Transactions: 40")
	assert.Contains(t, out, "TPS (send to finality): 4.00")
	assert.Contains(t, out, "Finality Latency (3 blocks)")
	assert.Contains(t, out, "103")
}
