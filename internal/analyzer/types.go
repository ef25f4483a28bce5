package analyzer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tpsbench/pkg/types"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

var (
	ErrInvalidDepth     = errors.New("max depth must be greater than 0")
	ErrDivergentChain   = errors.New("begin block is not an ancestor of the finalize block")
	ErrIncompleteWindow = errors.New("measurement window is incomplete")
)

type (
	// BlockSource resolves block summaries by hash
	BlockSource interface {
		BlockSummary(ctx context.Context, hash common.Hash) (*types.BlockSummary, error)
	}
)
