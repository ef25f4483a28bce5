package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRef identifies a block by height and hash
type BlockRef struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

// String returns "#<number> (<short hash>)"
func (r BlockRef) String() string {
	return fmt.Sprintf("#%d (%s)", r.Number, r.Hash.TerminalString())
}

// IsZero reports whether the reference is unset
func (r BlockRef) IsZero() bool {
	return r.Number == 0 && r.Hash == (common.Hash{})
}

// BlockSummary holds the per-block data used by the report phase.
// Time is the on-chain block timestamp, not the wall clock.
type BlockSummary struct {
	Number       uint64      `json:"number"`
	Hash         common.Hash `json:"hash"`
	ParentHash   common.Hash `json:"parent_hash"`
	Time         time.Time   `json:"time"`
	Transactions int         `json:"transactions"`
}

// Ref returns the block reference of the summary
func (b *BlockSummary) Ref() BlockRef {
	return BlockRef{Number: b.Number, Hash: b.Hash}
}

// AccountInfo holds account information
type AccountInfo struct {
	Address common.Address
	Nonce   uint64
}
