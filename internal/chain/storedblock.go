package chain

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// StoredBlock is a block header annotated with the chain context the raw
// header lacks: its height and the cumulative work of the chain ending at it.
// Stored blocks form a tree; the parent is reachable through the block store.
type StoredBlock struct {
	Header  wire.BlockHeader
	WorkSum *big.Int
	Height  int32
}

// NewStoredGenesis builds the stored form of a genesis header, with height 0
// and cumulative work equal to the work of the header itself.
func NewStoredGenesis(header wire.BlockHeader) *StoredBlock {
	return &StoredBlock{
		Header:  header,
		WorkSum: blockchain.CalcWork(header.Bits),
		Height:  0,
	}
}

// Hash returns the block's identifying header hash.
func (b *StoredBlock) Hash() chainhash.Hash {
	return b.Header.BlockHash()
}

// BuildNext creates the stored form of a header whose parent is b, extending
// height by one and accumulating the child's work.
func (b *StoredBlock) BuildNext(header wire.BlockHeader) *StoredBlock {
	work := blockchain.CalcWork(header.Bits)
	return &StoredBlock{
		Header:  header,
		WorkSum: new(big.Int).Add(b.WorkSum, work),
		Height:  b.Height + 1,
	}
}

// Prev fetches b's parent from the store. The genesis block has no parent and
// yields nil.
func (b *StoredBlock) Prev(ctx context.Context, store BlockStore) (*StoredBlock, error) {
	return store.Get(ctx, &b.Header.PrevBlock)
}

// MoreWorkThan reports whether b's chain carries strictly more cumulative
// work than other's.
func (b *StoredBlock) MoreWorkThan(other *StoredBlock) bool {
	return b.WorkSum.Cmp(other.WorkSum) > 0
}

// Eq reports identity by header hash.
func (b *StoredBlock) Eq(other *StoredBlock) bool {
	if other == nil {
		return false
	}
	bh, oh := b.Hash(), other.Hash()
	return bh.IsEqual(&oh)
}
