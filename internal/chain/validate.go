package chain

import (
	"context"
	"sort"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// maxFutureBlockTime is how far ahead of wall clock a header timestamp may be.
const maxFutureBlockTime = 2 * time.Hour

// medianTimeBlocks is the window used for the median-time-past rule.
const medianTimeBlocks = 11

// checkProofOfWork verifies that the header's hash, read as a big-endian
// integer, does not exceed the target encoded in its compact difficulty bits,
// and that the claimed target itself is sane for the network.
func (p *Params) checkProofOfWork(header *wire.BlockHeader) error {
	target := blockchain.CompactToBig(header.Bits)
	hash := header.BlockHash()
	if target.Sign() <= 0 {
		return verificationErr(hash, "difficulty target %064x is zero or negative", target)
	}
	if target.Cmp(p.PowLimit) > 0 {
		return verificationErr(hash, "difficulty target %064x is above the proof of work limit", target)
	}
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return verificationErr(hash, "hash is higher than the difficulty target %064x", target)
	}
	return nil
}

// verifyHeader proves the header internally valid: proof of work holds and
// the timestamp is not too far in the future.
func (p *Params) verifyHeader(header *wire.BlockHeader, now time.Time) error {
	if err := p.checkProofOfWork(header); err != nil {
		return err
	}
	if header.Timestamp.After(now.Add(maxFutureBlockTime)) {
		return verificationErr(header.BlockHash(), "timestamp %v is too far in the future", header.Timestamp)
	}
	return nil
}

// verifyTransactions checks the block's transaction list against its header:
// the list must be non-empty, start with a coinbase, contain no further
// coinbases and hash to the header's Merkle root.
func verifyTransactions(block *btcutil.Block) error {
	hash := *block.Hash()
	txns := block.Transactions()
	if len(txns) == 0 {
		return verificationErr(hash, "block has no transactions")
	}
	if !blockchain.IsCoinBase(txns[0]) {
		return verificationErr(hash, "first transaction is not a coinbase")
	}
	for i, tx := range txns[1:] {
		if blockchain.IsCoinBase(tx) {
			return verificationErr(hash, "transaction %d is an extra coinbase", i+1)
		}
	}
	merkle := blockchain.CalcMerkleRoot(txns, false)
	if !block.MsgBlock().Header.MerkleRoot.IsEqual(&merkle) {
		return verificationErr(hash, "merkle root %s does not match calculated %s",
			block.MsgBlock().Header.MerkleRoot, merkle)
	}
	return nil
}

// medianTimestamp returns the median timestamp of the given block and up to
// ten of its stored ancestors.
func medianTimestamp(ctx context.Context, block *StoredBlock, store BlockStore) (time.Time, error) {
	timestamps := make([]int64, 0, medianTimeBlocks)
	cursor := block
	for i := 0; i < medianTimeBlocks && cursor != nil; i++ {
		timestamps = append(timestamps, cursor.Header.Timestamp.Unix())
		prev, err := cursor.Prev(ctx, store)
		if err != nil {
			return time.Time{}, err
		}
		cursor = prev
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return time.Unix(timestamps[len(timestamps)/2], 0), nil
}
