package chain

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// checkDifficultyTransitions verifies that the header carries the difficulty
// target the network rules derive for its height. On retarget boundaries the
// target is recomputed from the elapsed window timespan; elsewhere it must
// repeat the parent's target, except under the testnet minimum-difficulty
// relaxation.
func (e *Engine) checkDifficultyTransitions(ctx context.Context, storedPrev *StoredBlock, header *wire.BlockHeader) error {
	params := e.params
	height := storedPrev.Height + 1
	interval := params.RetargetInterval()

	if height%interval != 0 {
		if params.ReduceMinDifficulty {
			// Testnet: a block that took more than MinDiffReductionTime to
			// appear may use the minimum difficulty. Otherwise it must carry
			// the last real target, found by walking back past any
			// minimum-difficulty blocks.
			timeDelta := header.Timestamp.Sub(storedPrev.Header.Timestamp)
			if timeDelta > params.MinDiffReductionTime {
				if header.Bits != params.PowLimitBits {
					return verificationErr(header.BlockHash(),
						"expected minimum difficulty %08x after quiet period, got %08x",
						params.PowLimitBits, header.Bits)
				}
				return nil
			}
			lastBits, err := e.findPrevRealDifficulty(ctx, storedPrev)
			if err != nil {
				return err
			}
			if header.Bits != lastBits {
				return verificationErr(header.BlockHash(),
					"unexpected difficulty %08x at height %d, want %08x", header.Bits, height, lastBits)
			}
			return nil
		}
		if header.Bits != storedPrev.Header.Bits {
			return verificationErr(header.BlockHash(),
				"unexpected change in difficulty at height %d: %08x vs %08x",
				height, header.Bits, storedPrev.Header.Bits)
		}
		return nil
	}

	// Retarget boundary: find the first block of the window that just closed.
	cursor := storedPrev
	for i := int32(0); i < interval-1; i++ {
		prev, err := cursor.Prev(ctx, e.store)
		if err != nil {
			return err
		}
		if prev == nil {
			return verificationErr(header.BlockHash(),
				"difficulty transition point but no path back to genesis")
		}
		cursor = prev
	}

	targetTimespan := int64(params.TargetTimespan.Seconds())
	adjustment := params.RetargetAdjustmentFactor
	timespan := storedPrev.Header.Timestamp.Unix() - cursor.Header.Timestamp.Unix()
	if timespan < targetTimespan/adjustment {
		timespan = targetTimespan / adjustment
	}
	if timespan > targetTimespan*adjustment {
		timespan = targetTimespan * adjustment
	}

	newTarget := blockchain.CompactToBig(storedPrev.Header.Bits)
	newTarget.Mul(newTarget, big.NewInt(timespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))
	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget.Set(params.PowLimit)
	}

	// Round-trip through the compact encoding so we compare at the precision
	// the header can actually carry.
	wantBits := blockchain.BigToCompact(newTarget)
	if header.Bits != wantBits {
		return verificationErr(header.BlockHash(),
			"provided difficulty bits do not match calculated: %08x vs %08x", header.Bits, wantBits)
	}
	return nil
}

// findPrevRealDifficulty walks backwards from storedPrev until it finds a
// block that was not mined at the minimum difficulty, or a retarget boundary,
// or the genesis block, and returns that block's target bits.
func (e *Engine) findPrevRealDifficulty(ctx context.Context, storedPrev *StoredBlock) (uint32, error) {
	interval := e.params.RetargetInterval()
	cursor := storedPrev
	for cursor != nil && cursor.Height%interval != 0 && cursor.Header.Bits == e.params.PowLimitBits {
		prev, err := cursor.Prev(ctx, e.store)
		if err != nil {
			return 0, err
		}
		if prev == nil {
			break
		}
		cursor = prev
	}
	if cursor == nil {
		return e.params.PowLimitBits, nil
	}
	return cursor.Header.Bits, nil
}
