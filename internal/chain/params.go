// Package chain implements the block-chain engine: it links incoming blocks
// into a tree rooted at genesis, tracks the branch with the most cumulative
// proof of work, re-organizes when a competing branch overtakes the best one
// and notifies registered listeners of inclusions and re-orgs.
package chain

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Params holds the consensus parameters the engine verifies against.
type Params struct {
	Name string

	GenesisBlock *wire.MsgBlock
	GenesisHash  *chainhash.Hash

	// PowLimit is the loosest target any block may carry; PowLimitBits is its
	// compact encoding.
	PowLimit     *big.Int
	PowLimitBits uint32

	// TargetTimespan is the span a full retarget window is expected to cover,
	// TargetSpacing the expected interval between consecutive blocks. The
	// retarget interval is their quotient.
	TargetTimespan time.Duration
	TargetSpacing  time.Duration

	// RetargetAdjustmentFactor clamps how far a single retarget may move.
	RetargetAdjustmentFactor int64

	// ReduceMinDifficulty enables the testnet rule that allows minimum
	// difficulty blocks after MinDiffReductionTime without a block.
	ReduceMinDifficulty  bool
	MinDiffReductionTime time.Duration

	// Checkpoints maps heights to the only block hash allowed there.
	Checkpoints map[int32]chainhash.Hash
}

// FromChainCfg builds Params from a btcd chaincfg parameter set.
func FromChainCfg(p *chaincfg.Params) *Params {
	checkpoints := make(map[int32]chainhash.Hash, len(p.Checkpoints))
	for _, cp := range p.Checkpoints {
		checkpoints[cp.Height] = *cp.Hash
	}
	return &Params{
		Name:                     p.Name,
		GenesisBlock:             p.GenesisBlock,
		GenesisHash:              p.GenesisHash,
		PowLimit:                 p.PowLimit,
		PowLimitBits:             p.PowLimitBits,
		TargetTimespan:           p.TargetTimespan,
		TargetSpacing:            p.TargetTimePerBlock,
		RetargetAdjustmentFactor: p.RetargetAdjustmentFactor,
		ReduceMinDifficulty:      p.ReduceMinDifficulty,
		MinDiffReductionTime:     p.MinDiffReductionTime,
		Checkpoints:              checkpoints,
	}
}

var (
	// MainNetParams are the parameters for the main bitcoin network.
	MainNetParams = FromChainCfg(&chaincfg.MainNetParams)

	// TestNet3Params are the parameters for the version 3 test network.
	TestNet3Params = FromChainCfg(&chaincfg.TestNet3Params)

	// RegressionNetParams are the parameters for the local regression network.
	RegressionNetParams = FromChainCfg(&chaincfg.RegressionNetParams)
)

// RetargetInterval returns the number of blocks between difficulty
// transitions.
func (p *Params) RetargetInterval() int32 {
	return int32(p.TargetTimespan / p.TargetSpacing)
}

// PassesCheckpoint reports whether the given block may occupy the given
// height. Heights without a checkpoint always pass.
func (p *Params) PassesCheckpoint(height int32, hash *chainhash.Hash) bool {
	want, ok := p.Checkpoints[height]
	if !ok {
		return true
	}
	return want.IsEqual(hash)
}
