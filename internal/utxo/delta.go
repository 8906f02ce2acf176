// Package utxo maintains the set of unspent transaction outputs and the
// per-block deltas that make a block's effect on the set replayable and
// revertible.
package utxo

import "github.com/btcsuite/btcd/wire"

// Entry is a single unspent output.
type Entry struct {
	Amount   int64
	PkScript []byte
	Height   int32
	Coinbase bool
}

// clone returns a deep copy so reverted entries never alias live view state.
func (e *Entry) clone() *Entry {
	script := make([]byte, len(e.PkScript))
	copy(script, e.PkScript)
	return &Entry{Amount: e.Amount, PkScript: script, Height: e.Height, Coinbase: e.Coinbase}
}

// Delta records exactly what connecting one block did to the UTXO set: the
// outputs it created and the previously unspent outputs it consumed. It is
// sufficient to replay or revert the block.
type Delta struct {
	Created map[wire.OutPoint]*Entry
	Spent   map[wire.OutPoint]*Entry
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{
		Created: make(map[wire.OutPoint]*Entry),
		Spent:   make(map[wire.OutPoint]*Entry),
	}
}
