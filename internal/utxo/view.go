package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// RuleError reports a transaction that cannot be connected: a missing or
// double-spent input, or a failed script check.
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string { return e.Reason }

func ruleErr(format string, args ...any) *RuleError {
	return &RuleError{Reason: fmt.Sprintf(format, args...)}
}

// ScriptPredicate validates the script of one input against the output it
// spends. Script execution itself is outside this package; callers plug in
// whatever checker they run, or AcceptAllScripts to skip it.
type ScriptPredicate func(tx *btcutil.Tx, inputIdx int, prev *Entry) error

// AcceptAllScripts is the predicate that treats every script as valid.
func AcceptAllScripts(*btcutil.Tx, int, *Entry) error { return nil }

// View is an in-memory UTXO set. It is owned by a single writer; the engine
// serializes all mutation behind its own lock.
type View struct {
	entries     map[wire.OutPoint]*Entry
	checkScript ScriptPredicate
}

// NewView returns an empty view using the given script predicate.
func NewView(checkScript ScriptPredicate) *View {
	if checkScript == nil {
		checkScript = AcceptAllScripts
	}
	return &View{
		entries:     make(map[wire.OutPoint]*Entry),
		checkScript: checkScript,
	}
}

// Size returns the number of unspent outputs tracked by the view.
func (v *View) Size() int { return len(v.entries) }

// Lookup returns the unspent entry for an outpoint, or nil.
func (v *View) Lookup(op wire.OutPoint) *Entry {
	return v.entries[op]
}

// ConnectBlock verifies the block's transactions against the view and applies
// them, returning the delta that records what changed. On error the view is
// left untouched.
func (v *View) ConnectBlock(block *btcutil.Block, height int32) (*Delta, error) {
	delta := NewDelta()
	for i, tx := range block.Transactions() {
		coinbase := i == 0
		if err := v.connectTx(tx, height, coinbase, delta); err != nil {
			v.revert(delta)
			return nil, err
		}
	}
	return delta, nil
}

func (v *View) connectTx(tx *btcutil.Tx, height int32, coinbase bool, delta *Delta) error {
	if !coinbase {
		for idx, in := range tx.MsgTx().TxIn {
			prev, ok := v.entries[in.PreviousOutPoint]
			if !ok {
				return ruleErr("tx %s spends missing or spent output %s",
					tx.Hash(), in.PreviousOutPoint)
			}
			if err := v.checkScript(tx, idx, prev); err != nil {
				return ruleErr("tx %s input %d script check failed: %v", tx.Hash(), idx, err)
			}
			// Outputs both created and consumed inside the same delta cancel
			// out, keeping Created and Spent disjoint so a revert restores
			// exactly the pre-block set.
			if _, created := delta.Created[in.PreviousOutPoint]; created {
				delete(delta.Created, in.PreviousOutPoint)
			} else {
				delta.Spent[in.PreviousOutPoint] = prev
			}
			delete(v.entries, in.PreviousOutPoint)
		}
	}
	for outIdx, out := range tx.MsgTx().TxOut {
		op := wire.OutPoint{Hash: *tx.Hash(), Index: uint32(outIdx)}
		entry := &Entry{
			Amount:   out.Value,
			PkScript: out.PkScript,
			Height:   height,
			Coinbase: coinbase,
		}
		v.entries[op] = entry
		delta.Created[op] = entry
	}
	return nil
}

// DisconnectBlock reverts a previously connected block using its recorded
// delta: created outputs are removed and spent ones restored.
func (v *View) DisconnectBlock(delta *Delta) {
	v.revert(delta)
}

func (v *View) revert(delta *Delta) {
	for op := range delta.Created {
		delete(v.entries, op)
	}
	for op, entry := range delta.Spent {
		v.entries[op] = entry.clone()
	}
}
