package utxo_test

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/utxo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coinbaseTx(tag byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		SignatureScript:  []byte{tag},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 50_0000_0000, PkScript: []byte{0x51}})
	return tx
}

func spendTx(prev *wire.MsgTx, idx uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevHash := prev.TxHash()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&prevHash, idx),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: prev.TxOut[idx].Value - 1000, PkScript: []byte{0x51}})
	return tx
}

func blockOf(txns ...*wire.MsgTx) *btcutil.Block {
	msg := &wire.MsgBlock{Header: wire.BlockHeader{Version: 1}}
	for _, tx := range txns {
		_ = msg.AddTransaction(tx)
	}
	return btcutil.NewBlock(msg)
}

func op(tx *wire.MsgTx, idx uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: idx}
}

func TestConnectThenDisconnectRestoresSet(t *testing.T) {
	t.Parallel()
	view := utxo.NewView(nil)

	cb0 := coinbaseTx(0)
	_, err := view.ConnectBlock(blockOf(cb0), 0)
	require.NoError(t, err)
	require.Equal(t, 1, view.Size())

	cb1 := coinbaseTx(1)
	spend := spendTx(cb0, 0)
	delta, err := view.ConnectBlock(blockOf(cb1, spend), 1)
	require.NoError(t, err)

	assert.Nil(t, view.Lookup(op(cb0, 0)))
	assert.NotNil(t, view.Lookup(op(spend, 0)))
	assert.NotNil(t, view.Lookup(op(cb1, 0)))

	view.DisconnectBlock(delta)
	assert.Equal(t, 1, view.Size())
	restored := view.Lookup(op(cb0, 0))
	require.NotNil(t, restored)
	assert.Equal(t, int64(50_0000_0000), restored.Amount)
	assert.True(t, restored.Coinbase)
}

func TestIntraBlockSpendChain(t *testing.T) {
	t.Parallel()
	view := utxo.NewView(nil)

	cb0 := coinbaseTx(0)
	_, err := view.ConnectBlock(blockOf(cb0), 0)
	require.NoError(t, err)

	// A block whose second spend consumes an output created by the first.
	cb1 := coinbaseTx(1)
	first := spendTx(cb0, 0)
	second := spendTx(first, 0)
	delta, err := view.ConnectBlock(blockOf(cb1, first, second), 1)
	require.NoError(t, err)

	assert.Nil(t, view.Lookup(op(first, 0)), "intermediate output survived")
	assert.NotNil(t, view.Lookup(op(second, 0)))

	view.DisconnectBlock(delta)
	assert.Equal(t, 1, view.Size())
	assert.NotNil(t, view.Lookup(op(cb0, 0)))
	assert.Nil(t, view.Lookup(op(first, 0)))
}

func TestMissingInputLeavesViewUntouched(t *testing.T) {
	t.Parallel()
	view := utxo.NewView(nil)

	cb0 := coinbaseTx(0)
	_, err := view.ConnectBlock(blockOf(cb0), 0)
	require.NoError(t, err)

	phantom := coinbaseTx(9)
	bad := spendTx(phantom, 0)
	cb1 := coinbaseTx(1)
	_, err = view.ConnectBlock(blockOf(cb1, bad), 1)
	require.Error(t, err)

	var ruleErr *utxo.RuleError
	assert.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, 1, view.Size())
	assert.NotNil(t, view.Lookup(op(cb0, 0)))
	assert.Nil(t, view.Lookup(op(cb1, 0)), "rejected block leaked outputs")
}

func TestScriptPredicateFailureRejectsBlock(t *testing.T) {
	t.Parallel()
	view := utxo.NewView(func(*btcutil.Tx, int, *utxo.Entry) error {
		return errors.New("bad signature")
	})

	cb0 := coinbaseTx(0)
	_, err := view.ConnectBlock(blockOf(cb0), 0)
	require.NoError(t, err, "coinbase inputs are exempt from script checks")

	spend := spendTx(cb0, 0)
	_, err = view.ConnectBlock(blockOf(coinbaseTx(1), spend), 1)
	require.Error(t, err)
	assert.ErrorContains(t, err, "script check")
	assert.Equal(t, 1, view.Size())
}
