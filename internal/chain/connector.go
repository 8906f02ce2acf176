package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/utxo"
)

// Connector is the capability that separates header-only operation from full
// transaction verification. The engine is otherwise identical in both modes.
type Connector interface {
	// ShouldVerifyTransactions reports whether blocks must carry transaction
	// bodies and have them connected against the UTXO set.
	ShouldVerifyTransactions() bool

	// ConnectBlock verifies and applies the block's transactions at the given
	// height, returning the resulting UTXO delta. Full mode only.
	ConnectBlock(ctx context.Context, height int32, block *btcutil.Block) (*utxo.Delta, error)

	// ConnectStored re-connects a previously stored block during a
	// re-organization, loading its transactions from the store. Returns a
	// PrunedError when the transaction data is no longer resident.
	ConnectStored(ctx context.Context, block *StoredBlock) (*utxo.Delta, error)

	// DisconnectBlock reverts a connected block's UTXO delta. Returns a
	// PrunedError when the undo data is no longer resident.
	DisconnectBlock(ctx context.Context, block *StoredBlock) error

	// AddToStore persists the built stored block, together with transaction
	// and undo data in full mode.
	AddToStore(ctx context.Context, built *StoredBlock, block *btcutil.Block, delta *utxo.Delta) error

	// SetChainHead durably commits the new head; for undoable stores this
	// also commits any open delta transaction.
	SetChainHead(ctx context.Context, head *StoredBlock) error

	// NotSettingChainHead aborts a started connect/disconnect sequence after
	// a verification failure.
	NotSettingChainHead(ctx context.Context) error
}

// headerConnector implements SPV mode: headers are persisted and no
// transaction state is kept.
type headerConnector struct {
	store BlockStore
}

// NewHeaderConnector returns the Connector for header-only (SPV) operation.
func NewHeaderConnector(store BlockStore) Connector {
	return &headerConnector{store: store}
}

func (c *headerConnector) ShouldVerifyTransactions() bool { return false }

func (c *headerConnector) ConnectBlock(context.Context, int32, *btcutil.Block) (*utxo.Delta, error) {
	return nil, nil
}

func (c *headerConnector) ConnectStored(context.Context, *StoredBlock) (*utxo.Delta, error) {
	return nil, nil
}

func (c *headerConnector) DisconnectBlock(context.Context, *StoredBlock) error { return nil }

func (c *headerConnector) AddToStore(ctx context.Context, built *StoredBlock, _ *btcutil.Block, _ *utxo.Delta) error {
	return c.store.Put(ctx, built)
}

func (c *headerConnector) SetChainHead(ctx context.Context, head *StoredBlock) error {
	return c.store.SetChainHead(ctx, head)
}

func (c *headerConnector) NotSettingChainHead(context.Context) error { return nil }

// utxoConnector implements full verification mode on top of an undoable store
// and an in-memory UTXO view.
type utxoConnector struct {
	store UndoableBlockStore
	view  *utxo.View
}

// NewUTXOConnector returns the Connector for full verification mode.
func NewUTXOConnector(store UndoableBlockStore, view *utxo.View) Connector {
	return &utxoConnector{store: store, view: view}
}

func (c *utxoConnector) ShouldVerifyTransactions() bool { return true }

func (c *utxoConnector) ConnectBlock(_ context.Context, height int32, block *btcutil.Block) (*utxo.Delta, error) {
	delta, err := c.view.ConnectBlock(block, height)
	if err != nil {
		var ruleErr *utxo.RuleError
		if errors.As(err, &ruleErr) {
			return nil, &VerificationError{Hash: *block.Hash(), Reason: ruleErr.Reason}
		}
		return nil, err
	}
	return delta, nil
}

func (c *utxoConnector) ConnectStored(ctx context.Context, block *StoredBlock) (*utxo.Delta, error) {
	hash := block.Hash()
	undoable, err := c.store.GetUndoable(ctx, &hash)
	if err != nil {
		return nil, fmt.Errorf("load undoable block %s: %w", hash, err)
	}
	if undoable == nil || undoable.Block == nil {
		return nil, &PrunedError{Hash: hash}
	}
	return c.ConnectBlock(ctx, block.Height, btcutil.NewBlock(undoable.Block))
}

func (c *utxoConnector) DisconnectBlock(ctx context.Context, block *StoredBlock) error {
	hash := block.Hash()
	undoable, err := c.store.GetUndoable(ctx, &hash)
	if err != nil {
		return fmt.Errorf("load undo data for block %s: %w", hash, err)
	}
	if undoable == nil || undoable.Delta == nil {
		return &PrunedError{Hash: hash}
	}
	c.view.DisconnectBlock(undoable.Delta)
	return nil
}

func (c *utxoConnector) AddToStore(ctx context.Context, built *StoredBlock, block *btcutil.Block, delta *utxo.Delta) error {
	var txns *wire.MsgBlock
	if block != nil {
		txns = block.MsgBlock()
	}
	return c.store.PutUndoable(ctx, built, txns, delta)
}

func (c *utxoConnector) SetChainHead(ctx context.Context, head *StoredBlock) error {
	return c.store.SetChainHead(ctx, head)
}

func (c *utxoConnector) NotSettingChainHead(ctx context.Context) error {
	return c.store.NotSettingChainHead(ctx)
}
