package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/utxo"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=chain_test

type (
	// BlockStore is the keyed persistence layer behind the engine. The engine
	// never deletes stored blocks; implementations may prune transaction data
	// but must retain headers with work and height.
	//
	// Get returns (nil, nil) when the hash is unknown; errors are reserved for
	// real persistence failures and abort the operation that triggered them.
	BlockStore interface {
		Get(ctx context.Context, hash *chainhash.Hash) (*StoredBlock, error)
		Put(ctx context.Context, block *StoredBlock) error

		// ChainHead returns the durable pointer to the current best block.
		// SetChainHead replaces it; for undoable stores this is the commit
		// point for any open undo transaction.
		ChainHead(ctx context.Context) (*StoredBlock, error)
		SetChainHead(ctx context.Context, block *StoredBlock) error
	}

	// UndoableBlockStore extends BlockStore for full verification mode, where
	// connecting a block also records the transactions and the UTXO delta
	// needed to replay or revert it.
	UndoableBlockStore interface {
		BlockStore

		// PutUndoable stores a connected block with its transactions and UTXO
		// delta. txns may be nil when the transactions were stored by an
		// earlier call; the existing data is kept and only the delta updated.
		PutUndoable(ctx context.Context, block *StoredBlock, txns *wire.MsgBlock, delta *utxo.Delta) error

		// GetUndoable returns the undo record for a connected block, or
		// (nil, nil) once it has been pruned or was never stored with undo
		// data.
		GetUndoable(ctx context.Context, hash *chainhash.Hash) (*UndoableBlock, error)

		// NotSettingChainHead signals that a started connect/disconnect
		// sequence will not be committed, so any open transaction can be
		// aborted.
		NotSettingChainHead(ctx context.Context) error
	}
)

// UndoableBlock bundles a stored block with the data required to replay or
// revert its effect on the UTXO set.
type UndoableBlock struct {
	Stored *StoredBlock
	Block  *wire.MsgBlock
	Delta  *utxo.Delta
}
