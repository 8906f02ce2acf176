// Package store provides BlockStore implementations: an in-memory store used
// by tests and full-verification setups, and a leveldb-backed header store
// for durable SPV operation.
package store

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/chain"
	"github.com/goodnatureofminers/spvchain7000/internal/utxo"
)

// MemoryStore keeps the whole block tree in memory, including transaction
// and undo data, so it can back either verification mode.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[chainhash.Hash]*chain.StoredBlock
	undo   map[chainhash.Hash]*chain.UndoableBlock
	head   *chain.StoredBlock
}

// NewMemoryStore seeds a store with the given genesis block as chain head.
func NewMemoryStore(genesis *wire.MsgBlock) *MemoryStore {
	stored := chain.NewStoredGenesis(genesis.Header)
	hash := stored.Hash()
	s := &MemoryStore{
		blocks: make(map[chainhash.Hash]*chain.StoredBlock),
		undo:   make(map[chainhash.Hash]*chain.UndoableBlock),
		head:   stored,
	}
	s.blocks[hash] = stored
	s.undo[hash] = &chain.UndoableBlock{Stored: stored, Block: genesis, Delta: utxo.NewDelta()}
	return s
}

// Get returns the stored block for hash, or nil when unknown.
func (s *MemoryStore) Get(_ context.Context, hash *chainhash.Hash) (*chain.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[*hash], nil
}

// Put stores a header-only block record.
func (s *MemoryStore) Put(_ context.Context, block *chain.StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Hash()] = block
	return nil
}

// ChainHead returns the current best block pointer.
func (s *MemoryStore) ChainHead(context.Context) (*chain.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

// SetChainHead durably replaces the best block pointer.
func (s *MemoryStore) SetChainHead(_ context.Context, block *chain.StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = block
	return nil
}

// PutUndoable stores a block along with its transactions and UTXO delta. A
// nil txns keeps previously stored transaction data.
func (s *MemoryStore) PutUndoable(_ context.Context, block *chain.StoredBlock, txns *wire.MsgBlock, delta *utxo.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := block.Hash()
	s.blocks[hash] = block

	existing := s.undo[hash]
	if existing == nil {
		existing = &chain.UndoableBlock{}
		s.undo[hash] = existing
	}
	existing.Stored = block
	if txns != nil {
		existing.Block = txns
	}
	if delta != nil {
		existing.Delta = delta
	}
	return nil
}

// GetUndoable returns the undo record for hash, or nil after pruning.
func (s *MemoryStore) GetUndoable(_ context.Context, hash *chainhash.Hash) (*chain.UndoableBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.undo[*hash], nil
}

// NotSettingChainHead aborts a pending head update; the in-memory store has
// no open transaction to roll back.
func (s *MemoryStore) NotSettingChainHead(context.Context) error { return nil }

// Prune drops the transaction and undo data for a block while keeping its
// header record, mimicking a store that discarded old bodies.
func (s *MemoryStore) Prune(hash *chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.undo, *hash)
}
