package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/spvchain7000/internal/utxo"
	"go.uber.org/zap"
)

// Metrics receives engine observations. The prometheus implementation lives
// in internal/metrics; a no-op is used when none is supplied.
type Metrics interface {
	ObserveAdd(err error, connected bool, started time.Time)
	ObserveReorg(depth int)
	SetBestHeight(height int32)
	SetOrphanPoolSize(size int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAdd(error, bool, time.Time) {}
func (nopMetrics) ObserveReorg(int)                  {}
func (nopMetrics) SetBestHeight(int32)               {}
func (nopMetrics) SetOrphanPoolSize(int)             {}

// Config carries the engine's dependencies.
type Config struct {
	Params *Params
	Store  BlockStore

	// Connector selects the verification mode. Nil means header-only (SPV)
	// operation over Store.
	Connector Connector

	Logger  *zap.Logger
	Metrics Metrics

	// OrphanLimit caps the orphan pool; zero means the default of 100.
	OrphanLimit int

	// TimeSource overrides the wall clock, for tests.
	TimeSource func() time.Time
}

// Engine links incoming blocks into the block tree, tracks the branch with
// the most cumulative work and re-organizes when another branch overtakes it.
//
// A single mutex serializes all mutation; the chain-head pointer is kept in
// an atomic so readers never wait behind a long Add call.
type Engine struct {
	params    *Params
	store     BlockStore
	connector Connector
	logger    *zap.Logger
	metrics   Metrics
	now       func() time.Time

	mu        sync.Mutex
	head      atomic.Pointer[StoredBlock]
	orphans   *orphanPool
	listeners listenerList

	statsLastLog     time.Time
	statsBlocksAdded int
}

// New builds an Engine around an initialized store. The store must already
// hold a chain head (at minimum the genesis block).
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Params == nil {
		return nil, errors.New("chain params are required")
	}
	if cfg.Store == nil {
		return nil, errors.New("block store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Connector == nil {
		cfg.Connector = NewHeaderConnector(cfg.Store)
	}
	if cfg.TimeSource == nil {
		cfg.TimeSource = time.Now
	}

	head, err := cfg.Store.ChainHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	if head == nil {
		return nil, errors.New("block store has no chain head")
	}

	e := &Engine{
		params:       cfg.Params,
		store:        cfg.Store,
		connector:    cfg.Connector,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.TimeSource,
		orphans:      newOrphanPool(cfg.OrphanLimit),
		statsLastLog: cfg.TimeSource(),
	}
	e.head.Store(head)
	e.metrics.SetBestHeight(head.Height)
	e.logger.Info("chain head loaded",
		zap.Int32("height", head.Height),
		zap.Stringer("hash", head.Hash()))
	return e, nil
}

// BlockStore returns the store the engine was constructed with. Callers can
// use it to iterate over the chain.
func (e *Engine) BlockStore() BlockStore { return e.store }

// ChainHead returns the stored block with the greatest cumulative work
// currently known. It never blocks behind block processing.
func (e *Engine) ChainHead() *StoredBlock { return e.head.Load() }

// BestHeight returns the height of the best known chain.
func (e *Engine) BestHeight() int32 { return e.head.Load().Height }

// EstimateBlockTime estimates the wall-clock time at which the given height
// is (or was) reached, extrapolating from the current head at the network's
// target spacing.
func (e *Engine) EstimateBlockTime(height int32) time.Time {
	head := e.head.Load()
	offset := time.Duration(height-head.Height) * e.params.TargetSpacing
	return head.Header.Timestamp.Add(offset)
}

// AddListener registers a listener. Blocks received before registration are
// not replayed.
func (e *Engine) AddListener(listener Listener) { e.listeners.add(listener) }

// RemoveListener unregisters a previously added listener.
func (e *Engine) RemoveListener(listener Listener) { e.listeners.remove(listener) }

// AddWallet registers a wallet as a chain listener.
func (e *Engine) AddWallet(wallet Listener) { e.AddListener(wallet) }

// IsOrphan reports whether the given block is currently pooled as an orphan.
func (e *Engine) IsOrphan(hash *chainhash.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orphans.contains(hash)
}

// OrphanRoot returns the earliest pooled ancestor of the given orphan: the
// block whose parent should be requested from the network first. Returns nil
// if hash is not an orphan.
func (e *Engine) OrphanRoot(hash *chainhash.Hash) *btcutil.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	root := e.orphans.root(hash)
	if root == nil {
		return nil
	}
	return root.block
}

// AddBlock processes a received block and tries to link it into the chain.
// It returns true when the block was connected (extending either the best
// chain or a side branch) and false when it was set aside as an orphan or was
// already pooled.
func (e *Engine) AddBlock(ctx context.Context, block *btcutil.Block) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addChecked(ctx, block, nil, nil)
}

// AddFilteredBlock processes a Bloom-filtered block: a header plus the hashes
// of every matching transaction and whichever of those transactions the peer
// actually sent.
func (e *Engine) AddFilteredBlock(ctx context.Context, fb *FilteredBlock) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The peer may send fewer transactions than matched hashes; transactions
	// already seen at broadcast time are not resent. Every transaction that
	// was sent must be covered by the matched set.
	hashes := make(map[chainhash.Hash]struct{}, len(fb.MatchedHashes()))
	for _, h := range fb.MatchedHashes() {
		hashes[*h] = struct{}{}
	}
	txns := fb.Transactions()
	for _, tx := range txns {
		if _, ok := hashes[*tx.Hash()]; !ok {
			return false, verificationErr(fb.Header.BlockHash(),
				"filtered block carries transaction %s outside its matched set", tx.Hash())
		}
		delete(hashes, *tx.Hash())
	}
	remaining := make([]*chainhash.Hash, 0, len(hashes))
	for _, h := range fb.MatchedHashes() {
		if _, ok := hashes[*h]; ok {
			remaining = append(remaining, h)
		}
	}

	headerOnly := btcutil.NewBlock(fb.HeaderBlock())
	return e.addChecked(ctx, headerOnly, remaining, txns)
}

// addChecked runs add and performs the abort protocol on verification
// failure. Callers hold the engine mutex.
func (e *Engine) addChecked(ctx context.Context, block *btcutil.Block, filteredHashes []*chainhash.Hash, filteredTxns []*btcutil.Tx) (bool, error) {
	started := e.now()
	connected, err := e.add(ctx, block, filteredHashes, filteredTxns, true)
	if err != nil && IsVerification(err) {
		if abortErr := e.connector.NotSettingChainHead(ctx); abortErr != nil {
			e.logger.Error("failed to abort chain head update", zap.Error(abortErr))
		}
	}
	e.metrics.ObserveAdd(err, connected, started)
	return connected, err
}

// add is the core state machine. tryConnecting is false during orphan replay
// to keep the replay loop from recursing.
func (e *Engine) add(ctx context.Context, block *btcutil.Block, filteredHashes []*chainhash.Hash, filteredTxns []*btcutil.Tx, tryConnecting bool) (bool, error) {
	if now := e.now(); now.Sub(e.statsLastLog) > time.Second {
		if e.statsBlocksAdded > 1 {
			e.logger.Info("block throughput", zap.Int("blocks_per_second", e.statsBlocksAdded))
		}
		e.statsLastLog = now
		e.statsBlocksAdded = 0
	}

	blockHash := *block.Hash()
	head := e.head.Load()
	if headHash := head.Hash(); blockHash.IsEqual(&headHash) {
		// Duplicate of the current head; cheap exit before the split search.
		return true, nil
	}
	if tryConnecting && e.orphans.contains(&blockHash) {
		return false, nil
	}

	hasTxns := block.MsgBlock().Transactions != nil
	if e.connector.ShouldVerifyTransactions() && !hasTxns {
		return false, verificationErr(blockHash, "got a block header while running in full-block mode")
	}

	// Decide up front whether the block contents matter to anyone, so the
	// Merkle root check can be skipped for uninteresting blocks.
	contentsImportant := e.connector.ShouldVerifyTransactions()
	if hasTxns && !contentsImportant {
		contentsImportant = e.containsRelevantTransactions(block)
	}

	header := &block.MsgBlock().Header
	if err := e.params.verifyHeader(header, e.now()); err != nil {
		e.logger.Error("failed to verify block", zap.Stringer("hash", blockHash), zap.Error(err))
		return false, err
	}
	if contentsImportant && hasTxns {
		if err := verifyTransactions(block); err != nil {
			e.logger.Error("failed to verify block", zap.Stringer("hash", blockHash), zap.Error(err))
			return false, err
		}
	}

	storedPrev, err := e.store.Get(ctx, &header.PrevBlock)
	if err != nil {
		return false, fmt.Errorf("look up parent of block %s: %w", blockHash, err)
	}
	if storedPrev == nil {
		if !tryConnecting {
			return false, fmt.Errorf("orphan replay offered unlinkable block %s", blockHash)
		}
		// Probably still downloading the chain and this block was solved in
		// the meantime. Set it aside until its parent shows up.
		e.logger.Warn("block does not connect",
			zap.Stringer("hash", blockHash),
			zap.Stringer("prev", header.PrevBlock))
		if evicted := e.orphans.add(&orphanBlock{block: block, filteredHashes: filteredHashes, filteredTxns: filteredTxns}); evicted != nil {
			e.logger.Warn("orphan pool full, evicted oldest",
				zap.Stringer("evicted", evicted.block.Hash()))
		}
		e.metrics.SetOrphanPoolSize(e.orphans.len())
		return false, nil
	}

	if err := e.checkDifficultyTransitions(ctx, storedPrev, header); err != nil {
		return false, err
	}
	if err := e.connectBlock(ctx, block, storedPrev, filteredHashes, filteredTxns); err != nil {
		return false, err
	}

	if tryConnecting {
		if err := e.tryConnectingOrphans(ctx); err != nil {
			return true, err
		}
	}
	e.statsBlocksAdded++
	return true, nil
}

// connectBlock links a verified block whose parent is known: extend the best
// chain, grow a side branch, or trigger a re-organization.
func (e *Engine) connectBlock(ctx context.Context, block *btcutil.Block, storedPrev *StoredBlock, filteredHashes []*chainhash.Hash, filteredTxns []*btcutil.Tx) error {
	header := &block.MsgBlock().Header
	blockHash := *block.Hash()
	height := storedPrev.Height + 1

	if !e.params.PassesCheckpoint(height, &blockHash) {
		return verificationErr(blockHash, "failed checkpoint lock-in at height %d", height)
	}
	fullMode := e.connector.ShouldVerifyTransactions()
	if fullMode {
		for _, tx := range block.Transactions() {
			if !blockchain.IsFinalizedTransaction(tx, height, header.Timestamp) {
				return verificationErr(blockHash, "block contains non-final transaction %s", tx.Hash())
			}
		}
	}

	head := e.head.Load()
	if storedPrev.Eq(head) {
		if fullMode {
			median, err := medianTimestamp(ctx, head, e.store)
			if err != nil {
				return err
			}
			if !header.Timestamp.After(median) {
				return verificationErr(blockHash, "timestamp %v is before median time past", header.Timestamp)
			}
		}

		// Normal continuation of the chain.
		return e.extendBestChain(ctx, block, storedPrev, filteredHashes, filteredTxns)
	}

	// The block connects somewhere below the best chain tip.
	built := storedPrev.BuildNext(*header)
	overtakes := built.MoreWorkThan(head)
	if overtakes {
		e.logger.Info("block is causing a re-organize", zap.Stringer("hash", blockHash))
	} else {
		split, err := e.findSplit(ctx, built, head)
		if err != nil {
			return err
		}
		if split != nil && split.Eq(built) {
			// Already saw and linked this block below the tip; re-processing
			// it would only confuse the listeners.
			e.logger.Warn("saw duplicated block in main chain",
				zap.Int32("height", built.Height),
				zap.Stringer("hash", blockHash))
			return nil
		}
		if split == nil {
			return verificationErr(blockHash, "block forks the chain but split point is null")
		}
		var blockForStore *btcutil.Block
		if fullMode {
			blockForStore = block
		}
		if err := e.connector.AddToStore(ctx, built, blockForStore, nil); err != nil {
			return fmt.Errorf("store side-chain block %s: %w", blockHash, err)
		}
		e.logger.Info("block forks the chain but did not cause a re-organize",
			zap.Int32("split_height", split.Height),
			zap.Stringer("split_hash", split.Hash()),
			zap.Stringer("hash", blockHash))
	}

	// Side-chain sightings are delivered before any re-org notification so
	// listeners account for the transactions exactly once.
	hasTxns := block.MsgBlock().Transactions != nil
	if hasTxns || filteredTxns != nil {
		var txns []*btcutil.Tx
		if hasTxns {
			txns = block.Transactions()
		} else {
			txns = filteredTxns
		}
		e.notifyBlockConnected(built, SideChain, txns, filteredHashes)
	}

	if overtakes {
		return e.handleNewBestChain(ctx, built, block)
	}
	return nil
}

// extendBestChain connects a block on top of the current head and advances
// the head pointer.
func (e *Engine) extendBestChain(ctx context.Context, block *btcutil.Block, storedPrev *StoredBlock, filteredHashes []*chainhash.Hash, filteredTxns []*btcutil.Tx) error {
	header := block.MsgBlock().Header
	fullMode := e.connector.ShouldVerifyTransactions()

	built := storedPrev.BuildNext(header)
	var delta *utxo.Delta
	var err error
	if fullMode {
		delta, err = e.connector.ConnectBlock(ctx, built.Height, block)
		if err != nil {
			return err
		}
	}
	var blockForStore *btcutil.Block
	if fullMode {
		blockForStore = block
	}
	if err := e.connector.AddToStore(ctx, built, blockForStore, delta); err != nil {
		return fmt.Errorf("store block %s: %w", built.Hash(), err)
	}
	if err := e.setChainHead(ctx, built); err != nil {
		return err
	}
	e.logger.Debug("chain extended", zap.Int32("height", built.Height))

	hasTxns := block.MsgBlock().Transactions != nil
	snapshot := e.listeners.snapshot()
	for i, listener := range snapshot {
		if hasTxns || filteredTxns != nil {
			txns := filteredTxns
			if hasTxns {
				txns = block.Transactions()
			}
			e.sendTransactionsToListener(built, BestChain, listener, txns, i > 0)
		}
		for _, h := range filteredHashes {
			if err := listener.TransactionInBlock(h, built, BestChain); err != nil {
				e.logger.Warn("listener rejected filtered hash notification", zap.Error(err))
			}
		}
		if err := listener.NewBestBlock(built); err != nil {
			e.logger.Warn("listener rejected new best block notification", zap.Error(err))
		}
	}
	return nil
}

// handleNewBestChain re-organizes onto the branch ending at newChainHead,
// which carries more work than the current best chain. block is the in-memory
// form of newChainHead when its transactions never reached the store.
func (e *Engine) handleNewBestChain(ctx context.Context, newChainHead *StoredBlock, block *btcutil.Block) error {
	head := e.head.Load()
	split, err := e.findSplit(ctx, newChainHead, head)
	if err != nil {
		return err
	}
	if split == nil {
		return verificationErr(newChainHead.Hash(), "block forks the chain but split point is null")
	}
	e.logger.Info("re-organizing",
		zap.Int32("split_height", split.Height),
		zap.Stringer("split_hash", split.Hash()),
		zap.Stringer("old_head", head.Hash()),
		zap.Stringer("new_head", newChainHead.Hash()))

	oldBlocks, err := e.partialChain(ctx, head, split)
	if err != nil {
		return err
	}
	newBlocks, err := e.partialChain(ctx, newChainHead, split)
	if err != nil {
		return err
	}

	storedNewHead := split
	if e.connector.ShouldVerifyTransactions() {
		// Unwind the abandoned branch newest-first, then replay the new
		// branch oldest-first.
		for _, oldBlock := range oldBlocks {
			if err := e.connector.DisconnectBlock(ctx, oldBlock); err != nil {
				return err
			}
		}
		for i := len(newBlocks) - 1; i >= 0; i-- {
			cursor := newBlocks[i]
			prev, err := cursor.Prev(ctx, e.store)
			if err != nil {
				return err
			}
			if prev != nil {
				median, err := medianTimestamp(ctx, prev, e.store)
				if err != nil {
					return err
				}
				if !cursor.Header.Timestamp.After(median) {
					return verificationErr(cursor.Hash(),
						"timestamp %v is before median time past during re-org", cursor.Header.Timestamp)
				}
			}
			var delta *utxo.Delta
			if !cursor.Eq(newChainHead) || block == nil {
				delta, err = e.connector.ConnectStored(ctx, cursor)
			} else {
				delta, err = e.connector.ConnectBlock(ctx, newChainHead.Height, block)
			}
			if err != nil {
				return err
			}
			var blockForStore *btcutil.Block
			if cursor.Eq(newChainHead) && block != nil {
				blockForStore = block
			}
			if err := e.connector.AddToStore(ctx, cursor, blockForStore, delta); err != nil {
				return fmt.Errorf("store re-organized block %s: %w", cursor.Hash(), err)
			}
			storedNewHead = cursor
		}
	} else {
		if err := e.connector.AddToStore(ctx, newChainHead, nil, nil); err != nil {
			return fmt.Errorf("store new chain head %s: %w", newChainHead.Hash(), err)
		}
		storedNewHead = newChainHead
	}

	// Tell the listeners so spendable-transaction sets can be rebuilt. A
	// listener may remove itself from inside the callback.
	for i := 0; i < e.listeners.len(); i++ {
		listener := e.listeners.at(i)
		if listener == nil {
			break
		}
		if err := listener.Reorganize(split, oldBlocks, newBlocks); err != nil {
			e.logger.Warn("listener rejected re-organize notification", zap.Error(err))
		}
		if e.listeners.at(i) != listener {
			i--
		}
	}

	e.metrics.ObserveReorg(len(oldBlocks))
	return e.setChainHead(ctx, storedNewHead)
}

// partialChain returns the blocks from higher down to lower, higher included
// and lower excluded, in descending height order.
func (e *Engine) partialChain(ctx context.Context, higher, lower *StoredBlock) ([]*StoredBlock, error) {
	if higher.Height <= lower.Height {
		return nil, fmt.Errorf("partial chain bounds reversed: %d <= %d", higher.Height, lower.Height)
	}
	var results []*StoredBlock
	cursor := higher
	for {
		results = append(results, cursor)
		prev, err := cursor.Prev(ctx, e.store)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, fmt.Errorf("ran off the end of the chain below block %s", cursor.Hash())
		}
		cursor = prev
		if cursor.Eq(lower) {
			return results, nil
		}
	}
}

// findSplit locates the deepest common ancestor of the two chain tips.
// Returns nil when the chains never meet, which means the store is
// inconsistent.
func (e *Engine) findSplit(ctx context.Context, newChainHead, oldChainHead *StoredBlock) (*StoredBlock, error) {
	oldCursor, newCursor := oldChainHead, newChainHead
	for !oldCursor.Eq(newCursor) {
		var err error
		if oldCursor.Height > newCursor.Height {
			oldCursor, err = oldCursor.Prev(ctx, e.store)
		} else {
			newCursor, err = newCursor.Prev(ctx, e.store)
		}
		if err != nil {
			return nil, err
		}
		if oldCursor == nil || newCursor == nil {
			return nil, nil
		}
	}
	return oldCursor, nil
}

// tryConnectingOrphans replays pooled orphans whose parent has become known,
// repeating until a full pass connects nothing.
func (e *Engine) tryConnectingOrphans(ctx context.Context) error {
	// Brute force over the pool in arrival order; orphans are rare and the
	// pool is bounded, so the quadratic worst case is acceptable.
	for {
		connectedThisRound := 0
		for _, orphan := range e.orphans.all() {
			orphanHash := *orphan.block.Hash()
			prev, err := e.store.Get(ctx, &orphan.block.MsgBlock().Header.PrevBlock)
			if err != nil {
				return err
			}
			if prev == nil {
				continue
			}
			if _, err := e.add(ctx, orphan.block, orphan.filteredHashes, orphan.filteredTxns, false); err != nil {
				return err
			}
			e.orphans.remove(&orphanHash)
			connectedThisRound++
		}
		if connectedThisRound == 0 {
			break
		}
		e.logger.Info("connected orphan blocks", zap.Int("count", connectedThisRound))
	}
	e.metrics.SetOrphanPoolSize(e.orphans.len())
	return nil
}

// containsRelevantTransactions reports whether any registered listener cares
// about any transaction in the block.
func (e *Engine) containsRelevantTransactions(block *btcutil.Block) bool {
	listeners := e.listeners.snapshot()
	for _, tx := range block.Transactions() {
		for _, listener := range listeners {
			relevant, err := listener.IsTransactionRelevant(tx)
			if err != nil {
				// A script we cannot parse must not break block processing.
				e.logger.Warn("failed to parse a script", zap.Stringer("tx", tx.Hash()), zap.Error(err))
				continue
			}
			if relevant {
				return true
			}
		}
	}
	return false
}

// notifyBlockConnected fans a connected block's transactions out to the
// listeners in registration order.
func (e *Engine) notifyBlockConnected(built *StoredBlock, kind BlockKind, txns []*btcutil.Tx, filteredHashes []*chainhash.Hash) {
	for i, listener := range e.listeners.snapshot() {
		e.sendTransactionsToListener(built, kind, listener, txns, i > 0)
		for _, h := range filteredHashes {
			if err := listener.TransactionInBlock(h, built, kind); err != nil {
				e.logger.Warn("listener rejected filtered hash notification", zap.Error(err))
			}
		}
	}
}

// sendTransactionsToListener delivers each relevant transaction. When clone
// is set the listener receives its own copy, so two listeners never share a
// mutable transaction object during re-orgs.
func (e *Engine) sendTransactionsToListener(block *StoredBlock, kind BlockKind, listener Listener, txns []*btcutil.Tx, clone bool) {
	for _, tx := range txns {
		relevant, err := listener.IsTransactionRelevant(tx)
		if err != nil {
			e.logger.Warn("failed to parse a script", zap.Stringer("tx", tx.Hash()), zap.Error(err))
			continue
		}
		if !relevant {
			continue
		}
		if clone {
			tx = btcutil.NewTx(tx.MsgTx().Copy())
		}
		if err := listener.ReceiveFromBlock(tx, block, kind); err != nil {
			e.logger.Warn("listener rejected transaction", zap.Stringer("tx", tx.Hash()), zap.Error(err))
		}
	}
}

// setChainHead durably commits the new head through the connector, then
// publishes it to readers.
func (e *Engine) setChainHead(ctx context.Context, head *StoredBlock) error {
	if err := e.connector.SetChainHead(ctx, head); err != nil {
		return fmt.Errorf("set chain head %s: %w", head.Hash(), err)
	}
	e.head.Store(head)
	e.metrics.SetBestHeight(head.Height)
	return nil
}
