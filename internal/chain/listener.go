package chain

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockKind tells a listener which role a block notification plays.
type BlockKind int

const (
	// BestChain marks a block that extends the best known chain.
	BestChain BlockKind = iota
	// SideChain marks a block stored on a branch that is not currently best.
	SideChain
)

func (k BlockKind) String() string {
	switch k {
	case BestChain:
		return "best-chain"
	case SideChain:
		return "side-chain"
	default:
		return "unknown"
	}
}

// Listener observes chain events: transaction inclusions, side-chain
// sightings and re-organizations. Wallets implement this interface.
//
// Callbacks run on the engine's block-processing goroutine while the engine
// mutex is held, so they must not call back into the engine's mutating
// operations. A listener may remove itself during Reorganize. Errors returned
// from callbacks are logged and swallowed: one misbehaving listener must not
// break the chain.
type Listener interface {
	// IsTransactionRelevant reports whether the listener wants to receive the
	// transaction. An error is treated as "not relevant" (a script the
	// listener cannot parse must not break block processing).
	IsTransactionRelevant(tx *btcutil.Tx) (bool, error)

	// ReceiveFromBlock delivers a relevant transaction included in a block.
	ReceiveFromBlock(tx *btcutil.Tx, block *StoredBlock, kind BlockKind) error

	// TransactionInBlock reports that a transaction matching the remote
	// Bloom filter appeared in a filtered block, identified by hash only.
	TransactionInBlock(txHash *chainhash.Hash, block *StoredBlock, kind BlockKind) error

	// NewBestBlock reports a new best-chain tip after its transactions were
	// delivered.
	NewBestBlock(block *StoredBlock) error

	// Reorganize reports that the best chain switched branches at splitPoint.
	// oldBlocks and newBlocks are ordered newest first and exclude the split
	// point.
	Reorganize(splitPoint *StoredBlock, oldBlocks, newBlocks []*StoredBlock) error
}

// listenerList is an ordered listener collection safe to iterate while
// listeners add or remove themselves from inside callbacks.
type listenerList struct {
	mu        sync.Mutex
	listeners []Listener
}

func (l *listenerList) add(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *listenerList) remove(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns the current listeners; the copy keeps iteration stable
// while listeners mutate the registry.
func (l *listenerList) snapshot() []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Listener, len(l.listeners))
	copy(out, l.listeners)
	return out
}

// at returns the listener at index i, or nil when i is out of range.
func (l *listenerList) at(i int) Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.listeners) {
		return nil
	}
	return l.listeners[i]
}

func (l *listenerList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}
