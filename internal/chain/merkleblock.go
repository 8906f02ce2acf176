package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/pkg/safe"
)

// FilteredBlock is a block received through a remote Bloom filter: the full
// header, the total transaction count of the real block, the hashes that
// matched the filter, and whichever matching transactions the peer sent
// alongside.
type FilteredBlock struct {
	Header            wire.BlockHeader
	TotalTransactions uint32

	matched []*chainhash.Hash
	txns    []*btcutil.Tx
	byHash  map[chainhash.Hash]struct{}
}

// NewFilteredBlock extracts the matched transaction hashes from a merkle
// block message, verifying the partial Merkle tree against the header's
// Merkle root.
func NewFilteredBlock(msg *wire.MsgMerkleBlock) (*FilteredBlock, error) {
	blockHash := msg.Header.BlockHash()
	if msg.Transactions == 0 {
		return nil, verificationErr(blockHash, "merkle block claims zero transactions")
	}

	tree := partialMerkleTree{
		numTx:  msg.Transactions,
		hashes: msg.Hashes,
		flags:  msg.Flags,
	}
	root, matched, err := tree.extract()
	if err != nil {
		return nil, &VerificationError{Hash: blockHash, Reason: "bad partial merkle tree", Err: err}
	}
	if !msg.Header.MerkleRoot.IsEqual(root) {
		return nil, verificationErr(blockHash,
			"partial merkle tree root %s does not match header root %s", root, msg.Header.MerkleRoot)
	}

	byHash := make(map[chainhash.Hash]struct{}, len(matched))
	for _, h := range matched {
		byHash[*h] = struct{}{}
	}
	return &FilteredBlock{
		Header:            msg.Header,
		TotalTransactions: msg.Transactions,
		matched:           matched,
		byHash:            byHash,
	}, nil
}

// MatchedHashes returns the hashes that matched the remote filter, in block
// order.
func (fb *FilteredBlock) MatchedHashes() []*chainhash.Hash { return fb.matched }

// Transactions returns the transactions provided so far via AddTransaction.
func (fb *FilteredBlock) Transactions() []*btcutil.Tx { return fb.txns }

// AddTransaction attaches a transaction the peer sent for this block. Every
// provided transaction must be covered by the matched hash set.
func (fb *FilteredBlock) AddTransaction(tx *btcutil.Tx) error {
	if _, ok := fb.byHash[*tx.Hash()]; !ok {
		return fmt.Errorf("transaction %s is not in the filtered block's matched set", tx.Hash())
	}
	fb.txns = append(fb.txns, tx)
	return nil
}

// HeaderBlock returns the header-only block form used to link the filtered
// block into the chain.
func (fb *FilteredBlock) HeaderBlock() *wire.MsgBlock {
	return &wire.MsgBlock{Header: fb.Header}
}

// partialMerkleTree is the depth-first encoded subset of a block's Merkle
// tree carried by a merkle block message: one flag bit per traversed node,
// and a hash for every node the traversal does not descend into.
type partialMerkleTree struct {
	numTx  uint32
	hashes []*chainhash.Hash
	flags  []byte

	bitsUsed   int
	hashesUsed int
	matched    []*chainhash.Hash
}

func (t *partialMerkleTree) extract() (*chainhash.Hash, []*chainhash.Hash, error) {
	maxHashes, err := safe.Uint32(len(t.hashes))
	if err != nil || maxHashes > t.numTx {
		return nil, nil, fmt.Errorf("merkle block carries %d hashes for %d transactions", len(t.hashes), t.numTx)
	}

	height := uint32(0)
	for t.width(height) > 1 {
		height++
	}
	root, err := t.traverse(height, 0)
	if err != nil {
		return nil, nil, err
	}
	if t.hashesUsed != len(t.hashes) {
		return nil, nil, fmt.Errorf("merkle block has %d unconsumed hashes", len(t.hashes)-t.hashesUsed)
	}
	// Everything after the last consumed bit is byte padding and must be
	// zero.
	for i := t.bitsUsed; i < len(t.flags)*8; i++ {
		if t.flags[i>>3]&(1<<uint(i&7)) != 0 {
			return nil, nil, fmt.Errorf("merkle block has non-zero padding bit %d", i)
		}
	}
	return root, t.matched, nil
}

// width is the node count of the tree row at the given height.
func (t *partialMerkleTree) width(height uint32) uint32 {
	return (t.numTx + (1 << height) - 1) >> height
}

func (t *partialMerkleTree) nextBit() (bool, error) {
	if t.bitsUsed >= len(t.flags)*8 {
		return false, fmt.Errorf("merkle block ran out of flag bits")
	}
	bit := t.flags[t.bitsUsed>>3]&(1<<uint(t.bitsUsed&7)) != 0
	t.bitsUsed++
	return bit, nil
}

func (t *partialMerkleTree) nextHash() (*chainhash.Hash, error) {
	if t.hashesUsed >= len(t.hashes) {
		return nil, fmt.Errorf("merkle block ran out of hashes")
	}
	h := t.hashes[t.hashesUsed]
	t.hashesUsed++
	return h, nil
}

func (t *partialMerkleTree) traverse(height, pos uint32) (*chainhash.Hash, error) {
	descend, err := t.nextBit()
	if err != nil {
		return nil, err
	}
	if height == 0 || !descend {
		hash, err := t.nextHash()
		if err != nil {
			return nil, err
		}
		if height == 0 && descend {
			t.matched = append(t.matched, hash)
		}
		return hash, nil
	}

	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return nil, err
	}
	right := left
	if pos*2+1 < t.width(height-1) {
		right, err = t.traverse(height-1, pos*2+1)
		if err != nil {
			return nil, err
		}
		// Identical children would let two distinct flag assignments encode
		// the same root.
		if left.IsEqual(right) {
			return nil, fmt.Errorf("merkle block duplicates hash %s", left)
		}
	}

	combined := make([]byte, 0, chainhash.HashSize*2)
	combined = append(combined, left[:]...)
	combined = append(combined, right[:]...)
	parent := chainhash.DoubleHashH(combined)
	return &parent, nil
}
