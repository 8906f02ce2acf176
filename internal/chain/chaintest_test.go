package chain_test

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/chain"
)

// easyBits encodes a target of roughly 2^255, so test blocks solve within a
// handful of nonce attempts.
const easyBits = uint32(0x207fffff)

// blockGen builds solvable test blocks on a private network with an easy
// proof-of-work limit. Coinbase scripts carry a counter so sibling blocks
// never collide.
type blockGen struct {
	t       *testing.T
	params  *chain.Params
	genesis *btcutil.Block
	counter uint32
}

func newBlockGen(t *testing.T) *blockGen {
	t.Helper()
	g := &blockGen{t: t}

	coinbase := g.coinbase()
	genesisMsg := buildBlockMsg(t, chainhash.Hash{}, time.Unix(1700000000, 0), easyBits, []*wire.MsgTx{coinbase})
	genesisHash := genesisMsg.BlockHash()

	g.genesis = btcutil.NewBlock(genesisMsg)
	g.params = &chain.Params{
		Name:                     "unittest",
		GenesisBlock:             genesisMsg,
		GenesisHash:              &genesisHash,
		PowLimit:                 blockchain.CompactToBig(easyBits),
		PowLimitBits:             easyBits,
		TargetTimespan:           14 * 24 * time.Hour,
		TargetSpacing:            10 * time.Minute,
		RetargetAdjustmentFactor: 4,
	}
	return g
}

// next builds a solved block on top of parent, with the given extra
// transactions after the coinbase.
func (g *blockGen) next(parent *btcutil.Block, txns ...*wire.MsgTx) *btcutil.Block {
	g.t.Helper()
	all := append([]*wire.MsgTx{g.coinbase()}, txns...)
	header := parent.MsgBlock().Header
	msg := buildBlockMsg(g.t, *parent.Hash(), header.Timestamp.Add(time.Minute), header.Bits, all)
	return btcutil.NewBlock(msg)
}

// nextWith builds a solved block with explicit bits and timestamp.
func (g *blockGen) nextWith(parent *btcutil.Block, bits uint32, timestamp time.Time, txns ...*wire.MsgTx) *btcutil.Block {
	g.t.Helper()
	all := append([]*wire.MsgTx{g.coinbase()}, txns...)
	msg := buildBlockMsg(g.t, *parent.Hash(), timestamp, bits, all)
	return btcutil.NewBlock(msg)
}

func (g *blockGen) coinbase() *wire.MsgTx {
	g.counter++
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		SignatureScript: []byte{
			byte(g.counter), byte(g.counter >> 8), byte(g.counter >> 16), byte(g.counter >> 24),
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    50 * btcutil.SatoshiPerBitcoin,
		PkScript: []byte{0x51}, // anyone-can-spend
	})
	return tx
}

// spend builds a transaction consuming output outIdx of prev in full.
func spend(prev *wire.MsgTx, outIdx uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevHash := prev.TxHash()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&prevHash, outIdx),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    prev.TxOut[outIdx].Value - 1000,
		PkScript: []byte{0x51},
	})
	return tx
}

func buildBlockMsg(t *testing.T, prev chainhash.Hash, timestamp time.Time, bits uint32, txns []*wire.MsgTx) *wire.MsgBlock {
	t.Helper()
	utilTxns := make([]*btcutil.Tx, len(txns))
	for i, tx := range txns {
		utilTxns[i] = btcutil.NewTx(tx)
	}
	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: blockchain.CalcMerkleRoot(utilTxns, false),
		Timestamp:  timestamp.Truncate(time.Second),
		Bits:       bits,
	}
	solveHeader(t, &header)
	msg := &wire.MsgBlock{Header: header}
	for _, tx := range txns {
		if err := msg.AddTransaction(tx); err != nil {
			t.Fatalf("add transaction: %v", err)
		}
	}
	return msg
}

func solveHeader(t *testing.T, header *wire.BlockHeader) {
	t.Helper()
	target := blockchain.CompactToBig(header.Bits)
	for nonce := uint32(0); nonce < 1<<24; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
	}
	t.Fatal("failed to solve test block")
}

// txEvent records one transaction delivery.
type txEvent struct {
	hash   chainhash.Hash
	height int32
	kind   chain.BlockKind
}

// recordingListener captures every callback for later assertions.
type recordingListener struct {
	mu sync.Mutex

	relevant func(tx *btcutil.Tx) (bool, error)
	onReorg  func()

	received    []txEvent
	receivedTxs []*btcutil.Tx
	hashNotes   []txEvent
	bestBlocks  []*chain.StoredBlock
	reorgs      []reorgEvent
}

type reorgEvent struct {
	split     *chain.StoredBlock
	oldBlocks []*chain.StoredBlock
	newBlocks []*chain.StoredBlock
}

func (l *recordingListener) IsTransactionRelevant(tx *btcutil.Tx) (bool, error) {
	if l.relevant != nil {
		return l.relevant(tx)
	}
	return true, nil
}

func (l *recordingListener) ReceiveFromBlock(tx *btcutil.Tx, block *chain.StoredBlock, kind chain.BlockKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append(l.received, txEvent{hash: *tx.Hash(), height: block.Height, kind: kind})
	l.receivedTxs = append(l.receivedTxs, tx)
	return nil
}

func (l *recordingListener) TransactionInBlock(txHash *chainhash.Hash, block *chain.StoredBlock, kind chain.BlockKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashNotes = append(l.hashNotes, txEvent{hash: *txHash, height: block.Height, kind: kind})
	return nil
}

func (l *recordingListener) NewBestBlock(block *chain.StoredBlock) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bestBlocks = append(l.bestBlocks, block)
	return nil
}

func (l *recordingListener) Reorganize(split *chain.StoredBlock, oldBlocks, newBlocks []*chain.StoredBlock) error {
	l.mu.Lock()
	l.reorgs = append(l.reorgs, reorgEvent{split: split, oldBlocks: oldBlocks, newBlocks: newBlocks})
	l.mu.Unlock()
	if l.onReorg != nil {
		l.onReorg()
	}
	return nil
}

func (l *recordingListener) bestChainTxCount(hash chainhash.Hash) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, ev := range l.received {
		if ev.hash == hash && ev.kind == chain.BestChain {
			count++
		}
	}
	return count
}

func workOf(b *chain.StoredBlock) *big.Int { return b.WorkSum }
