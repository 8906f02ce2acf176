package chain

import (
	"container/list"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxOrphanBlocks bounds the orphan pool; the oldest orphan is evicted when a
// new one would exceed it.
const maxOrphanBlocks = 100

// orphanBlock holds a block whose parent is not yet in the store, together
// with the filter context it arrived with when it came in as a filtered
// block.
type orphanBlock struct {
	block          *btcutil.Block
	filteredHashes []*chainhash.Hash
	filteredTxns   []*btcutil.Tx
}

// orphanPool keeps disconnected blocks keyed by their own hash in arrival
// order. It is guarded by the engine mutex.
type orphanPool struct {
	byHash map[chainhash.Hash]*list.Element
	order  *list.List
	limit  int
}

func newOrphanPool(limit int) *orphanPool {
	if limit <= 0 {
		limit = maxOrphanBlocks
	}
	return &orphanPool{
		byHash: make(map[chainhash.Hash]*list.Element),
		order:  list.New(),
		limit:  limit,
	}
}

func (p *orphanPool) len() int { return p.order.Len() }

func (p *orphanPool) contains(hash *chainhash.Hash) bool {
	_, ok := p.byHash[*hash]
	return ok
}

func (p *orphanPool) get(hash *chainhash.Hash) *orphanBlock {
	elem, ok := p.byHash[*hash]
	if !ok {
		return nil
	}
	return elem.Value.(*orphanBlock)
}

// add inserts an orphan, evicting the oldest entry if the pool is full.
// Returns the evicted orphan, if any.
func (p *orphanPool) add(orphan *orphanBlock) *orphanBlock {
	var evicted *orphanBlock
	if p.order.Len() >= p.limit {
		front := p.order.Front()
		evicted = front.Value.(*orphanBlock)
		p.removeElement(front)
	}
	p.byHash[*orphan.block.Hash()] = p.order.PushBack(orphan)
	return evicted
}

func (p *orphanPool) remove(hash *chainhash.Hash) {
	if elem, ok := p.byHash[*hash]; ok {
		p.removeElement(elem)
	}
}

func (p *orphanPool) removeElement(elem *list.Element) {
	orphan := elem.Value.(*orphanBlock)
	delete(p.byHash, *orphan.block.Hash())
	p.order.Remove(elem)
}

// all returns the pooled orphans in arrival order.
func (p *orphanPool) all() []*orphanBlock {
	orphans := make([]*orphanBlock, 0, p.order.Len())
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		orphans = append(orphans, elem.Value.(*orphanBlock))
	}
	return orphans
}

// root walks the prev-hash chain within the pool and returns the earliest
// pooled ancestor of hash, or nil if hash is not pooled.
func (p *orphanPool) root(hash *chainhash.Hash) *orphanBlock {
	cursor := p.get(hash)
	if cursor == nil {
		return nil
	}
	for {
		prev := p.get(&cursor.block.MsgBlock().Header.PrevBlock)
		if prev == nil {
			return cursor
		}
		cursor = prev
	}
}
