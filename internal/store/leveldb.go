package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/spvchain7000/internal/chain"
	"github.com/goodnatureofminers/spvchain7000/pkg/safe"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	blockKeyPrefix = []byte("b")
	chainHeadKey   = []byte("chainhead")
)

// LevelDBStore persists header records (header, work, height) keyed by block
// hash, plus the chain-head marker. It serves header-only operation; pruned
// transaction bodies are never stored in the first place.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) the database at path and seeds it with
// the genesis block when it is empty.
func NewLevelDBStore(path string, genesis *wire.MsgBlock) (*LevelDBStore, error) {
	if path == "" {
		return nil, errors.New("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	s := &LevelDBStore{db: db}

	has, err := db.Has(chainHeadKey, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read chain head marker: %w", err)
	}
	if !has {
		stored := chain.NewStoredGenesis(genesis.Header)
		if err := s.Put(context.Background(), stored); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed genesis block: %w", err)
		}
		if err := s.SetChainHead(context.Background(), stored); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed chain head: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error { return s.db.Close() }

// Get returns the stored block for hash, or nil when unknown.
func (s *LevelDBStore) Get(_ context.Context, hash *chainhash.Hash) (*chain.StoredBlock, error) {
	raw, err := s.db.Get(blockKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", hash, err)
	}
	return deserializeStoredBlock(raw)
}

// Put writes the stored block record under its header hash.
func (s *LevelDBStore) Put(_ context.Context, block *chain.StoredBlock) error {
	raw, err := serializeStoredBlock(block)
	if err != nil {
		return err
	}
	hash := block.Hash()
	if err := s.db.Put(blockKey(&hash), raw, nil); err != nil {
		return fmt.Errorf("write block %s: %w", hash, err)
	}
	return nil
}

// ChainHead resolves the chain-head marker to its stored block.
func (s *LevelDBStore) ChainHead(ctx context.Context) (*chain.StoredBlock, error) {
	raw, err := s.db.Get(chainHeadKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain head marker: %w", err)
	}
	hash, err := chainhash.NewHash(raw)
	if err != nil {
		return nil, fmt.Errorf("decode chain head marker: %w", err)
	}
	head, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("chain head %s is not in the store", hash)
	}
	return head, nil
}

// SetChainHead points the chain-head marker at the given block.
func (s *LevelDBStore) SetChainHead(_ context.Context, block *chain.StoredBlock) error {
	hash := block.Hash()
	if err := s.db.Put(chainHeadKey, hash[:], nil); err != nil {
		return fmt.Errorf("write chain head marker: %w", err)
	}
	return nil
}

func blockKey(hash *chainhash.Hash) []byte {
	return append(blockKeyPrefix, hash[:]...)
}

// Record layout: height (u32 BE) | work length (u8) | work (big-endian) |
// header (80 bytes).
func serializeStoredBlock(block *chain.StoredBlock) ([]byte, error) {
	height, err := safe.Uint32(block.Height)
	if err != nil {
		return nil, fmt.Errorf("block height: %w", err)
	}
	work := block.WorkSum.Bytes()
	if len(work) > 255 {
		return nil, fmt.Errorf("cumulative work of block %s does not fit the record", block.Hash())
	}

	var buf bytes.Buffer
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], height)
	buf.Write(heightBytes[:])
	buf.WriteByte(byte(len(work)))
	buf.Write(work)
	if err := block.Header.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize header: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeStoredBlock(raw []byte) (*chain.StoredBlock, error) {
	if len(raw) < 5 {
		return nil, errors.New("stored block record is truncated")
	}
	height, err := safe.Int32(binary.BigEndian.Uint32(raw[:4]))
	if err != nil {
		return nil, fmt.Errorf("stored block height: %w", err)
	}
	workLen := int(raw[4])
	if len(raw) < 5+workLen+wire.MaxBlockHeaderPayload {
		return nil, errors.New("stored block record is truncated")
	}
	work := new(big.Int).SetBytes(raw[5 : 5+workLen])

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw[5+workLen:])); err != nil {
		return nil, fmt.Errorf("deserialize header: %w", err)
	}
	return &chain.StoredBlock{
		Header:  header,
		WorkSum: work,
		Height:  height,
	}, nil
}
