// Package bloom implements the probabilistic transaction filter a light
// client loads into a remote peer so the peer only relays relevant
// transactions and filtered block summaries.
package bloom

import (
	"errors"
	"fmt"
	"math"

	btcbloom "github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxFilterSize is the largest permitted filter, in bytes. A filter of
	// 20,000 items at a 0.1% false positive rate fits just under it.
	MaxFilterSize = 36000

	// MaxHashFuncs caps the hash function count; more than 50 buys nothing
	// at the maximum filter size.
	MaxHashFuncs = 50
)

// ErrIncompatibleFilters is returned by Merge when the two filters were not
// built with identical size, hash count and tweak.
var ErrIncompatibleFilters = errors.New("bloom filters have incompatible parameters")

// hashKeySpread separates the k hash functions derived from one tweak.
const hashKeySpread = 0xFBA4C795

// Filter is a fixed-size Bloom filter. It is not safe for concurrent use.
type Filter struct {
	data      []byte
	hashFuncs uint32
	tweak     uint32
	flags     wire.BloomUpdateType
}

// NewFilter sizes a filter for the given expected element count and target
// false positive rate. The size and hash count are clamped to the protocol
// maxima, and the hash count never rounds below one even for tiny element
// counts.
func NewFilter(elements uint32, fpRate float64, tweak uint32, flags wire.BloomUpdateType) *Filter {
	if elements == 0 {
		elements = 1
	}
	dataLen := uint32(-1 / (math.Ln2 * math.Ln2) * float64(elements) * math.Log(fpRate) / 8)
	if dataLen < 1 {
		dataLen = 1
	}
	if dataLen > MaxFilterSize {
		dataLen = MaxFilterSize
	}

	hashFuncs := uint32(float64(dataLen*8) / float64(elements) * math.Ln2)
	if hashFuncs < 1 {
		hashFuncs = 1
	}
	if hashFuncs > MaxHashFuncs {
		hashFuncs = MaxHashFuncs
	}

	return &Filter{
		data:      make([]byte, dataLen),
		hashFuncs: hashFuncs,
		tweak:     tweak,
		flags:     flags,
	}
}

// FromMsg validates a received filter-load message and wraps it as a Filter.
func FromMsg(msg *wire.MsgFilterLoad) (*Filter, error) {
	if len(msg.Filter) == 0 || len(msg.Filter) > MaxFilterSize {
		return nil, fmt.Errorf("filter size %d is out of range [1, %d]", len(msg.Filter), MaxFilterSize)
	}
	if msg.HashFuncs == 0 || msg.HashFuncs > MaxHashFuncs {
		return nil, fmt.Errorf("filter hash function count %d is out of range [1, %d]", msg.HashFuncs, MaxHashFuncs)
	}
	data := make([]byte, len(msg.Filter))
	copy(data, msg.Filter)
	return &Filter{
		data:      data,
		hashFuncs: msg.HashFuncs,
		tweak:     msg.Tweak,
		flags:     msg.Flags,
	}, nil
}

// MsgFilterLoad returns the wire form of the filter: varint-prefixed bit
// array, hash count, tweak and update policy flag.
func (f *Filter) MsgFilterLoad() *wire.MsgFilterLoad {
	data := make([]byte, len(f.data))
	copy(data, f.data)
	return &wire.MsgFilterLoad{
		Filter:    data,
		HashFuncs: f.hashFuncs,
		Tweak:     f.tweak,
		Flags:     f.flags,
	}
}

// hash returns the bit index for hash function i over data.
func (f *Filter) hash(i uint32, data []byte) uint32 {
	return btcbloom.MurmurHash3(i*hashKeySpread+f.tweak, data) % (uint32(len(f.data)) * 8)
}

// Insert adds the given data to the filter.
func (f *Filter) Insert(data []byte) {
	for i := uint32(0); i < f.hashFuncs; i++ {
		idx := f.hash(i, data)
		f.data[idx>>3] |= 1 << (idx & 7)
	}
}

// Contains reports whether the data was inserted, or collides with previous
// insertions (a false positive).
func (f *Filter) Contains(data []byte) bool {
	for i := uint32(0); i < f.hashFuncs; i++ {
		idx := f.hash(i, data)
		if f.data[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

// Merge ORs the other filter into f. Both filters must have been built with
// the same size, hash function count and tweak.
func (f *Filter) Merge(other *Filter) error {
	if len(other.data) != len(f.data) || other.hashFuncs != f.hashFuncs || other.tweak != f.tweak {
		return ErrIncompatibleFilters
	}
	for i := range f.data {
		f.data[i] |= other.data[i]
	}
	return nil
}

// FalsePositiveRate returns the theoretical false positive rate of the
// filter if it held the given number of elements.
func (f *Filter) FalsePositiveRate(elements uint32) float64 {
	exponent := -1.0 * float64(f.hashFuncs) * float64(elements) / float64(len(f.data)*8)
	return math.Pow(1-math.Pow(math.E, exponent), float64(f.hashFuncs))
}
