// Package chain implements the block-index substrate of the forge consensus
// core: per-block metadata with O(log n) ancestor lookup, the dense chain
// view of the active branch, deployment activation, and per-block chain-work
// accounting.
package chain

import (
	"math/big"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

// Status is a bit field representing the validation and data-availability
// state of a block.
type Status uint8

const (
	// StatusValid indicates the block has passed all validation rules.
	StatusValid Status = 1 << iota

	// StatusHaveData indicates the block's full data is stored and has not
	// been pruned.
	StatusHaveData

	// StatusInvalid indicates the block failed validation.
	StatusInvalid
)

// HaveData returns whether the full block data is available.
func (s Status) HaveData() bool { return s&StatusHaveData != 0 }

// medianTimeBlocks is the number of previous blocks over which the median
// time past is calculated.
const medianTimeBlocks = 11

// Block is a single entry of the block index. Entries are exclusively owned
// by the Index arena that created them; all other references are non-owning.
// Fields are written once at construction (and status under the consensus
// lock) and must be treated as immutable afterwards.
type Block struct {
	hash       chainhash.Hash
	prev       *Block
	skip       *Block
	height     int32
	version    int32
	merkleRoot chainhash.Hash
	timestamp  uint32
	timeMax    uint32
	bits       uint32
	nonce      uint32
	chainWork  *big.Int
	status     Status

	// Cached version bits states, one per deployment, written lazily under
	// the consensus lock. Zero means not yet computed.
	bitsState [params.DefinedDeployments]uint8
}

// NewBlock builds an index entry for the given header on top of prev (nil for
// genesis). The skip pointer and accumulated chain work are fixed at
// construction.
func NewBlock(header *wire.BlockHeader, prev *Block, p *params.Params) *Block {
	b := &Block{
		hash:       header.BlockHash(),
		prev:       prev,
		version:    header.Version,
		merkleRoot: header.MerkleRoot,
		timestamp:  uint32(header.Timestamp.Unix()),
		bits:       header.Bits,
		nonce:      header.Nonce,
		status:     StatusHaveData,
	}
	b.timeMax = b.timestamp
	if prev != nil {
		b.height = prev.height + 1
		if prev.timeMax > b.timeMax {
			b.timeMax = prev.timeMax
		}
	}
	b.buildSkip()
	work := BlockProof(b, p)
	if prev != nil {
		work.Add(work, prev.chainWork)
	}
	b.chainWork = work
	return b
}

// Hash returns the block's hash.
func (b *Block) Hash() chainhash.Hash { return b.hash }

// Prev returns the parent block, or nil at genesis.
func (b *Block) Prev() *Block { return b.prev }

// Height returns the block's height. Height equals the ancestor count along
// the prev pointers.
func (b *Block) Height() int32 { return b.height }

// Version returns the block's version field.
func (b *Block) Version() int32 { return b.version }

// Bits returns the compact encoding of the block's target.
func (b *Block) Bits() uint32 { return b.bits }

// Nonce returns the header nonce.
func (b *Block) Nonce() uint32 { return b.nonce }

// Time returns the block's timestamp as Unix seconds.
func (b *Block) Time() int64 { return int64(b.timestamp) }

// TimeMax returns the maximum timestamp along the chain up to and including
// this block.
func (b *Block) TimeMax() int64 { return int64(b.timeMax) }

// ChainWork returns the accumulated work of the chain ending at this block.
// The returned value must not be mutated.
func (b *Block) ChainWork() *big.Int { return b.chainWork }

// Status returns the block's status flags.
func (b *Block) Status() Status { return b.status }

// SetStatus replaces the block's status flags. Must only be called under the
// consensus lock.
func (b *Block) SetStatus(s Status) { b.status = s }

// Header reconstructs the block's wire header.
func (b *Block) Header() wire.BlockHeader {
	var prevHash chainhash.Hash
	if b.prev != nil {
		prevHash = b.prev.hash
	}
	return wire.BlockHeader{
		Version:    b.version,
		PrevBlock:  prevHash,
		MerkleRoot: b.merkleRoot,
		Timestamp:  time.Unix(int64(b.timestamp), 0),
		Bits:       b.bits,
		Nonce:      b.nonce,
	}
}

// IsForgeMined reports whether the block declares itself forge-mined: its
// nonce carries the forge marker and the forge deployment is active at its
// parent.
func (b *Block) IsForgeMined(p *params.Params) bool {
	return b.nonce == p.ForgeNonceMarker && IsForgeEnabled(b.prev, p)
}

// MedianTimePast returns the median timestamp of the last 11 blocks ending at
// this block.
func (b *Block) MedianTimePast() int64 {
	timestamps := make([]int64, 0, medianTimeBlocks)
	for iter := b; iter != nil && len(timestamps) < medianTimeBlocks; iter = iter.prev {
		timestamps = append(timestamps, int64(iter.timestamp))
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// invertLowestOne turns the lowest '1' bit of n into a '0'.
func invertLowestOne(n int32) int32 { return n & (n - 1) }

// skipHeight computes the height the skip pointer of a block at the given
// height jumps back to. Any height strictly lower would be acceptable; this
// choice needs at most ~110 steps to walk back 2^18 blocks.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}
	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

func (b *Block) buildSkip() {
	if b.prev != nil {
		b.skip = b.prev.Ancestor(skipHeight(b.height))
	}
}

// Ancestor returns the ancestor at the requested height, following the skip
// pointers where they do not overshoot. Returns nil when height is negative
// or above the block's own height.
func (b *Block) Ancestor(height int32) *Block {
	if height > b.height || height < 0 {
		return nil
	}

	walk := b
	heightWalk := b.height
	for heightWalk > height {
		heightSkip := skipHeight(heightWalk)
		heightSkipPrev := skipHeight(heightWalk - 1)
		if walk.skip != nil &&
			(heightSkip == height ||
				(heightSkip > height && !(heightSkipPrev < heightSkip-2 &&
					heightSkipPrev >= height))) {
			// Only follow the skip if prev's skip isn't better than
			// skip's prev.
			walk = walk.skip
			heightWalk = heightSkip
		} else {
			if walk.prev == nil {
				// Height accounting is broken; the index is corrupt.
				panic("chain: block index missing ancestor")
			}
			walk = walk.prev
			heightWalk--
		}
	}
	return walk
}

// LastCommonAncestor returns the deepest block both a and b descend from.
// Both arguments must be non-nil entries of the same index.
func LastCommonAncestor(a, b *Block) *Block {
	if a.height > b.height {
		a = a.Ancestor(b.height)
	} else if b.height > a.height {
		b = b.Ancestor(a.height)
	}
	for a != b && a != nil && b != nil {
		a = a.prev
		b = b.prev
	}
	if a == nil || a != b {
		panic("chain: block index entries do not share a genesis")
	}
	return a
}
