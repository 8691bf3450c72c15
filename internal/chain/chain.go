package chain

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Chain is a dense, height-indexed view of one branch of the block index.
// Element i is the block at height i of the branch ending at the tip. The
// zero value is an empty chain.
type Chain struct {
	blocks []*Block
}

// SetTip makes the branch ending at the given block the chain's content. A
// nil tip clears the chain.
func (c *Chain) SetTip(tip *Block) {
	if tip == nil {
		c.blocks = nil
		return
	}
	need := int(tip.height) + 1
	if len(c.blocks) < need {
		c.blocks = append(c.blocks, make([]*Block, need-len(c.blocks))...)
	}
	c.blocks = c.blocks[:need]
	for tip != nil && c.blocks[tip.height] != tip {
		c.blocks[tip.height] = tip
		tip = tip.prev
	}
}

// Tip returns the block at the highest height, or nil for an empty chain.
func (c *Chain) Tip() *Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Genesis returns the block at height 0, or nil for an empty chain.
func (c *Chain) Genesis() *Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[0]
}

// Height returns the height of the tip, or -1 for an empty chain.
func (c *Chain) Height() int32 {
	return int32(len(c.blocks)) - 1
}

// BlockAt returns the block at the given height, or nil if the height is
// outside the chain.
func (c *Chain) BlockAt(height int32) *Block {
	if height < 0 || int(height) >= len(c.blocks) {
		return nil
	}
	return c.blocks[height]
}

// Contains reports whether the block is part of this branch. O(1).
func (c *Chain) Contains(b *Block) bool {
	return b != nil && c.BlockAt(b.height) == b
}

// Next returns the successor of the given block on this branch, or nil if the
// block is the tip or not on the branch.
func (c *Chain) Next(b *Block) *Block {
	if !c.Contains(b) {
		return nil
	}
	return c.BlockAt(b.height + 1)
}

// Locator returns a block locator for the given block (the tip when nil):
// hashes at exponentially increasing distances back to genesis, with the
// stride doubling after the first 10 entries.
func (c *Chain) Locator(b *Block) []chainhash.Hash {
	step := int32(1)
	have := make([]chainhash.Hash, 0, 32)

	if b == nil {
		b = c.Tip()
	}
	for b != nil {
		have = append(have, b.hash)
		if b.height == 0 {
			break
		}
		height := b.height - step
		if height < 0 {
			height = 0
		}
		if c.Contains(b) {
			b = c.BlockAt(height)
		} else {
			b = b.Ancestor(height)
		}
		if len(have) > 10 {
			step *= 2
		}
	}
	return have
}

// FindFork returns the deepest block shared by this branch and the branch
// ending at the given block, or nil for a nil argument.
func (c *Chain) FindFork(b *Block) *Block {
	if b == nil {
		return nil
	}
	if b.height > c.Height() {
		b = b.Ancestor(c.Height())
	}
	for b != nil && !c.Contains(b) {
		b = b.prev
	}
	return b
}

// FindEarliestAtLeast returns the earliest chain block whose maximum-so-far
// timestamp is at least the given time, or nil if none qualifies.
func (c *Chain) FindEarliestAtLeast(unix int64) *Block {
	i := sort.Search(len(c.blocks), func(i int) bool {
		return c.blocks[i].TimeMax() >= unix
	})
	if i == len(c.blocks) {
		return nil
	}
	return c.blocks[i]
}

// Index is the arena owning every known block-index entry, keyed by hash. The
// consensus thread is the only writer; concurrent readers must hold the same
// lock the host serialises tip updates with.
type Index struct {
	byHash map[chainhash.Hash]*Block
}

// NewIndex returns an empty block index arena.
func NewIndex() *Index {
	return &Index{byHash: make(map[chainhash.Hash]*Block)}
}

// Add inserts a block entry. Re-adding the same hash returns the existing
// entry unchanged.
func (i *Index) Add(b *Block) *Block {
	if existing, ok := i.byHash[b.hash]; ok {
		return existing
	}
	i.byHash[b.hash] = b
	return b
}

// Lookup returns the entry with the given hash, or nil.
func (i *Index) Lookup(hash chainhash.Hash) *Block {
	return i.byHash[hash]
}

// Size returns the number of entries in the arena.
func (i *Index) Size() int {
	return len(i.byHash)
}
