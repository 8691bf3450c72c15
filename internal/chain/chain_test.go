package chain

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

func TestChainSetTipAndContains(t *testing.T) {
	p := &params.RegressionNetParams
	tip := buildChain(nil, 30, p)

	var c Chain
	c.SetTip(tip)

	if c.Height() != 30 {
		t.Fatalf("Height() = %d, want 30", c.Height())
	}
	if c.Tip() != tip {
		t.Fatal("Tip() mismatch")
	}
	if c.Genesis() != tip.Ancestor(0) {
		t.Fatal("Genesis() mismatch")
	}
	for h := int32(0); h <= 30; h++ {
		b := c.BlockAt(h)
		if b == nil || b.Height() != h {
			t.Fatalf("BlockAt(%d) broken", h)
		}
		if !c.Contains(b) {
			t.Fatalf("Contains(BlockAt(%d)) = false", h)
		}
	}
	if c.Next(c.BlockAt(7)) != c.BlockAt(8) {
		t.Fatal("Next() mismatch")
	}
	if c.Next(tip) != nil {
		t.Fatal("Next(tip) should be nil")
	}

	// Reorg onto a shorter branch rewinds the vector.
	fork := tip.Ancestor(10)
	side := buildChain(fork, 2, p)
	c.SetTip(side)
	if c.Height() != 12 {
		t.Fatalf("Height() after reorg = %d, want 12", c.Height())
	}
	if !c.Contains(fork) {
		t.Fatal("fork block should stay on the active branch")
	}
	if c.Contains(tip) {
		t.Fatal("old tip should no longer be on the active branch")
	}

	c.SetTip(nil)
	if c.Height() != -1 || c.Tip() != nil {
		t.Fatal("SetTip(nil) should clear the chain")
	}
}

func TestChainLocator(t *testing.T) {
	p := &params.RegressionNetParams
	tip := buildChain(nil, 200, p)

	var c Chain
	c.SetTip(tip)

	locator := c.Locator(nil)
	if len(locator) == 0 {
		t.Fatal("empty locator")
	}
	if locator[0] != tip.Hash() {
		t.Fatal("locator must start at the tip")
	}
	if locator[len(locator)-1] != c.Genesis().Hash() {
		t.Fatal("locator must end at genesis")
	}
	if len(locator) > 32 {
		t.Fatalf("locator has %d entries, expected at most 32 for height 200", len(locator))
	}

	// First ten entries step back one block at a time.
	for i := 1; i <= 10; i++ {
		if locator[i] != c.BlockAt(tip.Height()-int32(i)).Hash() {
			t.Fatalf("locator[%d] is not %d blocks from the tip", i, i)
		}
	}
}

func TestChainFindFork(t *testing.T) {
	p := &params.RegressionNetParams
	trunk := buildChain(nil, 50, p)

	var c Chain
	c.SetTip(trunk)

	fork := trunk.Ancestor(20)
	side := buildChain(fork, 40, p)

	if got := c.FindFork(side); got != fork {
		t.Fatalf("FindFork found height %d, want 20", got.Height())
	}
	if got := c.FindFork(trunk.Ancestor(5)); got != trunk.Ancestor(5) {
		t.Fatal("FindFork of an on-chain block should be the block itself")
	}
	if c.FindFork(nil) != nil {
		t.Fatal("FindFork(nil) should be nil")
	}
}

func TestChainFindEarliestAtLeast(t *testing.T) {
	p := &params.RegressionNetParams
	tip := buildChain(nil, 20, p)

	var c Chain
	c.SetTip(tip)

	target := c.BlockAt(7)
	if got := c.FindEarliestAtLeast(target.Time()); got != target {
		t.Fatalf("FindEarliestAtLeast(%d) at height %d, want 7", target.Time(), got.Height())
	}
	if got := c.FindEarliestAtLeast(c.Genesis().Time() - 100); got != c.Genesis() {
		t.Fatal("earliest block at or after a pre-genesis time should be genesis")
	}
	if got := c.FindEarliestAtLeast(tip.Time() + 1); got != nil {
		t.Fatal("a time after the tip should find nothing")
	}
}

func TestIndexArena(t *testing.T) {
	p := &params.RegressionNetParams
	tip := buildChain(nil, 5, p)

	idx := NewIndex()
	for b := tip; b != nil; b = b.Prev() {
		idx.Add(b)
	}
	if idx.Size() != 6 {
		t.Fatalf("Size() = %d, want 6", idx.Size())
	}
	if idx.Lookup(tip.Hash()) != tip {
		t.Fatal("Lookup(tip) mismatch")
	}
	if idx.Add(tip) != tip {
		t.Fatal("re-adding must return the existing entry")
	}
	var missing [32]byte
	missing[0] = 0xde
	if idx.Lookup(missing) != nil {
		t.Fatal("Lookup of unknown hash should be nil")
	}
}

func TestFindEarliestUsesTimeMax(t *testing.T) {
	p := &params.RegressionNetParams
	bits := blockchain.BigToCompact(p.PowLimit)

	// A clock that jumps back keeps TimeMax monotonic, which is what the
	// binary search relies on.
	genesis := NewBlock(testHeader(nil, bits, 0, 5000, 1), nil, p)
	late := NewBlock(testHeader(genesis, bits, 0, 9000, 2), genesis, p)
	early := NewBlock(testHeader(late, bits, 0, 6000, 3), late, p)

	if early.TimeMax() != 9000 {
		t.Fatalf("TimeMax() = %d, want 9000", early.TimeMax())
	}

	var c Chain
	c.SetTip(early)
	if got := c.FindEarliestAtLeast(8999); got != late {
		t.Fatal("binary search should land on the block that first reached the time")
	}
}
