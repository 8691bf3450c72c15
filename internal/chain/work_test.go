package chain

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

func TestPowBonusK(t *testing.T) {
	p := &params.RegressionNetParams

	tests := []struct {
		name             string
		blocksSinceForge int64
		lastForgeDiff    float64
		want             int64
	}{
		{name: "fresh forge, healthy difficulty", blocksSinceForge: 0, lastForgeDiff: 0.010, want: 5},
		{name: "three blocks since forge", blocksSinceForge: 3, lastForgeDiff: 0.010, want: 2},
		{name: "collapsed difficulty floors at one", blocksSinceForge: 0, lastForgeDiff: 0.001, want: 1},
		{name: "below first split only", blocksSinceForge: 0, lastForgeDiff: 0.004, want: 2},
		{name: "never below one", blocksSinceForge: 5, lastForgeDiff: 0.010, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := powBonusK(tt.blocksSinceForge, tt.lastForgeDiff, p); got != tt.want {
				t.Fatalf("powBonusK(%d, %v) = %d, want %d", tt.blocksSinceForge, tt.lastForgeDiff, got, tt.want)
			}
		})
	}
}

func TestForgeBonusK(t *testing.T) {
	p := &params.RegressionNetParams

	tests := []struct {
		name      string
		forgeDiff float64
		minK      int64
		maxK      int64
		want      int64
	}{
		{name: "zero difficulty gets the minimum", forgeDiff: 0, minK: 2, maxK: 16, want: 2},
		{name: "max difficulty gets the maximum", forgeDiff: 0.006, minK: 2, maxK: 16, want: 16},
		{name: "saturates above max difficulty", forgeDiff: 0.1, minK: 2, maxK: 16, want: 16},
		{name: "halfway lands mid-range", forgeDiff: 0.003, minK: 2, maxK: 16, want: 9},
		{name: "1.2 constants", forgeDiff: 0.006, minK: 1, maxK: 7, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := forgeBonusK(tt.forgeDiff, tt.minK, tt.maxK, p); got != tt.want {
				t.Fatalf("forgeBonusK(%v, %d, %d) = %d, want %d", tt.forgeDiff, tt.minK, tt.maxK, got, tt.want)
			}
		})
	}
}

func TestForgeDifficulty(t *testing.T) {
	p := &params.RegressionNetParams

	// The limit itself has difficulty 1, up to compact-encoding rounding.
	limitBits := blockchain.BigToCompact(p.PowLimitForge)
	if got := ForgeDifficulty(limitBits, p); got < 1 || got > 1.000001 {
		t.Fatalf("ForgeDifficulty(limit) = %v, want ~1", got)
	}

	// A target a quarter of the limit has difficulty ~4.
	quarter := new(big.Int).Rsh(p.PowLimitForge, 2)
	got := ForgeDifficulty(blockchain.BigToCompact(quarter), p)
	if got < 3.99 || got > 4.01 {
		t.Fatalf("ForgeDifficulty(limit/4) = %v, want ~4", got)
	}

	if ForgeDifficulty(0, p) != 0 {
		t.Fatal("zero compact target must give zero difficulty")
	}
}

func TestBlockProofForgeInheritsPow(t *testing.T) {
	p := &params.RegressionNetParams
	prev := buildChain(nil, 3, p)

	forgeBits := blockchain.BigToCompact(new(big.Int).Rsh(p.PowLimitForge, 1))
	forged := NewBlock(testHeader(prev, forgeBits, p.ForgeNonceMarker, prev.Time()+1, 600), prev, p)

	want := blockchain.CalcWork(forgeBits)
	want.Add(want, blockchain.CalcWork(prev.Bits()))
	if got := BlockProof(forged, p); got.Cmp(want) != 0 {
		t.Fatalf("forge block proof = %v, want own work plus backing PoW work %v", got, want)
	}

	// Stacked forge blocks inherit from the same backing PoW block.
	second := NewBlock(testHeader(forged, forgeBits, p.ForgeNonceMarker, forged.Time()+1, 601), forged, p)
	if got := BlockProof(second, p); got.Cmp(want) != 0 {
		t.Fatalf("stacked forge block proof = %v, want %v", got, want)
	}
}

func TestBlockProofPowBonusUnderForge11(t *testing.T) {
	p := params.RegressionNetParams
	p.Deployments[params.DeploymentForge11].StartTime = params.AlwaysActive

	prev := buildChain(nil, 3, &p)

	// Forge block at max difficulty relative to the forge limit, so the
	// following PoW block sees a healthy lastForgeDiff.
	forgeBits := blockchain.BigToCompact(new(big.Int).Div(p.PowLimitForge, big.NewInt(1000)))
	forged := NewBlock(testHeader(prev, forgeBits, p.ForgeNonceMarker, prev.Time()+1, 700), prev, &p)

	powBits := blockchain.BigToCompact(p.PowLimit)
	pow := NewBlock(testHeader(forged, powBits, 0, forged.Time()+1, 701), forged, &p)

	// Zero blocks since the forge block and difficulty far above both
	// splits: k = maxKPow.
	want := blockchain.CalcWork(powBits)
	want.Mul(want, big.NewInt(p.MaxKPow))
	if got := BlockProof(pow, &p); got.Cmp(want) != 0 {
		t.Fatalf("PoW proof under 1.1 = %v, want %v", got, want)
	}
}

func TestWorkCompactRoundTrip(t *testing.T) {
	// Targets representable losslessly in compact form must yield the same
	// work before and after a compact round trip.
	targets := []*big.Int{
		big.NewInt(0xffff),
		new(big.Int).Lsh(big.NewInt(0xffff), 208),
		new(big.Int).Lsh(big.NewInt(0x7fffff), 96),
	}
	for _, target := range targets {
		compact := blockchain.BigToCompact(target)
		if blockchain.CompactToBig(compact).Cmp(target) != 0 {
			t.Fatalf("target %x is not losslessly representable", target)
		}
		direct := blockchain.CalcWork(compact)
		again := blockchain.CalcWork(blockchain.BigToCompact(blockchain.CompactToBig(compact)))
		if direct.Cmp(again) != 0 {
			t.Fatalf("work not stable over compact round trip for %x", target)
		}
		if direct.Sign() <= 0 {
			t.Fatalf("work for %x must be positive", target)
		}
	}
}

func TestNumHashes(t *testing.T) {
	p := &params.RegressionNetParams
	prev := buildChain(nil, 2, p)

	if NumHashes(prev, p).Sign() <= 0 {
		t.Fatal("PoW block must report positive expected hashes")
	}

	forged := NewBlock(testHeader(prev, prev.Bits(), p.ForgeNonceMarker, prev.Time()+1, 800), prev, p)
	if NumHashes(forged, p).Sign() != 0 {
		t.Fatal("forge-mined block must report zero expected hashes")
	}
}

func TestBlockProofEquivalentTime(t *testing.T) {
	p := &params.RegressionNetParams
	tip := buildChain(nil, 10, p)
	from := tip.Ancestor(4)

	forward := BlockProofEquivalentTime(tip, from, tip, p)
	if forward != 6*p.PowTargetSpacing {
		t.Fatalf("equivalent time = %d, want %d", forward, 6*p.PowTargetSpacing)
	}
	if got := BlockProofEquivalentTime(from, tip, tip, p); got != -forward {
		t.Fatalf("reverse equivalent time = %d, want %d", got, -forward)
	}
}
