package chain

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

// ForgeDifficulty derives the floating-point forge difficulty from a compact
// target: PowLimitForge divided by the target, computed through a fixed-point
// ratio at params.ForgeDiffScale so that every implementation rounds
// identically before the value enters the chain-work bonus formulas.
func ForgeDifficulty(bits uint32, p *params.Params) float64 {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Mul(p.PowLimitForge, big.NewInt(params.ForgeDiffScale))
	q.Div(q, target)
	if !q.IsInt64() {
		return math.MaxFloat64
	}
	return float64(q.Int64()) / float64(params.ForgeDiffScale)
}

// forgeBonusK computes the chain-work multiplier for a forge-mined block:
// the forge difficulty is mapped linearly onto [minK, maxK], saturating at
// MaxForgeDiff.
func forgeBonusK(forgeDiff float64, minK, maxK int64, p *params.Params) int64 {
	ratio := forgeDiff / p.MaxForgeDiff
	if ratio > 1 {
		ratio = 1
	}
	return int64(math.Floor(ratio*float64(maxK-minK) + float64(minK)))
}

// powBonusK computes the chain-work multiplier for a PoW block under forge
// 1.1+: maxKPow decayed by the distance to the last forge-mined block and
// halved once or twice when the forge difficulty has collapsed below the
// split thresholds. Never below 1.
func powBonusK(blocksSinceForge int64, lastForgeDiff float64, p *params.Params) int64 {
	k := p.MaxKPow - blocksSinceForge
	if lastForgeDiff < p.PowSplit1 {
		k >>= 1
	}
	if lastForgeDiff < p.PowSplit2 {
		k >>= 1
	}
	if k < 1 {
		k = 1
	}
	return k
}

// lastPowAncestor walks back from b (inclusive) to the most recent block that
// is not forge-mined. Returns nil if the walk runs out of blocks.
func lastPowAncestor(b *Block, p *params.Params) *Block {
	for b != nil && b.IsForgeMined(p) {
		b = b.prev
	}
	return b
}

// BlockProof returns the amount of chain work the given block contributes:
// work(target) plus, for forge-mined blocks, the work of the PoW block
// backing them, the whole scaled by the forge version's bonus multiplier.
func BlockProof(b *Block, p *params.Params) *big.Int {
	target := blockchain.CompactToBig(b.bits)
	if target.Sign() <= 0 || target.BitLen() > 256 {
		return big.NewInt(0)
	}
	work := blockchain.CalcWork(b.bits)

	if b.IsForgeMined(p) {
		// A forge block inherits the work of the most recent PoW block
		// behind it.
		backing := lastPowAncestor(b.prev, p)
		if backing == nil {
			return big.NewInt(0)
		}
		backingTarget := blockchain.CompactToBig(backing.bits)
		if backingTarget.Sign() <= 0 || backingTarget.BitLen() > 256 {
			return big.NewInt(0)
		}
		work.Add(work, blockchain.CalcWork(backing.bits))

		switch forgeWorkVersion(b, p) {
		case ForgeV11:
			k := forgeBonusK(ForgeDifficulty(b.bits, p), p.MinK, p.MaxK, p)
			work.Mul(work, big.NewInt(k))
		case ForgeV12, ForgeV13:
			k := forgeBonusK(ForgeDifficulty(b.bits, p), p.MinK2, p.MaxK2, p)
			work.Mul(work, big.NewInt(k))
		}
		return work
	}

	if v := forgeWorkVersion(b, p); v >= ForgeV11 {
		blocksSinceForge, lastForgeDiff := lastForgeDistance(b.prev, p)
		k := powBonusK(blocksSinceForge, lastForgeDiff, p)
		work.Mul(work, big.NewInt(k))
	}
	return work
}

// forgeWorkVersion returns the forge version governing the chain-work bonus
// of the block itself. The work rule is evaluated at the block, not its
// parent, matching the original accounting.
func forgeWorkVersion(b *Block, p *params.Params) ForgeVersion {
	switch {
	case IsForge13Enabled(b.height, p):
		return ForgeV13
	case IsForge12Enabled(b, p):
		return ForgeV12
	case IsForge11Enabled(b, p):
		return ForgeV11
	default:
		return ForgeV10
	}
}

// lastForgeDistance scans back from prev for at most MaxKPow blocks looking
// for a forge-mined block. Returns the number of PoW blocks walked and the
// forge difficulty of the found block (0 when none was found in range).
func lastForgeDistance(prev *Block, p *params.Params) (int64, float64) {
	curr := prev
	for d := int64(0); d < p.MaxKPow; d++ {
		if curr == nil {
			return d, 0
		}
		if curr.IsForgeMined(p) {
			return d, ForgeDifficulty(curr.bits, p)
		}
		curr = curr.prev
	}
	return p.MaxKPow, 0
}

// NumHashes returns the expected number of hashes the block's PoW represents,
// zero for forge-mined blocks. Used for network hash-rate estimates.
func NumHashes(b *Block, p *params.Params) *big.Int {
	target := blockchain.CompactToBig(b.bits)
	if target.Sign() <= 0 || target.BitLen() > 256 || b.IsForgeMined(p) {
		return big.NewInt(0)
	}
	return blockchain.CalcWork(b.bits)
}

// BlockProofEquivalentTime converts the work delta between two blocks into
// seconds at the proof rate of the given tip. Saturates at the int64 range.
func BlockProofEquivalentTime(to, from, tip *Block, p *params.Params) int64 {
	var delta big.Int
	sign := int64(1)
	if to.chainWork.Cmp(from.chainWork) > 0 {
		delta.Sub(to.chainWork, from.chainWork)
	} else {
		delta.Sub(from.chainWork, to.chainWork)
		sign = -1
	}
	delta.Mul(&delta, big.NewInt(p.PowTargetSpacing))
	delta.Div(&delta, BlockProof(tip, p))
	if delta.BitLen() > 63 {
		return sign * math.MaxInt64
	}
	return sign * delta.Int64()
}
