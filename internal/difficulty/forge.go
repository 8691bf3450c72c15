package difficulty

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// NextForgeWorkRequired returns the compact hammer-hash target for a forge
// block on top of prev, dispatched on the highest active forge version.
func NextForgeWorkRequired(prev *chain.Block, p *params.Params) uint32 {
	switch chain.ForgeVersionAt(prev, p) {
	case chain.ForgeV13:
		return nextForgeWork13(prev, p)
	case chain.ForgeV12:
		return nextForgeWork12(prev, p)
	case chain.ForgeV11:
		return nextForgeWork11(prev, p)
	default:
		return nextForgeWork10(prev, p)
	}
}

// nextForgeWork10 is the original EMA retarget: find the most recent forge
// block, count the PoW blocks since, and nudge its target by the observed
// spacing.
func nextForgeWork10(prev *chain.Block, p *params.Params) uint32 {
	powLimit := p.PowLimitForge
	if chain.IsForge12Enabled(prev, p) {
		powLimit = p.PowLimitForge2
	}

	numPowBlocks := int64(0)
	iter := prev
	for {
		if iter == nil || iter.Prev() == nil || iter.Height() < p.MinForgeCheckBlock {
			// No forge block in walkable history; start from the easiest
			// target.
			return blockchain.BigToCompact(powLimit)
		}
		if iter.IsForgeMined(p) {
			break
		}
		iter = iter.Prev()
		numPowBlocks++
	}
	if numPowBlocks == 0 {
		// A forge block at the tip pre-1.1 means the next one cannot be
		// forge-mined; make the target impossible.
		return 0
	}

	target := blockchain.CompactToBig(iter.Bits())
	interval := p.ForgeTargetAdjustAggression / p.ForgeBlockSpacingTarget
	target.Mul(target, big.NewInt((interval-1)*p.ForgeBlockSpacingTarget+2*numPowBlocks))
	target.Div(target, big.NewInt((interval+1)*p.ForgeBlockSpacingTarget))

	if target.Cmp(powLimit) > 0 {
		target.Set(powLimit)
	}
	return blockchain.BigToCompact(target)
}

// nextForgeWork11 is the forge 1.1 SMA: average the targets of the last
// ForgeDifficultyWindow forge-mined blocks.
func nextForgeWork11(prev *chain.Block, p *params.Params) uint32 {
	return forgeTargetSMA(prev, p.ForgeDifficultyWindow, p.PowLimitForge, p)
}

// nextForgeWork12 is the forge 1.2 SMA over the shorter window and the
// easier target floor.
func nextForgeWork12(prev *chain.Block, p *params.Params) uint32 {
	return forgeTargetSMA(prev, p.ForgeDifficultyWindow2, p.PowLimitForge2, p)
}

func forgeTargetSMA(prev *chain.Block, window int32, powLimit *big.Int, p *params.Params) uint32 {
	sum := new(big.Int)
	forgeBlocks := int64(0)

	iter := prev
	for forgeBlocks < int64(window) && iter != nil && iter.Prev() != nil && iter.Height() >= p.MinForgeCheckBlock {
		if iter.IsForgeMined(p) {
			sum.Add(sum, blockchain.CompactToBig(iter.Bits()))
			forgeBlocks++
		}
		iter = iter.Prev()
	}

	if forgeBlocks == 0 {
		return blockchain.BigToCompact(powLimit)
	}

	sum.Div(sum, big.NewInt(forgeBlocks))
	if sum.Cmp(powLimit) > 0 {
		sum.Set(powLimit)
	}
	return blockchain.BigToCompact(sum)
}

// nextForgeWork13 is the normalised SMA: sample exactly
// ForgeDifficultyWindow2 blocks of any kind and scale the mean forge target
// by the desired forge share of the window.
func nextForgeWork13(prev *chain.Block, p *params.Params) uint32 {
	powLimit := p.PowLimitForge2
	targetBlockCount := int64(p.ForgeDifficultyWindow2) / p.ForgeBlockSpacingTarget

	sum := new(big.Int)
	forgeBlocks := int64(0)
	iter := prev
	for i := int32(0); i < p.ForgeDifficultyWindow2; i++ {
		if iter == nil || iter.Prev() == nil || iter.Height() < p.MinForgeCheckBlock {
			// Not enough blocks in the sampling window.
			return blockchain.BigToCompact(powLimit)
		}
		if iter.IsForgeMined(p) {
			sum.Add(sum, blockchain.CompactToBig(iter.Bits()))
			forgeBlocks++
		}
		iter = iter.Prev()
	}

	if forgeBlocks == 0 {
		return blockchain.BigToCompact(powLimit)
	}

	sum.Div(sum, big.NewInt(forgeBlocks))
	sum.Mul(sum, big.NewInt(targetBlockCount))
	sum.Div(sum, big.NewInt(forgeBlocks))

	if sum.Cmp(powLimit) > 0 {
		sum.Set(powLimit)
	}
	return blockchain.BigToCompact(sum)
}
