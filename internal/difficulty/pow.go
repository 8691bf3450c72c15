// Package difficulty implements the proof-of-work and forge retargeting
// engines: the Dark Gravity Wave variant with the stale-tip escalator, the
// legacy interval retarget used below the fork height, and the four forge
// target engines dispatched by protocol version.
package difficulty

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// dgwPastBlocks is the number of PoW blocks the Dark Gravity Wave averages
// over.
const dgwPastBlocks = 24

// NextWorkRequired returns the compact PoW target the block with the given
// header must carry on top of prev.
func NextWorkRequired(prev *chain.Block, header *wire.BlockHeader, p *params.Params) uint32 {
	if prev == nil {
		return blockchain.BigToCompact(p.PowLimit)
	}
	if prev.Height() >= p.LastScryptBlock {
		return darkGravityWave(prev, header, p)
	}
	return nextWorkRequiredLegacy(prev, header, p)
}

func darkGravityWave(prev *chain.Block, header *wire.BlockHeader, p *params.Params) uint32 {
	powLimit := p.PowLimit
	blockTime := header.Timestamp.Unix()

	// Allow a minimum difficulty block after ostensibly ten blocks worth of
	// silence.
	if p.PowAllowMinDifficultyBlocks && blockTime > prev.Time()+p.PowTargetSpacing*10 {
		return blockchain.BigToCompact(powLimit)
	}

	// Forge 1.1: retarget from the most recent PoW block, not a forge tip.
	if chain.IsForge11Enabled(prev, p) {
		for prev.IsForgeMined(p) {
			if prev.Prev() == nil {
				return blockchain.BigToCompact(powLimit)
			}
			prev = prev.Prev()
		}
	}

	// Need a full sampling window of post-fork blocks.
	if prev.Height()-p.LastScryptBlock < dgwPastBlocks {
		return blockchain.BigToCompact(powLimit)
	}

	// Weighted mean target over the last 24 PoW blocks, skipping forge
	// blocks along the walk.
	iter := prev
	avg := new(big.Int)
	for count := int64(1); count <= dgwPastBlocks; count++ {
		for iter.IsForgeMined(p) {
			if iter.Prev() == nil {
				return blockchain.BigToCompact(powLimit)
			}
			iter = iter.Prev()
		}
		target := blockchain.CompactToBig(iter.Bits())
		if count == 1 {
			avg.Set(target)
		} else {
			// Progressive average: avg <- (avg*n + target) / (n+1).
			avg.Mul(avg, big.NewInt(count))
			avg.Add(avg, target)
			avg.Div(avg, big.NewInt(count+1))
		}
		if count != dgwPastBlocks {
			if iter.Prev() == nil {
				return blockchain.BigToCompact(powLimit)
			}
			iter = iter.Prev()
		}
	}

	actual := prev.Time() - iter.Time()
	targetSpan := dgwPastBlocks * p.PowTargetSpacing
	if actual < targetSpan/3 {
		actual = targetSpan / 3
	}
	if actual > targetSpan*3 {
		actual = targetSpan * 3
	}

	next := new(big.Int).Set(avg)
	next.Mul(next, big.NewInt(actual))
	next.Div(next, big.NewInt(targetSpan))

	// Stale-tip escalator: progressively loosen the target the longer the
	// tip has gone without a block, judged only from the candidate header's
	// time.
	slack := blockTime - prev.Time()
	switch {
	case slack > p.PowTargetSpacing*30:
		next.Set(powLimit)
	case slack > p.PowTargetSpacing*25:
		next.Mul(next, big.NewInt(100000))
	case slack > p.PowTargetSpacing*20:
		next.Mul(next, big.NewInt(10000))
	case slack > p.PowTargetSpacing*15:
		next.Mul(next, big.NewInt(1000))
	case slack > p.PowTargetSpacing*10:
		next.Mul(next, big.NewInt(100))
	}

	if next.Cmp(powLimit) > 0 {
		next.Set(powLimit)
	}
	return blockchain.BigToCompact(next)
}

// nextWorkRequiredLegacy is the interval retarget in force below the fork
// height: adjust once per difficulty interval, clamped to a factor of four.
func nextWorkRequiredLegacy(prev *chain.Block, header *wire.BlockHeader, p *params.Params) uint32 {
	powLimitBits := blockchain.BigToCompact(p.PowLimit)
	interval := p.PowTargetTimespan / p.PowTargetSpacing

	if int64(prev.Height()+1)%interval != 0 {
		if p.PowAllowMinDifficultyBlocks {
			// Testnet rule: a min-difficulty block is allowed when the
			// new block's timestamp is over twice the spacing late.
			if header.Timestamp.Unix() > prev.Time()+p.PowTargetSpacing*2 {
				return powLimitBits
			}
			// Otherwise return the last non-special-rule target.
			iter := prev
			for iter.Prev() != nil && int64(iter.Height())%interval != 0 && iter.Bits() == powLimitBits {
				iter = iter.Prev()
			}
			return iter.Bits()
		}
		return prev.Bits()
	}

	// Walk back a full period, except for the first retarget after genesis.
	blocksToGoBack := interval - 1
	if int64(prev.Height()+1) != interval {
		blocksToGoBack = interval
	}
	first := prev
	for i := int64(0); first != nil && i < blocksToGoBack; i++ {
		first = first.Prev()
	}
	if first == nil {
		return powLimitBits
	}
	return CalculateNextWorkRequired(prev, first.Time(), p)
}

// CalculateNextWorkRequired computes the legacy retarget from the elapsed
// time of the last interval, clamped to [timespan/4, timespan*4] and with an
// overflow-safe shift around the PoW limit.
func CalculateNextWorkRequired(prev *chain.Block, firstBlockTime int64, p *params.Params) uint32 {
	if p.PowNoRetargeting {
		return prev.Bits()
	}

	actual := prev.Time() - firstBlockTime
	if actual < p.PowTargetTimespan/4 {
		actual = p.PowTargetTimespan / 4
	}
	if actual > p.PowTargetTimespan*4 {
		actual = p.PowTargetTimespan * 4
	}

	next := blockchain.CompactToBig(prev.Bits())
	// The intermediate product can overflow 256 bits by one bit.
	shift := next.BitLen() > p.PowLimit.BitLen()-1
	if shift {
		next.Rsh(next, 1)
	}
	next.Mul(next, big.NewInt(actual))
	next.Div(next, big.NewInt(p.PowTargetTimespan))
	if shift {
		next.Lsh(next, 1)
	}

	if next.Cmp(p.PowLimit) > 0 {
		next.Set(p.PowLimit)
	}
	return blockchain.BigToCompact(next)
}

// CheckProofOfWork verifies the claimed compact target is within range for
// the network and the block hash meets it.
func CheckProofOfWork(hash *chainhash.Hash, bits uint32, p *params.Params) bool {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 || target.BitLen() > 256 || target.Cmp(p.PowLimit) > 0 {
		return false
	}
	return blockchain.HashToBig(hash).Cmp(target) <= 0
}
