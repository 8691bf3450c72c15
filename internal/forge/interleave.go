package forge

import (
	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// CheckInterleave verifies a forge block may follow prev. Before forge 1.1 a
// forge block must directly follow a PoW block; from 1.1 on, at most
// MaxConsecutiveForgeBlocks forge blocks may end at prev.
func CheckInterleave(prev *chain.Block, p *params.Params) error {
	if prev == nil {
		return ruleError(ErrParam, "interleaving check requires a parent block")
	}

	if !chain.IsForge11Enabled(prev, p) {
		if prev.IsForgeMined(p) {
			return ruleError(ErrInterleaving, "forge block must follow a PoW block")
		}
		return nil
	}

	forgeBlocksAtTip := int32(0)
	for iter := prev; iter != nil && iter.IsForgeMined(p); iter = iter.Prev() {
		forgeBlocksAtTip++
	}
	if forgeBlocksAtTip >= p.MaxConsecutiveForgeBlocks {
		return ruleError(ErrInterleaving, "%d consecutive forge blocks without a PoW block", forgeBlocksAtTip)
	}
	return nil
}
