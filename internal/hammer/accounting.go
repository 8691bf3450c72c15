package hammer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// ErrUnavailable is returned by read-only queries that cannot run because
// the node is still syncing or the required block data has been pruned.
var ErrUnavailable = errors.New("hammer: network state unavailable")

// BlockStore provides read access to confirmed block data by hash.
type BlockStore interface {
	// Block returns the full block with the given hash, or an error if it
	// is unknown or pruned.
	Block(hash chainhash.Hash) (*wire.MsgBlock, error)
}

// PopulationPoint is one step of the age-indexed hammer population curve.
type PopulationPoint struct {
	CreatedPop int64
	ReadyPop   int64
}

// NetworkInfo aggregates the live hammer population of the network.
type NetworkInfo struct {
	CreatedHammers int64
	CreatedBCTs    int64
	ReadyHammers   int64
	ReadyBCTs      int64

	// PotentialLifespanRewards estimates the rewards paid to forgers over
	// one hammer lifespan at the typical forge block share.
	PotentialLifespanRewards btcutil.Amount

	// Graph holds the population curve indexed by blocks from the tip, or
	// nil when not requested.
	Graph []PopulationPoint
}

// ScanNetwork counts created and ready hammers in the gestation-plus-lifespan
// window of blocks ending at tip. It scans every non-forge-mined block for
// BCTs, so it reads block data and must not be called with consensus locks
// held. The scan refuses during initial block download and when a required
// block is unavailable.
func ScanNetwork(tip *chain.Block, store BlockStore, p *params.Params, recalcGraph, inInitialDownload bool) (*NetworkInfo, error) {
	if tip == nil {
		return nil, fmt.Errorf("%w: no chain tip", ErrUnavailable)
	}
	if inInitialDownload {
		return nil, fmt.Errorf("%w: initial block download", ErrUnavailable)
	}

	totalLifespan := p.HammerGestationBlocks + p.HammerLifespanBlocks
	tipHeight := tip.Height()

	info := &NetworkInfo{}
	spacing := p.ForgeBlockSpacingTargetTypical
	if chain.IsForge11Enabled(tip, p) {
		spacing = p.ForgeBlockSpacingTargetTypical11
	}
	info.PotentialLifespanRewards = btcutil.Amount(int64(p.HammerLifespanBlocks)) *
		p.BlockSubsidy(tipHeight) / btcutil.Amount(spacing)

	if recalcGraph {
		info.Graph = make([]PopulationPoint, totalLifespan)
	}

	iter := tip
	for i := int32(0); i < totalLifespan; i++ {
		if !iter.Status().HaveData() {
			return nil, fmt.Errorf("%w: block %s pruned", ErrUnavailable, iter.Hash())
		}

		// Forge-mined blocks cannot contain BCTs; skip the block read.
		if !iter.IsForgeMined(p) {
			block, err := store.Block(iter.Hash())
			if err != nil {
				return nil, fmt.Errorf("%w: read block %s: %v", ErrUnavailable, iter.Hash(), err)
			}
			blockHeight := iter.Height()
			cost := Cost(blockHeight, p)
			for _, tx := range block.Transactions {
				feePaid, ok := IsBCT(tx, p)
				if !ok {
					continue
				}
				donation, ok := DonationAmount(tx, feePaid, p)
				if !ok {
					continue
				}
				feePaid += donation

				count := int64(feePaid / cost)
				if i < p.HammerGestationBlocks {
					info.CreatedHammers += count
					info.CreatedBCTs++
				} else {
					info.ReadyHammers += count
					info.ReadyBCTs++
				}

				if recalcGraph {
					readyAt := blockHeight + p.HammerGestationBlocks
					diesAt := readyAt + p.HammerLifespanBlocks
					for j := blockHeight; j < diesAt; j++ {
						pos := j - tipHeight
						if pos <= 0 || pos >= totalLifespan {
							continue
						}
						if j < readyAt {
							info.Graph[pos].CreatedPop += count
						} else {
							info.Graph[pos].ReadyPop += count
						}
					}
				}
			}
		}

		if iter.Prev() == nil {
			break
		}
		iter = iter.Prev()
	}

	return info, nil
}
