package params

import "github.com/btcsuite/btcd/btcutil"

// baseSubsidy is the block reward before any halving, in satoshi.
const baseSubsidy = 250 * btcutil.SatoshiPerBitcoin

// BlockSubsidy returns the subsidy of the block at the given height. The
// reward halves every SubsidyHalvingInterval blocks, scales up linearly over
// the first SlowStartBlocks blocks, and stops entirely once the total money
// supply height is reached.
func (p *Params) BlockSubsidy(height int32) btcutil.Amount {
	if height < 0 || height > p.TotalMoneySupplyHeight {
		return 0
	}

	halvings := uint(height / p.SubsidyHalvingInterval)
	if halvings >= 64 {
		return 0
	}
	subsidy := btcutil.Amount(baseSubsidy) >> halvings

	if p.SlowStartBlocks > 0 && height < p.SlowStartBlocks {
		subsidy = subsidy * btcutil.Amount(height+1) / btcutil.Amount(p.SlowStartBlocks)
	}
	return subsidy
}
