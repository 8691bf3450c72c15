package hammer

import "github.com/btcsuite/btcd/btcutil"

// BCTInfo describes one of a wallet's hammer creation transactions as seen
// from the current tip.
type BCTInfo struct {
	TxID             string
	Height           int32
	Time             int64
	HammerCount      int64
	Status           Status
	GoldAddress      string
	CommunityContrib bool

	Cost        btcutil.Amount
	RewardsPaid btcutil.Amount
	BlocksFound int
}

// Profit is the net result of the BCT so far.
func (b *BCTInfo) Profit() btcutil.Amount {
	return b.RewardsPaid - b.Cost
}

// Summary aggregates a wallet's BCTs per lifecycle state.
type Summary struct {
	Created     int64
	Ready       int64
	Dead        int64
	BlocksFound int

	Cost        btcutil.Amount
	RewardsPaid btcutil.Amount
	Profit      btcutil.Amount
}

// Summarize folds a wallet's BCTs into per-status hammer totals and the
// overall cost / reward balance.
func Summarize(bcts []BCTInfo) Summary {
	var s Summary
	for i := range bcts {
		bct := &bcts[i]
		switch bct.Status {
		case StatusReady:
			s.Ready += bct.HammerCount
		case StatusCreated:
			s.Created += bct.HammerCount
		case StatusDead:
			s.Dead += bct.HammerCount
		}
		s.BlocksFound += bct.BlocksFound
		s.Cost += bct.Cost
		s.RewardsPaid += bct.RewardsPaid
		s.Profit += bct.Profit()
	}
	return s
}
