// Package miner implements the forging side of the consensus core: the
// multi-worker hammer search against the current forge target and the
// long-lived hammer keeper that drives it on every tip change.
package miner

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/clock"
	"github.com/goodnatureofminers/forgenode/internal/forge"
	"github.com/goodnatureofminers/forgenode/internal/hammer"
	"github.com/goodnatureofminers/forgenode/pkg/safe"
	"github.com/goodnatureofminers/forgenode/pkg/workerpool"
)

// abortCheckInterval is how many hammer hashes a worker computes between
// polls of the shared abort flags. The atomic load is cheap but not free;
// polling every hash would dominate small targets.
const abortCheckInterval = 1000

// Range addresses a contiguous run of hammers inside one BCT.
type Range struct {
	TxID             string
	GoldAddress      string
	CommunityContrib bool
	Offset           int64
	Count            int64
}

// Solution is a hammer that met the search target. Any worker's first find
// wins; the caller must treat it as one valid witness, not a canonical one.
type Solution struct {
	Range       Range
	HammerIndex int64
}

// Outcome summarises how a search session ended.
type Outcome string

// Search outcomes.
const (
	OutcomeSolved  Outcome = "solved"
	OutcomeDry     Outcome = "dry"
	OutcomeAborted Outcome = "aborted"
)

// Sentinels used to cancel the worker pool early.
var (
	errSolutionFound = errors.New("miner: solution found")
	errEarlyAbort    = errors.New("miner: early abort")
)

// BinRanges partitions the ready hammers of the given BCTs into binCount
// bins of roughly equal hammer count, preserving BCT order inside each bin.
func BinRanges(bcts []hammer.BCTInfo, binCount int) [][]Range {
	totalHammers := int64(0)
	ready := make([]hammer.BCTInfo, 0, len(bcts))
	for _, bct := range bcts {
		if bct.Status != hammer.StatusReady || bct.HammerCount <= 0 {
			continue
		}
		ready = append(ready, bct)
		totalHammers += bct.HammerCount
	}
	if totalHammers == 0 {
		return nil
	}

	hammersPerBin := int64(math.Ceil(float64(totalHammers) / float64(binCount)))
	var bins [][]Range

	i := 0
	offset := int64(0)
	for i < len(ready) {
		var bin []Range
		hammersInBin := int64(0)
		for i < len(ready) {
			bct := ready[i]
			spaceLeft := hammersPerBin - hammersInBin
			if spaceLeft == 0 {
				break
			}
			if bct.HammerCount-offset <= spaceLeft {
				bin = append(bin, Range{
					TxID:             bct.TxID,
					GoldAddress:      bct.GoldAddress,
					CommunityContrib: bct.CommunityContrib,
					Offset:           offset,
					Count:            bct.HammerCount - offset,
				})
				hammersInBin += bct.HammerCount - offset
				offset = 0
				i++
			} else {
				bin = append(bin, Range{
					TxID:             bct.TxID,
					GoldAddress:      bct.GoldAddress,
					CommunityContrib: bct.CommunityContrib,
					Offset:           offset,
					Count:            spaceLeft,
				})
				offset += spaceLeft
				break
			}
		}
		bins = append(bins, bin)
	}
	return bins
}

// Session is one bounded hammer search: it owns the coordination flags and
// worker handles for a single tip. Sessions must not be reused.
type Session struct {
	detRand string
	target  *big.Int
	logger  *zap.Logger

	solutionFound atomic.Bool
	earlyAbort    atomic.Bool

	mu       sync.Mutex
	solution Solution
}

// NewSession prepares a search against the given per-tip randomness and
// hammer hash target.
func NewSession(detRand string, target *big.Int, logger *zap.Logger) *Session {
	return &Session{
		detRand: detRand,
		target:  target,
		logger:  logger,
	}
}

// Abort requests the session stop early. Workers observe the flag within
// abortCheckInterval hashes.
func (s *Session) Abort() {
	s.earlyAbort.Store(true)
}

// Run searches the bins with one worker each, plus an optional watcher that
// aborts when the observed tip height changes. It blocks until every worker
// has stopped.
func (s *Session) Run(ctx context.Context, bins [][]Range, tipHeight func() int32, checkDelay time.Duration, earlyOut bool) (*Solution, Outcome) {
	if len(bins) == 0 {
		return nil, OutcomeDry
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if earlyOut && tipHeight != nil {
		startHeight := tipHeight()
		go s.watchTip(watchCtx, tipHeight, startHeight, checkDelay)
	}

	err := workerpool.Process(ctx, len(bins), bins,
		func(_ context.Context, bin []Range) error {
			return s.checkBin(bin)
		},
		s.Abort,
	)

	if s.earlyAbort.Load() && !s.solutionFound.Load() {
		return nil, OutcomeAborted
	}
	if s.solutionFound.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sol := s.solution
		return &sol, OutcomeSolved
	}
	if err != nil && !errors.Is(err, errSolutionFound) && !errors.Is(err, errEarlyAbort) {
		s.logger.Warn("hammer search stopped", zap.Error(err))
		return nil, OutcomeAborted
	}
	return nil, OutcomeDry
}

// checkBin hashes every hammer of the bin's ranges in order, polling the
// shared flags every abortCheckInterval hashes.
func (s *Session) checkBin(bin []Range) error {
	checkCount := 0
	for _, r := range bin {
		for i := r.Offset; i < r.Offset+r.Count; i++ {
			if checkCount%abortCheckInterval == 0 {
				if s.solutionFound.Load() {
					return errSolutionFound
				}
				if s.earlyAbort.Load() {
					return errEarlyAbort
				}
			}
			checkCount++

			idx, err := safe.Uint32(i)
			if err != nil {
				return err
			}
			hammerHash := forge.HammerHash(s.detRand, r.TxID, idx)
			if hammerHash.Cmp(s.target) < 0 {
				s.mu.Lock()
				if !s.solutionFound.Load() {
					s.solution = Solution{Range: r, HammerIndex: i}
					s.solutionFound.Store(true)
				}
				s.mu.Unlock()
				return errSolutionFound
			}
		}
	}
	return nil
}

// watchTip polls the tip height and raises the abort flag when it moves.
func (s *Session) watchTip(ctx context.Context, tipHeight func() int32, startHeight int32, delay time.Duration) {
	if delay <= 0 {
		delay = time.Millisecond
	}
	for {
		if err := clock.SleepWithContext(ctx, delay); err != nil {
			return
		}
		if s.solutionFound.Load() || s.earlyAbort.Load() {
			return
		}
		if tipHeight() != startHeight {
			s.earlyAbort.Store(true)
			return
		}
	}
}
