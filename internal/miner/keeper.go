package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/difficulty"
	"github.com/goodnatureofminers/forgenode/internal/forge"
	"github.com/goodnatureofminers/forgenode/internal/hammer"
	"github.com/goodnatureofminers/forgenode/internal/metrics"
	"github.com/goodnatureofminers/forgenode/internal/params"
	"github.com/goodnatureofminers/forgenode/pkg/safe"
	"github.com/goodnatureofminers/forgenode/pkg/workerpool"
)

// NodeView is the keeper's read view of the node and its submission entry
// point.
type NodeView interface {
	// Tip returns the current chain tip.
	Tip() *chain.Block

	// IsInitialBlockDownload reports whether the node is still syncing.
	IsInitialBlockDownload() bool

	// PeerCount returns the number of connected peers.
	PeerCount() int

	// SubmitBlock posts a block to the node's processing pipeline and
	// reports whether it was accepted.
	SubmitBlock(block *wire.MsgBlock) (bool, error)
}

// Wallet is the keeper's view of the forger's wallet: its BCTs and a signing
// capability over the fixed proof message.
type Wallet interface {
	// IsLocked reports whether the key store is locked.
	IsLocked() bool

	// BCTs lists the wallet's hammer creation transactions.
	BCTs(includeDead bool) ([]hammer.BCTInfo, error)

	// SignProofMessage signs the proof message digest with the private key
	// of the given gold address, producing a 65-byte compact signature.
	SignProofMessage(goldAddress string, digest chainhash.Hash) ([]byte, error)
}

// TxSource optionally supplies transactions for forged blocks. Forge-mined
// blocks must not contain BCTs; implementations are responsible for
// excluding them and any fee attributable to them.
type TxSource interface {
	ForgeBlockTransactions() ([]*wire.MsgTx, btcutil.Amount)
}

// Config carries the keeper's tunables.
type Config struct {
	// CheckDelay is the pause between tip polls.
	CheckDelay time.Duration

	// Threads is the requested search worker count; see
	// workerpool.ResolveWorkerCount for the special values.
	Threads int

	// EarlyOut enables the tip watcher that aborts a running search when
	// the chain advances.
	EarlyOut bool
}

// DefaultConfig returns the keeper defaults: 1ms poll delay, one worker per
// core but one, early-out enabled.
func DefaultConfig() Config {
	return Config{
		CheckDelay: time.Millisecond,
		Threads:    -2,
		EarlyOut:   true,
	}
}

// Keeper is the long-lived orchestrator: on every observed tip advance it
// runs a hammer search and, on success, assembles and submits a forge block.
// Searches are serialised; a Keeper runs one search at a time.
type Keeper struct {
	cfg      Config
	params   *params.Params
	node     NodeView
	wallet   Wallet
	utxo     forge.UTXOView
	txSource TxSource
	logger   *zap.Logger
	metrics  *metrics.HammerSearch
}

// NewKeeper builds a hammer keeper. txSource and m may be nil.
func NewKeeper(cfg Config, p *params.Params, node NodeView, wallet Wallet, utxo forge.UTXOView, txSource TxSource, logger *zap.Logger, m *metrics.HammerSearch) *Keeper {
	if cfg.CheckDelay <= 0 {
		cfg.CheckDelay = time.Millisecond
	}
	return &Keeper{
		cfg:      cfg,
		params:   p,
		node:     node,
		wallet:   wallet,
		utxo:     utxo,
		txSource: txSource,
		logger:   logger,
		metrics:  m,
	}
}

// Run polls the tip until the context is canceled, triggering one forge
// attempt per tip advance.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("hammer keeper started",
		zap.Duration("check_delay", k.cfg.CheckDelay),
		zap.Int("threads", k.cfg.Threads))

	pollsPerSecond := int(time.Second / k.cfg.CheckDelay)
	if pollsPerSecond < 1 {
		pollsPerSecond = 1
	}
	limiter := ratelimit.New(pollsPerSecond)

	height := int32(-1)
	if tip := k.node.Tip(); tip != nil {
		height = tip.Height()
	}

	for {
		limiter.Take()
		if err := ctx.Err(); err != nil {
			k.logger.Info("hammer keeper stopped")
			return err
		}

		tip := k.node.Tip()
		if tip == nil || tip.Height() == height {
			continue
		}
		height = tip.Height()

		if err := k.AttemptForge(ctx, tip); err != nil {
			// Mining errors degrade to skipping this tip.
			k.logger.Warn("forge attempt failed", zap.Int32("height", height), zap.Error(err))
		}
	}
}

// AttemptForge runs one hammer search against the given tip and submits a
// forge block if a hammer meets the target. A nil error with no submission
// means the tip was skipped or the search was dry or aborted.
func (k *Keeper) AttemptForge(ctx context.Context, tip *chain.Block) error {
	p := k.params

	if skip, reason := k.shouldSkip(tip); skip {
		k.logger.Debug("skipping forge check", zap.String("reason", reason))
		if k.metrics != nil {
			k.metrics.ObserveSkip()
		}
		return nil
	}

	detRand := forge.DeterministicRandString(tip)
	target := blockchain.CompactToBig(difficulty.NextForgeWorkRequired(tip, p))
	if target.Sign() <= 0 {
		k.logger.Debug("forge target is impossible at this tip")
		return nil
	}

	bcts, err := k.wallet.BCTs(false)
	if err != nil {
		return fmt.Errorf("list wallet BCTs: %w", err)
	}
	if k.metrics != nil {
		summary := hammer.Summarize(bcts)
		k.metrics.SetWalletPopulation(summary.Created, summary.Ready, summary.Dead)
	}

	threads := workerpool.ResolveWorkerCount(k.cfg.Threads)
	bins := BinRanges(bcts, threads)
	if len(bins) == 0 {
		k.logger.Debug("no ready hammers found")
		return nil
	}
	totalHammers := int64(0)
	for _, bin := range bins {
		for _, r := range bin {
			totalHammers += r.Count
		}
	}

	k.logger.Info("hammers at work",
		zap.Int32("height", tip.Height()+1),
		zap.Int64("hammers", totalHammers),
		zap.Int("threads", threads))

	session := NewSession(detRand, target, k.logger)
	start := time.Now()
	solution, outcome := session.Run(ctx, bins, k.tipHeight, k.cfg.CheckDelay, k.cfg.EarlyOut)
	elapsed := time.Since(start)
	if k.metrics != nil {
		k.metrics.ObserveRun(string(outcome), totalHammers, elapsed)
	}

	switch outcome {
	case OutcomeAborted:
		k.logger.Info("chain state changed, search aborted", zap.Duration("elapsed", elapsed))
		return nil
	case OutcomeDry:
		k.logger.Info("no hammer meets the hash target",
			zap.Int64("hammers", totalHammers),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	k.logger.Info("hammer meets hash target",
		zap.Int64("hammer_index", solution.HammerIndex),
		zap.String("bct", solution.Range.TxID),
		zap.String("gold_address", solution.Range.GoldAddress),
		zap.Duration("elapsed", elapsed))

	return k.submitSolution(tip, detRand, solution)
}

func (k *Keeper) shouldSkip(tip *chain.Block) (bool, string) {
	p := k.params
	switch {
	case !chain.IsForgeEnabled(tip, p):
		return true, "forge not enabled on the network"
	case k.node.PeerCount() == 0:
		return true, "not connected"
	case k.node.IsInitialBlockDownload():
		return true, "initial block download"
	case k.wallet.IsLocked():
		return true, "wallet is locked"
	}
	if err := forge.CheckInterleave(tip, p); err != nil {
		return true, err.Error()
	}
	return false, ""
}

func (k *Keeper) tipHeight() int32 {
	if tip := k.node.Tip(); tip != nil {
		return tip.Height()
	}
	return -1
}

// submitSolution signs the proof, assembles the forge block and posts it,
// refusing if the tip moved since the search started.
func (k *Keeper) submitSolution(prev *chain.Block, detRand string, solution *Solution) error {
	p := k.params

	digest := forge.MessageDigest(detRand)
	sigBytes, err := k.wallet.SignProofMessage(solution.Range.GoldAddress, digest)
	if err != nil {
		return fmt.Errorf("sign proof message: %w", err)
	}
	var proof forge.Proof
	if len(sigBytes) != len(proof.MessageSig) {
		return fmt.Errorf("proof signature is %d bytes, want %d", len(sigBytes), len(proof.MessageSig))
	}
	copy(proof.MessageSig[:], sigBytes)

	txHash, err := chainhash.NewHashFromStr(solution.Range.TxID)
	if err != nil {
		return fmt.Errorf("parse BCT txid: %w", err)
	}
	coin, ok := k.utxo.GetCoin(wire.OutPoint{Hash: *txHash, Index: 0})
	if !ok {
		return fmt.Errorf("BCT outpoint %s:0 not found in UTXO set", solution.Range.TxID)
	}
	bctHeight, err := safe.Uint32(coin.Height)
	if err != nil {
		return fmt.Errorf("BCT height: %w", err)
	}

	hammerNonce, err := safe.Uint32(solution.HammerIndex)
	if err != nil {
		return fmt.Errorf("hammer index: %w", err)
	}
	proof.HammerNonce = hammerNonce
	proof.BctHeight = bctHeight
	proof.CommunityContrib = solution.Range.CommunityContrib
	proof.TxID = solution.Range.TxID

	goldAddr, err := btcutil.DecodeAddress(solution.Range.GoldAddress, p.AddrParams)
	if err != nil {
		return fmt.Errorf("decode gold address: %w", err)
	}
	goldScript, err := txscript.PayToAddrScript(goldAddr)
	if err != nil {
		return fmt.Errorf("gold script: %w", err)
	}

	var txs []*wire.MsgTx
	var fees btcutil.Amount
	if k.txSource != nil {
		txs, fees = k.txSource.ForgeBlockTransactions()
	}

	block, err := BuildForgeBlock(prev, proof.EncodeScript(), goldScript, txs, fees, time.Now(), p)
	if err != nil {
		return fmt.Errorf("assemble forge block: %w", err)
	}

	// Refuse stale blocks: the tip may have moved while we were searching.
	if tip := k.node.Tip(); tip == nil || tip.Hash() != prev.Hash() {
		k.logger.Info("generated block is stale")
		return nil
	}

	accepted, err := k.node.SubmitBlock(block)
	if err != nil {
		return fmt.Errorf("submit block: %w", err)
	}
	if !accepted {
		k.logger.Warn("forge block was not accepted", zap.String("hash", block.BlockHash().String()))
		return nil
	}
	k.logger.Info("forge block mined",
		zap.Int32("height", prev.Height()+1),
		zap.String("hash", block.BlockHash().String()))
	return nil
}
