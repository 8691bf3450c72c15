// Command forgesim runs the forge consensus core against an in-memory
// regtest chain: it mines PoW blocks, matures a wallet of hammers, and lets
// the hammer keeper forge blocks end to end, validating each one.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/forge"
	"github.com/goodnatureofminers/forgenode/internal/metrics"
	"github.com/goodnatureofminers/forgenode/internal/miner"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

type config struct {
	Network          string        `long:"network" env:"FORGESIM_NETWORK" description:"network name" default:"regtest"`
	Blocks           int           `long:"blocks" env:"FORGESIM_BLOCKS" description:"number of blocks to simulate" default:"64"`
	ForgeCheckDelay  time.Duration `long:"forgecheckdelay" env:"FORGESIM_FORGE_CHECK_DELAY" description:"delay between tip polls" default:"1ms"`
	ForgeCheckThread int           `long:"forgecheckthreads" env:"FORGESIM_FORGE_CHECK_THREADS" description:"search worker count (-2 = cores-1)" default:"-2"`
	ForgeEarlyOut    bool          `long:"forgeearlyout" env:"FORGESIM_FORGE_EARLY_OUT" description:"abort searches on tip change"`
	MetricsAddr      string        `long:"metrics-addr" env:"FORGESIM_METRICS_ADDR" description:"prometheus listen address (empty = disabled)"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("forgesim failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	p, ok := params.ByName(cfg.Network)
	if !ok {
		return errors.New("unknown network " + cfg.Network)
	}

	node, err := newSimNode(p, logger)
	if err != nil {
		return err
	}

	keeper := miner.NewKeeper(
		miner.Config{
			CheckDelay: cfg.ForgeCheckDelay,
			Threads:    cfg.ForgeCheckThread,
			EarlyOut:   cfg.ForgeEarlyOut,
		},
		p,
		node,
		node.wallet,
		node,
		nil,
		logger,
		metrics.NewHammerSearch(p.Name),
	)

	// Mature the wallet's hammers under PoW first, then alternate: let the
	// keeper try to forge every tip and fall back to a PoW block when it
	// can't.
	for node.chain.Height() < int32(cfg.Blocks) {
		if err := ctx.Err(); err != nil {
			return err
		}

		tip := node.Tip()
		if forge.CheckInterleave(tip, p) == nil && node.wallet.hasReadyHammers() {
			if err := keeper.AttemptForge(ctx, tip); err != nil {
				logger.Warn("forge attempt failed", zap.Error(err))
			}
		}
		if node.Tip() == tip {
			if err := node.minePowBlock(); err != nil {
				return err
			}
		}
	}

	summary := node.summary(p)
	logger.Info("simulation finished",
		zap.Int32("height", node.chain.Height()),
		zap.Int("pow_blocks", summary.powBlocks),
		zap.Int("forge_blocks", summary.forgeBlocks),
		zap.String("chain_work", node.Tip().ChainWork().String()))
	return nil
}

type chainSummary struct {
	powBlocks   int
	forgeBlocks int
}

func (n *simNode) summary(p *params.Params) chainSummary {
	var s chainSummary
	for b := n.Tip(); b != nil; b = b.Prev() {
		if b.IsForgeMined(p) {
			s.forgeBlocks++
		} else {
			s.powBlocks++
		}
	}
	return s
}
