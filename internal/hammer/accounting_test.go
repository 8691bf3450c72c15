package hammer

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

type mapStore map[chainhash.Hash]*wire.MsgBlock

func (s mapStore) Block(hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, ok := s[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return block, nil
}

// scanFixture builds a chain of n+1 blocks and stores an empty
// block body for each, returning the tip and the store.
func scanFixture(t *testing.T, n int, p *params.Params) (*chain.Block, mapStore) {
	t.Helper()
	store := make(mapStore)
	bits := blockchain.BigToCompact(p.PowLimit)

	var tip *chain.Block
	timestamp := int64(1700000000)
	for i := 0; i <= n; i++ {
		var prevHash chainhash.Hash
		if tip != nil {
			prevHash = tip.Hash()
		}
		header := &wire.BlockHeader{
			Version:    params.VersionBitsTopBits,
			PrevBlock:  prevHash,
			MerkleRoot: chainhash.HashH([]byte{byte(i), byte(i >> 8), 0x5c}),
			Timestamp:  time.Unix(timestamp, 0),
			Bits:       bits,
		}
		tip = chain.NewBlock(header, tip, p)
		coinbase := wire.NewMsgTx(wire.TxVersion)
		coinbase.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex}})
		coinbase.AddTxOut(&wire.TxOut{Value: int64(p.BlockSubsidy(tip.Height()))})
		block := wire.NewMsgBlock(header)
		if err := block.AddTransaction(coinbase); err != nil {
			t.Fatalf("add coinbase: %v", err)
		}
		store[tip.Hash()] = block
		timestamp += p.PowTargetSpacing
	}
	return tip, store
}

func TestScanNetwork(t *testing.T) {
	p := params.RegressionNetParams
	p.HammerGestationBlocks = 4
	p.HammerLifespanBlocks = 8

	tip, store := scanFixture(t, 20, &p)

	// One BCT two blocks below the tip (still gestating, 3 hammers) and
	// one six blocks below (ready, 7 hammers).
	gestating := tip.Ancestor(tip.Height() - 2)
	ready := tip.Ancestor(tip.Height() - 6)
	store[gestating.Hash()].AddTransaction(testBCT(t, 3*Cost(gestating.Height(), &p), &p))
	store[ready.Hash()].AddTransaction(testBCT(t, 7*Cost(ready.Height(), &p), &p))

	info, err := ScanNetwork(tip, store, &p, true, false)
	if err != nil {
		t.Fatalf("ScanNetwork: %v", err)
	}
	if info.CreatedHammers != 3 || info.CreatedBCTs != 1 {
		t.Fatalf("created = %d hammers / %d BCTs, want 3 / 1", info.CreatedHammers, info.CreatedBCTs)
	}
	if info.ReadyHammers != 7 || info.ReadyBCTs != 1 {
		t.Fatalf("ready = %d hammers / %d BCTs, want 7 / 1", info.ReadyHammers, info.ReadyBCTs)
	}
	if info.PotentialLifespanRewards <= 0 {
		t.Fatal("potential lifespan rewards should be positive")
	}
	if len(info.Graph) != int(p.HammerGestationBlocks+p.HammerLifespanBlocks) {
		t.Fatalf("graph has %d points, want %d", len(info.Graph), p.HammerGestationBlocks+p.HammerLifespanBlocks)
	}

	// The gestating BCT becomes ready two blocks into the future curve.
	if info.Graph[1].CreatedPop != 3 {
		t.Fatalf("graph[1].CreatedPop = %d, want 3", info.Graph[1].CreatedPop)
	}
	if info.Graph[3].ReadyPop < 3 {
		t.Fatalf("graph[3].ReadyPop = %d, want the gestating hammers matured", info.Graph[3].ReadyPop)
	}
}

func TestScanNetworkUnavailable(t *testing.T) {
	p := params.RegressionNetParams
	tip, store := scanFixture(t, 8, &p)

	if _, err := ScanNetwork(tip, store, &p, false, true); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("IBD scan error = %v, want ErrUnavailable", err)
	}
	if _, err := ScanNetwork(nil, store, &p, false, false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil tip error = %v, want ErrUnavailable", err)
	}

	// A missing block in the window is unavailable too.
	delete(store, tip.Ancestor(2).Hash())
	if _, err := ScanNetwork(tip, store, &p, false, false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("missing block error = %v, want ErrUnavailable", err)
	}

	// Donation-carrying BCTs with a bad amount are ignored, not fatal.
	fresh, freshStore := scanFixture(t, 8, &p)
	bad := testBCT(t, 90, &p)
	bad.AddTxOut(&wire.TxOut{Value: 11, PkScript: p.CommunityScript()})
	freshStore[fresh.Hash()].AddTransaction(bad)
	info, err := ScanNetwork(fresh, freshStore, &p, false, false)
	if err != nil {
		t.Fatalf("ScanNetwork: %v", err)
	}
	if info.CreatedHammers != 0 || info.ReadyHammers != 0 {
		t.Fatal("invalid donation BCT must not be counted")
	}
}
