package miner

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/forge"
	"github.com/goodnatureofminers/forgenode/internal/hammer"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// fakeNode backs the keeper with an in-memory chain, UTXO view and block
// store, validating every submitted forge block.
type fakeNode struct {
	t *testing.T
	p *params.Params

	tip       *chain.Block
	blocks    map[chainhash.Hash]*wire.MsgBlock
	utxo      map[wire.OutPoint]*forge.Coin
	validator *forge.Validator

	peerCount int
	ibd       bool
	submitted []*wire.MsgBlock
}

func (n *fakeNode) Tip() *chain.Block            { return n.tip }
func (n *fakeNode) IsInitialBlockDownload() bool { return n.ibd }
func (n *fakeNode) PeerCount() int               { return n.peerCount }

func (n *fakeNode) GetCoin(out wire.OutPoint) (*forge.Coin, bool) {
	coin, ok := n.utxo[out]
	return coin, ok
}

func (n *fakeNode) Block(hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, ok := n.blocks[hash]
	if !ok {
		return nil, errNotFound
	}
	return block, nil
}

func (n *fakeNode) SubmitBlock(block *wire.MsgBlock) (bool, error) {
	if err := n.validator.CheckProof(block, n.tip); err != nil {
		return false, err
	}
	n.submitted = append(n.submitted, block)
	n.tip = chain.NewBlock(&block.Header, n.tip, n.p)
	return true, nil
}

var errNotFound = errorString("not found")

type errorString string

func (e errorString) Error() string { return string(e) }

// fakeWallet owns one gold key and one matured BCT.
type fakeWallet struct {
	key         *btcec.PrivateKey
	goldAddress string
	locked      bool
	bcts        []hammer.BCTInfo
}

func (w *fakeWallet) IsLocked() bool { return w.locked }

func (w *fakeWallet) BCTs(bool) ([]hammer.BCTInfo, error) { return w.bcts, nil }

func (w *fakeWallet) SignProofMessage(goldAddress string, digest chainhash.Hash) ([]byte, error) {
	if goldAddress != w.goldAddress {
		return nil, errNotFound
	}
	return ecdsa.SignCompact(w.key, digest[:], true), nil
}

// keeperFixture assembles a chain of six PoW blocks with a matured BCT.
func keeperFixture(t *testing.T) (*fakeNode, *fakeWallet, *params.Params) {
	t.Helper()

	p := params.RegressionNetParams
	p.HammerGestationBlocks = 2
	p.HammerLifespanBlocks = 16

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	goldAddr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), p.AddrParams)
	require.NoError(t, err)
	goldScript, err := txscript.PayToAddrScript(goldAddr)
	require.NoError(t, err)

	node := &fakeNode{
		t:         t,
		p:         &p,
		blocks:    make(map[chainhash.Hash]*wire.MsgBlock),
		utxo:      make(map[wire.OutPoint]*forge.Coin),
		peerCount: 1,
	}
	node.validator = forge.NewValidator(&p, node, node, zap.NewNop(), nil)

	// BCT in block 1, matured by block 5.
	const hammerCount = 2048
	creationScript, err := hammer.CreationScript(goldScript, &p)
	require.NoError(t, err)
	bct := wire.NewMsgTx(wire.TxVersion)
	bct.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("funding")), Index: 0},
	})
	bct.AddTxOut(&wire.TxOut{
		Value:    int64(btcutil.Amount(hammerCount) * hammer.Cost(1, &p)),
		PkScript: creationScript,
	})

	bits := blockchain.BigToCompact(p.PowLimit)
	timestamp := int64(1700000000)
	for h := int32(0); h <= 5; h++ {
		var prevHash chainhash.Hash
		if node.tip != nil {
			prevHash = node.tip.Hash()
		}
		header := &wire.BlockHeader{
			Version:    params.VersionBitsTopBits,
			PrevBlock:  prevHash,
			MerkleRoot: chainhash.HashH([]byte{byte(h), 0x9f}),
			Timestamp:  time.Unix(timestamp, 0),
			Bits:       bits,
		}
		body := wire.NewMsgBlock(header)
		if h == 1 {
			require.NoError(t, body.AddTransaction(bct))
		}
		node.tip = chain.NewBlock(header, node.tip, &p)
		node.blocks[node.tip.Hash()] = body
		timestamp += p.PowTargetSpacing
	}

	bctHash := bct.TxHash()
	node.utxo[wire.OutPoint{Hash: bctHash, Index: 0}] = &forge.Coin{
		Value:    btcutil.Amount(bct.TxOut[0].Value),
		PkScript: bct.TxOut[0].PkScript,
		Height:   1,
	}

	wallet := &fakeWallet{
		key:         key,
		goldAddress: goldAddr.EncodeAddress(),
		bcts: []hammer.BCTInfo{{
			TxID:        bctHash.String(),
			Height:      1,
			HammerCount: hammerCount,
			Status:      hammer.StatusReady,
			GoldAddress: goldAddr.EncodeAddress(),
		}},
	}
	return node, wallet, &p
}

func TestKeeperForgesBlockEndToEnd(t *testing.T) {
	node, wallet, p := keeperFixture(t)

	keeper := NewKeeper(DefaultConfig(), p, node, wallet, node, nil, zap.NewNop(), nil)
	prev := node.Tip()
	require.NoError(t, keeper.AttemptForge(context.Background(), prev))

	require.Len(t, node.submitted, 1, "the keeper should have submitted one block")
	block := node.submitted[0]
	require.Equal(t, p.ForgeNonceMarker, block.Header.Nonce)
	require.Equal(t, prev.Hash(), block.Header.PrevBlock)
	require.Len(t, block.Transactions, 1)
	require.Len(t, block.Transactions[0].TxOut, 2)

	// The new tip is the forge block.
	require.Equal(t, prev.Height()+1, node.Tip().Height())
	require.True(t, node.Tip().IsForgeMined(p))
}

func TestKeeperSkips(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(node *fakeNode, wallet *fakeWallet)
	}{
		{
			name:  "no peers",
			tweak: func(n *fakeNode, _ *fakeWallet) { n.peerCount = 0 },
		},
		{
			name:  "initial block download",
			tweak: func(n *fakeNode, _ *fakeWallet) { n.ibd = true },
		},
		{
			name:  "locked wallet",
			tweak: func(_ *fakeNode, w *fakeWallet) { w.locked = true },
		},
		{
			name:  "no ready hammers",
			tweak: func(_ *fakeNode, w *fakeWallet) { w.bcts = nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, wallet, p := keeperFixture(t)
			tt.tweak(node, wallet)

			keeper := NewKeeper(DefaultConfig(), p, node, wallet, node, nil, zap.NewNop(), nil)
			require.NoError(t, keeper.AttemptForge(context.Background(), node.Tip()))
			require.Empty(t, node.submitted, "a skipped tip must not submit a block")
		})
	}
}

func TestKeeperRefusesStaleTip(t *testing.T) {
	node, wallet, p := keeperFixture(t)
	prev := node.Tip()

	// Advance the tip behind the keeper's back; submission must be
	// refused as stale even though the search succeeds.
	header := &wire.BlockHeader{
		Version:    params.VersionBitsTopBits,
		PrevBlock:  prev.Hash(),
		MerkleRoot: chainhash.HashH([]byte("rival")),
		Timestamp:  time.Unix(prev.Time()+1, 0),
		Bits:       prev.Bits(),
	}
	rival := chain.NewBlock(header, prev, p)

	cfg := DefaultConfig()
	cfg.EarlyOut = false // let the search finish despite the moved tip
	keeper := NewKeeper(cfg, p, node, wallet, node, nil, zap.NewNop(), nil)

	node.tip = rival
	require.NoError(t, keeper.AttemptForge(context.Background(), prev))
	require.Empty(t, node.submitted)
}
