package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/difficulty"
	"github.com/goodnatureofminers/forgenode/internal/forge"
	"github.com/goodnatureofminers/forgenode/internal/hammer"
	"github.com/goodnatureofminers/forgenode/internal/metrics"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// simGenesisTime anchors the simulated chain's timestamps.
const simGenesisTime int64 = 1700000000

// simHammerCount is the number of hammers the simulated wallet buys.
const simHammerCount = 256

// simNode is an in-memory node: block index, active chain, block store and
// UTXO view, all backing the keeper and the forge validator.
type simNode struct {
	p      *params.Params
	logger *zap.Logger

	index     *chain.Index
	chain     *chain.Chain
	blocks    map[chainhash.Hash]*wire.MsgBlock
	utxo      map[wire.OutPoint]*forge.Coin
	validator *forge.Validator
	wallet    *simWallet
}

func newSimNode(p *params.Params, logger *zap.Logger) (*simNode, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	goldAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), p.AddrParams)
	if err != nil {
		return nil, fmt.Errorf("gold address: %w", err)
	}

	n := &simNode{
		p:      p,
		logger: logger,
		index:  chain.NewIndex(),
		chain:  &chain.Chain{},
		blocks: make(map[chainhash.Hash]*wire.MsgBlock),
		utxo:   make(map[wire.OutPoint]*forge.Coin),
	}
	n.wallet = &simWallet{
		node:        n,
		key:         key,
		goldAddress: goldAddr.EncodeAddress(),
	}
	n.validator = forge.NewValidator(p, n, n, logger, metrics.NewForgeValidation(p.Name))

	// Genesis plus the wallet's BCT in the first mined block.
	if err := n.minePowBlock(); err != nil {
		return nil, err
	}
	if err := n.minePowBlock(); err != nil {
		return nil, err
	}
	return n, nil
}

// Tip implements miner.NodeView.
func (n *simNode) Tip() *chain.Block { return n.chain.Tip() }

// IsInitialBlockDownload implements miner.NodeView; the simulation is always
// synced.
func (n *simNode) IsInitialBlockDownload() bool { return false }

// PeerCount implements miner.NodeView; the simulation pretends one peer.
func (n *simNode) PeerCount() int { return 1 }

// Block implements hammer.BlockStore.
func (n *simNode) Block(hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, ok := n.blocks[hash]
	if !ok {
		return nil, errors.New("block not found")
	}
	return block, nil
}

// GetCoin implements forge.UTXOView.
func (n *simNode) GetCoin(out wire.OutPoint) (*forge.Coin, bool) {
	coin, ok := n.utxo[out]
	return coin, ok
}

// SubmitBlock implements miner.NodeView: it validates a forge block's proof
// and bits, then connects it as the new tip.
func (n *simNode) SubmitBlock(block *wire.MsgBlock) (bool, error) {
	prev := n.index.Lookup(block.Header.PrevBlock)
	if prev == nil {
		return false, errors.New("unknown previous block")
	}
	if block.Header.Nonce == n.p.ForgeNonceMarker {
		if block.Header.Bits != difficulty.NextForgeWorkRequired(prev, n.p) {
			return false, errors.New("wrong forge target")
		}
		if err := n.validator.CheckProof(block, prev); err != nil {
			return false, err
		}
	}
	n.connect(block, prev)

	if block.Header.Nonce == n.p.ForgeNonceMarker {
		n.wallet.blocksFound++
		n.wallet.rewardsPaid += btcutil.Amount(block.Transactions[0].TxOut[1].Value)
	}
	return true, nil
}

// minePowBlock extends the chain with a PoW block. The first mined block
// carries the wallet's hammer creation transaction.
func (n *simNode) minePowBlock() error {
	prev := n.chain.Tip()

	coinbaseScript, err := txscript.NewScriptBuilder().AddInt64(int64(n.chain.Height() + 1)).AddOp(txscript.OP_0).Script()
	if err != nil {
		return err
	}
	goldScript, err := n.wallet.goldScript()
	if err != nil {
		return err
	}

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		SignatureScript:  coinbaseScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{
		Value:    int64(n.p.BlockSubsidy(n.chain.Height() + 1)),
		PkScript: goldScript,
	})

	txs := []*wire.MsgTx{coinbase}
	if prev != nil && prev.Height() == 0 {
		bct, err := n.buildBCT(goldScript)
		if err != nil {
			return err
		}
		txs = append(txs, bct)
	}

	blockTime := simGenesisTime
	var prevHash chainhash.Hash
	var bits uint32
	if prev != nil {
		blockTime = prev.Time() + n.p.PowTargetSpacing
		prevHash = prev.Hash()
	}

	header := wire.BlockHeader{
		Version:   chain.ComputeBlockVersion(prev, n.p),
		PrevBlock: prevHash,
		Timestamp: time.Unix(blockTime, 0),
		Nonce:     0,
	}
	if prev != nil {
		bits = difficulty.NextWorkRequired(prev, &header, n.p)
	} else {
		bits = blockchain.BigToCompact(n.p.PowLimit)
	}
	header.Bits = bits

	blockTxs := make([]*btcutil.Tx, 0, len(txs))
	for _, tx := range txs {
		blockTxs = append(blockTxs, btcutil.NewTx(tx))
	}
	header.MerkleRoot = blockchain.CalcMerkleRoot(blockTxs, false)

	block := wire.NewMsgBlock(&header)
	for _, tx := range txs {
		if err := block.AddTransaction(tx); err != nil {
			return err
		}
	}

	n.connect(block, prev)
	return nil
}

// buildBCT creates the wallet's hammer creation transaction.
func (n *simNode) buildBCT(goldScript []byte) (*wire.MsgTx, error) {
	bctHeight := n.chain.Height() + 1
	value := btcutil.Amount(simHammerCount) * hammer.Cost(bctHeight, n.p)

	creationScript, err := hammer.CreationScript(goldScript, n.p)
	if err != nil {
		return nil, err
	}

	bct := wire.NewMsgTx(wire.TxVersion)
	// The simulation doesn't track spendable funds; the input is notional.
	prevOut := wire.OutPoint{Hash: chainhash.HashH([]byte("sim-funding")), Index: 0}
	bct.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOut, Sequence: wire.MaxTxInSequenceNum})
	bct.AddTxOut(&wire.TxOut{Value: int64(value), PkScript: creationScript})

	n.wallet.bctTxID = bct.TxHash().String()
	n.wallet.bctHeight = bctHeight
	n.wallet.hammerCount = simHammerCount
	n.wallet.cost = value
	return bct, nil
}

// connect appends the block to the index, records its data, and credits its
// outputs to the UTXO view.
func (n *simNode) connect(block *wire.MsgBlock, prev *chain.Block) {
	entry := n.index.Add(chain.NewBlock(&block.Header, prev, n.p))
	n.chain.SetTip(entry)
	n.blocks[entry.Hash()] = block

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		for i, out := range tx.TxOut {
			n.utxo[wire.OutPoint{Hash: txHash, Index: uint32(i)}] = &forge.Coin{
				Value:    btcutil.Amount(out.Value),
				PkScript: out.PkScript,
				Height:   entry.Height(),
			}
		}
	}

	n.logger.Debug("connected block",
		zap.Int32("height", entry.Height()),
		zap.Bool("forge_mined", entry.IsForgeMined(n.p)),
		zap.String("hash", entry.Hash().String()))
}

// simWallet holds the single gold key and BCT of the simulation.
type simWallet struct {
	node *simNode

	key         *btcec.PrivateKey
	goldAddress string

	bctTxID     string
	bctHeight   int32
	hammerCount int64
	cost        btcutil.Amount
	rewardsPaid btcutil.Amount
	blocksFound int
}

func (w *simWallet) goldScript() ([]byte, error) {
	addr, err := btcutil.DecodeAddress(w.goldAddress, w.node.p.AddrParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// IsLocked implements miner.Wallet.
func (w *simWallet) IsLocked() bool { return false }

// BCTs implements miner.Wallet.
func (w *simWallet) BCTs(includeDead bool) ([]hammer.BCTInfo, error) {
	if w.bctTxID == "" {
		return nil, nil
	}
	status := hammer.StatusAt(w.bctHeight, w.node.chain.Height(), w.node.p)
	if status == hammer.StatusDead && !includeDead {
		return nil, nil
	}
	return []hammer.BCTInfo{{
		TxID:        w.bctTxID,
		Height:      w.bctHeight,
		HammerCount: w.hammerCount,
		Status:      status,
		GoldAddress: w.goldAddress,
		Cost:        w.cost,
		RewardsPaid: w.rewardsPaid,
		BlocksFound: w.blocksFound,
	}}, nil
}

// SignProofMessage implements miner.Wallet.
func (w *simWallet) SignProofMessage(goldAddress string, digest chainhash.Hash) ([]byte, error) {
	if goldAddress != w.goldAddress {
		return nil, errors.New("no private key for address " + goldAddress)
	}
	return ecdsa.SignCompact(w.key, digest[:], true), nil
}

func (w *simWallet) hasReadyHammers() bool {
	bcts, err := w.BCTs(false)
	if err != nil {
		return false
	}
	for _, bct := range bcts {
		if bct.Status == hammer.StatusReady && bct.HammerCount > 0 {
			return true
		}
	}
	return false
}
