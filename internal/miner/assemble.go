package miner

import (
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mining"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/difficulty"
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// BuildForgeBlock assembles a forge-mined block on top of prev: a coinbase
// carrying the proof script in vout[0] and the reward to the gold script in
// vout[1], followed by the given transactions. The header carries the forge
// nonce marker and the current forge target.
func BuildForgeBlock(prev *chain.Block, proofScript, goldScript []byte, txs []*wire.MsgTx, fees btcutil.Amount, now time.Time, p *params.Params) (*wire.MsgBlock, error) {
	height := prev.Height() + 1

	sigScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(height)).
		AddOp(txscript.OP_0).
		Script()
	if err != nil {
		return nil, err
	}

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		SignatureScript:  sigScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 0, PkScript: proofScript})
	reward := p.BlockSubsidy(height) + fees
	coinbase.AddTxOut(&wire.TxOut{Value: int64(reward), PkScript: goldScript})

	blockTxs := make([]*btcutil.Tx, 0, len(txs)+1)
	coinbaseTx := btcutil.NewTx(coinbase)
	blockTxs = append(blockTxs, coinbaseTx)
	witness := false
	for _, tx := range txs {
		if tx.HasWitness() {
			witness = true
		}
		blockTxs = append(blockTxs, btcutil.NewTx(tx))
	}

	// vout[2]: witness commitment, only needed when witness transactions
	// are included.
	if witness && chain.IsSegwitEnabled(prev, p) {
		mining.AddWitnessCommitment(coinbaseTx, blockTxs)
	}

	blockTime := now.Truncate(time.Second)
	if mtp := prev.MedianTimePast() + 1; blockTime.Unix() < mtp {
		blockTime = time.Unix(mtp, 0)
	}

	header := wire.BlockHeader{
		Version:    chain.ComputeBlockVersion(prev, p),
		PrevBlock:  prev.Hash(),
		MerkleRoot: blockchain.CalcMerkleRoot(blockTxs, false),
		Timestamp:  blockTime,
		Bits:       difficulty.NextForgeWorkRequired(prev, p),
		Nonce:      p.ForgeNonceMarker,
	}

	block := wire.NewMsgBlock(&header)
	for _, tx := range blockTxs {
		if err := block.AddTransaction(tx.MsgTx()); err != nil {
			return nil, err
		}
	}
	return block, nil
}
