// Package hammer models hammer creation transactions (BCTs) and the hammer
// lifecycle they define: gestation, the ready window in which a hammer can
// forge a block, and death.
package hammer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

// Status is the lifecycle state of a hammer relative to the chain tip.
type Status string

// Hammer lifecycle states.
const (
	// StatusCreated means the hammer is still gestating and cannot forge.
	StatusCreated Status = "created"

	// StatusReady means the hammer is mature and can forge blocks.
	StatusReady Status = "ready"

	// StatusDead means the hammer's lifespan has expired.
	StatusDead Status = "dead"
)

// Cost returns the price of a single hammer at the given height: the block
// subsidy scaled down by the cost factor, floored at the minimum cost.
func Cost(height int32, p *params.Params) btcutil.Amount {
	cost := p.BlockSubsidy(height) / btcutil.Amount(p.HammerCostFactor)
	if cost < p.MinHammerCost {
		cost = p.MinHammerCost
	}
	return cost
}

// CreationScript builds the vout[0] script of a BCT: the unspendable hammer
// creation script followed by an OP_RETURN push of the gold script the
// hammer owner forges rewards to.
func CreationScript(goldScript []byte, p *params.Params) ([]byte, error) {
	tail, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(goldScript).
		Script()
	if err != nil {
		return nil, err
	}
	return append(p.HammerCreationScript(), tail...), nil
}

// IsBCTScript reports whether the script has the hammer creation shape and,
// if so, returns the embedded gold script.
func IsBCTScript(script []byte, p *params.Params) ([]byte, bool) {
	prefix := p.HammerCreationScript()
	if len(script) <= len(prefix) || !bytes.HasPrefix(script, prefix) {
		return nil, false
	}
	tail := script[len(prefix):]
	if len(tail) < 2 || tail[0] != txscript.OP_RETURN {
		return nil, false
	}
	// Single canonical push of the gold script follows the OP_RETURN.
	push := tail[1:]
	size := int(push[0])
	if size == 0 || size > txscript.OP_PUSHDATA1-1 || len(push) != 1+size {
		return nil, false
	}
	return push[1:], true
}

// IsBCT reports whether the transaction is a hammer creation transaction and
// returns the hammer fee paid (the value of vout[0]). The optional community
// donation in vout[1] is not included; see DonationAmount.
func IsBCT(tx *wire.MsgTx, p *params.Params) (btcutil.Amount, bool) {
	if len(tx.TxOut) == 0 {
		return 0, false
	}
	if isCoinbase(tx) {
		return 0, false
	}
	if _, ok := IsBCTScript(tx.TxOut[0].PkScript, p); !ok {
		return 0, false
	}
	return btcutil.Amount(tx.TxOut[0].Value), true
}

// DonationAmount inspects a BCT's optional community contribution output. It
// returns (0, true) when the BCT carries no donation, the validated donation
// amount when it does, and ok=false when a donation output is present but
// pays the wrong amount. The donation is valid iff
// donation == (fee + donation) / CommunityContribFactor under integer
// division.
func DonationAmount(tx *wire.MsgTx, feePaid btcutil.Amount, p *params.Params) (btcutil.Amount, bool) {
	if len(tx.TxOut) < 2 || !bytes.Equal(tx.TxOut[1].PkScript, p.CommunityScript()) {
		return 0, true
	}
	donation := btcutil.Amount(tx.TxOut[1].Value)
	expected := (feePaid + donation) / btcutil.Amount(p.CommunityContribFactor)
	if donation != expected {
		return 0, false
	}
	return donation, true
}

// CountFromValue returns how many hammers the total fee paid at the BCT's
// height buys, floored.
func CountFromValue(value btcutil.Amount, bctHeight int32, p *params.Params) int64 {
	cost := Cost(bctHeight, p)
	if cost <= 0 || value < cost {
		return 0
	}
	return int64(value / cost)
}

// StatusAt returns the lifecycle state of hammers created at bctHeight when
// the chain tip is at tipHeight.
func StatusAt(bctHeight, tipHeight int32, p *params.Params) Status {
	age := tipHeight - bctHeight
	switch {
	case age < p.HammerGestationBlocks:
		return StatusCreated
	case age < p.HammerGestationBlocks+p.HammerLifespanBlocks:
		return StatusReady
	default:
		return StatusDead
	}
}

// MatureAt reports whether a hammer from a BCT at bctHeight may forge the
// block at the claimed height: the depth must be at least the gestation
// period and at most gestation plus lifespan.
func MatureAt(bctHeight, claimHeight int32, p *params.Params) bool {
	depth := claimHeight - bctHeight
	return depth >= p.HammerGestationBlocks &&
		depth <= p.HammerGestationBlocks+p.HammerLifespanBlocks
}

func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prevOut := tx.TxIn[0].PreviousOutPoint
	return prevOut.Index == wire.MaxPrevOutIndex && prevOut.Hash == (chainhash.Hash{})
}
