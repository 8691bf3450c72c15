package forge

import (
	"bytes"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/forgenode/internal/chain"
	"github.com/goodnatureofminers/forgenode/internal/difficulty"
	"github.com/goodnatureofminers/forgenode/internal/hammer"
	"github.com/goodnatureofminers/forgenode/internal/metrics"
	"github.com/goodnatureofminers/forgenode/internal/params"
	"github.com/goodnatureofminers/forgenode/pkg/safe"
)

// Coin is the spendable output the UTXO view hands back for an outpoint.
type Coin struct {
	Value    btcutil.Amount
	PkScript []byte
	Height   int32
}

// UTXOView provides read access to the confirmed UTXO set by outpoint.
type UTXOView interface {
	// GetCoin returns the unspent output for the outpoint, or ok=false when
	// it is spent or unknown.
	GetCoin(out wire.OutPoint) (*Coin, bool)
}

// Validator checks forge-mined blocks against the consensus rules. It runs
// on the node's consensus thread; the UTXO view and block store it holds are
// read under the host's consensus lock.
type Validator struct {
	params  *params.Params
	utxo    UTXOView
	store   hammer.BlockStore
	logger  *zap.Logger
	metrics *metrics.ForgeValidation
}

// NewValidator builds a forge block validator with the provided external
// capabilities.
func NewValidator(p *params.Params, utxo UTXOView, store hammer.BlockStore, logger *zap.Logger, m *metrics.ForgeValidation) *Validator {
	return &Validator{
		params:  p,
		utxo:    utxo,
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// CheckProof validates the forge proof of the candidate block on top of
// prev. Any returned error is a RuleError rejecting the block.
func (v *Validator) CheckProof(block *wire.MsgBlock, prev *chain.Block) error {
	err := v.checkProof(block, prev)
	if v.metrics != nil {
		v.metrics.ObserveCheck(err)
	}
	if err != nil {
		v.logger.Info("forge proof rejected",
			zap.String("block", block.BlockHash().String()),
			zap.Error(err))
	}
	return err
}

func (v *Validator) checkProof(block *wire.MsgBlock, prev *chain.Block) error {
	p := v.params
	if prev == nil {
		return ruleError(ErrParam, "forge proof check requires the parent index entry")
	}
	blockHeight := prev.Height() + 1

	// Forge must be active on the network.
	if !chain.IsForgeEnabled(prev, p) {
		return ruleError(ErrActivation, "forge is not enabled at height %d", blockHeight)
	}

	if err := CheckInterleave(prev, p); err != nil {
		return err
	}

	// A forge-mined block must not carry hammer creation transactions.
	if len(block.Transactions) == 0 {
		return ruleError(ErrStructural, "block has no transactions")
	}
	for _, tx := range block.Transactions[1:] {
		if _, ok := hammer.IsBCT(tx, p); ok {
			return ruleError(ErrStructural, "forge-mined block contains a BCT")
		}
	}

	proof, goldKeyHash, err := v.checkCoinbase(block)
	if err != nil {
		return err
	}

	// Check the hammer hash against the current forge target.
	detRand := DeterministicRandString(prev)
	target := blockchain.CompactToBig(difficulty.NextForgeWorkRequired(prev, p))
	hammerHash := HammerHash(detRand, proof.TxID, proof.HammerNonce)
	if hammerHash.Cmp(target) >= 0 {
		return ruleError(ErrProof, "hammer %d of %s does not meet the hash target", proof.HammerNonce, proof.TxID)
	}

	// The proof signature must recover to the gold destination's key.
	pubKey, compressed, err := RecoverProofSigner(proof.MessageSig, detRand)
	if err != nil {
		return err
	}
	var signerHash []byte
	if compressed {
		signerHash = btcutil.Hash160(pubKey.SerializeCompressed())
	} else {
		signerHash = btcutil.Hash160(pubKey.SerializeUncompressed())
	}
	if !bytes.Equal(signerHash, goldKeyHash) {
		return ruleError(ErrProof, "proof signer does not match the gold destination")
	}

	// Locate the BCT: UTXO set first, then a deep drill into the block at
	// the claimed height.
	bctValue, bctScript, bctFoundHeight, bctTx, err := v.findBCT(proof, prev)
	if err != nil {
		return err
	}

	if proof.CommunityContrib {
		bctValue, err = v.checkDonation(proof, prev, bctTx, bctValue)
		if err != nil {
			return err
		}
	}

	foundHeight, err := safe.Uint32(bctFoundHeight)
	if err != nil {
		return ruleError(ErrBCT, "BCT found at invalid height %d", bctFoundHeight)
	}
	if foundHeight != proof.BctHeight {
		return ruleError(ErrProof, "claimed BCT height %d conflicts with found height %d", proof.BctHeight, foundHeight)
	}

	// Hammer maturity window.
	depth := blockHeight - bctFoundHeight
	if depth < p.HammerGestationBlocks {
		return ruleError(ErrMaturity, "BCT at depth %d is still gestating", depth)
	}
	if depth > p.HammerGestationBlocks+p.HammerLifespanBlocks {
		return ruleError(ErrMaturity, "BCT at depth %d is dead", depth)
	}

	// The BCT must be well formed and forge to the same gold destination
	// the coinbase pays.
	goldScript, ok := hammer.IsBCTScript(bctScript, p)
	if !ok {
		return ruleError(ErrBCT, "referenced output is not a valid BCT script")
	}
	bctGoldHash, err := extractKeyHash(goldScript, p)
	if err != nil {
		return ruleError(ErrBCT, "cannot extract gold destination from BCT: %v", err)
	}
	if !bytes.Equal(bctGoldHash, goldKeyHash) {
		return ruleError(ErrProof, "BCT gold destination does not match the claimed gold destination")
	}

	// Enough hammers must have been bought to include the claimed nonce.
	if bctValue < p.MinHammerCost {
		return ruleError(ErrBCT, "BCT fee %d is below the minimum hammer cost", bctValue)
	}
	hammerCount := hammer.CountFromValue(bctValue, bctFoundHeight, p)
	if hammerCount < 1 {
		return ruleError(ErrBCT, "BCT fee %d buys no hammers", bctValue)
	}
	if int64(proof.HammerNonce) >= hammerCount {
		return ruleError(ErrBCT, "BCT created %d hammers, nonce %d out of range", hammerCount, proof.HammerNonce)
	}

	v.logger.Debug("forge proof valid",
		zap.Int32("height", blockHeight),
		zap.String("bct", proof.TxID),
		zap.Uint32("hammer_nonce", proof.HammerNonce))
	return nil
}

// checkCoinbase verifies the structural shape of a forge coinbase and
// returns the decoded proof and the key hash of the gold destination in
// vout[1].
func (v *Validator) checkCoinbase(block *wire.MsgBlock) (*Proof, []byte, error) {
	if len(block.Transactions) == 0 {
		return nil, nil, ruleError(ErrStructural, "block has no transactions")
	}
	coinbase := block.Transactions[0]
	if len(coinbase.TxIn) != 1 || coinbase.TxIn[0].PreviousOutPoint.Index != wire.MaxPrevOutIndex ||
		coinbase.TxIn[0].PreviousOutPoint.Hash != (chainhash.Hash{}) {
		return nil, nil, ruleError(ErrStructural, "first transaction is not a coinbase")
	}
	if len(coinbase.TxOut) < 2 || len(coinbase.TxOut) > 3 {
		return nil, nil, ruleError(ErrStructural, "forge coinbase has %d outputs, need 2 or 3", len(coinbase.TxOut))
	}

	proof, err := DecodeScript(coinbase.TxOut[0].PkScript)
	if err != nil {
		return nil, nil, err
	}

	goldKeyHash, err := extractKeyHash(coinbase.TxOut[1].PkScript, v.params)
	if err != nil {
		return nil, nil, ruleError(ErrStructural, "cannot extract gold destination: %v", err)
	}
	return proof, goldKeyHash, nil
}

// findBCT resolves the proof's BCT outpoint. The returned transaction is
// non-nil only when the deep drill was used.
func (v *Validator) findBCT(proof *Proof, prev *chain.Block) (btcutil.Amount, []byte, int32, *wire.MsgTx, error) {
	txHash, err := chainhash.NewHashFromStr(proof.TxID)
	if err != nil {
		return 0, nil, 0, nil, ruleError(ErrBCT, "invalid BCT txid %q", proof.TxID)
	}

	if coin, ok := v.utxo.GetCoin(wire.OutPoint{Hash: *txHash, Index: 0}); ok {
		return coin.Value, coin.PkScript, coin.Height, nil, nil
	}

	// The UTXO set is unavailable during reindexing; drill into the block
	// at the claimed height instead.
	v.logger.Debug("using deep drill for BCT lookup", zap.String("bct", proof.TxID))
	tx, foundHeight, err := v.deepDrill(*txHash, proof.BctHeight, prev)
	if err != nil {
		return 0, nil, 0, nil, err
	}
	return btcutil.Amount(tx.TxOut[0].Value), tx.TxOut[0].PkScript, foundHeight, tx, nil
}

func (v *Validator) deepDrill(txHash chainhash.Hash, claimedHeight uint32, prev *chain.Block) (*wire.MsgTx, int32, error) {
	height, err := safe.Int32(claimedHeight)
	if err != nil || height > prev.Height() {
		return nil, 0, ruleError(ErrBCT, "claimed BCT height %d is beyond the parent", claimedHeight)
	}
	at := prev.Ancestor(height)
	if at == nil {
		return nil, 0, ruleError(ErrDataUnavailable, "no index entry at claimed BCT height %d", claimedHeight)
	}
	block, err := v.store.Block(at.Hash())
	if err != nil {
		return nil, 0, ruleError(ErrDataUnavailable, "cannot read block at height %d: %v", claimedHeight, err)
	}
	for _, tx := range block.Transactions {
		if tx.TxHash() == txHash {
			if len(tx.TxOut) == 0 {
				return nil, 0, ruleError(ErrBCT, "indicated BCT has no outputs")
			}
			return tx, at.Height(), nil
		}
	}
	return nil, 0, ruleError(ErrDataUnavailable, "cannot locate the indicated BCT")
}

// checkDonation validates the community contribution output and returns the
// BCT value with the donation added back.
func (v *Validator) checkDonation(proof *Proof, prev *chain.Block, bctTx *wire.MsgTx, bctValue btcutil.Amount) (btcutil.Amount, error) {
	p := v.params
	var donation btcutil.Amount

	if bctTx == nil {
		txHash, err := chainhash.NewHashFromStr(proof.TxID)
		if err != nil {
			return 0, ruleError(ErrBCT, "invalid BCT txid %q", proof.TxID)
		}
		if coin, ok := v.utxo.GetCoin(wire.OutPoint{Hash: *txHash, Index: 1}); ok {
			if !bytes.Equal(coin.PkScript, p.CommunityScript()) {
				return 0, ruleError(ErrDonation, "community contribution indicated but not found")
			}
			donation = coin.Value
		} else {
			v.logger.Debug("using deep drill for community fund output", zap.String("bct", proof.TxID))
			bctTx, _, err = v.deepDrill(*txHash, proof.BctHeight, prev)
			if err != nil {
				return 0, err
			}
		}
	}

	if bctTx != nil {
		if len(bctTx.TxOut) < 2 || !bytes.Equal(bctTx.TxOut[1].PkScript, p.CommunityScript()) {
			return 0, ruleError(ErrDonation, "community contribution indicated but not found")
		}
		donation = btcutil.Amount(bctTx.TxOut[1].Value)
	}

	expected := (bctValue + donation) / btcutil.Amount(p.CommunityContribFactor)
	if donation != expected {
		return 0, ruleError(ErrDonation, "BCT pays community fund %d, expected %d", donation, expected)
	}
	return bctValue + donation, nil
}

// extractKeyHash returns the pubkey hash a pay-to-pubkey-hash script pays.
func extractKeyHash(script []byte, p *params.Params) ([]byte, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, p.AddrParams)
	if err != nil {
		return nil, err
	}
	if class != txscript.PubKeyHashTy || len(addrs) != 1 {
		return nil, ruleError(ErrStructural, "script is not pay-to-pubkey-hash")
	}
	addr, ok := addrs[0].(*btcutil.AddressPubKeyHash)
	if !ok {
		return nil, ruleError(ErrStructural, "unexpected address type %T", addrs[0])
	}
	return addr.Hash160()[:], nil
}
