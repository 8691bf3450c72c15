package forge

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/chain"
)

// OpHammer is the script opcode marking a forge proof after the OP_RETURN.
const OpHammer = txscript.OP_NOP10

// Proof script layout. The script is a fixed 144-byte blob: the two marker
// opcodes, then size-prefixed fields for the hammer nonce, BCT height,
// community contribution flag, BCT txid and compact message signature.
const (
	proofNonceOff   = 3
	proofHeightOff  = 8
	proofContribOff = 12
	proofTxIDOff    = 14
	proofSigOff     = 79

	proofTxIDLen = 64
	proofSigLen  = 65

	// ProofScriptSize is the exact size of a forge proof script; validation
	// only requires vout[0] to be at least this long.
	ProofScriptSize = 144
)

// Proof is the decoded content of a forge block's coinbase proof script.
type Proof struct {
	// HammerNonce selects which hammer of the BCT met the target.
	HammerNonce uint32

	// BctHeight is the height the forger claims the BCT confirmed at.
	BctHeight uint32

	// CommunityContrib indicates the BCT carries a community fund donation
	// in vout[1].
	CommunityContrib bool

	// TxID is the BCT transaction id as 64 hex characters.
	TxID string

	// MessageSig is the compact signature over the deterministic random
	// string, made with the gold address's key.
	MessageSig [proofSigLen]byte
}

// EncodeScript serialises the proof into its coinbase scriptPubKey form.
func (pr *Proof) EncodeScript() []byte {
	script := make([]byte, ProofScriptSize)
	script[0] = txscript.OP_RETURN
	script[1] = OpHammer
	script[2] = 0x04
	binary.LittleEndian.PutUint32(script[proofNonceOff:], pr.HammerNonce)
	script[7] = 0x04
	binary.LittleEndian.PutUint32(script[proofHeightOff:], pr.BctHeight)
	if pr.CommunityContrib {
		script[proofContribOff] = txscript.OP_TRUE
	} else {
		script[proofContribOff] = txscript.OP_FALSE
	}
	script[13] = proofTxIDLen
	copy(script[proofTxIDOff:], pr.TxID)
	script[proofTxIDOff+proofTxIDLen] = proofSigLen
	copy(script[proofSigOff:], pr.MessageSig[:])
	return script
}

// DecodeScript parses a coinbase proof script. Structural violations (short
// script, wrong markers) return an ErrStructural rule error.
func DecodeScript(script []byte) (*Proof, error) {
	if len(script) < ProofScriptSize {
		return nil, ruleError(ErrStructural, "proof script is %d bytes, need at least %d", len(script), ProofScriptSize)
	}
	if script[0] != txscript.OP_RETURN || script[1] != OpHammer {
		return nil, ruleError(ErrStructural, "proof script does not start OP_RETURN OP_HAMMER")
	}
	if script[2] != 0x04 || script[7] != 0x04 ||
		script[13] != proofTxIDLen || script[proofTxIDOff+proofTxIDLen] != proofSigLen {
		return nil, ruleError(ErrStructural, "proof script has invalid field size markers")
	}
	if script[proofContribOff] != txscript.OP_TRUE && script[proofContribOff] != txscript.OP_FALSE {
		return nil, ruleError(ErrStructural, "proof script has invalid community contribution flag")
	}

	pr := &Proof{
		HammerNonce:      binary.LittleEndian.Uint32(script[proofNonceOff:]),
		BctHeight:        binary.LittleEndian.Uint32(script[proofHeightOff:]),
		CommunityContrib: script[proofContribOff] == txscript.OP_TRUE,
		TxID:             string(script[proofTxIDOff : proofTxIDOff+proofTxIDLen]),
	}
	copy(pr.MessageSig[:], script[proofSigOff:proofSigOff+proofSigLen])
	return pr, nil
}

// DeterministicRandString derives the per-tip randomness that binds forge
// proofs to a specific parent: the hex digest of the double-SHA256 of the
// parent block hash.
func DeterministicRandString(prev *chain.Block) string {
	prevHash := prev.Hash()
	digest := chainhash.DoubleHashH(prevHash[:])
	return digest.String()
}

// HammerHash computes the hash a single hammer scores against the forge
// target: the double-SHA256 of the serialized random string, BCT txid and
// hammer index.
func HammerHash(detRand, txid string, hammerIndex uint32) *big.Int {
	var buf bytes.Buffer
	// Serialization errors are impossible on a bytes.Buffer.
	_ = wire.WriteVarString(&buf, 0, detRand)
	_ = wire.WriteVarString(&buf, 0, txid)
	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], hammerIndex)
	buf.Write(index[:])

	digest := chainhash.DoubleHashH(buf.Bytes())
	return blockchain.HashToBig(&digest)
}

// signatureDigest is the fixed message a forger signs: the double-SHA256 of
// the serialized deterministic random string.
func signatureDigest(detRand string) chainhash.Hash {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, detRand)
	return chainhash.DoubleHashH(buf.Bytes())
}

// MessageDigest returns the digest of the fixed proof message for the given
// per-tip randomness. Wallets sign it with the gold address's key.
func MessageDigest(detRand string) chainhash.Hash {
	return signatureDigest(detRand)
}

// SignProofMessage produces the compact signature a proof carries, binding
// the gold address's key to the parent block.
func SignProofMessage(key *btcec.PrivateKey, detRand string) ([proofSigLen]byte, error) {
	var sig [proofSigLen]byte
	digest := signatureDigest(detRand)
	compact := ecdsa.SignCompact(key, digest[:], true)
	if len(compact) != proofSigLen {
		return sig, ruleError(ErrProof, "compact signature is %d bytes", len(compact))
	}
	copy(sig[:], compact)
	return sig, nil
}

// RecoverProofSigner recovers the public key that signed the proof message
// for the given parent randomness.
func RecoverProofSigner(messageSig [proofSigLen]byte, detRand string) (*btcec.PublicKey, bool, error) {
	digest := signatureDigest(detRand)
	pubKey, wasCompressed, err := ecdsa.RecoverCompact(messageSig[:], digest[:])
	if err != nil {
		return nil, false, ruleError(ErrProof, "signature recovery failed: %v", err)
	}
	return pubKey, wasCompressed, nil
}
