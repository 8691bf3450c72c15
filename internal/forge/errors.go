// Package forge implements the forge-block proof: its coinbase encoding, the
// deterministic per-tip randomness binding proofs to a parent, and the full
// validation of forge-mined blocks including the interleaving rules.
package forge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the ways a forge block can fail validation.
type ErrorKind int

// Forge validation failure classes.
const (
	// ErrParam indicates an activation predicate or validation entry point
	// was called with inconsistent inputs.
	ErrParam ErrorKind = iota

	// ErrStructural indicates a malformed coinbase: wrong vout count, short
	// proof script, wrong opcode prefix or size markers.
	ErrStructural

	// ErrProof indicates the proof itself fails: hammer hash at or above
	// target, signature recovery failure, signer / gold destination
	// mismatch, or a claimed BCT height that conflicts with the found one.
	ErrProof

	// ErrMaturity indicates the referenced BCT is still gestating or dead.
	ErrMaturity

	// ErrDonation indicates the community contribution flag was set but the
	// donation output is missing, pays the wrong script, or the wrong
	// amount.
	ErrDonation

	// ErrBCT indicates the referenced outpoint is missing, not a valid BCT
	// script, or did not create enough hammers for the claimed nonce.
	ErrBCT

	// ErrInterleaving indicates the forge block violates the forge / PoW
	// interleaving rules.
	ErrInterleaving

	// ErrActivation indicates the block declares itself forge-mined while
	// the forge is not active at its parent.
	ErrActivation

	// ErrDataUnavailable indicates both the UTXO set and the block store
	// failed to produce the referenced BCT, or required data was pruned.
	ErrDataUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParam:
		return "ErrParam"
	case ErrStructural:
		return "ErrStructural"
	case ErrProof:
		return "ErrProof"
	case ErrMaturity:
		return "ErrMaturity"
	case ErrDonation:
		return "ErrDonation"
	case ErrBCT:
		return "ErrBCT"
	case ErrInterleaving:
		return "ErrInterleaving"
	case ErrActivation:
		return "ErrActivation"
	case ErrDataUnavailable:
		return "ErrDataUnavailable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RuleError identifies a rule violation that rejects a forge block. It wraps
// an ErrorKind so callers can branch on the failure class.
type RuleError struct {
	Kind ErrorKind
	Desc string
}

func (e RuleError) Error() string {
	return e.Desc
}

// KindLabel returns the failure class name, for metrics labels.
func (e RuleError) KindLabel() string {
	return e.Kind.String()
}

// Is lets errors.Is match two RuleErrors by kind.
func (e RuleError) Is(target error) bool {
	var other RuleError
	return errors.As(target, &other) && other.Kind == e.Kind
}

func ruleError(kind ErrorKind, format string, args ...any) RuleError {
	return RuleError{Kind: kind, Desc: fmt.Sprintf(format, args...)}
}

// IsErrorKind reports whether the error is a RuleError of the given kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	var ruleErr RuleError
	return errors.As(err, &ruleErr) && ruleErr.Kind == kind
}
