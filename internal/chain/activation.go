package chain

import (
	"github.com/goodnatureofminers/forgenode/internal/params"
)

// ThresholdState is the BIP9 state of a deployment within a retarget window.
type ThresholdState uint8

// Threshold states, in the order a deployment moves through them.
const (
	ThresholdDefined ThresholdState = iota
	ThresholdStarted
	ThresholdLockedIn
	ThresholdActive
	ThresholdFailed
)

// DeploymentState returns the BIP9 state of the deployment for the block
// AFTER prev. States are cached on the final block of each confirmation
// window; callers hold the consensus lock, matching the index write rules.
func DeploymentState(prev *Block, p *params.Params, pos params.DeploymentPos) ThresholdState {
	dep := &p.Deployments[pos]
	if dep.StartTime == params.AlwaysActive {
		return ThresholdActive
	}
	if prev == nil {
		return ThresholdDefined
	}

	window := int32(p.MinerConfirmationWindow)

	// Walk back to the last block of the previous window; the state is
	// constant within a window.
	prev = prev.Ancestor(prev.height - (prev.height+1)%window)

	// Collect window boundaries until a cached or trivially-defined state.
	var boundaries []*Block
	for prev != nil && prev.bitsState[pos] == 0 {
		if prev.MedianTimePast() < dep.StartTime {
			prev.bitsState[pos] = uint8(ThresholdDefined) + 1
			break
		}
		boundaries = append(boundaries, prev)
		prev = prev.Ancestor(prev.height - window)
	}

	state := ThresholdDefined
	if prev != nil {
		state = ThresholdState(prev.bitsState[pos] - 1)
	}

	// Replay forward, one window per boundary.
	for i := len(boundaries) - 1; i >= 0; i-- {
		boundary := boundaries[i]
		switch state {
		case ThresholdDefined:
			if boundary.MedianTimePast() >= dep.Timeout {
				state = ThresholdFailed
			} else if boundary.MedianTimePast() >= dep.StartTime {
				state = ThresholdStarted
			}
		case ThresholdStarted:
			if boundary.MedianTimePast() >= dep.Timeout {
				state = ThresholdFailed
				break
			}
			count := uint32(0)
			iter := boundary
			for n := int32(0); n < window; n++ {
				if iter.version&params.VersionBitsTopBits == params.VersionBitsTopBits &&
					iter.version&(1<<dep.Bit) != 0 {
					count++
				}
				iter = iter.prev
			}
			if count >= p.RuleChangeActivationThreshold {
				state = ThresholdLockedIn
			}
		case ThresholdLockedIn:
			state = ThresholdActive
		}
		boundary.bitsState[pos] = uint8(state) + 1
	}
	return state
}

// IsForgeEnabled reports whether forge-mined blocks are accepted for the
// block following prev.
func IsForgeEnabled(prev *Block, p *params.Params) bool {
	return DeploymentState(prev, p, params.DeploymentForge) == ThresholdActive
}

// IsForge11Enabled reports whether forge 1.1 rules apply for the block
// following prev.
func IsForge11Enabled(prev *Block, p *params.Params) bool {
	return DeploymentState(prev, p, params.DeploymentForge11) == ThresholdActive
}

// IsForge12Enabled reports whether forge 1.2 rules apply for the block
// following prev.
func IsForge12Enabled(prev *Block, p *params.Params) bool {
	return DeploymentState(prev, p, params.DeploymentForge12) == ThresholdActive
}

// IsSegwitEnabled reports whether the witness commitment rules apply for the
// block following prev.
func IsSegwitEnabled(prev *Block, p *params.Params) bool {
	return DeploymentState(prev, p, params.DeploymentSegwit) == ThresholdActive
}

// IsForge13Enabled reports whether forge 1.3 rules apply at the given height.
// Unlike the other versions, 1.3 activates at a fixed height.
func IsForge13Enabled(height int32, p *params.Params) bool {
	return height >= p.Forge13Height
}

// ForgeVersion is one step of the totally ordered forge activation lattice.
type ForgeVersion int

// Forge protocol versions, in activation order.
const (
	ForgeV10 ForgeVersion = iota
	ForgeV11
	ForgeV12
	ForgeV13
)

// ForgeVersionAt returns the highest forge protocol version active for the
// block following prev.
func ForgeVersionAt(prev *Block, p *params.Params) ForgeVersion {
	var height int32
	if prev != nil {
		height = prev.height
	}
	switch {
	case IsForge13Enabled(height, p):
		return ForgeV13
	case IsForge12Enabled(prev, p):
		return ForgeV12
	case IsForge11Enabled(prev, p):
		return ForgeV11
	default:
		return ForgeV10
	}
}

// ComputeBlockVersion returns the version a new block on top of prev should
// carry: the version bits base with a bit set for every deployment currently
// voting.
func ComputeBlockVersion(prev *Block, p *params.Params) int32 {
	version := params.VersionBitsTopBits
	for pos := params.DeploymentPos(0); pos < params.DefinedDeployments; pos++ {
		state := DeploymentState(prev, p, pos)
		if state == ThresholdStarted || state == ThresholdLockedIn {
			version |= 1 << p.Deployments[pos].Bit
		}
	}
	return version
}
