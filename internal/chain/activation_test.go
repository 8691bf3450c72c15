package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/forgenode/internal/params"
)

// signalParams returns a small-window params copy with the forge 1.1
// deployment voting in the test's time range.
func signalParams() params.Params {
	p := params.RegressionNetParams
	p.MinerConfirmationWindow = 8
	p.RuleChangeActivationThreshold = 6
	p.Deployments[params.DeploymentForge11] = params.Deployment{
		Bit:       9,
		StartTime: 1700000000,
		Timeout:   params.NoTimeout,
	}
	return p
}

// extendSignalling appends n blocks, each optionally signalling the bit.
func extendSignalling(prev *Block, n int, bit uint8, signal bool, p *params.Params) *Block {
	bits := blockchain.BigToCompact(p.PowLimit)
	for i := 0; i < n; i++ {
		version := params.VersionBitsTopBits
		if signal {
			version |= 1 << bit
		}
		header := &wire.BlockHeader{
			Version:    version,
			MerkleRoot: [32]byte{byte(i), byte(i >> 8), byte(prev.Height()), byte(prev.Height() >> 8), 0xa5},
			Timestamp:  time.Unix(prev.Time()+p.PowTargetSpacing, 0),
			Bits:       bits,
		}
		header.PrevBlock = prev.Hash()
		prev = NewBlock(header, prev, p)
	}
	return prev
}

func TestDeploymentStateLifecycle(t *testing.T) {
	p := signalParams()
	bit := p.Deployments[params.DeploymentForge11].Bit

	genesis := NewBlock(testHeader(nil, blockchain.BigToCompact(p.PowLimit), 0, 1700000000, 42), nil, &p)

	// Window 1 (heights 1..7 complete the first window at height 7): the
	// start time is already reached, so the next window is Started.
	tip := extendSignalling(genesis, 7, bit, false, &p)
	if got := DeploymentState(tip, &p, params.DeploymentForge11); got != ThresholdStarted {
		t.Fatalf("state after first window = %v, want Started", got)
	}

	// A full window of signalling blocks locks the deployment in.
	tip = extendSignalling(tip, 8, bit, true, &p)
	if got := DeploymentState(tip, &p, params.DeploymentForge11); got != ThresholdLockedIn {
		t.Fatalf("state after signalling window = %v, want LockedIn", got)
	}
	if IsForge11Enabled(tip, &p) {
		t.Fatal("deployment must not be active while only locked in")
	}

	// One more window and it is active regardless of further signalling.
	tip = extendSignalling(tip, 8, bit, false, &p)
	if !IsForge11Enabled(tip, &p) {
		t.Fatal("deployment should be active one window after lock-in")
	}
}

func TestDeploymentStateBelowThreshold(t *testing.T) {
	p := signalParams()
	bit := p.Deployments[params.DeploymentForge11].Bit

	genesis := NewBlock(testHeader(nil, blockchain.BigToCompact(p.PowLimit), 0, 1700000000, 43), nil, &p)
	tip := extendSignalling(genesis, 7, bit, false, &p)

	// Five of eight signalling blocks misses the threshold of six.
	tip = extendSignalling(tip, 5, bit, true, &p)
	tip = extendSignalling(tip, 3, bit, false, &p)
	if got := DeploymentState(tip, &p, params.DeploymentForge11); got != ThresholdStarted {
		t.Fatalf("state with 5/8 signalling = %v, want still Started", got)
	}
}

func TestAlwaysActiveAndFixedHeight(t *testing.T) {
	p := params.RegressionNetParams

	if !IsForgeEnabled(nil, &p) {
		t.Fatal("forge is always active on regtest, even for the genesis parent")
	}
	if IsForge11Enabled(buildChain(nil, 3, &p), &p) {
		t.Fatal("forge 1.1 must not activate on default regtest")
	}

	p13 := params.RegressionNetParams
	p13.Forge13Height = 100
	if IsForge13Enabled(99, &p13) {
		t.Fatal("forge 1.3 active below its height")
	}
	if !IsForge13Enabled(100, &p13) {
		t.Fatal("forge 1.3 inactive at its height")
	}
}

func TestForgeVersionAt(t *testing.T) {
	base := params.RegressionNetParams

	tests := []struct {
		name  string
		tweak func(*params.Params)
		want  ForgeVersion
	}{
		{
			name:  "default regtest is 1.0",
			tweak: func(*params.Params) {},
			want:  ForgeV10,
		},
		{
			name: "1.1 active",
			tweak: func(p *params.Params) {
				p.Deployments[params.DeploymentForge11].StartTime = params.AlwaysActive
			},
			want: ForgeV11,
		},
		{
			name: "1.2 dominates 1.1",
			tweak: func(p *params.Params) {
				p.Deployments[params.DeploymentForge11].StartTime = params.AlwaysActive
				p.Deployments[params.DeploymentForge12].StartTime = params.AlwaysActive
			},
			want: ForgeV12,
		},
		{
			name: "1.3 dominates all",
			tweak: func(p *params.Params) {
				p.Deployments[params.DeploymentForge11].StartTime = params.AlwaysActive
				p.Deployments[params.DeploymentForge12].StartTime = params.AlwaysActive
				p.Forge13Height = 0
			},
			want: ForgeV13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.tweak(&p)
			tip := buildChain(nil, 4, &p)
			if got := ForgeVersionAt(tip, &p); got != tt.want {
				t.Fatalf("ForgeVersionAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeBlockVersion(t *testing.T) {
	p := signalParams()
	genesis := NewBlock(testHeader(nil, blockchain.BigToCompact(p.PowLimit), 0, 1700000000, 44), nil, &p)
	tip := extendSignalling(genesis, 7, p.Deployments[params.DeploymentForge11].Bit, false, &p)

	version := ComputeBlockVersion(tip, &p)
	if version&params.VersionBitsTopBits != params.VersionBitsTopBits {
		t.Fatal("version must carry the version bits base")
	}
	if version&(1<<p.Deployments[params.DeploymentForge11].Bit) == 0 {
		t.Fatal("a Started deployment should be signalled")
	}
}
