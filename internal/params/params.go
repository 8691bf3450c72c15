// Package params defines the per-network consensus parameters of the forge
// hybrid-consensus chain, including the deployment schedule for the forge
// protocol versions.
package params

import (
	"encoding/hex"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// DeploymentPos identifies a consensus rule change deployed via version bits.
type DeploymentPos int

// Version bits deployments. New deployments must also be given a bit and
// schedule in every network's Params.
const (
	DeploymentTestDummy DeploymentPos = iota
	DeploymentCSV
	DeploymentSegwit
	DeploymentForge
	DeploymentForge11
	DeploymentForge12

	// DefinedDeployments is the number of defined deployments.
	DefinedDeployments
)

// Deployment describes the activation window of a single version bits
// deployment.
type Deployment struct {
	// Bit is the bit position in the block version used to signal the
	// deployment.
	Bit uint8

	// StartTime is the median block time after which voting begins, or
	// AlwaysActive.
	StartTime int64

	// Timeout is the median block time after which an un-locked-in
	// deployment is considered failed.
	Timeout int64
}

// Special StartTime / Timeout values.
const (
	// AlwaysActive indicates the deployment is active from genesis.
	AlwaysActive int64 = -1

	// NoTimeout indicates the deployment never expires.
	NoTimeout int64 = math.MaxInt64

	// NeverActive marks a fixed-height activation that does not occur on
	// the network.
	NeverActive int32 = math.MaxInt32
)

// VersionBitsTopBits is the base block version that signals support for the
// version bits scheme.
const VersionBitsTopBits int32 = 0x20000000

// ForgeDiffScale is the fixed-point scale used when deriving the forge
// difficulty from integer targets. It is part of consensus: every
// implementation must divide targets at exactly this precision before the
// result is used in the chain-work bonus formulas.
const ForgeDiffScale int64 = 1 << 24

// Params holds the consensus parameters of one network. Instances are
// immutable snapshots; never mutate the package-level networks.
type Params struct {
	Name string

	// AddrParams supplies the base58 prefixes for address rendering. Only
	// address encoding uses it; consensus rules operate on scripts.
	AddrParams *chaincfg.Params

	// Subsidy schedule.
	SubsidyHalvingInterval int32
	SlowStartBlocks        int32
	TotalMoneySupplyHeight int32

	// Proof of work.
	PowLimit                    *big.Int
	PowTargetSpacing            int64
	PowTargetTimespan           int64
	PowAllowMinDifficultyBlocks bool
	PowNoRetargeting            bool
	LastScryptBlock             int32

	// Version bits.
	RuleChangeActivationThreshold uint32
	MinerConfirmationWindow       uint32
	Deployments                   [DefinedDeployments]Deployment

	// Forge.
	MinHammerCost                    btcutil.Amount
	HammerCostFactor                 int64
	HammerCreationKeyHash            []byte
	ForgeCommunityKeyHash            []byte
	CommunityContribFactor           int64
	HammerGestationBlocks            int32
	HammerLifespanBlocks             int32
	PowLimitForge                    *big.Int
	PowLimitForge2                   *big.Int
	ForgeNonceMarker                 uint32
	MinForgeCheckBlock               int32
	ForgeTargetAdjustAggression      int64
	ForgeBlockSpacingTarget          int64
	ForgeBlockSpacingTargetTypical   int64
	ForgeBlockSpacingTargetTypical11 int64

	// Forge 1.1 / 1.2 chain-work bonus.
	MinK                      int64
	MaxK                      int64
	MinK2                     int64
	MaxK2                     int64
	MaxForgeDiff              float64
	MaxKPow                   int64
	PowSplit1                 float64
	PowSplit2                 float64
	MaxConsecutiveForgeBlocks int32
	ForgeDifficultyWindow     int32
	ForgeDifficultyWindow2    int32

	// Forge13Height is the fixed activation height of forge 1.3; it is not
	// a version bits deployment.
	Forge13Height int32
}

// HammerCreationScript returns the pay-to-pubkey-hash script of the
// unspendable hammer creation address. A hammer creation transaction's
// vout[0] script must begin with it.
func (p *Params) HammerCreationScript() []byte {
	return payToKeyHashScript(p.HammerCreationKeyHash)
}

// CommunityScript returns the community fund script an optional BCT donation
// output must pay.
func (p *Params) CommunityScript() []byte {
	return payToKeyHashScript(p.ForgeCommunityKeyHash)
}

// HammerCreationAddress renders the hammer creation address for display.
func (p *Params) HammerCreationAddress() string {
	return keyHashAddress(p.HammerCreationKeyHash, p.AddrParams)
}

// ForgeCommunityAddress renders the community fund address for display.
func (p *Params) ForgeCommunityAddress() string {
	return keyHashAddress(p.ForgeCommunityKeyHash, p.AddrParams)
}

func payToKeyHashScript(keyHash []byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		// Static script shape; only reachable with a malformed key hash.
		panic(err)
	}
	return script
}

func keyHashAddress(keyHash []byte, addrParams *chaincfg.Params) string {
	addr, err := btcutil.NewAddressPubKeyHash(keyHash, addrParams)
	if err != nil {
		return ""
	}
	return addr.EncodeAddress()
}

func hexToBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("params: invalid hex target " + s)
	}
	return n
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("params: invalid hex " + s)
	}
	return b
}

// MainNetParams holds the main network consensus parameters.
var MainNetParams = Params{
	Name:       "main",
	AddrParams: &chaincfg.MainNetParams,

	SubsidyHalvingInterval: 8400000,
	SlowStartBlocks:        0,
	TotalMoneySupplyHeight: 75600000,

	PowLimit:                    hexToBig("00000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowTargetSpacing:            10,
	PowTargetTimespan:           3840,
	PowAllowMinDifficultyBlocks: false,
	PowNoRetargeting:            false,
	LastScryptBlock:             0,

	RuleChangeActivationThreshold: 1920, // 75% of the window
	MinerConfirmationWindow:       2560,
	Deployments: [DefinedDeployments]Deployment{
		DeploymentTestDummy: {Bit: 28, StartTime: 1199145601, Timeout: 1230767999},
		DeploymentCSV:       {Bit: 0, StartTime: 1485561600, Timeout: 1517356801},
		DeploymentSegwit:    {Bit: 1, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge:     {Bit: 7, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge11:   {Bit: 9, StartTime: 1585901581, Timeout: 1617437580},
		DeploymentForge12:   {Bit: 10, StartTime: 1586476800, Timeout: 1618012800},
	},

	MinHammerCost:                    10000,
	HammerCostFactor:                 2500,
	HammerCreationKeyHash:            mustHex("21d6b22ec2e57c3e509c3c90e55e4f16f99d4b3f"),
	ForgeCommunityKeyHash:            mustHex("3a1c4dd9be1bfcf7b2ec1b2e63d4e92c21a7f831"),
	CommunityContribFactor:           10,
	HammerGestationBlocks:            48 * 24,
	HammerLifespanBlocks:             48 * 24 * 14,
	PowLimitForge:                    hexToBig("0fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowLimitForge2:                   hexToBig("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	ForgeNonceMarker:                 192,
	MinForgeCheckBlock:               125,
	ForgeTargetAdjustAggression:      30,
	ForgeBlockSpacingTarget:          2,
	ForgeBlockSpacingTargetTypical:   3,
	ForgeBlockSpacingTargetTypical11: 2,

	MinK:                      2,
	MaxK:                      16,
	MinK2:                     1,
	MaxK2:                     7,
	MaxForgeDiff:              0.006,
	MaxKPow:                   5,
	PowSplit1:                 0.005,
	PowSplit2:                 0.0025,
	MaxConsecutiveForgeBlocks: 2,
	ForgeDifficultyWindow:     36,
	ForgeDifficultyWindow2:    24,

	Forge13Height: 2342000,
}

// TestNetParams holds the test network consensus parameters. Gestation and
// lifespan run 48x faster than main so hammers can be exercised quickly.
var TestNetParams = Params{
	Name:       "test",
	AddrParams: &chaincfg.TestNet3Params,

	SubsidyHalvingInterval: 8400000,
	SlowStartBlocks:        0,
	TotalMoneySupplyHeight: 75600000,

	PowLimit:                    hexToBig("00000fffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowTargetSpacing:            10,
	PowTargetTimespan:           3840,
	PowAllowMinDifficultyBlocks: true,
	PowNoRetargeting:            false,
	LastScryptBlock:             0,

	RuleChangeActivationThreshold: 1920,
	MinerConfirmationWindow:       2560,
	Deployments: [DefinedDeployments]Deployment{
		DeploymentTestDummy: {Bit: 28, StartTime: 1535587200, Timeout: 1535587200 + 31536000},
		DeploymentCSV:       {Bit: 0, StartTime: 1535587200, Timeout: 1535587200 + 31536000},
		DeploymentSegwit:    {Bit: 1, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge:     {Bit: 7, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge11:   {Bit: 9, StartTime: 1583211600, Timeout: 1614747600},
		DeploymentForge12:   {Bit: 10, StartTime: 1586476800, Timeout: 1618012800},
	},

	MinHammerCost:                    10000,
	HammerCostFactor:                 2500,
	HammerCreationKeyHash:            mustHex("6f3f8a1c2cf0c7b89adf2b6a7c61f84e0b1d5c22"),
	ForgeCommunityKeyHash:            mustHex("9b4b8e1af7a3c2d0e81f6c5b40a92d317c8e6f04"),
	CommunityContribFactor:           10,
	HammerGestationBlocks:            24,
	HammerLifespanBlocks:             24 * 14,
	PowLimitForge:                    hexToBig("0fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowLimitForge2:                   hexToBig("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	ForgeNonceMarker:                 192,
	MinForgeCheckBlock:               1,
	ForgeTargetAdjustAggression:      30,
	ForgeBlockSpacingTarget:          2,
	ForgeBlockSpacingTargetTypical:   3,
	ForgeBlockSpacingTargetTypical11: 2,

	MinK:                      2,
	MaxK:                      16,
	MinK2:                     1,
	MaxK2:                     7,
	MaxForgeDiff:              0.006,
	MaxKPow:                   5,
	PowSplit1:                 0.005,
	PowSplit2:                 0.0025,
	MaxConsecutiveForgeBlocks: 2,
	ForgeDifficultyWindow:     36,
	ForgeDifficultyWindow2:    24,

	Forge13Height: 5000,
}

// RegressionNetParams holds the regression test network consensus parameters.
// The forge deployment is always active and forge 1.1+ never activates by
// default; tests copy the struct and override the schedule they need.
var RegressionNetParams = Params{
	Name:       "regtest",
	AddrParams: &chaincfg.RegressionNetParams,

	SubsidyHalvingInterval: 150,
	SlowStartBlocks:        0,
	TotalMoneySupplyHeight: 75600000,

	PowLimit:                    hexToBig("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowTargetSpacing:            10,
	PowTargetTimespan:           3840,
	PowAllowMinDifficultyBlocks: true,
	PowNoRetargeting:            true,
	LastScryptBlock:             0,

	RuleChangeActivationThreshold: 108,
	MinerConfirmationWindow:       144,
	Deployments: [DefinedDeployments]Deployment{
		DeploymentTestDummy: {Bit: 28, StartTime: 0, Timeout: NoTimeout},
		DeploymentCSV:       {Bit: 0, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentSegwit:    {Bit: 1, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge:     {Bit: 7, StartTime: AlwaysActive, Timeout: NoTimeout},
		DeploymentForge11:   {Bit: 9, StartTime: NoTimeout - 1, Timeout: NoTimeout},
		DeploymentForge12:   {Bit: 10, StartTime: NoTimeout - 1, Timeout: NoTimeout},
	},

	MinHammerCost:                    10000,
	HammerCostFactor:                 2500,
	HammerCreationKeyHash:            mustHex("5c4f9a0e1d2b3c4d5e6f708192a3b4c5d6e7f809"),
	ForgeCommunityKeyHash:            mustHex("0102030405060708090a0b0c0d0e0f1011121314"),
	CommunityContribFactor:           10,
	HammerGestationBlocks:            4,
	HammerLifespanBlocks:             16,
	PowLimitForge:                    hexToBig("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	PowLimitForge2:                   hexToBig("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	ForgeNonceMarker:                 192,
	MinForgeCheckBlock:               1,
	ForgeTargetAdjustAggression:      30,
	ForgeBlockSpacingTarget:          2,
	ForgeBlockSpacingTargetTypical:   3,
	ForgeBlockSpacingTargetTypical11: 2,

	MinK:                      2,
	MaxK:                      16,
	MinK2:                     1,
	MaxK2:                     7,
	MaxForgeDiff:              0.006,
	MaxKPow:                   5,
	PowSplit1:                 0.005,
	PowSplit2:                 0.0025,
	MaxConsecutiveForgeBlocks: 2,
	ForgeDifficultyWindow:     36,
	ForgeDifficultyWindow2:    24,

	Forge13Height: NeverActive,
}

// ByName returns the parameters of the named network.
func ByName(name string) (*Params, bool) {
	switch name {
	case "main", "mainnet":
		return &MainNetParams, true
	case "test", "testnet":
		return &TestNetParams, true
	case "regtest":
		return &RegressionNetParams, true
	default:
		return nil, false
	}
}
