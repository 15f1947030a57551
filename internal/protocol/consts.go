// Package protocol holds the economic constants, resource track descriptors,
// abort codes and overflow-checked arithmetic shared by the mining program.
package protocol

const (
	// OneMinute is the target interval between two submissions of one proof, in seconds.
	OneMinute int64 = 60

	// Tolerance is the early-submission allowance before a hash is rejected as spam, in seconds.
	Tolerance int64 = 5

	// TokenDecimals is the number of decimal places of the mined token.
	TokenDecimals uint8 = 11

	// OneToken is one whole token in base units.
	OneToken uint64 = 100_000_000_000

	// MaxSupply is the issuance cap.
	MaxSupply uint64 = 21_000_000 * OneToken

	// BusCount is the number of bus shards.
	BusCount = 8

	// TargetEpochRewards is the issuance the rate controller aims for each epoch.
	TargetEpochRewards uint64 = OneToken

	// MaxEpochRewards is the issuance ceiling of one epoch across all buses.
	MaxEpochRewards uint64 = 2 * OneToken

	// BusEpochRewards is the per-shard budget before halving.
	BusEpochRewards uint64 = MaxEpochRewards / BusCount

	// SmoothingFactor bounds how far the base reward rate may move in one epoch.
	SmoothingFactor uint64 = 2

	// BaseRewardRateMinThreshold triggers a difficulty increase when the rate falls to it.
	BaseRewardRateMinThreshold uint64 = 1 << 5

	// BaseRewardRateMaxThreshold triggers a difficulty decrease when the rate rises to it.
	BaseRewardRateMaxThreshold uint64 = (1 << 8) * BaseRewardRateMinThreshold

	// InitialBaseRewardRate seeds a fresh config.
	InitialBaseRewardRate uint64 = BaseRewardRateMinThreshold

	// InitialMinDifficulty seeds a fresh config.
	InitialMinDifficulty uint64 = 1

	// StakeGracePeriod is how long a deposit must settle before it earns a bonus.
	StakeGracePeriod int64 = OneMinute

	// HalvingStepPercent is the share of MaxSupply mined per halving step.
	HalvingStepPercent uint64 = 5

	// MaxHalvingSteps bounds the halving exponent; MaxSupply is reached first.
	MaxHalvingSteps = 100 / HalvingStepPercent

	// MaxPenaltyIntervals is the lateness after which the liveness penalty has zeroed any u64 reward.
	MaxPenaltyIntervals = 64
)

// Seeds for program-derived addresses.
const (
	SeedConfig   = "config"
	SeedBus      = "bus"
	SeedProof    = "proof"
	SeedTool     = "tool"
	SeedMint     = "mint"
	SeedTreasury = "treasury"
)
