package reward

import (
	"github.com/bardlex/gocoal/internal/protocol"
)

// ToolInput is the equipped tool's state. A nil *ToolInput means no tool.
type ToolInput struct {
	Durability uint64
	Multiplier uint64
}

// GroupInput is the staking group's contribution triple.
type GroupInput struct {
	Stake           uint64
	TotalStake      uint64
	TotalMultiplier uint64
}

// Inputs are the values the composer reads.
type Inputs struct {
	Now            int64
	BaseRewardRate uint64
	MinDifficulty  uint64
	Difficulty     uint32
	TopBalance     uint64 // network-wide, from config

	ProofBalance uint64
	LastHashAt   int64
	LastStakeAt  int64

	BusRewards    uint64
	BusTopBalance uint64

	Tool  *ToolInput
	Group *GroupInput
}

// Breakdown reports every stage of a composed reward.
type Breakdown struct {
	Base        uint64
	StakeReward uint64
	StakeActive bool
	Liveness    Liveness
	// ToolBonus is added to the reward; ToolReward is the bus-covered part burned from durability.
	ToolBonus   uint64
	ToolReward  uint64
	GroupReward uint64

	// Reward is the uncapped total fed to the rate controller.
	Reward uint64
	// Payable is credited to the proof and debited from the bus.
	Payable uint64

	NewDurability uint64
	NewBusTop     uint64
}

// TotalRewardsDelta is what the proof's lifetime counter accumulates under policy.
func (b Breakdown) TotalRewardsDelta(policy protocol.TotalRewardsPolicy) uint64 {
	if policy == protocol.TotalRewardsUncapped {
		return b.Reward
	}
	return b.Payable
}

// Compose runs every stage for one accepted solution on track r.
func Compose(in Inputs, r protocol.Resource) (Breakdown, error) {
	var b Breakdown
	var err error

	b.Base, err = BaseReward(in.BaseRewardRate, in.Difficulty, in.MinDifficulty)
	if err != nil {
		return b, err
	}
	reward := b.Base

	b.NewBusTop = in.BusTopBalance
	if StakeActive(in.ProofBalance, in.LastStakeAt, in.Now) {
		b.StakeActive = true
		b.StakeReward, err = StakingBonus(reward, in.ProofBalance, in.TopBalance, r.StakeBonusFactor)
		if err != nil {
			return b, err
		}
		if reward, err = protocol.CheckedAdd(reward, b.StakeReward); err != nil {
			return b, err
		}
		b.NewBusTop = max(in.BusTopBalance, in.ProofBalance)
	}

	target := protocol.SaturatingAddInt64(in.LastHashAt, protocol.OneMinute)
	reward, b.Liveness = ApplyLiveness(reward, in.Now, target, r.LivenessTolerance, protocol.OneMinute)

	if in.Tool != nil {
		b.NewDurability = in.Tool.Durability
		b.ToolBonus, b.ToolReward, err = ToolBonus(reward, in.BusRewards, in.Tool.Durability,
			in.Tool.Multiplier, r.ToolMultiplierMin, r.ToolMultiplierMax)
		if err != nil {
			return b, err
		}
		if reward, err = protocol.CheckedAdd(reward, b.ToolBonus); err != nil {
			return b, err
		}
		b.NewDurability = in.Tool.Durability - b.ToolReward
	}

	if in.Group != nil {
		b.GroupReward, err = GroupBonus(reward, in.Group.Stake, in.Group.TotalStake, in.Group.TotalMultiplier)
		if err != nil {
			return b, err
		}
		if reward, err = protocol.CheckedAdd(reward, b.GroupReward); err != nil {
			return b, err
		}
	}

	b.Reward = reward
	b.Payable = Payable(reward, in.BusRewards, r.RewardCap)
	return b, nil
}
