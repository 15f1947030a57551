package reward

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bardlex/gocoal/internal/protocol"
)

const now int64 = 1_700_000_000

func TestBaseReward(t *testing.T) {
	tests := []struct {
		name       string
		rate       uint64
		difficulty uint32
		min        uint64
		want       uint64
		wantErr    error
	}{
		{"at minimum difficulty", 1000, 5, 5, 1000, nil},
		{"three bits above minimum", 1000, 8, 5, 8000, nil},
		{"rate one", 1, 40, 10, 1 << 30, nil},
		{"below minimum", 1000, 4, 5, 0, protocol.ErrHashTooEasy},
		{"shift overflow", 1, 80, 10, 0, protocol.ErrArithmeticOverflow},
		{"multiply overflow", 1 << 40, 40, 10, 0, protocol.ErrArithmeticOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BaseReward(tt.rate, tt.difficulty, tt.min)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStaking(t *testing.T) {
	require.False(t, StakeActive(0, now-3600, now))
	require.False(t, StakeActive(10, now-60, now))
	require.True(t, StakeActive(10, now-61, now))

	bonus, err := StakingBonus(8000, 500, 1000, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(4000), bonus)

	bonus, err = StakingBonus(8000, 5000, 1000, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), bonus, "balance above top is capped at a 2x reward")

	bonus, err = StakingBonus(8000, 500, 1000, 12)
	require.NoError(t, err)
	require.Equal(t, uint64(48000), bonus)

	bonus, err = StakingBonus(8000, 500, 0, 1)
	require.NoError(t, err)
	require.Zero(t, bonus)
}

func TestApplyLiveness(t *testing.T) {
	target := now

	got, l := ApplyLiveness(1000, target, target, protocol.Tolerance, protocol.OneMinute)
	require.Equal(t, uint64(1000), got)
	require.False(t, l.Penalized)
	require.Equal(t, -protocol.Tolerance, l.Timing)

	got, l = ApplyLiveness(1000, target+protocol.Tolerance, target, protocol.Tolerance, protocol.OneMinute)
	require.Equal(t, uint64(1000), got)
	require.False(t, l.Penalized)

	// 90s late: one halving, then half of the remaining 500 decayed over 30/60s
	got, l = ApplyLiveness(1000, target+90, target, protocol.Tolerance, protocol.OneMinute)
	require.True(t, l.Penalized)
	require.Equal(t, uint64(1), l.Halvings)
	require.Equal(t, uint64(30), l.Remainder)
	require.Equal(t, uint64(500-125), got)

	got, _ = ApplyLiveness(1000, target+120, target, protocol.Tolerance, protocol.OneMinute)
	require.Equal(t, uint64(250), got)

	got, _ = ApplyLiveness(1<<20, target+21*60, target, protocol.Tolerance, protocol.OneMinute)
	require.Zero(t, got)

	got, _ = ApplyLiveness(^uint64(0), target+64*60, target, protocol.Tolerance, protocol.OneMinute)
	require.Zero(t, got)
}

func TestApplyLivenessMonotonic(t *testing.T) {
	for _, reward := range []uint64{1, 7, 1000, 8_000_000, protocol.BusEpochRewards} {
		prev := reward
		for late := int64(0); late <= 40*60; late++ {
			got, _ := ApplyLiveness(reward, now+late, now, protocol.Tolerance, protocol.OneMinute)
			require.LessOrEqual(t, got, prev, "reward %d late %ds", reward, late)
			prev = got
		}
		require.Zero(t, prev, "reward %d should be fully decayed", reward)
	}
}

func TestToolBonus(t *testing.T) {
	tests := []struct {
		name        string
		reward      uint64
		bus         uint64
		durability  uint64
		multiplier  uint64
		min, max    uint64
		wantBonus   uint64
		wantPayable uint64
	}{
		{"fully covered", 1000, 10_000, 10_000, 50, 0, 100, 500, 500},
		{"bus headroom caps burn", 1000, 1200, 10_000, 50, 0, 100, 500, 200},
		{"clamped to max", 1000, 10_000, 10_000, 500, 0, 100, 1000, 1000},
		{"clamped to min", 1000, 10_000, 10_000, 10, 100, 300, 1000, 1000},
		{"durability bound", 1000, 10_000, 300, 100, 0, 100, 300, 300},
		{"worn out", 1000, 10_000, 0, 100, 0, 100, 0, 0},
		{"bus already short", 1000, 800, 10_000, 100, 0, 100, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bonus, payable, err := ToolBonus(tt.reward, tt.bus, tt.durability, tt.multiplier, tt.min, tt.max)
			require.NoError(t, err)
			require.Equal(t, tt.wantBonus, bonus)
			require.Equal(t, tt.wantPayable, payable)
		})
	}
}

func TestGroupBonusAndPayable(t *testing.T) {
	bonus, err := GroupBonus(100, 5, 10, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bonus)

	bonus, err = GroupBonus(100, 5, 0, 2)
	require.NoError(t, err)
	require.Zero(t, bonus)

	require.Equal(t, uint64(50), Payable(100, 50, 0))
	require.Equal(t, uint64(30), Payable(100, 50, 30))
	require.Equal(t, uint64(100), Payable(100, 500, 0))
}

func TestCompose(t *testing.T) {
	in := Inputs{
		Now:            now,
		BaseRewardRate: 1000,
		MinDifficulty:  1,
		Difficulty:     4,
		TopBalance:     1000,
		ProofBalance:   500,
		LastHashAt:     now - 60,
		LastStakeAt:    now - 120,
		BusRewards:     15_000,
		BusTopBalance:  100,
		Tool:           &ToolInput{Durability: 5000, Multiplier: 50},
	}

	b, err := Compose(in, protocol.Coal())
	require.NoError(t, err)
	require.Equal(t, uint64(8000), b.Base)
	require.True(t, b.StakeActive)
	require.Equal(t, uint64(4000), b.StakeReward)
	require.Equal(t, uint64(500), b.NewBusTop)
	require.False(t, b.Liveness.Penalized)
	require.Equal(t, uint64(5000), b.ToolBonus)
	require.Equal(t, uint64(3000), b.ToolReward)
	require.Equal(t, uint64(2000), b.NewDurability)
	require.Equal(t, uint64(17_000), b.Reward)
	require.Equal(t, uint64(15_000), b.Payable)
	require.Equal(t, uint64(15_000), b.TotalRewardsDelta(protocol.TotalRewardsPayable))
	require.Equal(t, uint64(17_000), b.TotalRewardsDelta(protocol.TotalRewardsUncapped))
}

func TestComposeMinimalSubmission(t *testing.T) {
	b, err := Compose(Inputs{
		Now:            now,
		BaseRewardRate: 1000,
		MinDifficulty:  7,
		Difficulty:     7,
		LastHashAt:     now - 60,
		BusRewards:     1 << 40,
	}, protocol.Wood())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), b.Payable)
	require.Equal(t, uint64(1000), b.Reward)
	require.False(t, b.StakeActive)
	require.Zero(t, b.ToolBonus+b.GroupReward+b.StakeReward)
}

func TestComposeGroupAndCap(t *testing.T) {
	r := protocol.Coal()
	r.RewardCap = 1500

	b, err := Compose(Inputs{
		Now:            now,
		BaseRewardRate: 1000,
		MinDifficulty:  1,
		Difficulty:     1,
		LastHashAt:     now - 60,
		BusRewards:     10_000,
		Group:          &GroupInput{Stake: 1, TotalStake: 4, TotalMultiplier: 2},
	}, r)
	require.NoError(t, err)
	require.Equal(t, uint64(500), b.GroupReward)
	require.Equal(t, uint64(1500), b.Reward)
	require.Equal(t, uint64(1500), b.Payable)

	r.RewardCap = 1200
	b, err = Compose(Inputs{
		Now: now, BaseRewardRate: 1000, MinDifficulty: 1, Difficulty: 1,
		LastHashAt: now - 60, BusRewards: 10_000,
		Group: &GroupInput{Stake: 1, TotalStake: 4, TotalMultiplier: 2},
	}, r)
	require.NoError(t, err)
	require.Equal(t, uint64(1200), b.Payable)
}

// Durability after a run of submissions equals the initial durability minus
// the bus-covered tool rewards, and never underflows.
func TestToolDurabilityAccounting(t *testing.T) {
	const initial = 20_000
	durability := uint64(initial)
	bus := uint64(60_000)
	var burned uint64

	for i := range 20 {
		b, err := Compose(Inputs{
			Now:            now + int64(i)*60,
			BaseRewardRate: 1000,
			MinDifficulty:  1,
			Difficulty:     3,
			LastHashAt:     now + int64(i-1)*60,
			BusRewards:     bus,
			Tool:           &ToolInput{Durability: durability, Multiplier: 100},
		}, protocol.Coal())
		require.NoError(t, err)
		require.LessOrEqual(t, b.Payable, bus)

		burned += b.ToolReward
		durability = b.NewDurability
		bus -= b.Payable
	}

	require.Equal(t, uint64(initial)-burned, durability)
	require.Zero(t, durability)
	require.Zero(t, bus)
}
