// Package reward composes the payout of an accepted proof-of-work solution.
//
// Stages run in a fixed order and each feeds the next: base reward,
// staking bonus, liveness penalty, tool bonus, group bonus, payable cap.
// Nothing here mutates account state; the caller applies the Breakdown.
package reward

import (
	"github.com/bardlex/gocoal/internal/protocol"
)

// BaseReward returns rate * 2^(difficulty - minDifficulty).
func BaseReward(rate uint64, difficulty uint32, minDifficulty uint64) (uint64, error) {
	if uint64(difficulty) < minDifficulty {
		return 0, protocol.ErrHashTooEasy
	}
	scale, err := protocol.CheckedPow2(uint64(difficulty) - minDifficulty)
	if err != nil {
		return 0, err
	}
	return protocol.CheckedMul(rate, scale)
}

// StakeActive reports whether a staked balance has settled long enough to earn a bonus.
func StakeActive(balance uint64, lastStakeAt, now int64) bool {
	return balance > 0 && protocol.SaturatingAddInt64(lastStakeAt, protocol.StakeGracePeriod) < now
}

// StakingBonus returns reward * min(balance, top) / top * factor, or zero
// when no top balance has been recorded yet.
func StakingBonus(reward, balance, topBalance, factor uint64) (uint64, error) {
	if topBalance == 0 {
		return 0, nil
	}
	bonus, err := protocol.MulDiv(reward, min(balance, topBalance), topBalance)
	if err != nil {
		return 0, err
	}
	return protocol.CheckedMul(bonus, max(factor, 1))
}

// Liveness describes how late a submission was.
type Liveness struct {
	// Target is when the submission was due.
	Target int64
	// Timing is now minus the end of the tolerance window; positive values were penalized.
	Timing int64
	// Halvings is the number of whole intervals of tardiness.
	Halvings uint64
	// Remainder is the tardiness beyond whole intervals, in seconds.
	Remainder uint64
	Penalized bool
}

// ApplyLiveness decays reward for late submissions: one halving per full
// interval of tardiness, then a linear decay of up to half the remaining
// reward across the partial interval. Submissions within tolerance of
// target are untouched.
func ApplyLiveness(reward uint64, now, target, tolerance, interval int64) (uint64, Liveness) {
	deadline := protocol.SaturatingAddInt64(target, tolerance)
	l := Liveness{Target: target, Timing: now - deadline}
	if now <= deadline || interval <= 0 {
		return reward, l
	}

	l.Penalized = true
	tardiness := uint64(now - target)
	step := uint64(interval)
	l.Halvings = tardiness / step
	l.Remainder = tardiness - l.Halvings*step

	if l.Halvings >= 64 {
		return 0, l
	}
	reward >>= l.Halvings

	if l.Remainder > 0 && reward > 0 {
		// reward/2 * remainder / interval, no wider than u64 since remainder < interval
		penalty, err := protocol.MulDiv(reward/2, l.Remainder, step)
		if err == nil {
			reward = protocol.SaturatingSub(reward, penalty)
		}
	}
	return reward, l
}

// ToolBonus computes the tool's contribution. bonus is added to the running
// reward; payable is the part the bus can still cover and the amount burned
// from durability.
func ToolBonus(reward, busRewards, durability, multiplier, minMultiplier, maxMultiplier uint64) (bonus, payable uint64, err error) {
	if durability == 0 {
		return 0, 0, nil
	}
	m := min(max(multiplier, minMultiplier), maxMultiplier)
	extra, err := protocol.MulDiv(reward, m, 100)
	if err != nil {
		return 0, 0, err
	}
	bonus = min(extra, durability)
	payable = min(bonus, protocol.SaturatingSub(busRewards, reward))
	return bonus, payable, nil
}

// GroupBonus returns reward * totalMultiplier * stake / totalStake.
func GroupBonus(reward, stake, totalStake, totalMultiplier uint64) (uint64, error) {
	if totalStake == 0 || stake == 0 || totalMultiplier == 0 {
		return 0, nil
	}
	return protocol.MulMulDiv(reward, totalMultiplier, stake, totalStake)
}

// Payable caps reward by the bus budget and, when non-zero, a per-submission cap.
func Payable(reward, busRewards, rewardCap uint64) uint64 {
	p := min(reward, busRewards)
	if rewardCap > 0 {
		p = min(p, rewardCap)
	}
	return p
}
