// Package epoch implements the end-of-epoch controller: supply halving,
// bus replenishment, the smoothed reward-rate adjustment and the minimum
// difficulty step.
package epoch

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/protocol"
)

// Params are the controller's economic constants.
type Params struct {
	EpochDuration    int64
	MaxSupply        uint64
	TargetRewards    uint64
	MaxEpochRewards  uint64
	BusEpochRewards  uint64
	MinRateThreshold uint64
	MaxRateThreshold uint64
	Smoothing        uint64
}

// DefaultParams returns the protocol constants with r's epoch duration.
func DefaultParams(r protocol.Resource) Params {
	return Params{
		EpochDuration:    r.EpochDuration,
		MaxSupply:        protocol.MaxSupply,
		TargetRewards:    protocol.TargetEpochRewards,
		MaxEpochRewards:  protocol.MaxEpochRewards,
		BusEpochRewards:  protocol.BusEpochRewards,
		MinRateThreshold: protocol.BaseRewardRateMinThreshold,
		MaxRateThreshold: protocol.BaseRewardRateMaxThreshold,
		Smoothing:        protocol.SmoothingFactor,
	}
}

// Outcome summarizes one reset.
type Outcome struct {
	// Skipped is set when the epoch had not yet elapsed; nothing was changed.
	Skipped bool

	HalvingSteps  uint64
	HalvingFactor uint64

	RemainingRewards   uint64
	TheoreticalRewards uint64
	TopBalance         uint64

	PreviousRate  uint64
	NewRate       uint64
	MinDifficulty uint64

	// MintAmount is the number of tokens to mint into the treasury.
	MintAmount uint64
}

// Due reports whether an epoch that started at lastResetAt has elapsed at now.
func Due(lastResetAt, now, duration int64) bool {
	return protocol.SaturatingAddInt64(lastResetAt, duration) <= now
}

// HalvingFactor returns the number of HalvingStepPercent milestones supply
// has crossed and 2 raised to it. It fails with ErrMaxSupply once supply
// reaches maxSupply.
func HalvingFactor(supply, maxSupply uint64) (steps, factor uint64, err error) {
	if supply >= maxSupply {
		return 0, 0, protocol.ErrMaxSupply
	}
	steps, err = protocol.MulDiv(supply, 100/protocol.HalvingStepPercent, maxSupply)
	if err != nil {
		return 0, 0, err
	}
	factor, err = protocol.CheckedPow2(steps)
	return steps, factor, err
}

// CalculateNewRewardRate moves the rate toward the value that would have
// paid target over the last epoch, like Bitcoin's difficulty retarget:
//
//	new_rate = current_rate * target / epoch_rewards
//
// The result changes by at most a factor of smoothing and stays within
// [1, busRewards]. A zero epochRewards leaves the rate unchanged.
func CalculateNewRewardRate(currentRate, epochRewards, target, busRewards, smoothing uint64) uint64 {
	if epochRewards == 0 {
		return currentRate
	}

	newRate, err := protocol.MulDiv(currentRate, target, epochRewards)
	if err != nil {
		newRate = ^uint64(0)
	}

	smoothing = max(smoothing, 1)
	lo := currentRate / smoothing
	hi, err := protocol.CheckedMul(currentRate, smoothing)
	if err != nil {
		hi = ^uint64(0)
	}

	smoothed := max(min(newRate, hi), lo)
	return min(max(smoothed, 1), busRewards)
}

// AdjustDifficulty raises the minimum difficulty and doubles the rate when
// the rate has fallen to lowThreshold, or lowers it and halves the rate when
// the rate has reached highThreshold. At most one step applies. A rate of 1
// is never halved, so the result stays at least 1 even when late halvings
// scale both thresholds down to 0.
func AdjustDifficulty(rate, minDifficulty, lowThreshold, highThreshold uint64) (uint64, uint64, error) {
	if rate <= lowThreshold {
		d, err := protocol.CheckedAdd(minDifficulty, 1)
		if err != nil {
			return rate, minDifficulty, err
		}
		r, err := protocol.CheckedMul(rate, 2)
		if err != nil {
			return rate, minDifficulty, err
		}
		return r, d, nil
	}
	if rate >= highThreshold && rate > 1 && minDifficulty > 1 {
		return rate / 2, minDifficulty - 1, nil
	}
	return rate, minDifficulty, nil
}

// Reset closes the epoch at now. buses must hold every shard in id order.
// cfg and buses are updated in place only when the reset succeeds; before
// the epoch has elapsed Reset returns a Skipped outcome and changes nothing.
func Reset(now int64, cfg *account.Config, buses []*account.Bus, supply uint64, p Params) (Outcome, error) {
	out := Outcome{PreviousRate: cfg.BaseRewardRate, NewRate: cfg.BaseRewardRate, MinDifficulty: cfg.MinDifficulty}
	if !Due(cfg.LastResetAt, now, p.EpochDuration) {
		out.Skipped = true
		return out, nil
	}

	if len(buses) != protocol.BusCount {
		return out, fmt.Errorf("%w: reset needs %d buses, got %d",
			protocol.ErrNotEnoughAccountKeys, protocol.BusCount, len(buses))
	}
	for i, bus := range buses {
		if bus.ID != uint64(i) {
			return out, fmt.Errorf("%w: bus %d at position %d", protocol.ErrInvalidAccountData, bus.ID, i)
		}
	}

	steps, factor, err := HalvingFactor(supply, p.MaxSupply)
	if err != nil {
		return out, err
	}
	out.HalvingSteps, out.HalvingFactor = steps, factor

	target := p.TargetRewards / factor
	busBudget := p.BusEpochRewards / factor
	epochBudget := p.MaxEpochRewards / factor

	for _, bus := range buses {
		out.TopBalance = max(out.TopBalance, bus.TopBalance)
		out.RemainingRewards = protocol.SaturatingAdd(out.RemainingRewards, bus.Rewards)
		out.TheoreticalRewards = protocol.SaturatingAdd(out.TheoreticalRewards, bus.TheoreticalRewards)
	}

	rate := CalculateNewRewardRate(cfg.BaseRewardRate, out.TheoreticalRewards, target, busBudget, p.Smoothing)
	rate, minDifficulty, err := AdjustDifficulty(rate, cfg.MinDifficulty, p.MinRateThreshold/factor, p.MaxRateThreshold/factor)
	if err != nil {
		return out, err
	}

	for _, bus := range buses {
		bus.Rewards = busBudget
		bus.TheoreticalRewards = 0
		bus.TopBalance = 0
	}
	cfg.LastResetAt = now
	cfg.TopBalance = out.TopBalance
	cfg.BaseRewardRate = rate
	cfg.MinDifficulty = minDifficulty

	out.NewRate = rate
	out.MinDifficulty = minDifficulty
	out.MintAmount = min(p.MaxSupply-supply, protocol.SaturatingSub(epochBudget, out.RemainingRewards))
	return out, nil
}
