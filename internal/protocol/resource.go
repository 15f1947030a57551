package protocol

import (
	"fmt"
	"strings"
)

// Kind identifies a resource track.
type Kind uint8

const (
	KindCoal Kind = iota
	KindWood
)

func (k Kind) String() string {
	switch k {
	case KindCoal:
		return "coal"
	case KindWood:
		return "wood"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// TotalRewardsPolicy selects what a proof's lifetime reward counter accumulates.
type TotalRewardsPolicy uint8

const (
	// TotalRewardsPayable accumulates the amount actually credited.
	TotalRewardsPayable TotalRewardsPolicy = iota
	// TotalRewardsUncapped accumulates the reward before the bus ceiling.
	TotalRewardsUncapped
)

func (p TotalRewardsPolicy) String() string {
	if p == TotalRewardsUncapped {
		return "reward"
	}
	return "payable"
}

// ParseTotalRewardsPolicy accepts "payable" or "reward".
func ParseTotalRewardsPolicy(s string) (TotalRewardsPolicy, error) {
	switch strings.ToLower(s) {
	case "payable", "":
		return TotalRewardsPayable, nil
	case "reward", "uncapped":
		return TotalRewardsUncapped, nil
	default:
		return 0, fmt.Errorf("unknown total rewards policy %q", s)
	}
}

// Resource describes one mining track. Every per-track difference in the
// mining and reset instructions is read from here.
type Resource struct {
	Kind Kind

	// ChallengeSeed is hashed ahead of the solution hash when rotating a challenge.
	ChallengeSeed []byte

	// EpochDuration is the reset period in seconds.
	EpochDuration int64

	// LivenessTolerance is the lateness in seconds forgiven before decay starts.
	LivenessTolerance int64

	// MarkerOccurrence is the 1-based occurrence of the marker instruction
	// that carries the committed proof address.
	MarkerOccurrence int

	// ToolMultiplierMin and ToolMultiplierMax clamp a tool's percentage bonus.
	ToolMultiplierMin uint64
	ToolMultiplierMax uint64

	// RewardCap bounds a single payout. Zero disables it.
	RewardCap uint64

	TotalRewards TotalRewardsPolicy

	// StakeBonusFactor scales the staking bonus.
	StakeBonusFactor uint64
}

// Name returns the track name.
func (r Resource) Name() string { return r.Kind.String() }

// Seed returns the address seed for base under this track, e.g. "coal_config".
func (r Resource) Seed(base string) []byte {
	return []byte(r.Name() + "_" + base)
}

// Validate rejects descriptors the mining instruction cannot execute.
func (r Resource) Validate() error {
	switch {
	case r.EpochDuration <= 0:
		return fmt.Errorf("%s: epoch duration must be positive", r.Name())
	case r.LivenessTolerance < 0:
		return fmt.Errorf("%s: liveness tolerance must not be negative", r.Name())
	case r.MarkerOccurrence < 1:
		return fmt.Errorf("%s: marker occurrence must be at least 1", r.Name())
	case r.ToolMultiplierMin > r.ToolMultiplierMax:
		return fmt.Errorf("%s: tool multiplier range is empty", r.Name())
	case r.StakeBonusFactor == 0:
		return fmt.Errorf("%s: stake bonus factor must be at least 1", r.Name())
	}
	return nil
}

// Coal is the coal track.
func Coal() Resource {
	return Resource{
		Kind:              KindCoal,
		EpochDuration:     OneMinute,
		LivenessTolerance: Tolerance,
		MarkerOccurrence:  2,
		ToolMultiplierMin: 0,
		ToolMultiplierMax: 100,
		TotalRewards:      TotalRewardsPayable,
		StakeBonusFactor:  1,
	}
}

// Wood is the wood track.
func Wood() Resource {
	return Resource{
		Kind:              KindWood,
		ChallengeSeed:     []byte("wood"),
		EpochDuration:     OneMinute,
		LivenessTolerance: 15,
		MarkerOccurrence:  1,
		ToolMultiplierMin: 100,
		ToolMultiplierMax: 300,
		TotalRewards:      TotalRewardsUncapped,
		StakeBonusFactor:  1,
	}
}

// ResourceByKind returns the default descriptor for k.
func ResourceByKind(k Kind) (Resource, error) {
	switch k {
	case KindCoal:
		return Coal(), nil
	case KindWood:
		return Wood(), nil
	default:
		return Resource{}, ErrInvalidResource
	}
}

// ResourceByName returns the default descriptor for a track name.
func ResourceByName(name string) (Resource, error) {
	switch strings.ToLower(name) {
	case "coal":
		return Coal(), nil
	case "wood":
		return Wood(), nil
	default:
		return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, name)
	}
}
