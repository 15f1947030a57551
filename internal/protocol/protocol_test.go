package protocol

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	coalErrors "github.com/bardlex/gocoal/pkg/errors"
)

func TestCheckedArithmetic(t *testing.T) {
	v, err := CheckedAdd(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)

	_, err = CheckedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = CheckedSub(1, 2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err = CheckedMul(1<<32, 1<<31)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, v)

	_, err = CheckedMul(1<<32, 1<<32)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err = CheckedPow2(63)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, v)

	_, err = CheckedPow2(64)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestSaturatingArithmetic(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64, 7))
	require.Equal(t, uint64(0), SaturatingSub(3, 9))
	require.Equal(t, int64(math.MaxInt64), SaturatingAddInt64(math.MaxInt64-1, 5))
	require.Equal(t, int64(math.MinInt64), SaturatingAddInt64(math.MinInt64+1, -5))
	require.Equal(t, int64(65), SaturatingAddInt64(5, 60))
}

func TestMulDiv(t *testing.T) {
	v, err := MulDiv(math.MaxUint64, 300, 600)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64/2), v)

	_, err = MulDiv(math.MaxUint64, 3, 2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = MulDiv(1, 1, 0)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err = MulMulDiv(1<<40, 1<<40, 3, 1<<60)
	require.NoError(t, err)
	require.Equal(t, uint64(3*(1<<20)), v)
}

func TestProgramErrors(t *testing.T) {
	wrapped := fmt.Errorf("mine: %w", ErrSpam)
	require.ErrorIs(t, wrapped, ErrSpam)
	require.NotErrorIs(t, wrapped, ErrNeedsReset)

	pe, ok := AsProgramError(wrapped)
	require.True(t, ok)
	require.Equal(t, Code(3), pe.Code)

	require.True(t, coalErrors.IsRetryable(wrapped))
	require.True(t, coalErrors.IsRetryable(ErrNeedsReset))
	require.False(t, coalErrors.IsRetryable(ErrHashTooEasy))
	require.True(t, coalErrors.IsType(ErrMaxSupply, coalErrors.ErrorTypeEconomic))
	require.True(t, coalErrors.IsType(ErrArithmeticOverflow, coalErrors.ErrorTypeAccountData))

	got, ok := LookupCode(ErrAuthFailed.Code)
	require.True(t, ok)
	require.Equal(t, ErrAuthFailed, got)

	_, ok = AsProgramError(errors.New("plain"))
	require.False(t, ok)
}

func TestErrorCodesDistinct(t *testing.T) {
	seen := map[Code]string{}
	for code, e := range byCode {
		require.Equal(t, code, e.Code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %d", code)
		seen[code] = e.Name
	}
	require.Len(t, seen, 17)
}

func TestResources(t *testing.T) {
	tests := []struct {
		name       string
		occurrence int
		seed       string
		policy     TotalRewardsPolicy
	}{
		{"coal", 2, "", TotalRewardsPayable},
		{"wood", 1, "wood", TotalRewardsUncapped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ResourceByName(tt.name)
			require.NoError(t, err)
			require.NoError(t, r.Validate())
			require.Equal(t, tt.name, r.Name())
			require.Equal(t, tt.occurrence, r.MarkerOccurrence)
			require.Equal(t, tt.seed, string(r.ChallengeSeed))
			require.Equal(t, tt.policy, r.TotalRewards)
			require.Equal(t, tt.name+"_bus", string(r.Seed(SeedBus)))

			byKind, err := ResourceByKind(r.Kind)
			require.NoError(t, err)
			require.Equal(t, r.Kind, byKind.Kind)
		})
	}

	_, err := ResourceByName("chromium")
	require.ErrorIs(t, err, ErrInvalidResource)

	bad := Coal()
	bad.MarkerOccurrence = 0
	require.Error(t, bad.Validate())
}

func TestParseTotalRewardsPolicy(t *testing.T) {
	p, err := ParseTotalRewardsPolicy("reward")
	require.NoError(t, err)
	require.Equal(t, TotalRewardsUncapped, p)

	p, err = ParseTotalRewardsPolicy("")
	require.NoError(t, err)
	require.Equal(t, TotalRewardsPayable, p)

	_, err = ParseTotalRewardsPolicy("both")
	require.Error(t, err)
}

func TestConstants(t *testing.T) {
	require.Equal(t, MaxEpochRewards, BusEpochRewards*BusCount)
	require.Equal(t, uint64(8192), BaseRewardRateMaxThreshold)
	require.Equal(t, uint64(20), uint64(MaxHalvingSteps))
}
