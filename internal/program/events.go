package program

import (
	"encoding/binary"
	"fmt"

	"github.com/bardlex/gocoal/internal/protocol"
)

// Return data sizes.
const (
	MineEventSize  = 6 * 8
	ResetEventSize = 8 * 8
)

// MineEvent is the return data of a successful mine instruction.
type MineEvent struct {
	Difficulty  uint64
	Reward      uint64 // credited amount
	Timing      int64  // seconds past the liveness deadline, negative when early
	ToolReward  uint64
	StakeReward uint64
	GroupReward uint64
}

// Encode returns the little-endian return data.
func (e MineEvent) Encode() []byte {
	buf := make([]byte, 0, MineEventSize)
	buf = binary.LittleEndian.AppendUint64(buf, e.Difficulty)
	buf = binary.LittleEndian.AppendUint64(buf, e.Reward)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timing))
	buf = binary.LittleEndian.AppendUint64(buf, e.ToolReward)
	buf = binary.LittleEndian.AppendUint64(buf, e.StakeReward)
	return binary.LittleEndian.AppendUint64(buf, e.GroupReward)
}

// DecodeMineEvent parses mine return data.
func DecodeMineEvent(data []byte) (MineEvent, error) {
	if len(data) != MineEventSize {
		return MineEvent{}, fmt.Errorf("%w: mine event is %d bytes", protocol.ErrInvalidInstructionData, len(data))
	}
	u := func(i int) uint64 { return binary.LittleEndian.Uint64(data[8*i:]) }
	return MineEvent{
		Difficulty:  u(0),
		Reward:      u(1),
		Timing:      int64(u(2)),
		ToolReward:  u(3),
		StakeReward: u(4),
		GroupReward: u(5),
	}, nil
}

// ResetEvent is the return data of a reset that closed an epoch. A reset
// before the epoch elapsed returns no data.
type ResetEvent struct {
	LastResetAt        int64
	HalvingFactor      uint64
	TheoreticalRewards uint64
	RemainingRewards   uint64
	TopBalance         uint64
	BaseRewardRate     uint64
	MinDifficulty      uint64
	MintAmount         uint64
}

// Encode returns the little-endian return data.
func (e ResetEvent) Encode() []byte {
	buf := make([]byte, 0, ResetEventSize)
	for _, v := range []uint64{
		uint64(e.LastResetAt), e.HalvingFactor, e.TheoreticalRewards, e.RemainingRewards,
		e.TopBalance, e.BaseRewardRate, e.MinDifficulty, e.MintAmount,
	} {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

// DecodeResetEvent parses reset return data.
func DecodeResetEvent(data []byte) (ResetEvent, error) {
	if len(data) != ResetEventSize {
		return ResetEvent{}, fmt.Errorf("%w: reset event is %d bytes", protocol.ErrInvalidInstructionData, len(data))
	}
	u := func(i int) uint64 { return binary.LittleEndian.Uint64(data[8*i:]) }
	return ResetEvent{
		LastResetAt:        int64(u(0)),
		HalvingFactor:      u(1),
		TheoreticalRewards: u(2),
		RemainingRewards:   u(3),
		TopBalance:         u(4),
		BaseRewardRate:     u(5),
		MinDifficulty:      u(6),
		MintAmount:         u(7),
	}, nil
}
