package program

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/introspect"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/internal/reward"
)

// Mine account positions.
const (
	mineSigner = iota
	mineBus
	mineConfig
	mineProof
	mineInstructions
	mineSlotHashes
	mineTool
	mineGuildConfig
	mineGuildMember

	mineRequiredAccounts = mineTool
)

func (p *Processor) mine(ctx *Context, accounts []*AccountInfo, args []byte) ([]byte, error) {
	solution, err := pow.DecodeSolution(args)
	if err != nil {
		return nil, err
	}
	if len(accounts) < mineRequiredAccounts || len(accounts) == mineGuildMember {
		return nil, fmt.Errorf("%w: mine got %d accounts", protocol.ErrNotEnoughAccountKeys, len(accounts))
	}

	signer := accounts[mineSigner]
	if err := loadSigner(signer); err != nil {
		return nil, err
	}
	bus, err := p.loadBus(accounts[mineBus], true)
	if err != nil {
		return nil, err
	}
	cfg, err := p.loadConfig(accounts[mineConfig], false)
	if err != nil {
		return nil, err
	}
	proofInfo := accounts[mineProof]
	proof, err := p.loadProof(proofInfo, signer.Key, true)
	if err != nil {
		return nil, err
	}
	if err := loadSysvar(accounts[mineInstructions], InstructionsSysvarID); err != nil {
		return nil, err
	}
	if err := loadSysvar(accounts[mineSlotHashes], SlotHashesSysvarID); err != nil {
		return nil, err
	}

	var tool *account.Tool
	if len(accounts) > mineTool {
		if tool, err = p.loadTool(accounts[mineTool], signer.Key, true); err != nil {
			return nil, err
		}
	}
	var group *reward.GroupInput
	if len(accounts) > mineGuildMember {
		gc, gm, err := p.loadGuild(accounts[mineGuildConfig], accounts[mineGuildMember], signer.Key)
		if err != nil {
			return nil, err
		}
		group = &reward.GroupInput{Stake: gm.Stake, TotalStake: gc.TotalStake, TotalMultiplier: gc.TotalMultiplier}
	}

	if err := introspect.Authenticate(ctx.Instructions, proofInfo.Key, introspect.NoopProgramID, p.Resource.MarkerOccurrence); err != nil {
		return nil, err
	}

	now := ctx.Clock.UnixTimestamp
	if epoch.Due(cfg.LastResetAt, now, p.Resource.EpochDuration) {
		return nil, protocol.ErrNeedsReset
	}
	if !solution.IsValid(proof.Challenge) {
		return nil, protocol.ErrHashInvalid
	}
	target := protocol.SaturatingAddInt64(proof.LastHashAt, protocol.OneMinute)
	if now < target-protocol.Tolerance {
		return nil, fmt.Errorf("%w: %ds early", protocol.ErrSpam, target-now)
	}
	hash, difficulty, err := pow.Validate(proof.Challenge, solution, cfg.MinDifficulty)
	if err != nil {
		return nil, err
	}

	in := reward.Inputs{
		Now:            now,
		BaseRewardRate: cfg.BaseRewardRate,
		MinDifficulty:  cfg.MinDifficulty,
		Difficulty:     difficulty,
		TopBalance:     cfg.TopBalance,
		ProofBalance:   proof.Balance,
		LastHashAt:     proof.LastHashAt,
		LastStakeAt:    proof.LastStakeAt,
		BusRewards:     bus.Rewards,
		BusTopBalance:  bus.TopBalance,
		Group:          group,
	}
	if tool != nil {
		in.Tool = &reward.ToolInput{Durability: tool.Durability, Multiplier: tool.Multiplier}
	}
	b, err := reward.Compose(in, p.Resource)
	if err != nil {
		return nil, err
	}

	challenge, err := NextChallenge(p.Resource.ChallengeSeed, hash, ctx.SlotHashes)
	if err != nil {
		return nil, err
	}
	if err := settle(b, p.Resource.TotalRewards, bus, proof, tool); err != nil {
		return nil, err
	}
	advance(proof, hash, challenge, now, target)

	store(accounts[mineBus], bus.Encode())
	store(proofInfo, proof.Encode())
	if tool != nil {
		store(accounts[mineTool], tool.Encode())
	}

	return MineEvent{
		Difficulty:  uint64(difficulty),
		Reward:      b.Payable,
		Timing:      b.Liveness.Timing,
		ToolReward:  b.ToolBonus,
		StakeReward: b.StakeReward,
		GroupReward: b.GroupReward,
	}.Encode(), nil
}
