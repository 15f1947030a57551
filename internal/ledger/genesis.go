package ledger

import (
	"errors"
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
)

// ErrAlreadyExists is returned when a bootstrap helper would overwrite an account.
var ErrAlreadyExists = errors.New("ledger: account already exists")

func (b *Bank) create(key, owner account.Pubkey, data []byte) error {
	if _, ok := b.Account(key); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	b.SetAccount(key, owner, data)
	return nil
}

// Genesis registers p and creates its config, buses, mint, treasury and
// treasury token account. The config starts with LastResetAt zero, so the
// first transaction against the track must be a reset.
func (b *Bank) Genesis(p *program.Processor) error {
	if _, ok := b.slots.Newest(); !ok {
		b.slots.Tick()
	}

	cfg := &account.Config{
		BaseRewardRate: protocol.InitialBaseRewardRate,
		MinDifficulty:  protocol.InitialMinDifficulty,
	}
	if err := b.create(p.ConfigAddress(), p.ID, cfg.Encode()); err != nil {
		return err
	}
	for i := range uint64(protocol.BusCount) {
		bus := &account.Bus{ID: i}
		if err := b.create(p.BusAddress(i), p.ID, bus.Encode()); err != nil {
			return err
		}
	}

	mint := &account.Mint{
		Authority:   p.TreasuryAddress(),
		Decimals:    protocol.TokenDecimals,
		Initialized: true,
	}
	if err := b.create(p.MintAddress(), program.TokenProgramID, mint.Encode()); err != nil {
		return err
	}
	if err := b.create(p.TreasuryAddress(), p.ID, nil); err != nil {
		return err
	}
	tokens := &account.TokenAccount{
		Mint:  p.MintAddress(),
		Owner: p.TreasuryAddress(),
		State: account.TokenAccountInitialized,
	}
	if err := b.create(p.TreasuryTokensAddress(), program.TokenProgramID, tokens.Encode()); err != nil {
		return err
	}

	b.Register(p.ID, p)
	return nil
}

// OpenProof creates authority's proof with a challenge bound to the newest
// slot hash. The miner must wait one interval before the first submission.
func (b *Bank) OpenProof(p *program.Processor, authority account.Pubkey) (*account.Proof, error) {
	newest, _ := b.slots.Newest()
	now := b.now().Unix()
	proof := &account.Proof{
		Authority:   authority,
		Challenge:   pow.Keccak(authority[:], newest.Hash[:]),
		LastHashAt:  now,
		LastStakeAt: now,
	}
	if err := b.create(p.ProofAddress(authority), p.ID, proof.Encode()); err != nil {
		return nil, err
	}
	return proof, nil
}

// EquipTool creates authority's tool. Multiplier is stored as given; the
// mining instruction clamps it to the track's range.
func (b *Bank) EquipTool(p *program.Processor, authority, asset account.Pubkey, durability, multiplier uint64) (*account.Tool, error) {
	tool := &account.Tool{
		Authority:  authority,
		Miner:      authority,
		Asset:      asset,
		Durability: durability,
		Multiplier: multiplier,
	}
	if err := b.create(p.ToolAddress(authority), p.ID, tool.Encode()); err != nil {
		return nil, err
	}
	return tool, nil
}
