package program

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/protocol"
)

// Reset account positions. The buses occupy resetFirstBus through
// resetFirstBus+BusCount-1 in id order.
const (
	resetSigner        = 0
	resetFirstBus      = 1
	resetConfig        = resetFirstBus + protocol.BusCount
	resetMint          = resetConfig + 1
	resetTreasury      = resetConfig + 2
	resetTreasuryToken = resetConfig + 3
	resetTokenProgram  = resetConfig + 4

	resetRequiredAccounts = resetTokenProgram + 1
)

func (p *Processor) reset(ctx *Context, accounts []*AccountInfo, args []byte) ([]byte, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("%w: reset takes no arguments", protocol.ErrInvalidInstructionData)
	}
	if len(accounts) < resetRequiredAccounts {
		return nil, fmt.Errorf("%w: reset got %d accounts", protocol.ErrNotEnoughAccountKeys, len(accounts))
	}
	if err := loadSigner(accounts[resetSigner]); err != nil {
		return nil, err
	}

	buses := make([]*account.Bus, protocol.BusCount)
	for i := range buses {
		bus, err := p.loadBusAt(accounts[resetFirstBus+i], uint64(i), true)
		if err != nil {
			return nil, err
		}
		buses[i] = bus
	}
	cfg, err := p.loadConfig(accounts[resetConfig], true)
	if err != nil {
		return nil, err
	}

	mint := accounts[resetMint]
	if err := expectKey(mint, p.MintAddress()); err != nil {
		return nil, err
	}
	if err := loadWritable(mint, true); err != nil {
		return nil, err
	}
	supply, err := account.MintSupply(mint.Data)
	if err != nil {
		return nil, err
	}
	treasury := accounts[resetTreasury]
	if err := expectKey(treasury, p.TreasuryAddress()); err != nil {
		return nil, err
	}
	treasuryTokens := accounts[resetTreasuryToken]
	if err := expectKey(treasuryTokens, p.TreasuryTokensAddress()); err != nil {
		return nil, err
	}
	if err := loadWritable(treasuryTokens, true); err != nil {
		return nil, err
	}
	if accounts[resetTokenProgram].Key != TokenProgramID {
		return nil, fmt.Errorf("%w: token program %s", protocol.ErrIncorrectProgramID, accounts[resetTokenProgram].Key)
	}

	out, err := epoch.Reset(ctx.Clock.UnixTimestamp, cfg, buses, supply, p.Epoch)
	if err != nil {
		return nil, err
	}
	if out.Skipped {
		return nil, nil
	}

	if out.MintAmount > 0 {
		if ctx.TokenProgram == nil {
			return nil, fmt.Errorf("%w: no token program available", protocol.ErrIncorrectProgramID)
		}
		if err := ctx.TokenProgram.MintTo(mint, treasuryTokens, treasury, out.MintAmount); err != nil {
			return nil, err
		}
	}

	for i, bus := range buses {
		store(accounts[resetFirstBus+i], bus.Encode())
	}
	store(accounts[resetConfig], cfg.Encode())

	return ResetEvent{
		LastResetAt:        cfg.LastResetAt,
		HalvingFactor:      out.HalvingFactor,
		TheoreticalRewards: out.TheoreticalRewards,
		RemainingRewards:   out.RemainingRewards,
		TopBalance:         out.TopBalance,
		BaseRewardRate:     out.NewRate,
		MinDifficulty:      out.MinDifficulty,
		MintAmount:         out.MintAmount,
	}.Encode(), nil
}
