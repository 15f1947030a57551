package program

import (
	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/introspect"
	"github.com/bardlex/gocoal/internal/pow"
)

// MineOptions selects the optional trailing mine accounts.
type MineOptions struct {
	// Tool adds the signer's tool account.
	Tool bool

	// GuildConfig and GuildMember add the staking group views. Tool is
	// implied because the accounts are positional.
	GuildConfig *account.Pubkey
	GuildMember *account.Pubkey
}

// MineInstruction builds a mine instruction for signer on bus busID.
func (p *Processor) MineInstruction(signer account.Pubkey, busID uint64, solution pow.Solution, opts MineOptions) introspect.Instruction {
	metas := []introspect.AccountMeta{
		{Pubkey: signer, IsSigner: true, IsWritable: true},
		{Pubkey: p.BusAddress(busID), IsWritable: true},
		{Pubkey: p.ConfigAddress()},
		{Pubkey: p.ProofAddress(signer), IsWritable: true},
		{Pubkey: InstructionsSysvarID},
		{Pubkey: SlotHashesSysvarID},
	}
	withGuild := opts.GuildConfig != nil && opts.GuildMember != nil
	if opts.Tool || withGuild {
		metas = append(metas, introspect.AccountMeta{Pubkey: p.ToolAddress(signer), IsWritable: true})
	}
	if withGuild {
		metas = append(metas,
			introspect.AccountMeta{Pubkey: *opts.GuildConfig},
			introspect.AccountMeta{Pubkey: *opts.GuildMember},
		)
	}

	data := append([]byte{byte(TagMine)}, solution.Encode()...)
	return introspect.Instruction{ProgramID: p.ID, Accounts: metas, Data: data}
}

// MineTransaction returns the instructions of a mine submission: the marker
// instructions the resource's binder expects, followed by the mine itself.
// Markers ahead of the binding one commit to the signer.
func (p *Processor) MineTransaction(signer account.Pubkey, busID uint64, solution pow.Solution, opts MineOptions) []introspect.Instruction {
	out := make([]introspect.Instruction, 0, p.Resource.MarkerOccurrence+1)
	for range p.Resource.MarkerOccurrence - 1 {
		out = append(out, introspect.MarkerInstruction(signer))
	}
	out = append(out, introspect.MarkerInstruction(p.ProofAddress(signer)))
	return append(out, p.MineInstruction(signer, busID, solution, opts))
}

// ResetInstruction builds the epoch reset instruction.
func (p *Processor) ResetInstruction(signer account.Pubkey) introspect.Instruction {
	metas := []introspect.AccountMeta{{Pubkey: signer, IsSigner: true, IsWritable: true}}
	for _, bus := range p.BusAddresses() {
		metas = append(metas, introspect.AccountMeta{Pubkey: bus, IsWritable: true})
	}
	metas = append(metas,
		introspect.AccountMeta{Pubkey: p.ConfigAddress(), IsWritable: true},
		introspect.AccountMeta{Pubkey: p.MintAddress(), IsWritable: true},
		introspect.AccountMeta{Pubkey: p.TreasuryAddress()},
		introspect.AccountMeta{Pubkey: p.TreasuryTokensAddress(), IsWritable: true},
		introspect.AccountMeta{Pubkey: TokenProgramID},
	)
	return introspect.Instruction{ProgramID: p.ID, Accounts: metas, Data: []byte{byte(TagReset)}}
}
