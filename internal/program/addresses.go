package program

import (
	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/protocol"
)

// ConfigAddress returns the config singleton's address.
func (p *Processor) ConfigAddress() account.Pubkey {
	return account.DeriveAddress(p.ID, p.Resource.Seed(protocol.SeedConfig))
}

// BusAddress returns the address of bus shard id.
func (p *Processor) BusAddress(id uint64) account.Pubkey {
	return account.DeriveAddress(p.ID, p.Resource.Seed(protocol.SeedBus), []byte{byte(id)})
}

// BusAddresses returns every shard's address in id order.
func (p *Processor) BusAddresses() []account.Pubkey {
	out := make([]account.Pubkey, protocol.BusCount)
	for i := range out {
		out[i] = p.BusAddress(uint64(i))
	}
	return out
}

// ProofAddress returns authority's proof address on this track.
func (p *Processor) ProofAddress(authority account.Pubkey) account.Pubkey {
	return account.DeriveAddress(p.ID, p.Resource.Seed(protocol.SeedProof), authority[:])
}

// ToolAddress returns authority's equipped tool address on this track.
func (p *Processor) ToolAddress(authority account.Pubkey) account.Pubkey {
	return account.DeriveAddress(p.ID, p.Resource.Seed(protocol.SeedTool), authority[:])
}

// MintAddress returns the token mint's address.
func (p *Processor) MintAddress() account.Pubkey {
	return account.DeriveAddress(p.ID, p.Resource.Seed(protocol.SeedMint))
}

// TreasuryAddress returns the treasury authority's address.
func (p *Processor) TreasuryAddress() account.Pubkey {
	return account.DeriveAddress(p.ID, []byte(protocol.SeedTreasury))
}

// TreasuryTokensAddress returns the treasury's token account for the mint.
func (p *Processor) TreasuryTokensAddress() account.Pubkey {
	treasury, mint := p.TreasuryAddress(), p.MintAddress()
	return account.DeriveAddress(TokenProgramID, treasury[:], mint[:])
}

// DefaultProgramID returns the built-in deployment address for resource.
func DefaultProgramID(resource protocol.Resource) account.Pubkey {
	return account.DeriveAddress(SystemProgramID, []byte("gocoal"), []byte(resource.Name()))
}
