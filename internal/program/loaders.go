package program

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/protocol"
)

func loadSigner(info *AccountInfo) error {
	if !info.IsSigner {
		return fmt.Errorf("%w: %s", protocol.ErrMissingRequiredSignature, info.Key)
	}
	return nil
}

func loadWritable(info *AccountInfo, writable bool) error {
	if writable && !info.IsWritable {
		return fmt.Errorf("%w: %s", protocol.ErrAccountNotWritable, info.Key)
	}
	return nil
}

func (p *Processor) loadOwned(info *AccountInfo, writable bool) error {
	if info.Owner != p.ID {
		return fmt.Errorf("%w: %s owned by %s", protocol.ErrInvalidAccountOwner, info.Key, info.Owner)
	}
	return loadWritable(info, writable)
}

func expectKey(info *AccountInfo, want account.Pubkey) error {
	if info.Key != want {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrInvalidSeeds, want, info.Key)
	}
	return nil
}

func loadSysvar(info *AccountInfo, id account.Pubkey) error {
	if info.Key != id {
		return fmt.Errorf("%w: expected sysvar %s, got %s", protocol.ErrInvalidAccountData, id, info.Key)
	}
	return nil
}

// loadBus accepts any of the shards.
func (p *Processor) loadBus(info *AccountInfo, writable bool) (*account.Bus, error) {
	if err := p.loadOwned(info, writable); err != nil {
		return nil, err
	}
	bus, err := account.DecodeBus(info.Data)
	if err != nil {
		return nil, err
	}
	if bus.ID >= protocol.BusCount {
		return nil, fmt.Errorf("%w: bus id %d", protocol.ErrInvalidAccountData, bus.ID)
	}
	if err := expectKey(info, p.BusAddress(bus.ID)); err != nil {
		return nil, err
	}
	return bus, nil
}

func (p *Processor) loadBusAt(info *AccountInfo, id uint64, writable bool) (*account.Bus, error) {
	bus, err := p.loadBus(info, writable)
	if err != nil {
		return nil, err
	}
	if bus.ID != id {
		return nil, fmt.Errorf("%w: bus %d at position %d", protocol.ErrInvalidAccountData, bus.ID, id)
	}
	return bus, nil
}

func (p *Processor) loadConfig(info *AccountInfo, writable bool) (*account.Config, error) {
	if err := p.loadOwned(info, writable); err != nil {
		return nil, err
	}
	if err := expectKey(info, p.ConfigAddress()); err != nil {
		return nil, err
	}
	return account.DecodeConfig(info.Data)
}

// loadProof requires the proof to belong to authority.
func (p *Processor) loadProof(info *AccountInfo, authority account.Pubkey, writable bool) (*account.Proof, error) {
	if err := p.loadOwned(info, writable); err != nil {
		return nil, err
	}
	proof, err := account.DecodeProof(info.Data)
	if err != nil {
		return nil, err
	}
	if proof.Authority != authority {
		return nil, fmt.Errorf("%w: proof belongs to %s", protocol.ErrInvalidAccountData, proof.Authority)
	}
	if err := expectKey(info, p.ProofAddress(authority)); err != nil {
		return nil, err
	}
	return proof, nil
}

// loadTool returns nil when the slot is present but holds no tool.
func (p *Processor) loadTool(info *AccountInfo, authority account.Pubkey, writable bool) (*account.Tool, error) {
	if info.DataIsEmpty() {
		return nil, nil
	}
	if err := p.loadOwned(info, writable); err != nil {
		return nil, err
	}
	tool, err := account.DecodeTool(info.Data)
	if err != nil {
		return nil, err
	}
	if tool.Authority != authority {
		return nil, fmt.Errorf("%w: tool equipped by %s", protocol.ErrToolNotOwned, tool.Authority)
	}
	if err := expectKey(info, p.ToolAddress(authority)); err != nil {
		return nil, err
	}
	return tool, nil
}

// loadGuild reads the read-only group views. Ownership is checked against
// GuildProgramID when one is configured.
func (p *Processor) loadGuild(cfgInfo, memberInfo *AccountInfo, authority account.Pubkey) (*account.GuildConfig, *account.GuildMember, error) {
	if !p.GuildProgramID.IsZero() {
		for _, info := range []*AccountInfo{cfgInfo, memberInfo} {
			if info.Owner != p.GuildProgramID {
				return nil, nil, fmt.Errorf("%w: %s owned by %s", protocol.ErrInvalidAccountOwner, info.Key, info.Owner)
			}
		}
	}
	cfg, err := account.DecodeGuildConfig(cfgInfo.Data)
	if err != nil {
		return nil, nil, err
	}
	member, err := account.DecodeGuildMember(memberInfo.Data)
	if err != nil {
		return nil, nil, err
	}
	if member.Authority != authority || member.Guild != cfgInfo.Key {
		return nil, nil, fmt.Errorf("%w: guild member %s", protocol.ErrInvalidAccountData, memberInfo.Key)
	}
	return cfg, member, nil
}
