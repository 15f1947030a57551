package account

// Proof is a miner's challenge and accrued balance for one resource track.
type Proof struct {
	Authority    Pubkey
	Challenge    Hash
	LastHash     Hash
	LastHashAt   int64
	LastStakeAt  int64
	Balance      uint64
	TotalHashes  uint64
	TotalRewards uint64
}

// Bus is one shard of the per-epoch reward budget.
type Bus struct {
	ID                 uint64
	Rewards            uint64
	TheoreticalRewards uint64
	TopBalance         uint64
}

// Config is the singleton holding the controller's tunables.
type Config struct {
	LastResetAt    int64
	BaseRewardRate uint64
	MinDifficulty  uint64
	TopBalance     uint64
}

// Tool is an equipped asset amplifying a miner's rewards.
type Tool struct {
	Authority  Pubkey
	Miner      Pubkey
	Asset      Pubkey
	Durability uint64
	Multiplier uint64
}

// GuildConfig is the staking group's aggregate view.
type GuildConfig struct {
	TotalStake      uint64
	TotalMultiplier uint64
}

// GuildMember is one miner's stake in a group.
type GuildMember struct {
	Authority Pubkey
	Guild     Pubkey
	Stake     uint64
}

// Encode serializes the proof into its account layout.
func (p *Proof) Encode() []byte {
	w := newWriter(DiscriminatorProof, ProofSize)
	w.key([32]byte(p.Authority))
	w.key([32]byte(p.Challenge))
	w.key([32]byte(p.LastHash))
	w.i64(p.LastHashAt)
	w.i64(p.LastStakeAt)
	w.u64(p.Balance)
	w.u64(p.TotalHashes)
	w.u64(p.TotalRewards)
	return w.buf
}

// DecodeProof parses a proof account.
func DecodeProof(data []byte) (*Proof, error) {
	if err := checkHeader(data, DiscriminatorProof, ProofSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &Proof{
		Authority:    Pubkey(r.key()),
		Challenge:    Hash(r.key()),
		LastHash:     Hash(r.key()),
		LastHashAt:   r.i64(),
		LastStakeAt:  r.i64(),
		Balance:      r.u64(),
		TotalHashes:  r.u64(),
		TotalRewards: r.u64(),
	}, nil
}

// Encode serializes the bus into its account layout.
func (b *Bus) Encode() []byte {
	w := newWriter(DiscriminatorBus, BusSize)
	w.u64(b.ID)
	w.u64(b.Rewards)
	w.u64(b.TheoreticalRewards)
	w.u64(b.TopBalance)
	return w.buf
}

// DecodeBus parses a bus account.
func DecodeBus(data []byte) (*Bus, error) {
	if err := checkHeader(data, DiscriminatorBus, BusSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &Bus{
		ID:                 r.u64(),
		Rewards:            r.u64(),
		TheoreticalRewards: r.u64(),
		TopBalance:         r.u64(),
	}, nil
}

// Encode serializes the config into its account layout.
func (c *Config) Encode() []byte {
	w := newWriter(DiscriminatorConfig, ConfigSize)
	w.i64(c.LastResetAt)
	w.u64(c.BaseRewardRate)
	w.u64(c.MinDifficulty)
	w.u64(c.TopBalance)
	return w.buf
}

// DecodeConfig parses the config account.
func DecodeConfig(data []byte) (*Config, error) {
	if err := checkHeader(data, DiscriminatorConfig, ConfigSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &Config{
		LastResetAt:    r.i64(),
		BaseRewardRate: r.u64(),
		MinDifficulty:  r.u64(),
		TopBalance:     r.u64(),
	}, nil
}

// Encode serializes the tool into its account layout.
func (t *Tool) Encode() []byte {
	w := newWriter(DiscriminatorTool, ToolSize)
	w.key([32]byte(t.Authority))
	w.key([32]byte(t.Miner))
	w.key([32]byte(t.Asset))
	w.u64(t.Durability)
	w.u64(t.Multiplier)
	return w.buf
}

// DecodeTool parses a tool account.
func DecodeTool(data []byte) (*Tool, error) {
	if err := checkHeader(data, DiscriminatorTool, ToolSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &Tool{
		Authority:  Pubkey(r.key()),
		Miner:      Pubkey(r.key()),
		Asset:      Pubkey(r.key()),
		Durability: r.u64(),
		Multiplier: r.u64(),
	}, nil
}

// Encode serializes the guild config view.
func (g *GuildConfig) Encode() []byte {
	w := newWriter(DiscriminatorGuildConfig, GuildConfigSize)
	w.u64(g.TotalStake)
	w.u64(g.TotalMultiplier)
	return w.buf
}

// DecodeGuildConfig parses a guild config account.
func DecodeGuildConfig(data []byte) (*GuildConfig, error) {
	if err := checkHeader(data, DiscriminatorGuildConfig, GuildConfigSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &GuildConfig{TotalStake: r.u64(), TotalMultiplier: r.u64()}, nil
}

// Encode serializes the guild member view.
func (m *GuildMember) Encode() []byte {
	w := newWriter(DiscriminatorGuildMember, GuildMemberSize)
	w.key([32]byte(m.Authority))
	w.key([32]byte(m.Guild))
	w.u64(m.Stake)
	return w.buf
}

// DecodeGuildMember parses a guild member account.
func DecodeGuildMember(data []byte) (*GuildMember, error) {
	if err := checkHeader(data, DiscriminatorGuildMember, GuildMemberSize); err != nil {
		return nil, err
	}
	r := newReader(data)
	return &GuildMember{
		Authority: Pubkey(r.key()),
		Guild:     Pubkey(r.key()),
		Stake:     r.u64(),
	}, nil
}
