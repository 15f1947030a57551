package program

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/introspect"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/protocol"
)

const now int64 = 1_700_000_000

var programID = account.Pubkey(pow.Keccak([]byte("mining program")))

func testKey(label string) account.Pubkey {
	return account.Pubkey(pow.Keccak([]byte(label)))
}

func slotHashesData() []byte {
	buf := binary.LittleEndian.AppendUint64(nil, 1)
	buf = binary.LittleEndian.AppendUint64(buf, 4242)
	h := pow.Keccak([]byte("slot 4242"))
	return append(buf, h[:]...)
}

func newProcessor(t *testing.T, r protocol.Resource) *Processor {
	t.Helper()
	p, err := NewProcessor(programID, r)
	require.NoError(t, err)
	return p
}

// mineFixture holds the records of one miner about to submit.
type mineFixture struct {
	p      *Processor
	signer account.Pubkey
	config account.Config
	bus    account.Bus
	proof  account.Proof
	tool   *account.Tool
}

func newMineFixture(t *testing.T, r protocol.Resource) *mineFixture {
	signer := testKey("miner")
	return &mineFixture{
		p:      newProcessor(t, r),
		signer: signer,
		config: account.Config{LastResetAt: now - 10, BaseRewardRate: 1000, MinDifficulty: 1},
		bus:    account.Bus{ID: 3, Rewards: 1_000_000_000},
		proof: account.Proof{
			Authority:  signer,
			Challenge:  pow.Keccak([]byte("challenge")),
			LastHashAt: now - 60,
		},
	}
}

func (f *mineFixture) solve(t *testing.T) (pow.Solution, uint32) {
	t.Helper()
	s, d, err := pow.Solve(context.Background(), f.proof.Challenge, 1, 0, 1<<16)
	require.NoError(t, err)
	return s, d
}

func (f *mineFixture) accounts() []*AccountInfo {
	infos := []*AccountInfo{
		{Key: f.signer, IsSigner: true, IsWritable: true},
		{Key: f.p.BusAddress(f.bus.ID), Owner: programID, IsWritable: true, Data: f.bus.Encode()},
		{Key: f.p.ConfigAddress(), Owner: programID, Data: f.config.Encode()},
		{Key: f.p.ProofAddress(f.signer), Owner: programID, IsWritable: true, Data: f.proof.Encode()},
		{Key: InstructionsSysvarID},
		{Key: SlotHashesSysvarID, Data: slotHashesData()},
	}
	if f.tool != nil {
		infos = append(infos, &AccountInfo{
			Key: f.p.ToolAddress(f.signer), Owner: programID, IsWritable: true, Data: f.tool.Encode(),
		})
	}
	return infos
}

// context builds the transaction context for a lone submission by the fixture's miner.
func (f *mineFixture) context(s pow.Solution) *Context {
	txs := f.p.MineTransaction(f.signer, f.bus.ID, s, MineOptions{Tool: f.tool != nil})
	return &Context{
		Clock:        Clock{Slot: 4243, UnixTimestamp: now},
		SlotHashes:   slotHashesData(),
		Instructions: introspect.Encode(txs, len(txs)-1),
	}
}

func mineData(s pow.Solution) []byte {
	return append([]byte{byte(TagMine)}, s.Encode()...)
}

func TestMineCreditsProof(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	s, d := f.solve(t)
	infos := f.accounts()

	ret, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)

	ev, err := DecodeMineEvent(ret)
	require.NoError(t, err)
	want := uint64(1000) << (d - 1)
	require.Equal(t, uint64(d), ev.Difficulty)
	require.Equal(t, want, ev.Reward)
	require.Equal(t, -protocol.Tolerance, ev.Timing)
	require.Zero(t, ev.ToolReward+ev.StakeReward+ev.GroupReward)

	bus, err := account.DecodeBus(infos[mineBus].Data)
	require.NoError(t, err)
	require.Equal(t, f.bus.Rewards-want, bus.Rewards)
	require.Equal(t, want, bus.TheoreticalRewards)

	proof, err := account.DecodeProof(infos[mineProof].Data)
	require.NoError(t, err)
	require.Equal(t, want, proof.Balance)
	require.Equal(t, want, proof.TotalRewards)
	require.Equal(t, uint64(1), proof.TotalHashes)
	require.Equal(t, now, proof.LastHashAt)
	require.Equal(t, s.Hash(), proof.LastHash)

	challenge, err := NextChallenge(nil, s.Hash(), slotHashesData())
	require.NoError(t, err)
	require.Equal(t, challenge, proof.Challenge)
	require.NotEqual(t, f.proof.Challenge, proof.Challenge)
}

func TestMineEarlyWithinToleranceKeepsTargetSchedule(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	f.proof.LastHashAt = now - 57
	s, _ := f.solve(t)
	infos := f.accounts()

	_, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)

	proof, err := account.DecodeProof(infos[mineProof].Data)
	require.NoError(t, err)
	require.Equal(t, now+3, proof.LastHashAt)
}

func TestMineRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *mineFixture, s *pow.Solution, ctx *Context, infos []*AccountInfo)
		wantErr error
	}{
		{
			name: "spam",
			mutate: func(f *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				f.proof.LastHashAt = now - 30
				infos[mineProof].Data = f.proof.Encode()
			},
			wantErr: protocol.ErrSpam,
		},
		{
			name: "epoch elapsed",
			mutate: func(f *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				f.config.LastResetAt = now - 60
				infos[mineConfig].Data = f.config.Encode()
			},
			wantErr: protocol.ErrNeedsReset,
		},
		{
			name: "digest mismatch",
			mutate: func(_ *mineFixture, s *pow.Solution, _ *Context, _ []*AccountInfo) {
				s.Digest[0] ^= 0xff
			},
			wantErr: protocol.ErrHashInvalid,
		},
		{
			name: "below minimum difficulty",
			mutate: func(f *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				f.config.MinDifficulty = 256
				infos[mineConfig].Data = f.config.Encode()
			},
			wantErr: protocol.ErrHashTooEasy,
		},
		{
			name: "marker commits to another proof",
			mutate: func(f *mineFixture, s *pow.Solution, ctx *Context, _ []*AccountInfo) {
				txs := f.p.MineTransaction(testKey("someone else"), f.bus.ID, *s, MineOptions{})
				ctx.Instructions = introspect.Encode(txs, len(txs)-1)
			},
			wantErr: protocol.ErrAuthFailed,
		},
		{
			name: "missing signature",
			mutate: func(_ *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				infos[mineSigner].IsSigner = false
			},
			wantErr: protocol.ErrMissingRequiredSignature,
		},
		{
			name: "bus not owned by program",
			mutate: func(_ *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				infos[mineBus].Owner = testKey("impostor")
			},
			wantErr: protocol.ErrInvalidAccountOwner,
		},
		{
			name: "read-only proof",
			mutate: func(_ *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				infos[mineProof].IsWritable = false
			},
			wantErr: protocol.ErrAccountNotWritable,
		},
		{
			name: "wrong slot hashes sysvar",
			mutate: func(_ *mineFixture, _ *pow.Solution, _ *Context, infos []*AccountInfo) {
				infos[mineSlotHashes].Key = testKey("not a sysvar")
			},
			wantErr: protocol.ErrInvalidAccountData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMineFixture(t, protocol.Coal())
			s, _ := f.solve(t)
			infos := f.accounts()
			ctx := f.context(s)
			tt.mutate(f, &s, ctx, infos)

			before := make([][]byte, len(infos))
			for i, info := range infos {
				before[i] = append([]byte(nil), info.Data...)
			}

			ret, err := f.p.Process(ctx, programID, infos, mineData(s))
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, ret)
			for i, info := range infos {
				require.Equal(t, before[i], info.Data, "account %d modified", i)
			}
		})
	}
}

func TestMineBatchedSubmissionsFailBinding(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	other := testKey("second miner")
	s, _ := f.solve(t)

	// Two miners batched into one transaction: the second mine sees the first
	// miner's proof as the second marker.
	first := f.p.MineTransaction(f.signer, 0, s, MineOptions{})
	second := f.p.MineTransaction(other, 1, s, MineOptions{})
	txs := append(first, second...)

	f.signer = other
	f.proof.Authority = other
	ctx := &Context{
		Clock:        Clock{UnixTimestamp: now},
		SlotHashes:   slotHashesData(),
		Instructions: introspect.Encode(txs, len(txs)-1),
	}
	_, err := f.p.Process(ctx, programID, f.accounts(), mineData(s))
	require.ErrorIs(t, err, protocol.ErrAuthFailed)
}

func TestMineWithTool(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	f.tool = &account.Tool{Authority: f.signer, Miner: f.signer, Durability: 1 << 40, Multiplier: 50}
	s, d := f.solve(t)
	infos := f.accounts()

	ret, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)
	ev, err := DecodeMineEvent(ret)
	require.NoError(t, err)

	base := uint64(1000) << (d - 1)
	require.Equal(t, base/2, ev.ToolReward)
	require.Equal(t, base+base/2, ev.Reward)

	tool, err := account.DecodeTool(infos[mineTool].Data)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40)-base/2, tool.Durability)
}

func TestMineEventReportsFullToolBonus(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	f.tool = &account.Tool{Authority: f.signer, Miner: f.signer, Durability: 1 << 40, Multiplier: 50}
	s, d := f.solve(t)

	// The bus covers the base reward and only half of the tool bonus.
	base := uint64(1000) << (d - 1)
	f.bus.Rewards = base + base/4
	infos := f.accounts()

	ret, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)
	ev, err := DecodeMineEvent(ret)
	require.NoError(t, err)
	require.Equal(t, base/2, ev.ToolReward)
	require.Equal(t, base+base/4, ev.Reward)

	tool, err := account.DecodeTool(infos[mineTool].Data)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40)-base/4, tool.Durability, "only the covered part wears the tool")

	got, err := DecodeMineEvent(ev.Encode())
	require.NoError(t, err)
	require.Equal(t, ev, got)
}

func TestMineToolChecks(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	f.tool = &account.Tool{Authority: testKey("lender"), Durability: 100, Multiplier: 50}
	s, _ := f.solve(t)
	_, err := f.p.Process(f.context(s), programID, f.accounts(), mineData(s))
	require.ErrorIs(t, err, protocol.ErrToolNotOwned)

	// An empty tool slot is treated as no tool.
	f.tool = nil
	infos := append(f.accounts(), &AccountInfo{Key: f.p.ToolAddress(f.signer), IsWritable: true})
	ret, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)
	ev, err := DecodeMineEvent(ret)
	require.NoError(t, err)
	require.Zero(t, ev.ToolReward)
}

func TestMineWithGuild(t *testing.T) {
	f := newMineFixture(t, protocol.Coal())
	s, d := f.solve(t)

	guild := testKey("guild")
	member := testKey("member")
	infos := append(f.accounts(),
		&AccountInfo{Key: f.p.ToolAddress(f.signer), IsWritable: true},
		&AccountInfo{Key: guild, Data: (&account.GuildConfig{TotalStake: 4, TotalMultiplier: 2}).Encode()},
		&AccountInfo{Key: member, Data: (&account.GuildMember{Authority: f.signer, Guild: guild, Stake: 1}).Encode()},
	)

	ret, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)
	ev, err := DecodeMineEvent(ret)
	require.NoError(t, err)

	base := uint64(1000) << (d - 1)
	require.Equal(t, base/2, ev.GroupReward)
	require.Equal(t, base+base/2, ev.Reward)

	_, err = f.p.Process(f.context(s), programID, infos[:mineGuildMember], mineData(s))
	require.ErrorIs(t, err, protocol.ErrNotEnoughAccountKeys)
}

func TestMineWoodTrack(t *testing.T) {
	f := newMineFixture(t, protocol.Wood())
	s, _ := f.solve(t)
	infos := f.accounts()

	_, err := f.p.Process(f.context(s), programID, infos, mineData(s))
	require.NoError(t, err)

	proof, err := account.DecodeProof(infos[mineProof].Data)
	require.NoError(t, err)
	want, err := NextChallenge([]byte("wood"), s.Hash(), slotHashesData())
	require.NoError(t, err)
	require.Equal(t, want, proof.Challenge)

	coal, err := NextChallenge(nil, s.Hash(), slotHashesData())
	require.NoError(t, err)
	require.NotEqual(t, coal, proof.Challenge)
}

func TestNextChallengeEntropyWindow(t *testing.T) {
	hash := pow.Keccak([]byte("solution"))
	base := slotHashesData()
	want, err := NextChallenge(nil, hash, base)
	require.NoError(t, err)

	// count, slot and the first 24 hash bytes are mixed in
	for _, i := range []int{0, 8, 16, challengeEntropySize - 1} {
		data := append([]byte(nil), base...)
		data[i] ^= 0xff
		got, err := NextChallenge(nil, hash, data)
		require.NoError(t, err)
		require.NotEqual(t, want, got, "byte %d ignored", i)
	}

	// the rest of the newest hash is not
	data := append([]byte(nil), base...)
	data[challengeEntropySize] ^= 0xff
	got, err := NextChallenge(nil, hash, data)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = NextChallenge(nil, hash, base[:challengeEntropySize-1])
	require.ErrorIs(t, err, protocol.ErrInvalidAccountData)
}

func TestProcessDispatch(t *testing.T) {
	p := newProcessor(t, protocol.Coal())
	ctx := &Context{}

	_, err := p.Process(ctx, testKey("other program"), nil, []byte{byte(TagMine)})
	require.ErrorIs(t, err, protocol.ErrIncorrectProgramID)

	_, err = p.Process(ctx, programID, nil, nil)
	require.ErrorIs(t, err, protocol.ErrInvalidInstructionData)

	_, err = p.Process(ctx, programID, nil, []byte{9})
	require.ErrorIs(t, err, protocol.ErrInvalidInstructionData)

	_, err = p.Process(ctx, programID, nil, []byte{byte(TagMine), 1, 2})
	require.ErrorIs(t, err, protocol.ErrInvalidInstructionData)

	_, err = p.Process(ctx, programID, nil, append([]byte{byte(TagMine)}, make([]byte, pow.SolutionSize)...))
	require.ErrorIs(t, err, protocol.ErrNotEnoughAccountKeys)
}

type recordingMinter struct {
	minted uint64
	err    error
}

func (m *recordingMinter) MintTo(_, _, _ *AccountInfo, amount uint64) error {
	if m.err != nil {
		return m.err
	}
	m.minted += amount
	return nil
}

func resetAccounts(p *Processor, cfg account.Config, buses []account.Bus, supply uint64) []*AccountInfo {
	infos := []*AccountInfo{{Key: testKey("cranker"), IsSigner: true, IsWritable: true}}
	for i := range buses {
		infos = append(infos, &AccountInfo{
			Key: p.BusAddress(buses[i].ID), Owner: programID, IsWritable: true, Data: buses[i].Encode(),
		})
	}
	return append(infos,
		&AccountInfo{Key: p.ConfigAddress(), Owner: programID, IsWritable: true, Data: cfg.Encode()},
		&AccountInfo{Key: p.MintAddress(), Owner: TokenProgramID, IsWritable: true,
			Data: (&account.Mint{Authority: p.TreasuryAddress(), Supply: supply, Decimals: protocol.TokenDecimals, Initialized: true}).Encode()},
		&AccountInfo{Key: p.TreasuryAddress(), Owner: programID},
		&AccountInfo{Key: p.TreasuryTokensAddress(), Owner: TokenProgramID, IsWritable: true,
			Data: (&account.TokenAccount{Mint: p.MintAddress(), Owner: p.TreasuryAddress(), State: account.TokenAccountInitialized}).Encode()},
		&AccountInfo{Key: TokenProgramID},
	)
}

func spentBuses() []account.Bus {
	buses := make([]account.Bus, protocol.BusCount)
	for i := range buses {
		buses[i] = account.Bus{ID: uint64(i), Rewards: protocol.BusEpochRewards / 2, TheoreticalRewards: protocol.TargetEpochRewards / protocol.BusCount}
	}
	return buses
}

func TestResetMintsToTreasury(t *testing.T) {
	p := newProcessor(t, protocol.Coal())
	cfg := account.Config{LastResetAt: now - 60, BaseRewardRate: 1000, MinDifficulty: 3}
	infos := resetAccounts(p, cfg, spentBuses(), 0)
	minter := &recordingMinter{}
	ctx := &Context{Clock: Clock{UnixTimestamp: now}, TokenProgram: minter}

	ret, err := p.Process(ctx, programID, infos, p.ResetInstruction(infos[0].Key).Data)
	require.NoError(t, err)

	ev, err := DecodeResetEvent(ret)
	require.NoError(t, err)
	require.Equal(t, now, ev.LastResetAt)
	require.Equal(t, uint64(1), ev.HalvingFactor)
	require.Equal(t, uint64(1000), ev.BaseRewardRate)
	require.Equal(t, protocol.MaxEpochRewards/2, ev.MintAmount)
	require.Equal(t, ev.MintAmount, minter.minted)

	for i := range protocol.BusCount {
		bus, err := account.DecodeBus(infos[resetFirstBus+i].Data)
		require.NoError(t, err)
		require.Equal(t, account.Bus{ID: uint64(i), Rewards: protocol.BusEpochRewards}, *bus)
	}
	got, err := account.DecodeConfig(infos[resetConfig].Data)
	require.NoError(t, err)
	require.Equal(t, now, got.LastResetAt)
}

func TestResetBeforeEpochEndsIsNoOp(t *testing.T) {
	p := newProcessor(t, protocol.Coal())
	cfg := account.Config{LastResetAt: now - 59, BaseRewardRate: 1000, MinDifficulty: 3}
	infos := resetAccounts(p, cfg, spentBuses(), 0)
	minter := &recordingMinter{}

	ret, err := p.Process(&Context{Clock: Clock{UnixTimestamp: now}, TokenProgram: minter}, programID, infos, []byte{byte(TagReset)})
	require.NoError(t, err)
	require.Nil(t, ret)
	require.Zero(t, minter.minted)
	require.Equal(t, cfg.Encode(), infos[resetConfig].Data)
}

func TestResetFailures(t *testing.T) {
	p := newProcessor(t, protocol.Coal())
	cfg := account.Config{LastResetAt: now - 60, BaseRewardRate: 1000, MinDifficulty: 3}
	ctx := &Context{Clock: Clock{UnixTimestamp: now}, TokenProgram: &recordingMinter{}}

	buses := spentBuses()
	buses[2], buses[5] = buses[5], buses[2]
	_, err := p.Process(ctx, programID, resetAccounts(p, cfg, buses, 0), []byte{byte(TagReset)})
	require.ErrorIs(t, err, protocol.ErrInvalidAccountData)

	_, err = p.Process(ctx, programID, resetAccounts(p, cfg, spentBuses(), protocol.MaxSupply), []byte{byte(TagReset)})
	require.ErrorIs(t, err, protocol.ErrMaxSupply)

	infos := resetAccounts(p, cfg, spentBuses(), 0)
	infos[resetTokenProgram].Key = testKey("fake token program")
	_, err = p.Process(ctx, programID, infos, []byte{byte(TagReset)})
	require.ErrorIs(t, err, protocol.ErrIncorrectProgramID)

	boom := errors.New("mint failed")
	infos = resetAccounts(p, cfg, spentBuses(), 0)
	ctx.TokenProgram = &recordingMinter{err: boom}
	_, err = p.Process(ctx, programID, infos, []byte{byte(TagReset)})
	require.ErrorIs(t, err, boom)
	require.Equal(t, cfg.Encode(), infos[resetConfig].Data)

	_, err = p.Process(ctx, programID, infos[:5], []byte{byte(TagReset)})
	require.ErrorIs(t, err, protocol.ErrNotEnoughAccountKeys)
}

func TestEventRoundTrip(t *testing.T) {
	// ToolReward may exceed what the bus paid out, so it is independent of Reward.
	ev := MineEvent{Difficulty: 12, Reward: 99, Timing: -5, ToolReward: 150, StakeReward: 2, GroupReward: 3}
	got, err := DecodeMineEvent(ev.Encode())
	require.NoError(t, err)
	require.Equal(t, ev, got)

	_, err = DecodeResetEvent(ev.Encode())
	require.ErrorIs(t, err, protocol.ErrInvalidInstructionData)
}

func TestDefaultProgramID(t *testing.T) {
	coal, wood := DefaultProgramID(protocol.Coal()), DefaultProgramID(protocol.Wood())
	require.NotEqual(t, coal, wood)
	require.Equal(t, coal, DefaultProgramID(protocol.Coal()))

	p, err := NewProcessor(coal, protocol.Coal())
	require.NoError(t, err)
	require.NotEqual(t, p.ConfigAddress(), p.BusAddress(0))
	require.Len(t, p.BusAddresses(), protocol.BusCount)
}
