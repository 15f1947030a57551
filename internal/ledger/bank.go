// Package ledger hosts mining programs the way an account-based ledger does:
// it owns account state, builds the sysvars a transaction may read, runs every
// instruction of a transaction against the registered programs and reverts
// all writes when any instruction fails. Transactions touching disjoint
// writable accounts execute in parallel.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/introspect"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/pkg/log"
)

// Program is an on-ledger program.
type Program interface {
	Process(ctx *program.Context, programID account.Pubkey, accounts []*program.AccountInfo, data []byte) ([]byte, error)
}

// Account is a stored account.
type Account struct {
	Owner account.Pubkey
	Data  []byte
}

// Transaction is an ordered list of instructions executed atomically.
type Transaction struct {
	ID           string
	Instructions []introspect.Instruction
}

// Receipt is the outcome of a committed transaction.
type Receipt struct {
	TxID       string
	Slot       uint64
	UnixTime   int64
	ReturnData [][]byte
}

// InstructionError reports which instruction aborted a transaction.
type InstructionError struct {
	Index     int
	ProgramID account.Pubkey
	Err       error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.ProgramID, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// Bank is the in-memory account state.
type Bank struct {
	// gate is held shared by every writer and exclusively by Snapshot.
	gate sync.RWMutex

	mu       sync.RWMutex
	accounts map[account.Pubkey]*Account
	locks    map[account.Pubkey]*sync.RWMutex
	programs map[account.Pubkey]Program

	slots  *SlotHashes
	now    func() time.Time
	token  TokenProgram
	logger *log.Logger
}

// Option configures a Bank.
type Option func(*Bank)

// WithClock overrides the wall clock used for the clock sysvar.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

// WithLogger sets the bank's logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bank) { b.logger = logger.WithComponent("bank") }
}

// NewBank returns an empty bank.
func NewBank(opts ...Option) *Bank {
	b := &Bank{
		accounts: make(map[account.Pubkey]*Account),
		locks:    make(map[account.Pubkey]*sync.RWMutex),
		programs: make(map[account.Pubkey]Program),
		slots:    NewSlotHashes(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register installs p at id.
func (b *Bank) Register(id account.Pubkey, p Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[id] = p
}

// SlotHashes returns the bank's slot-hash history.
func (b *Bank) SlotHashes() *SlotHashes { return b.slots }

// Clock returns the clock a transaction executing now would observe.
func (b *Bank) Clock() program.Clock {
	return program.Clock{Slot: b.slots.CurrentSlot(), UnixTimestamp: b.now().Unix()}
}

func (b *Bank) lockFor(key account.Pubkey) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		b.locks[key] = l
	}
	return l
}

// SetAccount creates or replaces an account.
func (b *Bank) SetAccount(key, owner account.Pubkey, data []byte) {
	b.gate.RLock()
	defer b.gate.RUnlock()

	l := b.lockFor(key)
	l.Lock()
	defer l.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[key] = &Account{Owner: owner, Data: append([]byte(nil), data...)}
}

// Account returns a copy of the account at key.
func (b *Bank) Account(key account.Pubkey) (Account, bool) {
	l := b.lockFor(key)
	l.RLock()
	defer l.RUnlock()

	b.mu.RLock()
	acct, ok := b.accounts[key]
	b.mu.RUnlock()
	if !ok {
		return Account{}, false
	}
	return Account{Owner: acct.Owner, Data: append([]byte(nil), acct.Data...)}, true
}

// Len returns the number of accounts.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.accounts)
}

// Snapshot copies every account. It waits for transactions in flight and
// holds new ones back until the copy is done, so the result never contains
// part of a transaction.
func (b *Bank) Snapshot() map[account.Pubkey]Account {
	b.gate.Lock()
	defer b.gate.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[account.Pubkey]Account, len(b.accounts))
	for k, acct := range b.accounts {
		out[k] = Account{Owner: acct.Owner, Data: append([]byte(nil), acct.Data...)}
	}
	return out
}

// Load replaces the bank's accounts.
func (b *Bank) Load(accounts map[account.Pubkey]Account) {
	for k, acct := range accounts {
		b.SetAccount(k, acct.Owner, acct.Data)
	}
}

type lockedKey struct {
	key      account.Pubkey
	writable bool
}

// collectLocks merges the accounts referenced by tx, sorted by key so that
// concurrent transactions acquire locks in the same order.
func collectLocks(tx Transaction) []lockedKey {
	writable := make(map[account.Pubkey]bool)
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if isSysvar(meta.Pubkey) {
				continue
			}
			writable[meta.Pubkey] = writable[meta.Pubkey] || meta.IsWritable
		}
	}
	out := make([]lockedKey, 0, len(writable))
	for k, w := range writable {
		out = append(out, lockedKey{key: k, writable: w})
	}
	slices.SortFunc(out, func(a, b lockedKey) int { return bytes.Compare(a.key[:], b.key[:]) })
	return out
}

func isSysvar(key account.Pubkey) bool {
	return key == program.ClockSysvarID || key == program.SlotHashesSysvarID || key == program.InstructionsSysvarID
}

// Execute runs tx atomically. On any instruction failure every account
// written by the transaction is restored and the error is returned as an
// *InstructionError.
func (b *Bank) Execute(ctx context.Context, tx Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tx.Instructions) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", protocol.ErrInvalidInstructionData)
	}
	start := time.Now()

	b.gate.RLock()
	defer b.gate.RUnlock()

	keys := collectLocks(tx)
	for _, k := range keys {
		l := b.lockFor(k.key)
		if k.writable {
			l.Lock()
			defer l.Unlock()
		} else {
			l.RLock()
			defer l.RUnlock()
		}
	}

	b.mu.RLock()
	live := make(map[account.Pubkey]*Account, len(keys))
	for _, k := range keys {
		if acct, ok := b.accounts[k.key]; ok {
			live[k.key] = acct
		}
	}
	b.mu.RUnlock()

	saved := make(map[account.Pubkey][]byte)
	for _, k := range keys {
		if acct, ok := live[k.key]; ok && k.writable {
			saved[k.key] = append([]byte(nil), acct.Data...)
		}
	}
	rollback := func() {
		for key, data := range saved {
			copy(live[key].Data, data)
		}
	}

	clock := b.Clock()
	slotHashes := b.slots.Encode()
	receipt := &Receipt{TxID: tx.ID, Slot: clock.Slot, UnixTime: clock.UnixTimestamp}

	for i, ix := range tx.Instructions {
		ret, err := b.executeInstruction(tx, i, ix, live, clock, slotHashes)
		if err != nil {
			rollback()
			b.logTransaction(tx, "failed", start, err)
			return nil, &InstructionError{Index: i, ProgramID: ix.ProgramID, Err: err}
		}
		receipt.ReturnData = append(receipt.ReturnData, ret)
	}

	b.logTransaction(tx, "committed", start, nil)
	return receipt, nil
}

func (b *Bank) executeInstruction(tx Transaction, index int, ix introspect.Instruction,
	live map[account.Pubkey]*Account, clock program.Clock, slotHashes []byte) ([]byte, error) {
	if ix.ProgramID == introspect.NoopProgramID {
		return nil, nil
	}

	b.mu.RLock()
	prog, ok := b.programs[ix.ProgramID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no program at %s", protocol.ErrIncorrectProgramID, ix.ProgramID)
	}

	instructions := introspect.Encode(tx.Instructions, index)
	infos := make([]*program.AccountInfo, len(ix.Accounts))
	for j, meta := range ix.Accounts {
		info := &program.AccountInfo{Key: meta.Pubkey, IsSigner: meta.IsSigner, IsWritable: meta.IsWritable}
		switch meta.Pubkey {
		case program.InstructionsSysvarID:
			info.Data = instructions
		case program.SlotHashesSysvarID:
			info.Data = slotHashes
		case program.ClockSysvarID:
			info.Data = encodeClock(clock.Slot, clock.UnixTimestamp)
		default:
			if acct, ok := live[meta.Pubkey]; ok {
				info.Owner = acct.Owner
				info.Data = acct.Data
			}
		}
		infos[j] = info
	}

	pctx := &program.Context{
		Clock:        clock,
		SlotHashes:   slotHashes,
		Instructions: instructions,
		TokenProgram: b.token,
	}
	return prog.Process(pctx, ix.ProgramID, infos, ix.Data)
}

func (b *Bank) logTransaction(tx Transaction, status string, start time.Time, err error) {
	if b.logger == nil {
		return
	}
	logger := b.logger
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.LogTransaction(tx.ID, len(tx.Instructions), status, time.Since(start))
}
