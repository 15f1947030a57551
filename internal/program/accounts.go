// Package program implements the mining program's instructions: mine,
// which validates and pays one proof-of-work solution, and reset, which
// closes an epoch. Instructions operate on AccountInfo buffers handed in by
// the host ledger and write records back only when they succeed.
package program

import (
	"github.com/bardlex/gocoal/internal/account"
)

// Well-known host accounts.
var (
	ClockSysvarID        = account.MustPubkey("SysvarC1ock11111111111111111111111111111111")
	SlotHashesSysvarID   = account.MustPubkey("SysvarS1otHashes111111111111111111111111111")
	InstructionsSysvarID = account.MustPubkey("Sysvar1nstructions1111111111111111111111111")
	TokenProgramID       = account.MustPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	SystemProgramID      = account.Pubkey{}
)

// AccountInfo is an account as presented to an instruction.
type AccountInfo struct {
	Key        account.Pubkey
	Owner      account.Pubkey
	IsSigner   bool
	IsWritable bool
	Data       []byte
}

// DataIsEmpty reports whether the account holds no data.
func (a *AccountInfo) DataIsEmpty() bool { return len(a.Data) == 0 }

// Clock is the ledger's view of time for the executing slot.
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// TokenProgram mints the protocol token. It is implemented by the host ledger.
type TokenProgram interface {
	MintTo(mint, destination, authority *AccountInfo, amount uint64) error
}

// Context carries the ambient execution state an instruction may read. The
// host fills SlotHashes and Instructions with the same bytes it exposes
// through the sysvar accounts.
type Context struct {
	Clock        Clock
	SlotHashes   []byte
	Instructions []byte
	TokenProgram TokenProgram
}
