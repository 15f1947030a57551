package account

import (
	"encoding/binary"
	"fmt"

	"github.com/bardlex/gocoal/internal/protocol"
)

// SPL token layouts. Only the fields the mining program touches are modelled;
// the rest are written zeroed.
const (
	MintSize         = 82
	TokenAccountSize = 165

	mintSupplyOffset      = 36
	mintDecimalsOffset    = 44
	mintInitializedOffset = 45

	tokenMintOffset   = 0
	tokenOwnerOffset  = 32
	tokenAmountOffset = 64
	tokenStateOffset  = 108
)

// TokenAccountState mirrors the SPL account state byte.
type TokenAccountState uint8

const (
	TokenAccountUninitialized TokenAccountState = iota
	TokenAccountInitialized
	TokenAccountFrozen
)

// Mint is the token mint's supply view.
type Mint struct {
	Authority   Pubkey
	Supply      uint64
	Decimals    uint8
	Initialized bool
}

// TokenAccount is a holder balance.
type TokenAccount struct {
	Mint   Pubkey
	Owner  Pubkey
	Amount uint64
	State  TokenAccountState
}

// Encode serializes the mint.
func (m *Mint) Encode() []byte {
	buf := make([]byte, MintSize)
	binary.LittleEndian.PutUint32(buf[0:4], 1)
	copy(buf[4:36], m.Authority[:])
	binary.LittleEndian.PutUint64(buf[mintSupplyOffset:], m.Supply)
	buf[mintDecimalsOffset] = m.Decimals
	if m.Initialized {
		buf[mintInitializedOffset] = 1
	}
	return buf
}

// DecodeMint parses a mint account.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, fmt.Errorf("%w: mint is %d bytes", protocol.ErrInvalidAccountData, len(data))
	}
	m := &Mint{
		Supply:      binary.LittleEndian.Uint64(data[mintSupplyOffset:]),
		Decimals:    data[mintDecimalsOffset],
		Initialized: data[mintInitializedOffset] == 1,
	}
	copy(m.Authority[:], data[4:36])
	return m, nil
}

// MintSupply reads the supply field without decoding the whole mint.
func MintSupply(data []byte) (uint64, error) {
	if len(data) != MintSize {
		return 0, fmt.Errorf("%w: mint is %d bytes", protocol.ErrInvalidAccountData, len(data))
	}
	return binary.LittleEndian.Uint64(data[mintSupplyOffset:]), nil
}

// Encode serializes the token account.
func (a *TokenAccount) Encode() []byte {
	buf := make([]byte, TokenAccountSize)
	copy(buf[tokenMintOffset:], a.Mint[:])
	copy(buf[tokenOwnerOffset:], a.Owner[:])
	binary.LittleEndian.PutUint64(buf[tokenAmountOffset:], a.Amount)
	buf[tokenStateOffset] = byte(a.State)
	return buf
}

// DecodeTokenAccount parses a token account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, fmt.Errorf("%w: token account is %d bytes", protocol.ErrInvalidAccountData, len(data))
	}
	a := &TokenAccount{
		Amount: binary.LittleEndian.Uint64(data[tokenAmountOffset:]),
		State:  TokenAccountState(data[tokenStateOffset]),
	}
	copy(a.Mint[:], data[tokenMintOffset:tokenOwnerOffset])
	copy(a.Owner[:], data[tokenOwnerOffset:tokenAmountOffset])
	return a, nil
}
