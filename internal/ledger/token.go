package ledger

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
)

// TokenProgram mints into SPL-compatible mint and token account layouts.
type TokenProgram struct{}

// MintTo credits amount to destination and raises the mint's supply. The
// authority must be the mint authority.
func (TokenProgram) MintTo(mint, destination, authority *program.AccountInfo, amount uint64) error {
	for _, info := range []*program.AccountInfo{mint, destination} {
		if info.Owner != program.TokenProgramID {
			return fmt.Errorf("%w: %s owned by %s", protocol.ErrInvalidAccountOwner, info.Key, info.Owner)
		}
		if !info.IsWritable {
			return fmt.Errorf("%w: %s", protocol.ErrAccountNotWritable, info.Key)
		}
	}

	m, err := account.DecodeMint(mint.Data)
	if err != nil {
		return err
	}
	if !m.Initialized {
		return fmt.Errorf("%w: mint %s not initialized", protocol.ErrInvalidAccountData, mint.Key)
	}
	if m.Authority != authority.Key {
		return fmt.Errorf("%w: %s is not the mint authority", protocol.ErrMissingRequiredSignature, authority.Key)
	}

	dst, err := account.DecodeTokenAccount(destination.Data)
	if err != nil {
		return err
	}
	if dst.Mint != mint.Key {
		return fmt.Errorf("%w: token account holds %s", protocol.ErrInvalidAccountData, dst.Mint)
	}
	if dst.State != account.TokenAccountInitialized {
		return fmt.Errorf("%w: token account state %d", protocol.ErrInvalidAccountData, dst.State)
	}

	supply, err := protocol.CheckedAdd(m.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := protocol.CheckedAdd(dst.Amount, amount)
	if err != nil {
		return err
	}
	m.Supply, dst.Amount = supply, balance
	copy(mint.Data, m.Encode())
	copy(destination.Data, dst.Encode())
	return nil
}
