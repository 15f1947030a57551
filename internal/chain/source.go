// Package chain reads mining program records from a ledger. A Reader decodes
// config, bus, proof and tool accounts from any AccountSource and caches the
// raw account data for a short time.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/ledger"
)

// ErrAccountNotFound is returned when an address holds no account
var ErrAccountNotFound = errors.New("account not found")

// AccountSource returns the owner and data held at an address
type AccountSource interface {
	AccountData(ctx context.Context, key account.Pubkey) (owner account.Pubkey, data []byte, err error)
}

// BankSource reads accounts from an in-process ledger
type BankSource struct {
	Bank *ledger.Bank
}

// AccountData implements AccountSource.
func (s BankSource) AccountData(ctx context.Context, key account.Pubkey) (account.Pubkey, []byte, error) {
	if err := ctx.Err(); err != nil {
		return account.Pubkey{}, nil, err
	}
	acc, ok := s.Bank.Account(key)
	if !ok {
		return account.Pubkey{}, nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return acc.Owner, acc.Data, nil
}

// RPCClient is the subset of the JSON-RPC client used by RPCSource
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// RPCSource reads accounts from a JSON-RPC node
type RPCSource struct {
	Client RPCClient
}

// NewRPCSource connects to the JSON-RPC endpoint at url
func NewRPCSource(url string) *RPCSource {
	return &RPCSource{Client: rpc.New(url)}
}

// AccountData implements AccountSource.
func (s *RPCSource) AccountData(ctx context.Context, key account.Pubkey) (account.Pubkey, []byte, error) {
	res, err := s.Client.GetAccountInfo(ctx, solana.PublicKey(key))
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return account.Pubkey{}, nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
		}
		return account.Pubkey{}, nil, fmt.Errorf("get account %s: %w", key, err)
	}
	if res == nil || res.Value == nil {
		return account.Pubkey{}, nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	var data []byte
	if res.Value.Data != nil {
		data = res.Value.Data.GetBinary()
	}
	return account.Pubkey(res.Value.Owner), data, nil
}
