package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
)

type cachedAccount struct {
	owner account.Pubkey
	data  []byte
}

// Reader decodes the records of one deployed program
type Reader struct {
	source    AccountSource
	processor *program.Processor
	cache     *expirable.LRU[account.Pubkey, cachedAccount]
}

// NewReader returns a reader over source caching up to size accounts for ttl.
// A zero ttl disables caching.
func NewReader(source AccountSource, processor *program.Processor, size int, ttl time.Duration) *Reader {
	r := &Reader{source: source, processor: processor}
	if ttl > 0 && size > 0 {
		r.cache = expirable.NewLRU[account.Pubkey, cachedAccount](size, nil, ttl)
	}
	return r
}

// Processor returns the program whose addresses the reader derives
func (r *Reader) Processor() *program.Processor { return r.processor }

// Invalidate drops cached data for key
func (r *Reader) Invalidate(key account.Pubkey) {
	if r.cache != nil {
		r.cache.Remove(key)
	}
}

// Purge drops every cached account
func (r *Reader) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Reader) fetch(ctx context.Context, key account.Pubkey) (account.Pubkey, []byte, error) {
	if r.cache != nil {
		if hit, ok := r.cache.Get(key); ok {
			return hit.owner, hit.data, nil
		}
	}
	owner, data, err := r.source.AccountData(ctx, key)
	if err != nil {
		return owner, nil, err
	}
	if r.cache != nil {
		r.cache.Add(key, cachedAccount{owner: owner, data: data})
	}
	return owner, data, nil
}

func (r *Reader) fetchOwned(ctx context.Context, key account.Pubkey) ([]byte, error) {
	owner, data, err := r.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if owner != r.processor.ID {
		return nil, fmt.Errorf("%w: %s owned by %s", protocol.ErrInvalidAccountOwner, key, owner)
	}
	return data, nil
}

// FetchConfig returns the program's config record
func (r *Reader) FetchConfig(ctx context.Context) (*account.Config, error) {
	data, err := r.fetchOwned(ctx, r.processor.ConfigAddress())
	if err != nil {
		return nil, err
	}
	return account.DecodeConfig(data)
}

// FetchBus returns bus shard id
func (r *Reader) FetchBus(ctx context.Context, id uint64) (*account.Bus, error) {
	if id >= protocol.BusCount {
		return nil, fmt.Errorf("%w: bus %d", protocol.ErrInvalidAccountData, id)
	}
	data, err := r.fetchOwned(ctx, r.processor.BusAddress(id))
	if err != nil {
		return nil, err
	}
	return account.DecodeBus(data)
}

// FetchBuses returns every bus shard in id order
func (r *Reader) FetchBuses(ctx context.Context) ([]*account.Bus, error) {
	buses := make([]*account.Bus, 0, protocol.BusCount)
	for id := uint64(0); id < protocol.BusCount; id++ {
		bus, err := r.FetchBus(ctx, id)
		if err != nil {
			return nil, err
		}
		buses = append(buses, bus)
	}
	return buses, nil
}

// FetchProof returns authority's proof
func (r *Reader) FetchProof(ctx context.Context, authority account.Pubkey) (*account.Proof, error) {
	data, err := r.fetchOwned(ctx, r.processor.ProofAddress(authority))
	if err != nil {
		return nil, err
	}
	return account.DecodeProof(data)
}

// FetchTool returns authority's equipped tool
func (r *Reader) FetchTool(ctx context.Context, authority account.Pubkey) (*account.Tool, error) {
	data, err := r.fetchOwned(ctx, r.processor.ToolAddress(authority))
	if err != nil {
		return nil, err
	}
	return account.DecodeTool(data)
}

// FetchSupply returns the mint's current supply
func (r *Reader) FetchSupply(ctx context.Context) (uint64, error) {
	_, data, err := r.fetch(ctx, r.processor.MintAddress())
	if err != nil {
		return 0, err
	}
	return account.MintSupply(data)
}
