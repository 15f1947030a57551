package program

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/protocol"
)

// Tag is the first byte of instruction data.
type Tag uint8

const (
	TagMine  Tag = 2
	TagReset Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagMine:
		return "mine"
	case TagReset:
		return "reset"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Processor executes instructions addressed to one deployed program.
type Processor struct {
	ID       account.Pubkey
	Resource protocol.Resource
	Epoch    epoch.Params

	// GuildProgramID, when set, must own the guild accounts passed to mine.
	GuildProgramID account.Pubkey
}

// NewProcessor returns a processor for resource deployed at id.
func NewProcessor(id account.Pubkey, resource protocol.Resource) (*Processor, error) {
	if err := resource.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidResource, err)
	}
	return &Processor{
		ID:       id,
		Resource: resource,
		Epoch:    epoch.DefaultParams(resource),
	}, nil
}

// Process runs one instruction and returns its return data. Accounts are
// written back only when the instruction succeeds; the caller is still
// responsible for reverting earlier instructions of a failed transaction.
func (p *Processor) Process(ctx *Context, programID account.Pubkey, accounts []*AccountInfo, data []byte) ([]byte, error) {
	if programID != p.ID {
		return nil, fmt.Errorf("%w: %s", protocol.ErrIncorrectProgramID, programID)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty instruction", protocol.ErrInvalidInstructionData)
	}

	switch Tag(data[0]) {
	case TagMine:
		return p.mine(ctx, accounts, data[1:])
	case TagReset:
		return p.reset(ctx, accounts, data[1:])
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", protocol.ErrInvalidInstructionData, data[0])
	}
}
