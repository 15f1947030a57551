// Package introspect reads the serialized instruction list of the enclosing
// transaction to bind a mining instruction to one proof account.
//
// Buffer layout:
//
//	u16 instruction count
//	u16 offset per instruction
//	per instruction: u16 account count, 33 bytes per account (flags, key),
//	                 32-byte program id, u16 data length, data
//	u16 index of the executing instruction
package introspect

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/protocol"
)

// NoopProgramID is the zero-cost marker program whose data carries the
// committed proof address.
var NoopProgramID = account.MustPubkey("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")

const accountMetaSize = 33

const (
	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// ErrMalformed is returned when the buffer ends before a declared field.
var ErrMalformed = errors.New("introspect: malformed instruction buffer")

// AccountMeta is an account reference inside an instruction.
type AccountMeta struct {
	Pubkey     account.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one entry of a transaction's instruction list.
type Instruction struct {
	ProgramID account.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MarkerInstruction returns the noop instruction committing proof.
func MarkerInstruction(proof account.Pubkey) Instruction {
	return Instruction{ProgramID: NoopProgramID, Data: proof[:]}
}

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) u16() (int, error) {
	if c.pos < 0 || c.pos+2 > len(c.data) {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return int(v), nil
}

func (c *cursor) pubkey() (account.Pubkey, error) {
	var pk account.Pubkey
	if c.pos < 0 || c.pos+32 > len(c.data) {
		return pk, ErrMalformed
	}
	copy(pk[:], c.data[c.pos:c.pos+32])
	c.pos += 32
	return pk, nil
}

// ParseAuthAddress returns the address committed by the occurrence-th
// (1-based) instruction invoking marker, or nil when there is none.
func ParseAuthAddress(data []byte, marker account.Pubkey, occurrence int) (*account.Pubkey, error) {
	c := &cursor{data: data}
	count, err := c.u16()
	if err != nil {
		return nil, err
	}

	seen := 0
	for i := range count {
		c.pos = 2 + i*2
		offset, err := c.u16()
		if err != nil {
			return nil, err
		}
		c.pos = offset

		accounts, err := c.u16()
		if err != nil {
			return nil, err
		}
		c.pos += accounts * accountMetaSize

		programID, err := c.pubkey()
		if err != nil {
			return nil, err
		}
		if programID != marker {
			continue
		}

		seen++
		if seen == occurrence {
			c.pos += 2 // data length
			addr, err := c.pubkey()
			if err != nil {
				return nil, err
			}
			return &addr, nil
		}
	}
	return nil, nil
}

// Authenticate fails with ErrAuthFailed unless the transaction commits to proof.
func Authenticate(data []byte, proof, marker account.Pubkey, occurrence int) error {
	addr, err := ParseAuthAddress(data, marker, occurrence)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrAuthFailed, err)
	}
	if addr == nil {
		return fmt.Errorf("%w: no marker instruction #%d", protocol.ErrAuthFailed, occurrence)
	}
	if *addr != proof {
		return fmt.Errorf("%w: transaction committed to %s", protocol.ErrAuthFailed, addr)
	}
	return nil
}

// Encode serializes instructions into the introspection layout with current
// as the executing instruction index.
func Encode(instructions []Instruction, current int) []byte {
	header := 2 + 2*len(instructions)
	buf := make([]byte, header)
	binary.LittleEndian.PutUint16(buf, uint16(len(instructions)))

	for i, ix := range instructions {
		binary.LittleEndian.PutUint16(buf[2+2*i:], uint16(len(buf)))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			var flags byte
			if meta.IsSigner {
				flags |= flagSigner
			}
			if meta.IsWritable {
				flags |= flagWritable
			}
			buf = append(buf, flags)
			buf = append(buf, meta.Pubkey[:]...)
		}
		buf = append(buf, ix.ProgramID[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}
	return binary.LittleEndian.AppendUint16(buf, uint16(current))
}
