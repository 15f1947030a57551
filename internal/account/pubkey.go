// Package account defines the fixed-layout records owned by the mining
// program and the collaborator records it reads.
package account

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Pubkey is a 32-byte account address.
type Pubkey [32]byte

// Hash is a 32-byte digest.
type Hash [32]byte

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw := base58.Decode(s)
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("invalid pubkey %q: decoded %d bytes", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPubkey is ParsePubkey for compile-time constants.
func MustPubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != len(pk) {
		return pk, fmt.Errorf("invalid pubkey length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

// IsZero reports whether p is the all-zero address.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Equals compares against a raw 32-byte slice.
func (p Pubkey) Equals(b []byte) bool { return bytes.Equal(p[:], b) }

// MarshalText encodes the key in base58.
func (p Pubkey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a base58 key.
func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// MarshalText encodes the hash in base58.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText decodes a base58 hash.
func (h *Hash) UnmarshalText(text []byte) error {
	raw := base58.Decode(string(text))
	if len(raw) != len(h) {
		return fmt.Errorf("invalid hash %q", text)
	}
	copy(h[:], raw)
	return nil
}
