// Package pow validates mining solutions against a proof's challenge.
//
// A solution is a digest and a nonce. The digest must equal
// keccak256(challenge || nonce); the solution hash is
// keccak256(digest || nonce) and its leading zero bits are the difficulty.
package pow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/bits"

	"golang.org/x/crypto/sha3"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/protocol"
)

// SolutionSize is the encoded length of a solution.
const SolutionSize = 32 + 8

// ErrNotFound is returned by Solve when the iteration budget runs out.
var ErrNotFound = errors.New("pow: no solution within iteration limit")

// Solution is a submitted proof of work.
type Solution struct {
	Digest [32]byte
	Nonce  [8]byte
}

// NewSolution builds a solution from a digest and a numeric nonce.
func NewSolution(digest [32]byte, nonce uint64) Solution {
	s := Solution{Digest: digest}
	binary.LittleEndian.PutUint64(s.Nonce[:], nonce)
	return s
}

// NonceValue returns the nonce as an integer.
func (s Solution) NonceValue() uint64 {
	return binary.LittleEndian.Uint64(s.Nonce[:])
}

// Encode returns digest || nonce.
func (s Solution) Encode() []byte {
	out := make([]byte, 0, SolutionSize)
	out = append(out, s.Digest[:]...)
	return append(out, s.Nonce[:]...)
}

// DecodeSolution parses digest || nonce.
func DecodeSolution(data []byte) (Solution, error) {
	var s Solution
	if len(data) != SolutionSize {
		return s, protocol.ErrInvalidInstructionData
	}
	copy(s.Digest[:], data[:32])
	copy(s.Nonce[:], data[32:])
	return s, nil
}

// Keccak hashes the concatenation of parts with legacy Keccak-256.
func Keccak(parts ...[]byte) (out account.Hash) {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	copy(out[:], h.Sum(nil))
	return out
}

// Seed returns the digest a valid solution for challenge and nonce must carry.
func Seed(challenge account.Hash, nonce [8]byte) [32]byte {
	return Keccak(challenge[:], nonce[:])
}

// IsValid reports whether the solution corresponds to challenge.
func (s Solution) IsValid(challenge account.Hash) bool {
	seed := Seed(challenge, s.Nonce)
	return bytes.Equal(seed[:], s.Digest[:])
}

// Hash returns the solution hash.
func (s Solution) Hash() account.Hash {
	return Keccak(s.Digest[:], s.Nonce[:])
}

// Difficulty counts the leading zero bits of h.
func Difficulty(h account.Hash) uint32 {
	var n uint32
	for _, b := range h {
		if b != 0 {
			return n + uint32(bits.LeadingZeros8(b))
		}
		n += 8
	}
	return n
}

// Validate checks a solution against challenge and minDifficulty and
// returns the solution hash and its difficulty.
func Validate(challenge account.Hash, s Solution, minDifficulty uint64) (account.Hash, uint32, error) {
	if !s.IsValid(challenge) {
		return account.Hash{}, 0, protocol.ErrHashInvalid
	}
	h := s.Hash()
	difficulty := Difficulty(h)
	if uint64(difficulty) < minDifficulty {
		return h, difficulty, protocol.ErrHashTooEasy
	}
	return h, difficulty, nil
}

// Solve searches nonces from startNonce for a solution of at least
// minDifficulty. It gives up after maxIterations attempts (0 means no limit)
// or when ctx is done.
func Solve(ctx context.Context, challenge account.Hash, minDifficulty uint32, startNonce, maxIterations uint64) (Solution, uint32, error) {
	nonce := startNonce
	for i := uint64(0); maxIterations == 0 || i < maxIterations; i++ {
		if i&0x3ff == 0 {
			if err := ctx.Err(); err != nil {
				return Solution{}, 0, err
			}
		}
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], nonce)
		s := Solution{Digest: Seed(challenge, n), Nonce: n}
		if d := Difficulty(s.Hash()); d >= minDifficulty {
			return s, d, nil
		}
		nonce++
	}
	return Solution{}, 0, ErrNotFound
}
