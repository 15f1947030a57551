package account

import (
	"golang.org/x/crypto/sha3"
)

const derivedMarker = "ProgramDerivedAddress"

// DeriveAddress maps seeds under programID to a deterministic account address.
func DeriveAddress(programID Pubkey, seeds ...[]byte) Pubkey {
	h := sha3.NewLegacyKeccak256()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(derivedMarker))

	var out Pubkey
	copy(out[:], h.Sum(nil))
	return out
}
