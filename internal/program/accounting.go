package program

import (
	"fmt"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/internal/reward"
)

// challengeEntropySize is how much of the slot-hashes sysvar is mixed into a
// new challenge: the u64 entry count, the newest entry's u64 slot and the
// first 24 bytes of its hash.
const challengeEntropySize = 40

// NextChallenge derives the challenge that replaces one solved with hash.
func NextChallenge(seed []byte, hash account.Hash, slotHashes []byte) (account.Hash, error) {
	if len(slotHashes) < challengeEntropySize {
		return account.Hash{}, fmt.Errorf("%w: slot hashes sysvar is %d bytes",
			protocol.ErrInvalidAccountData, len(slotHashes))
	}
	return pow.Keccak(seed, hash[:], slotHashes[:challengeEntropySize]), nil
}

// settle moves a composed reward from bus to proof. Checked fields are
// validated before anything is assigned.
func settle(b reward.Breakdown, policy protocol.TotalRewardsPolicy, bus *account.Bus, proof *account.Proof, tool *account.Tool) error {
	theoretical, err := protocol.CheckedAdd(bus.TheoreticalRewards, b.Reward)
	if err != nil {
		return err
	}
	remaining, err := protocol.CheckedSub(bus.Rewards, b.Payable)
	if err != nil {
		return err
	}
	balance, err := protocol.CheckedAdd(proof.Balance, b.Payable)
	if err != nil {
		return err
	}

	bus.TheoreticalRewards = theoretical
	bus.Rewards = remaining
	bus.TopBalance = b.NewBusTop
	proof.Balance = balance
	proof.TotalRewards = protocol.SaturatingAdd(proof.TotalRewards, b.TotalRewardsDelta(policy))
	if tool != nil {
		tool.Durability = b.NewDurability
	}
	return nil
}

// advance records hash as the proof's latest solution and rotates its challenge.
func advance(proof *account.Proof, hash, challenge account.Hash, now, target int64) {
	proof.LastHash = hash
	proof.Challenge = challenge
	proof.LastHashAt = max(now, target)
	proof.TotalHashes = protocol.SaturatingAdd(proof.TotalHashes, 1)
}

func store(info *AccountInfo, data []byte) {
	copy(info.Data, data)
}
