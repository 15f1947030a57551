package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/ledger"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/pkg/errors"
)

// Transaction result statuses
const (
	StatusCommitted = messaging.StatusCommitted
	StatusFailed    = messaging.StatusFailed
	StatusRejected  = messaging.StatusRejected
)

// BuildTransaction turns a submission into the instructions the bank runs
func BuildTransaction(p *program.Processor, msg *messaging.TransactionMessage) (ledger.Transaction, error) {
	tx := ledger.Transaction{ID: msg.TxID}
	if msg.Resource != "" && msg.Resource != p.Resource.Name() {
		return tx, fmt.Errorf("%w: submission for %q sent to %s", protocol.ErrInvalidResource, msg.Resource, p.Resource.Name())
	}
	signer, err := account.ParsePubkey(msg.Signer)
	if err != nil {
		return tx, fmt.Errorf("%w: signer: %v", protocol.ErrInvalidInstructionData, err)
	}

	switch msg.Kind {
	case messaging.KindReset:
		tx.Instructions = append(tx.Instructions, p.ResetInstruction(signer))
		return tx, nil

	case messaging.KindMine:
		raw, err := hex.DecodeString(msg.Digest)
		if err != nil || len(raw) != 32 {
			return tx, fmt.Errorf("%w: digest must be 32 hex-encoded bytes", protocol.ErrInvalidInstructionData)
		}
		var digest [32]byte
		copy(digest[:], raw)

		opts := program.MineOptions{Tool: msg.Tool}
		if msg.GuildConfig != "" || msg.GuildMember != "" {
			cfg, err := account.ParsePubkey(msg.GuildConfig)
			if err != nil {
				return tx, fmt.Errorf("%w: guild config: %v", protocol.ErrInvalidInstructionData, err)
			}
			member, err := account.ParsePubkey(msg.GuildMember)
			if err != nil {
				return tx, fmt.Errorf("%w: guild member: %v", protocol.ErrInvalidInstructionData, err)
			}
			opts.GuildConfig, opts.GuildMember = &cfg, &member
		}

		tx.Instructions = p.MineTransaction(signer, msg.BusID, pow.NewSolution(digest, msg.Nonce), opts)
		return tx, nil

	default:
		return tx, fmt.Errorf("%w: unknown transaction kind %q", protocol.ErrInvalidInstructionData, msg.Kind)
	}
}

// NewResult builds the result published for a processed submission
func NewResult(txID string, slot uint64, start time.Time, err error) messaging.TransactionResult {
	res := messaging.TransactionResult{
		TxID:        txID,
		Status:      StatusCommitted,
		Slot:        slot,
		ProcessedAt: time.Now(),
		LatencyMs:   float64(time.Since(start).Microseconds()) / 1000,
	}
	if err == nil {
		return res
	}

	res.Status = StatusFailed
	res.ErrorName = err.Error()
	res.Retryable = errors.IsRetryable(err)
	if perr, ok := protocol.AsProgramError(err); ok {
		res.ErrorCode = uint32(perr.Code)
		res.ErrorName = perr.Name
	}
	return res
}

// MineEventMessage decodes a mine instruction's return data
func MineEventMessage(p *program.Processor, msg *messaging.TransactionMessage, receipt *ledger.Receipt, balance uint64) (messaging.MineEventMessage, error) {
	if len(receipt.ReturnData) == 0 {
		return messaging.MineEventMessage{}, fmt.Errorf("receipt carries no return data")
	}
	ev, err := program.DecodeMineEvent(receipt.ReturnData[len(receipt.ReturnData)-1])
	if err != nil {
		return messaging.MineEventMessage{}, err
	}
	signer, _ := account.ParsePubkey(msg.Signer)
	return messaging.MineEventMessage{
		EventID:     messaging.NewID(),
		TxID:        msg.TxID,
		Resource:    p.Resource.Name(),
		Authority:   msg.Signer,
		Proof:       p.ProofAddress(signer).String(),
		BusID:       msg.BusID,
		Slot:        receipt.Slot,
		Difficulty:  ev.Difficulty,
		Reward:      ev.Reward,
		Timing:      ev.Timing,
		ToolReward:  ev.ToolReward,
		StakeReward: ev.StakeReward,
		GroupReward: ev.GroupReward,
		Balance:     balance,
		MinedAt:     time.Unix(receipt.UnixTime, 0).UTC(),
	}, nil
}

// ResetEventMessage decodes a reset instruction's return data. It reports
// false when the reset was skipped because the epoch had not ended.
func ResetEventMessage(p *program.Processor, txID string, receipt *ledger.Receipt) (messaging.ResetEventMessage, bool, error) {
	if len(receipt.ReturnData) == 0 || len(receipt.ReturnData[0]) == 0 {
		return messaging.ResetEventMessage{}, false, nil
	}
	ev, err := program.DecodeResetEvent(receipt.ReturnData[0])
	if err != nil {
		return messaging.ResetEventMessage{}, false, err
	}
	return messaging.ResetEventMessage{
		EventID:            messaging.NewID(),
		TxID:               txID,
		Resource:           p.Resource.Name(),
		Slot:               receipt.Slot,
		LastResetAt:        ev.LastResetAt,
		HalvingFactor:      ev.HalvingFactor,
		TheoreticalRewards: ev.TheoreticalRewards,
		RemainingRewards:   ev.RemainingRewards,
		TopBalance:         ev.TopBalance,
		BaseRewardRate:     ev.BaseRewardRate,
		MinDifficulty:      ev.MinDifficulty,
		MintAmount:         ev.MintAmount,
		ResetAt:            time.Unix(receipt.UnixTime, 0).UTC(),
	}, true, nil
}
