package postgres

import (
	"time"
)

// MineEvent is one accepted solution
type MineEvent struct {
	ID          int64     `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"event_id"`
	TxID        string    `db:"tx_id" json:"tx_id"`
	Resource    string    `db:"resource" json:"resource"`
	Authority   string    `db:"authority" json:"authority"`
	Proof       string    `db:"proof" json:"proof"`
	BusID       uint64    `db:"bus_id" json:"bus_id"`
	Slot        uint64    `db:"slot" json:"slot"`
	Difficulty  uint64    `db:"difficulty" json:"difficulty"`
	Reward      uint64    `db:"reward" json:"reward,string"`
	Timing      int64     `db:"timing" json:"timing"`
	ToolReward  uint64    `db:"tool_reward" json:"tool_reward,string"`
	StakeReward uint64    `db:"stake_reward" json:"stake_reward,string"`
	GroupReward uint64    `db:"group_reward" json:"group_reward,string"`
	Balance     uint64    `db:"balance" json:"balance,string"`
	MinedAt     time.Time `db:"mined_at" json:"mined_at"`
}

// ResetEvent is one closed epoch
type ResetEvent struct {
	ID                 int64     `db:"id" json:"id"`
	EventID            string    `db:"event_id" json:"event_id"`
	TxID               string    `db:"tx_id" json:"tx_id"`
	Resource           string    `db:"resource" json:"resource"`
	Slot               uint64    `db:"slot" json:"slot"`
	LastResetAt        int64     `db:"last_reset_at" json:"last_reset_at"`
	HalvingFactor      uint64    `db:"halving_factor" json:"halving_factor"`
	TheoreticalRewards uint64    `db:"theoretical_rewards" json:"theoretical_rewards,string"`
	RemainingRewards   uint64    `db:"remaining_rewards" json:"remaining_rewards,string"`
	TopBalance         uint64    `db:"top_balance" json:"top_balance,string"`
	BaseRewardRate     uint64    `db:"base_reward_rate" json:"base_reward_rate"`
	MinDifficulty      uint64    `db:"min_difficulty" json:"min_difficulty"`
	MintAmount         uint64    `db:"mint_amount" json:"mint_amount,string"`
	ResetAt            time.Time `db:"reset_at" json:"reset_at"`
}

// MinerStats aggregates an authority's history on one resource
type MinerStats struct {
	Authority     string     `json:"authority"`
	Resource      string     `json:"resource"`
	Solutions     int64      `json:"solutions"`
	TotalReward   uint64     `json:"total_reward,string"`
	MaxDifficulty uint64     `json:"max_difficulty"`
	LastMinedAt   *time.Time `json:"last_mined_at,omitempty"`
}
