package messaging

import "time"

// Transaction kinds carried by TransactionMessage.
const (
	KindMine  = "mine"
	KindReset = "reset"
)

// TransactionMessage is a submission from a client to ledgerd. Mine
// submissions carry the solution; resets carry only the signer.
type TransactionMessage struct {
	TxID        string    `json:"tx_id"`
	Kind        string    `json:"kind"`
	Resource    string    `json:"resource"`
	Signer      string    `json:"signer"`
	BusID       uint64    `json:"bus_id"`
	Digest      string    `json:"digest,omitempty"` // hex
	Nonce       uint64    `json:"nonce,string"`
	Tool        bool      `json:"tool,omitempty"`
	GuildConfig string    `json:"guild_config,omitempty"`
	GuildMember string    `json:"guild_member,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Transaction result statuses
const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// TransactionResult reports the outcome of a submission
type TransactionResult struct {
	TxID        string    `json:"tx_id"`
	Status      string    `json:"status"`
	ErrorCode   uint32    `json:"error_code,omitempty"`
	ErrorName   string    `json:"error_name,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
	Slot        uint64    `json:"slot,string"`
	ProcessedAt time.Time `json:"processed_at"`
	LatencyMs   float64   `json:"latency_ms"`
}

// MineEventMessage is an accepted solution
type MineEventMessage struct {
	EventID     string    `json:"event_id"`
	TxID        string    `json:"tx_id"`
	Resource    string    `json:"resource"`
	Authority   string    `json:"authority"`
	Proof       string    `json:"proof"`
	BusID       uint64    `json:"bus_id"`
	Slot        uint64    `json:"slot,string"`
	Difficulty  uint64    `json:"difficulty"`
	Reward      uint64    `json:"reward,string"`
	Timing      int64     `json:"timing"`
	ToolReward  uint64    `json:"tool_reward,string"`
	StakeReward uint64    `json:"stake_reward,string"`
	GroupReward uint64    `json:"group_reward,string"`
	Balance     uint64    `json:"balance,string"`
	MinedAt     time.Time `json:"mined_at"`
}

// ResetEventMessage is a closed epoch
type ResetEventMessage struct {
	EventID            string    `json:"event_id"`
	TxID               string    `json:"tx_id"`
	Resource           string    `json:"resource"`
	Slot               uint64    `json:"slot,string"`
	LastResetAt        int64     `json:"last_reset_at"`
	HalvingFactor      uint64    `json:"halving_factor"`
	TheoreticalRewards uint64    `json:"theoretical_rewards,string"`
	RemainingRewards   uint64    `json:"remaining_rewards,string"`
	TopBalance         uint64    `json:"top_balance,string"`
	BaseRewardRate     uint64    `json:"base_reward_rate,string"`
	MinDifficulty      uint64    `json:"min_difficulty"`
	MintAmount         uint64    `json:"mint_amount,string"`
	ResetAt            time.Time `json:"reset_at"`
}
