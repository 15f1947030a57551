package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// database/sql rejects uint64 values above MaxInt64, so amounts travel as text.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// parseNumeric reads a NUMERIC aggregate, saturating at MaxUint64.
func parseNumeric(s sql.NullString) uint64 {
	if !s.Valid || s.String == "" {
		return 0
	}
	v, err := strconv.ParseUint(s.String, 10, 64)
	if err != nil {
		return math.MaxUint64
	}
	return v
}

// MineRepository handles mine event persistence
type MineRepository struct {
	db *sql.DB
}

// NewMineRepository creates a new mine event repository
func NewMineRepository(db *sql.DB) *MineRepository {
	return &MineRepository{db: db}
}

// CreateMine stores ev. Replays of the same event id are ignored.
func (r *MineRepository) CreateMine(ctx context.Context, ev *MineEvent) error {
	query := `
		INSERT INTO mine_events (event_id, tx_id, resource, authority, proof, bus_id, slot, difficulty,
		                         reward, timing, tool_reward, stake_reward, group_reward, balance, mined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		ev.EventID, ev.TxID, ev.Resource, ev.Authority, ev.Proof, int64(ev.BusID), numeric(ev.Slot),
		int64(ev.Difficulty), numeric(ev.Reward), ev.Timing, numeric(ev.ToolReward),
		numeric(ev.StakeReward), numeric(ev.GroupReward), numeric(ev.Balance), ev.MinedAt,
	).Scan(&ev.ID)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to create mine event: %w", err)
	}
	return nil
}

// ListByAuthority returns an authority's most recent solutions
func (r *MineRepository) ListByAuthority(ctx context.Context, resource, authority string, limit, offset int) ([]*MineEvent, error) {
	query := `
		SELECT id, event_id, tx_id, resource, authority, proof, bus_id, slot, difficulty, reward,
		       timing, tool_reward, stake_reward, group_reward, balance, mined_at
		FROM mine_events
		WHERE resource = $1 AND authority = $2
		ORDER BY mined_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, resource, authority, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list mine events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*MineEvent
	for rows.Next() {
		ev := &MineEvent{}
		if err := rows.Scan(
			&ev.ID, &ev.EventID, &ev.TxID, &ev.Resource, &ev.Authority, &ev.Proof, &ev.BusID,
			&ev.Slot, &ev.Difficulty, &ev.Reward, &ev.Timing, &ev.ToolReward, &ev.StakeReward,
			&ev.GroupReward, &ev.Balance, &ev.MinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mine event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// GetMinerStats aggregates an authority's solutions
func (r *MineRepository) GetMinerStats(ctx context.Context, resource, authority string) (*MinerStats, error) {
	query := `
		SELECT COUNT(*), SUM(reward)::TEXT, COALESCE(MAX(difficulty), 0), MAX(mined_at)
		FROM mine_events
		WHERE resource = $1 AND authority = $2`

	stats := &MinerStats{Authority: authority, Resource: resource}
	var total sql.NullString
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, resource, authority).Scan(
		&stats.Solutions, &total, &stats.MaxDifficulty, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get miner stats: %w", err)
	}

	stats.TotalReward = parseNumeric(total)
	if last.Valid {
		stats.LastMinedAt = &last.Time
	}
	return stats, nil
}

// ResetRepository handles reset event persistence
type ResetRepository struct {
	db *sql.DB
}

// NewResetRepository creates a new reset event repository
func NewResetRepository(db *sql.DB) *ResetRepository {
	return &ResetRepository{db: db}
}

// CreateReset stores ev. Replays of the same event id are ignored.
func (r *ResetRepository) CreateReset(ctx context.Context, ev *ResetEvent) error {
	query := `
		INSERT INTO reset_events (event_id, tx_id, resource, slot, last_reset_at, halving_factor,
		                          theoretical_rewards, remaining_rewards, top_balance, base_reward_rate,
		                          min_difficulty, mint_amount, reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		ev.EventID, ev.TxID, ev.Resource, numeric(ev.Slot), ev.LastResetAt, int64(ev.HalvingFactor),
		numeric(ev.TheoreticalRewards), numeric(ev.RemainingRewards), numeric(ev.TopBalance),
		numeric(ev.BaseRewardRate), int64(ev.MinDifficulty), numeric(ev.MintAmount), ev.ResetAt,
	).Scan(&ev.ID)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to create reset event: %w", err)
	}
	return nil
}

// GetLatest returns the most recent epoch closed on resource
func (r *ResetRepository) GetLatest(ctx context.Context, resource string) (*ResetEvent, error) {
	query := `
		SELECT id, event_id, tx_id, resource, slot, last_reset_at, halving_factor, theoretical_rewards,
		       remaining_rewards, top_balance, base_reward_rate, min_difficulty, mint_amount, reset_at
		FROM reset_events
		WHERE resource = $1
		ORDER BY last_reset_at DESC
		LIMIT 1`

	ev := &ResetEvent{}
	err := r.db.QueryRowContext(ctx, query, resource).Scan(
		&ev.ID, &ev.EventID, &ev.TxID, &ev.Resource, &ev.Slot, &ev.LastResetAt, &ev.HalvingFactor,
		&ev.TheoreticalRewards, &ev.RemainingRewards, &ev.TopBalance, &ev.BaseRewardRate,
		&ev.MinDifficulty, &ev.MintAmount, &ev.ResetAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest reset: %w", err)
	}
	return ev, nil
}
