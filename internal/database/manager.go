// Package database coordinates the gocoal reporting stores. Accepted
// solutions and epoch resets land in PostgreSQL, Redis and InfluxDB.
package database

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/bardlex/gocoal/internal/database/influx"
	"github.com/bardlex/gocoal/internal/database/postgres"
	"github.com/bardlex/gocoal/internal/database/redis"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/pkg/circuit"
	"github.com/bardlex/gocoal/pkg/errors"
	"github.com/bardlex/gocoal/pkg/log"
	"github.com/bardlex/gocoal/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Mines  *postgres.MineRepository
	Resets *postgres.ResetRepository

	logger         *log.Logger
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// ProofSnapshotTTL bounds how long a cached proof view is served
const ProofSnapshotTTL = 10 * time.Minute

// NewManager creates a new database manager with all connections
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}
	if err := pgClient.Migrate(ctx); err != nil {
		_ = pgClient.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migrate",
			"failed to apply PostgreSQL schema")
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
		if closeErr := pgClient.Close(); closeErr != nil {
			return nil, origErr.WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, origErr
	}

	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	logger = logger.WithComponent("database")
	cbConfig := &circuit.Config{
		Name:            "database",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange:   circuit.LogStateChanges(logger.Warn),
	}

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Mines:          postgres.NewMineRepository(pgClient.DB()),
		Resets:         postgres.NewResetRepository(pgClient.DB()),
		logger:         logger,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	if stats := m.circuitBreaker.GetStats(); stats.State == circuit.StateOpen {
		return fmt.Errorf("event writes suspended: circuit %s open after %d failures", stats.Name, stats.Failures)
	}

	return nil
}

// AllowSubmission applies the per-authority rate limit. A Redis failure
// lets the submission through.
func (m *Manager) AllowSubmission(ctx context.Context, resource, authority string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	ok, err := m.Redis.AllowSubmission(ctx, resource, authority, int64(perMinute), time.Minute)
	if err != nil {
		m.logger.WithError(err).Warn("rate limit check failed", "authority", authority)
		return true
	}
	return ok
}

// RecordMine records an accepted solution across all databases
func (m *Manager) RecordMine(ctx context.Context, ev messaging.MineEventMessage) error {
	row := MineRecord(ev)
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			// PostgreSQL is the system of record
			if err := m.Mines.CreateMine(ctx, row); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_mine",
					"failed to store mine event in PostgreSQL").
					WithContext("authority", ev.Authority).
					WithContext("bus_id", ev.BusID).
					WithContext("difficulty", ev.Difficulty)
			}

			// Best effort from here on
			m.Influx.WriteMineMetric(MineSample(ev))

			if err := m.Redis.AddReward(ctx, ev.Resource, ev.Authority, ev.Reward); err != nil {
				m.logger.WithError(err).Warn("failed to update leaderboard (non-critical)")
			}
			if err := m.Redis.SetProofSnapshot(ctx, ev.Resource, ev.Authority, ProofSnapshot(ev), ProofSnapshotTTL); err != nil {
				m.logger.WithError(err).Warn("failed to cache proof snapshot (non-critical)")
			}
			if _, err := m.Redis.IncrementCounter(ctx, "mines:"+ev.Resource, 0); err != nil {
				m.logger.WithError(err).Warn("failed to increment mine counter (non-critical)")
			}

			return nil
		})
	})
}

// RecordReset records a closed epoch across all databases
func (m *Manager) RecordReset(ctx context.Context, ev messaging.ResetEventMessage) error {
	row := ResetRecord(ev)
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Resets.CreateReset(ctx, row); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_reset",
					"failed to store reset event in PostgreSQL").
					WithContext("last_reset_at", ev.LastResetAt).
					WithContext("base_reward_rate", ev.BaseRewardRate)
			}

			m.Influx.WriteResetMetric(ResetSample(ev))

			if _, err := m.Redis.IncrementCounter(ctx, "resets:"+ev.Resource, 0); err != nil {
				m.logger.WithError(err).Warn("failed to increment reset counter (non-critical)")
			}

			return nil
		})
	})
}

// RecordTransaction writes the latency of a processed transaction. Best effort.
func (m *Manager) RecordTransaction(resource, kind string, res messaging.TransactionResult) {
	m.Influx.WriteTransactionMetric(resource, kind, res.Status,
		time.Duration(res.LatencyMs*float64(time.Millisecond)))
}

// GetMinerSummary combines history, leaderboard position and cached proof
func (m *Manager) GetMinerSummary(ctx context.Context, resource, authority string) (*MinerSummary, error) {
	stats, err := m.Mines.GetMinerStats(ctx, resource, authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get miner stats: %w", err)
	}

	summary := &MinerSummary{Stats: stats}
	var snap CachedProof
	if err := m.Redis.GetProofSnapshot(ctx, resource, authority, &snap); err == nil {
		summary.Proof = &snap
	}
	return summary, nil
}

// RecordSystem samples the ledger's size and the process. Best effort.
func (m *Manager) RecordSystem(service string, accounts int, slot uint64) {
	m.Influx.WriteSystemMetric(service, accounts, slot, int64(runtime.NumGoroutine()))
}

// Leaderboard returns the n highest earners on resource
func (m *Manager) Leaderboard(ctx context.Context, resource string, n int64) ([]redis.LeaderboardEntry, error) {
	return m.Redis.TopMiners(ctx, resource, n)
}

// RecentMines pages through an authority's solutions, newest first
func (m *Manager) RecentMines(ctx context.Context, resource, authority string, limit, offset int) ([]*postgres.MineEvent, error) {
	return m.Mines.ListByAuthority(ctx, resource, authority, limit, offset)
}

// LatestReset returns the last epoch closed on resource
func (m *Manager) LatestReset(ctx context.Context, resource string) (*postgres.ResetEvent, error) {
	return m.Resets.GetLatest(ctx, resource)
}

// GetActivityStats combines the Redis event counters with InfluxDB
// aggregates over window
func (m *Manager) GetActivityStats(ctx context.Context, resource string, window time.Duration) (*ActivityStats, error) {
	mines, err := m.Redis.GetCounter(ctx, "mines:"+resource)
	if err != nil {
		return nil, err
	}
	resets, err := m.Redis.GetCounter(ctx, "resets:"+resource)
	if err != nil {
		return nil, err
	}
	difficulty, err := m.Influx.GetDifficultyStats(ctx, resource, window)
	if err != nil {
		return nil, err
	}
	rates, err := m.Influx.GetRewardRateHistory(ctx, resource, window)
	if err != nil {
		return nil, err
	}
	return &ActivityStats{
		Window:     window.String(),
		Mines:      mines,
		Resets:     resets,
		Difficulty: difficulty,
		Rates:      rates,
	}, nil
}

// StartPeriodicTasks flushes InfluxDB writes until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-m.Influx.Errors():
				if !ok {
					return
				}
				m.logger.WithError(err).Warn("InfluxDB write failed")
			}
		}
	}()
}

// Data structures

// CachedProof is the proof view kept in Redis after each solution
type CachedProof struct {
	Authority string    `json:"authority"`
	Proof     string    `json:"proof"`
	Balance   uint64    `json:"balance,string"`
	LastSlot  uint64    `json:"last_slot,string"`
	MinedAt   time.Time `json:"mined_at"`
}

// ActivityStats summarises a resource's recent mining activity
type ActivityStats struct {
	Window     string                  `json:"window"`
	Mines      int64                   `json:"mines"`
	Resets     int64                   `json:"resets"`
	Difficulty *influx.DifficultyStats `json:"difficulty"`
	Rates      []influx.RatePoint      `json:"rates"`
}

// MinerSummary combines persisted history with cached state
type MinerSummary struct {
	Stats *postgres.MinerStats `json:"stats"`
	Proof *CachedProof         `json:"proof,omitempty"`
}

// MineRecord converts a mine event to its PostgreSQL row
func MineRecord(ev messaging.MineEventMessage) *postgres.MineEvent {
	return &postgres.MineEvent{
		EventID:     ev.EventID,
		TxID:        ev.TxID,
		Resource:    ev.Resource,
		Authority:   ev.Authority,
		Proof:       ev.Proof,
		BusID:       ev.BusID,
		Slot:        ev.Slot,
		Difficulty:  ev.Difficulty,
		Reward:      ev.Reward,
		Timing:      ev.Timing,
		ToolReward:  ev.ToolReward,
		StakeReward: ev.StakeReward,
		GroupReward: ev.GroupReward,
		Balance:     ev.Balance,
		MinedAt:     ev.MinedAt,
	}
}

// MineSample converts a mine event to its InfluxDB sample
func MineSample(ev messaging.MineEventMessage) influx.MineSample {
	return influx.MineSample{
		Resource:    ev.Resource,
		Authority:   ev.Authority,
		BusID:       ev.BusID,
		Difficulty:  ev.Difficulty,
		Reward:      ev.Reward,
		ToolReward:  ev.ToolReward,
		StakeReward: ev.StakeReward,
		GroupReward: ev.GroupReward,
		Timing:      ev.Timing,
		At:          ev.MinedAt,
	}
}

// ProofSnapshot converts a mine event to the cached proof view
func ProofSnapshot(ev messaging.MineEventMessage) CachedProof {
	return CachedProof{
		Authority: ev.Authority,
		Proof:     ev.Proof,
		Balance:   ev.Balance,
		LastSlot:  ev.Slot,
		MinedAt:   ev.MinedAt,
	}
}

// ResetRecord converts a reset event to its PostgreSQL row
func ResetRecord(ev messaging.ResetEventMessage) *postgres.ResetEvent {
	return &postgres.ResetEvent{
		EventID:            ev.EventID,
		TxID:               ev.TxID,
		Resource:           ev.Resource,
		Slot:               ev.Slot,
		LastResetAt:        ev.LastResetAt,
		HalvingFactor:      ev.HalvingFactor,
		TheoreticalRewards: ev.TheoreticalRewards,
		RemainingRewards:   ev.RemainingRewards,
		TopBalance:         ev.TopBalance,
		BaseRewardRate:     ev.BaseRewardRate,
		MinDifficulty:      ev.MinDifficulty,
		MintAmount:         ev.MintAmount,
		ResetAt:            ev.ResetAt,
	}
}

// ResetSample converts a reset event to its InfluxDB sample
func ResetSample(ev messaging.ResetEventMessage) influx.ResetSample {
	return influx.ResetSample{
		Resource:         ev.Resource,
		BaseRewardRate:   ev.BaseRewardRate,
		MinDifficulty:    ev.MinDifficulty,
		HalvingFactor:    ev.HalvingFactor,
		RemainingRewards: ev.RemainingRewards,
		TopBalance:       ev.TopBalance,
		MintAmount:       ev.MintAmount,
		At:               ev.ResetAt,
	}
}
