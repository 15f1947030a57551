// Package postgres provides the PostgreSQL store for gocoal mining history.
// It keeps accepted solutions and closed epochs for reporting.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings for url
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 16,
		MaxIdleConns: 4,
		MaxLifetime:  30 * time.Minute,
	}
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Migrate creates the tables used by the repositories
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Amounts are stored as NUMERIC(20,0) so the full uint64 range fits.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS mine_events (
		id            BIGSERIAL PRIMARY KEY,
		event_id      TEXT NOT NULL UNIQUE,
		tx_id         TEXT NOT NULL,
		resource      TEXT NOT NULL,
		authority     TEXT NOT NULL,
		proof         TEXT NOT NULL,
		bus_id        SMALLINT NOT NULL,
		slot          NUMERIC(20,0) NOT NULL,
		difficulty    INTEGER NOT NULL,
		reward        NUMERIC(20,0) NOT NULL,
		timing        BIGINT NOT NULL,
		tool_reward   NUMERIC(20,0) NOT NULL,
		stake_reward  NUMERIC(20,0) NOT NULL,
		group_reward  NUMERIC(20,0) NOT NULL,
		balance       NUMERIC(20,0) NOT NULL,
		mined_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS mine_events_authority_idx ON mine_events (resource, authority, mined_at DESC)`,
	`CREATE TABLE IF NOT EXISTS reset_events (
		id                  BIGSERIAL PRIMARY KEY,
		event_id            TEXT NOT NULL UNIQUE,
		tx_id               TEXT NOT NULL,
		resource            TEXT NOT NULL,
		slot                NUMERIC(20,0) NOT NULL,
		last_reset_at       BIGINT NOT NULL,
		halving_factor      INTEGER NOT NULL,
		theoretical_rewards NUMERIC(20,0) NOT NULL,
		remaining_rewards   NUMERIC(20,0) NOT NULL,
		top_balance         NUMERIC(20,0) NOT NULL,
		base_reward_rate    NUMERIC(20,0) NOT NULL,
		min_difficulty      INTEGER NOT NULL,
		mint_amount         NUMERIC(20,0) NOT NULL,
		reset_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reset_events_resource_idx ON reset_events (resource, last_reset_at DESC)`,
}
