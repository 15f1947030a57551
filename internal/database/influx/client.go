// Package influx provides the InfluxDB time-series store for gocoal.
// It records per-solution difficulty and reward, epoch resets, and
// transaction latency.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := checkHealth(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

func checkHealth(ctx context.Context, client influxdb2.Client) error {
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}
	return nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	return checkHealth(ctx, c.client)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Mining metrics

// MineSample is one accepted solution as recorded in the "mines" measurement
type MineSample struct {
	Resource    string
	Authority   string
	BusID       uint64
	Difficulty  uint64
	Reward      uint64
	ToolReward  uint64
	StakeReward uint64
	GroupReward uint64
	Timing      int64
	At          time.Time
}

// MinePoint builds the point WriteMineMetric writes.
func MinePoint(s MineSample) *write.Point {
	tags := map[string]string{
		"resource":  s.Resource,
		"authority": s.Authority,
		"bus":       strconv.FormatUint(s.BusID, 10),
	}

	fields := map[string]interface{}{
		"difficulty":   s.Difficulty,
		"reward":       s.Reward,
		"tool_reward":  s.ToolReward,
		"stake_reward": s.StakeReward,
		"group_reward": s.GroupReward,
		"timing":       s.Timing,
		"count":        1,
	}

	return write.NewPoint("mines", tags, fields, s.At)
}

// WriteMineMetric writes an accepted solution
func (c *Client) WriteMineMetric(s MineSample) {
	c.writeAPI.WritePoint(MinePoint(s))
}

// ResetSample is one closed epoch as recorded in the "resets" measurement
type ResetSample struct {
	Resource         string
	BaseRewardRate   uint64
	MinDifficulty    uint64
	HalvingFactor    uint64
	RemainingRewards uint64
	TopBalance       uint64
	MintAmount       uint64
	At               time.Time
}

// ResetPoint builds the point WriteResetMetric writes.
func ResetPoint(s ResetSample) *write.Point {
	tags := map[string]string{
		"resource": s.Resource,
	}

	fields := map[string]interface{}{
		"base_reward_rate":  s.BaseRewardRate,
		"min_difficulty":    s.MinDifficulty,
		"halving_factor":    s.HalvingFactor,
		"remaining_rewards": s.RemainingRewards,
		"top_balance":       s.TopBalance,
		"mint_amount":       s.MintAmount,
	}

	return write.NewPoint("resets", tags, fields, s.At)
}

// WriteResetMetric writes an epoch reset
func (c *Client) WriteResetMetric(s ResetSample) {
	c.writeAPI.WritePoint(ResetPoint(s))
}

// WriteTransactionMetric writes the outcome and latency of one transaction
func (c *Client) WriteTransactionMetric(resource, kind, status string, latency time.Duration) {
	tags := map[string]string{
		"resource": resource,
		"kind":     kind,
		"status":   status,
	}

	fields := map[string]interface{}{
		"latency_ms": float64(latency.Microseconds()) / 1000,
		"count":      1,
	}

	c.writeAPI.WritePoint(write.NewPoint("transactions", tags, fields, time.Now()))
}

// WriteSystemMetric writes service runtime metrics
func (c *Client) WriteSystemMetric(service string, accounts int, slot uint64, goroutines int64) {
	tags := map[string]string{
		"service": service,
	}

	fields := map[string]interface{}{
		"accounts":   accounts,
		"slot":       slot,
		"goroutines": goroutines,
	}

	c.writeAPI.WritePoint(write.NewPoint("system", tags, fields, time.Now()))
}

// Query methods

// DifficultyStats summarises submitted difficulty over a window
type DifficultyStats struct {
	Solutions int64   `json:"solutions"`
	Mean      float64 `json:"mean"`
	Max       uint64  `json:"max"`
}

// GetDifficultyStats aggregates the difficulty of solutions on resource
func (c *Client) GetDifficultyStats(ctx context.Context, resource string, duration time.Duration) (*DifficultyStats, error) {
	query := fmt.Sprintf(`
		data = from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "mines")
		|> filter(fn: (r) => r.resource == "%s")
		|> filter(fn: (r) => r._field == "difficulty")
		|> group()
		union(tables: [
			data |> count() |> set(key: "stat", value: "count"),
			data |> mean() |> set(key: "stat", value: "mean"),
			data |> max() |> set(key: "stat", value: "max"),
		])
	`, c.bucket, duration.String(), resource)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query difficulty stats: %w", err)
	}
	defer func() { _ = result.Close() }()

	stats := &DifficultyStats{}
	for result.Next() {
		record := result.Record()
		switch record.ValueByKey("stat") {
		case "count":
			if v, ok := record.Value().(int64); ok {
				stats.Solutions = v
			}
		case "mean":
			if v, ok := record.Value().(float64); ok {
				stats.Mean = v
			}
		case "max":
			if v, ok := record.Value().(uint64); ok {
				stats.Max = v
			}
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return stats, nil
}

// RatePoint is the base reward rate at a point in time
type RatePoint struct {
	Time time.Time `json:"time"`
	Rate uint64    `json:"rate"`
}

// GetRewardRateHistory returns the base reward rate after each reset
func (c *Client) GetRewardRateHistory(ctx context.Context, resource string, duration time.Duration) ([]RatePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "resets")
		|> filter(fn: (r) => r.resource == "%s")
		|> filter(fn: (r) => r._field == "base_reward_rate")
	`, c.bucket, duration.String(), resource)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward rate history: %w", err)
	}
	defer func() { _ = result.Close() }()

	var points []RatePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(uint64); ok {
			points = append(points, RatePoint{Time: record.Time(), Rate: value})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}
