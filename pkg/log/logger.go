// Package log provides structured logging for the gocoal ledger services.
// It wraps the standard library's slog package with domain helpers for
// proofs, buses and epoch resets.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

// Context keys recognised by WithContext.
const (
	RequestIDKey contextKey = "request_id"
	TxIDKey      contextKey = "tx_id"
)

// Logger wraps slog.Logger with service identity and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Service returns the service name the logger was created with
func (l *Logger) Service() string { return l.service }

func (l *Logger) derive(logger *slog.Logger) *Logger {
	return &Logger{Logger: logger, service: l.service, version: l.version}
}

// WithContext returns a logger carrying request and transaction ids found in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		logger = logger.With("request_id", reqID)
	}
	if txID := ctx.Value(TxIDKey); txID != nil {
		logger = logger.With("tx_id", txID)
	}
	return l.derive(logger)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return l.derive(l.With(fields...))
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithResource tags log lines with the resource track (coal, wood)
func (l *Logger) WithResource(resource string) *Logger {
	return l.WithFields("resource", resource)
}

// WithProof returns a logger with proof account fields
func (l *Logger) WithProof(proof, authority string) *Logger {
	return l.WithFields("proof", proof, "authority", authority)
}

// WithBus returns a logger with the bus shard id
func (l *Logger) WithBus(busID uint64) *Logger {
	return l.WithFields("bus_id", busID)
}

// WithEpoch returns a logger with the epoch's opening timestamp
func (l *Logger) WithEpoch(lastResetAt int64) *Logger {
	return l.WithFields("epoch_start", lastResetAt)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogThroughput logs processed transactions per second
func (l *Logger) LogThroughput(operation string, count int64, duration time.Duration) {
	if duration <= 0 {
		return
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"throughput_ops_sec", float64(count)/duration.Seconds(),
	)
}

// LogTransaction logs the outcome of an executed transaction
func (l *Logger) LogTransaction(txID string, instructions int, status string, duration time.Duration) {
	l.Info("transaction executed",
		"tx_id", txID,
		"instructions", instructions,
		"status", status,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogMineEvent logs an accepted proof-of-work submission. Callers attach
// the proof and bus with WithProof and WithBus.
func (l *Logger) LogMineEvent(difficulty, reward uint64, timing int64) {
	l.Info("hash accepted",
		"difficulty", difficulty,
		"reward", reward,
		"timing", timing,
	)
}

// LogEpochReset logs the parameters chosen by an epoch reset
func (l *Logger) LogEpochReset(lastResetAt int64, rate, minDifficulty, minted uint64) {
	l.Info("epoch reset",
		"last_reset_at", lastResetAt,
		"base_reward_rate", rate,
		"min_difficulty", minDifficulty,
		"minted", minted,
	)
}
