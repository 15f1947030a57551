// Package api serves read-only HTTP views of the mining program's accounts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/chain"
	"github.com/bardlex/gocoal/internal/database"
	"github.com/bardlex/gocoal/internal/database/postgres"
	"github.com/bardlex/gocoal/internal/database/redis"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/internal/reward"
	"github.com/bardlex/gocoal/pkg/log"
)

// MinerSummaries looks up indexed history for an authority
type MinerSummaries interface {
	GetMinerSummary(ctx context.Context, resource, authority string) (*database.MinerSummary, error)
}

// History serves indexed events and aggregates for a resource
type History interface {
	Leaderboard(ctx context.Context, resource string, n int64) ([]redis.LeaderboardEntry, error)
	RecentMines(ctx context.Context, resource, authority string, limit, offset int) ([]*postgres.MineEvent, error)
	LatestReset(ctx context.Context, resource string) (*postgres.ResetEvent, error)
	GetActivityStats(ctx context.Context, resource string, window time.Duration) (*database.ActivityStats, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server holds the handlers' dependencies
type Server struct {
	reader    *chain.Reader
	now       func() time.Time
	logger    *log.Logger
	summaries MinerSummaries
	history   History
	health    []HealthChecker
}

// Option configures a Server
type Option func(*Server)

// WithSummaries enables /v1/miners/{authority}
func WithSummaries(s MinerSummaries) Option {
	return func(srv *Server) { srv.summaries = s }
}

// WithHistory enables the leaderboard, mine history, latest reset and
// activity stats routes
func WithHistory(h History) Option {
	return func(srv *Server) { srv.history = h }
}

// WithHealthChecks adds dependencies reported by /health
func WithHealthChecks(checks ...HealthChecker) Option {
	return func(srv *Server) { srv.health = append(srv.health, checks...) }
}

// WithClock overrides the clock used for epoch status
func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

// NewServer returns a server reading through reader
func NewServer(reader *chain.Reader, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		reader: reader,
		now:    time.Now,
		logger: logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	v1.HandleFunc("/buses", s.handleBuses).Methods(http.MethodGet)
	v1.HandleFunc("/buses/{id:[0-9]+}", s.handleBus).Methods(http.MethodGet)
	v1.HandleFunc("/proofs/{authority}", s.handleProof).Methods(http.MethodGet)
	v1.HandleFunc("/tools/{authority}", s.handleTool).Methods(http.MethodGet)
	v1.HandleFunc("/rewards/preview", s.handleRewardPreview).Methods(http.MethodGet)
	if s.summaries != nil {
		v1.HandleFunc("/miners/{authority}", s.handleMiner).Methods(http.MethodGet)
	}
	if s.history != nil {
		v1.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
		v1.HandleFunc("/miners/{authority}/mines", s.handleMinerMines).Methods(http.MethodGet)
		v1.HandleFunc("/resets/latest", s.handleLatestReset).Methods(http.MethodGet)
		v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path,
			"duration_ms", float64(time.Since(start).Microseconds())/1000)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

// writeError maps lookup failures onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, chain.ErrAccountNotFound), errors.Is(err, postgres.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if perr, ok := protocol.AsProgramError(err); ok {
		body.Code = uint32(perr.Code)
		if status == http.StatusInternalServerError {
			status = http.StatusUnprocessableEntity
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}

func authorityParam(r *http.Request) (account.Pubkey, error) {
	return account.ParsePubkey(mux.Vars(r)["authority"])
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.health {
		if err := check.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"resource": s.reader.Processor().Resource.Name(),
		"program":  s.reader.Processor().ID.String(),
	})
}

// ConfigView is the config record with epoch status
type ConfigView struct {
	Resource       string `json:"resource"`
	LastResetAt    int64  `json:"last_reset_at"`
	NextResetAt    int64  `json:"next_reset_at"`
	NeedsReset     bool   `json:"needs_reset"`
	BaseRewardRate uint64 `json:"base_reward_rate,string"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	TopBalance     uint64 `json:"top_balance,string"`
	Supply         uint64 `json:"supply,string"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.reader.FetchConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	supply, err := s.reader.FetchSupply(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	duration := s.reader.Processor().Resource.EpochDuration
	writeJSON(w, http.StatusOK, ConfigView{
		Resource:       s.reader.Processor().Resource.Name(),
		LastResetAt:    cfg.LastResetAt,
		NextResetAt:    protocol.SaturatingAddInt64(cfg.LastResetAt, duration),
		NeedsReset:     epoch.Due(cfg.LastResetAt, s.now().Unix(), duration),
		BaseRewardRate: cfg.BaseRewardRate,
		MinDifficulty:  cfg.MinDifficulty,
		TopBalance:     cfg.TopBalance,
		Supply:         supply,
	})
}

// BusView is one bus shard
type BusView struct {
	ID                 uint64 `json:"id"`
	Rewards            uint64 `json:"rewards,string"`
	TheoreticalRewards uint64 `json:"theoretical_rewards,string"`
	TopBalance         uint64 `json:"top_balance,string"`
}

func busView(b *account.Bus) BusView {
	return BusView{ID: b.ID, Rewards: b.Rewards, TheoreticalRewards: b.TheoreticalRewards, TopBalance: b.TopBalance}
}

func (s *Server) handleBuses(w http.ResponseWriter, r *http.Request) {
	buses, err := s.reader.FetchBuses(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]BusView, 0, len(buses))
	for _, b := range buses {
		views = append(views, busView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id >= protocol.BusCount {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bus id out of range"})
		return
	}
	bus, err := s.reader.FetchBus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, busView(bus))
}

// ProofView is a proof with its address
type ProofView struct {
	Address      account.Pubkey `json:"address"`
	Authority    account.Pubkey `json:"authority"`
	Challenge    account.Hash   `json:"challenge"`
	LastHash     account.Hash   `json:"last_hash"`
	LastHashAt   int64          `json:"last_hash_at"`
	LastStakeAt  int64          `json:"last_stake_at"`
	NextHashAt   int64          `json:"next_hash_at"`
	Balance      uint64         `json:"balance,string"`
	TotalHashes  uint64         `json:"total_hashes"`
	TotalRewards uint64         `json:"total_rewards,string"`
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	authority, err := authorityParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	proof, err := s.reader.FetchProof(r.Context(), authority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProofView{
		Address:      s.reader.Processor().ProofAddress(authority),
		Authority:    proof.Authority,
		Challenge:    proof.Challenge,
		LastHash:     proof.LastHash,
		LastHashAt:   proof.LastHashAt,
		LastStakeAt:  proof.LastStakeAt,
		NextHashAt:   protocol.SaturatingAddInt64(proof.LastHashAt, protocol.OneMinute-protocol.Tolerance),
		Balance:      proof.Balance,
		TotalHashes:  proof.TotalHashes,
		TotalRewards: proof.TotalRewards,
	})
}

// ToolView is an equipped tool
type ToolView struct {
	Address    account.Pubkey `json:"address"`
	Authority  account.Pubkey `json:"authority"`
	Miner      account.Pubkey `json:"miner"`
	Asset      account.Pubkey `json:"asset"`
	Durability uint64         `json:"durability,string"`
	Multiplier uint64         `json:"multiplier"`
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	authority, err := authorityParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	tool, err := s.reader.FetchTool(r.Context(), authority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolView{
		Address:    s.reader.Processor().ToolAddress(authority),
		Authority:  tool.Authority,
		Miner:      tool.Miner,
		Asset:      tool.Asset,
		Durability: tool.Durability,
		Multiplier: tool.Multiplier,
	})
}

// RewardPreview is the base reward for a difficulty at the current rate
type RewardPreview struct {
	Difficulty     uint32 `json:"difficulty"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	BaseRewardRate uint64 `json:"base_reward_rate,string"`
	Reward         uint64 `json:"reward,string"`
}

func (s *Server) handleRewardPreview(w http.ResponseWriter, r *http.Request) {
	d, err := strconv.ParseUint(r.URL.Query().Get("difficulty"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "difficulty must be an integer"})
		return
	}
	cfg, err := s.reader.FetchConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := reward.BaseReward(cfg.BaseRewardRate, uint32(d), cfg.MinDifficulty)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RewardPreview{
		Difficulty:     uint32(d),
		MinDifficulty:  cfg.MinDifficulty,
		BaseRewardRate: cfg.BaseRewardRate,
		Reward:         amount,
	})
}

func (s *Server) handleMiner(w http.ResponseWriter, r *http.Request) {
	authority, err := authorityParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	summary, err := s.summaries.GetMinerSummary(r.Context(), s.reader.Processor().Resource.Name(), authority.String())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultStatsWindow = time.Hour
)

// intQuery parses an optional non-negative integer query parameter
func intQuery(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	if v > max {
		v = max
	}
	return v, nil
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultPageSize, maxPageSize)
	if err != nil || limit == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
		return
	}
	entries, err := s.history.Leaderboard(r.Context(), s.reader.Processor().Resource.Name(), int64(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMinerMines(w http.ResponseWriter, r *http.Request) {
	authority, err := authorityParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	limit, err := intQuery(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	offset, err := intQuery(r, "offset", 0, math.MaxInt32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	events, err := s.history.RecentMines(r.Context(), s.reader.Processor().Resource.Name(), authority.String(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*postgres.MineEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLatestReset(w http.ResponseWriter, r *http.Request) {
	ev, err := s.history.LatestReset(r.Context(), s.reader.Processor().Resource.Name())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid window"})
			return
		}
		window = d
	}
	stats, err := s.history.GetActivityStats(r.Context(), s.reader.Processor().Resource.Name(), window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
