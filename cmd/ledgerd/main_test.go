package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/config"
	"github.com/bardlex/gocoal/internal/ledger"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/pkg/log"
)

type published struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key, value: v})
	return nil
}

func (p *fakePublisher) topic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	deny    bool
	mines   []messaging.MineEventMessage
	resets  []messaging.ResetEventMessage
	results []messaging.TransactionResult
	samples int
}

func (r *fakeRecorder) AllowSubmission(context.Context, string, string, int) bool {
	return !r.deny
}

func (r *fakeRecorder) RecordMine(_ context.Context, ev messaging.MineEventMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mines = append(r.mines, ev)
	return nil
}

func (r *fakeRecorder) RecordReset(_ context.Context, ev messaging.ResetEventMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, ev)
	return nil
}

func (r *fakeRecorder) RecordTransaction(_, _ string, res messaging.TransactionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *fakeRecorder) RecordSystem(string, int, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
}

func (r *fakeRecorder) sampled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

type fakeStore struct {
	mu    sync.Mutex
	saves int
}

func (s *fakeStore) Save(*ledger.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

type fakeCache struct {
	invalidated map[account.Pubkey]bool
	purges      int
}

func (c *fakeCache) Invalidate(key account.Pubkey) {
	if c.invalidated == nil {
		c.invalidated = make(map[account.Pubkey]bool)
	}
	c.invalidated[key] = true
}

func (c *fakeCache) Purge() { c.purges++ }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testService struct {
	ledgerd   *Ledgerd
	bank      *ledger.Bank
	processor *program.Processor
	clock     *testClock
	publisher *fakePublisher
	recorder  *fakeRecorder
	store     *fakeStore
}

func testKey(label string) account.Pubkey {
	return account.Pubkey(pow.Keccak([]byte(label)))
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:         "test-ledgerd",
		Version:             "test",
		Resource:            "coal",
		MessageEncoding:     "json",
		WorkerPoolSize:      1,
		ResetInterval:       time.Hour,
		SnapshotInterval:    time.Hour,
		SubmissionRateLimit: 10,
	}
}

// newTestService returns a ledgerd over a bank at genesis with a proof
// opened for each miner. The first epoch has not been started.
func newTestService(t *testing.T, miners ...account.Pubkey) *testService {
	t.Helper()
	cfg := testConfig()
	p, err := cfg.Processor()
	if err != nil {
		t.Fatalf("Processor() error = %v", err)
	}

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	bank := ledger.NewBank(ledger.WithClock(clock.Now))
	if err := bank.Genesis(p); err != nil {
		t.Fatalf("Genesis() error = %v", err)
	}
	for _, m := range miners {
		if _, err := bank.OpenProof(p, m); err != nil {
			t.Fatalf("OpenProof() error = %v", err)
		}
	}

	s := &testService{
		bank:      bank,
		processor: p,
		clock:     clock,
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
		store:     &fakeStore{},
	}
	logger := log.NewWithWriter(io.Discard, cfg.ServiceName, cfg.Version, "error", "json")
	s.ledgerd = NewLedgerd(cfg, logger, bank, p, s.publisher, s.recorder, s.store)
	return s
}

// startEpoch cranks the first reset 30 seconds after genesis and leaves the
// clock 58 seconds after the proofs were opened.
func (s *testService) startEpoch(t *testing.T) {
	t.Helper()
	s.clock.Advance(30 * time.Second)
	res, ran := s.ledgerd.CrankReset(context.Background())
	if !ran {
		t.Fatal("CrankReset() did not run at genesis")
	}
	if res.Status != StatusCommitted {
		t.Fatalf("reset status = %s (%s), want committed", res.Status, res.ErrorName)
	}
	s.clock.Advance(28 * time.Second)
}

func (s *testService) mineMessage(t *testing.T, miner account.Pubkey, busID uint64) *messaging.TransactionMessage {
	t.Helper()
	acct, ok := s.bank.Account(s.processor.ProofAddress(miner))
	if !ok {
		t.Fatal("proof account missing")
	}
	proof, err := account.DecodeProof(acct.Data)
	if err != nil {
		t.Fatal(err)
	}
	acct, _ = s.bank.Account(s.processor.ConfigAddress())
	cfg, err := account.DecodeConfig(acct.Data)
	if err != nil {
		t.Fatal(err)
	}

	sol, _, err := pow.Solve(context.Background(), proof.Challenge, uint32(cfg.MinDifficulty), 0, 1<<20)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	return &messaging.TransactionMessage{
		TxID:     messaging.NewID(),
		Kind:     messaging.KindMine,
		Resource: "coal",
		Signer:   miner.String(),
		BusID:    busID,
		Digest:   hex.EncodeToString(sol.Digest[:]),
		Nonce:    sol.NonceValue(),
	}
}

func TestNewLedgerd(t *testing.T) {
	s := newTestService(t)
	l := s.ledgerd

	if l.encoding != messaging.EncodingJSON {
		t.Errorf("encoding = %s, want json", l.encoding)
	}
	if cap(l.queue) != l.cfg.WorkerPoolSize*10 {
		t.Errorf("queue capacity = %d, want %d", cap(l.queue), l.cfg.WorkerPoolSize*10)
	}
	want := account.DeriveAddress(s.processor.ID, []byte("test-ledgerd"), []byte("crank"))
	if l.crank != want {
		t.Errorf("crank = %s, want %s", l.crank, want)
	}
}

func TestBuildTransaction(t *testing.T) {
	s := newTestService(t)
	signer := testKey("miner").String()
	digest := hex.EncodeToString(make([]byte, 32))

	tests := []struct {
		name    string
		msg     messaging.TransactionMessage
		wantErr error
		wantIxs int
	}{
		{
			name:    "reset",
			msg:     messaging.TransactionMessage{Kind: messaging.KindReset, Signer: signer},
			wantIxs: 1,
		},
		{
			name:    "mine",
			msg:     messaging.TransactionMessage{Kind: messaging.KindMine, Resource: "coal", Signer: signer, Digest: digest},
			wantIxs: 3,
		},
		{
			name:    "other resource",
			msg:     messaging.TransactionMessage{Kind: messaging.KindReset, Resource: "wood", Signer: signer},
			wantErr: protocol.ErrInvalidResource,
		},
		{
			name:    "bad signer",
			msg:     messaging.TransactionMessage{Kind: messaging.KindReset, Signer: "0OIl"},
			wantErr: protocol.ErrInvalidInstructionData,
		},
		{
			name:    "short digest",
			msg:     messaging.TransactionMessage{Kind: messaging.KindMine, Signer: signer, Digest: "abcd"},
			wantErr: protocol.ErrInvalidInstructionData,
		},
		{
			name:    "guild member without config",
			msg:     messaging.TransactionMessage{Kind: messaging.KindMine, Signer: signer, Digest: digest, GuildMember: signer},
			wantErr: protocol.ErrInvalidInstructionData,
		},
		{
			name:    "unknown kind",
			msg:     messaging.TransactionMessage{Kind: "stake", Signer: signer},
			wantErr: protocol.ErrInvalidInstructionData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := BuildTransaction(s.processor, &tt.msg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("BuildTransaction() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildTransaction() error = %v", err)
			}
			if len(tx.Instructions) != tt.wantIxs {
				t.Errorf("instructions = %d, want %d", len(tx.Instructions), tt.wantIxs)
			}
		})
	}
}

func TestNewResult(t *testing.T) {
	res := NewResult("tx", 9, time.Now(), nil)
	if res.Status != StatusCommitted || res.Slot != 9 || res.ErrorName != "" {
		t.Errorf("unexpected committed result: %+v", res)
	}

	res = NewResult("tx", 9, time.Now(), &ledger.InstructionError{Index: 1, Err: protocol.ErrSpam})
	if res.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if res.ErrorCode != uint32(protocol.ErrSpam.Code) || res.ErrorName != "Spam" {
		t.Errorf("error = %d %s, want Spam", res.ErrorCode, res.ErrorName)
	}
}

func TestCrankReset(t *testing.T) {
	s := newTestService(t)

	if !s.ledgerd.ResetDue() {
		t.Fatal("ResetDue() = false at genesis")
	}
	s.startEpoch(t)

	resets := s.publisher.topic(messaging.TopicResetEvents)
	if len(resets) != 1 {
		t.Fatalf("published %d reset events, want 1", len(resets))
	}
	ev := resets[0].value.(messaging.ResetEventMessage)
	if ev.LastResetAt != s.clock.Now().Add(-28*time.Second).Unix() {
		t.Errorf("LastResetAt = %d", ev.LastResetAt)
	}
	if ev.MintAmount != protocol.MaxEpochRewards {
		t.Errorf("MintAmount = %d, want %d", ev.MintAmount, protocol.MaxEpochRewards)
	}
	if len(s.recorder.resets) != 1 {
		t.Errorf("recorded %d resets, want 1", len(s.recorder.resets))
	}

	// The epoch is open again.
	if s.ledgerd.ResetDue() {
		t.Error("ResetDue() = true right after a reset")
	}
	if _, ran := s.ledgerd.CrankReset(context.Background()); ran {
		t.Error("CrankReset() ran inside an open epoch")
	}
}

func TestProcessMine(t *testing.T) {
	miner := testKey("miner")
	s := newTestService(t, miner)
	s.startEpoch(t)

	var logs bytes.Buffer
	s.ledgerd.logger = log.NewWithWriter(&logs, "ledgerd", "test", "info", "json")

	msg := s.mineMessage(t, miner, 3)
	res := s.ledgerd.Process(context.Background(), msg)
	if res.Status != StatusCommitted {
		t.Fatalf("Status = %s (%s), want committed", res.Status, res.ErrorName)
	}

	var accepted map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry["msg"] == "hash accepted" {
			accepted = entry
		}
	}
	if accepted == nil {
		t.Fatalf("no hash accepted log line in %q", logs.String())
	}
	if accepted["bus_id"] != float64(3) || accepted["authority"] != miner.String() {
		t.Errorf("hash accepted log = %v, want bus_id 3 and authority %s", accepted, miner)
	}

	mines := s.publisher.topic(messaging.TopicMineEvents)
	if len(mines) != 1 {
		t.Fatalf("published %d mine events, want 1", len(mines))
	}
	ev := mines[0].value.(messaging.MineEventMessage)
	if mines[0].key != miner.String() || ev.Authority != miner.String() {
		t.Errorf("event keyed by %s for %s, want %s", mines[0].key, ev.Authority, miner)
	}
	if ev.BusID != 3 || ev.Reward == 0 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Balance != ev.Reward {
		t.Errorf("Balance = %d, want %d", ev.Balance, ev.Reward)
	}
	if ev.Proof != s.processor.ProofAddress(miner).String() {
		t.Errorf("Proof = %s", ev.Proof)
	}

	results := s.publisher.topic(messaging.TopicTransactionResults)
	// one reset and one mine
	if len(results) != 2 {
		t.Errorf("published %d results, want 2", len(results))
	}
	if len(s.recorder.mines) != 1 || len(s.recorder.results) != 2 {
		t.Errorf("recorded %d mines and %d results", len(s.recorder.mines), len(s.recorder.results))
	}
	if s.ledgerd.Processed() != 2 {
		t.Errorf("Processed() = %d, want 2", s.ledgerd.Processed())
	}
}

func TestProcessRefreshesCache(t *testing.T) {
	miner := testKey("miner")
	s := newTestService(t, miner)
	cache := &fakeCache{}
	s.ledgerd.UseCache(cache)

	s.startEpoch(t)
	if cache.purges != 1 {
		t.Errorf("purges = %d after reset, want 1", cache.purges)
	}

	res := s.ledgerd.Process(context.Background(), s.mineMessage(t, miner, 5))
	if res.Status != StatusCommitted {
		t.Fatalf("Status = %s (%s), want committed", res.Status, res.ErrorName)
	}
	for _, key := range []account.Pubkey{s.processor.ProofAddress(miner), s.processor.BusAddress(5)} {
		if !cache.invalidated[key] {
			t.Errorf("%s not invalidated", key)
		}
	}
	if cache.invalidated[s.processor.ConfigAddress()] {
		t.Error("read-only config invalidated by a mine")
	}
	if cache.purges != 1 {
		t.Errorf("purges = %d after mine, want 1", cache.purges)
	}
}

func TestProcessFailures(t *testing.T) {
	miner := testKey("miner")

	t.Run("needs reset", func(t *testing.T) {
		s := newTestService(t, miner)
		res := s.ledgerd.Process(context.Background(), s.mineMessage(t, miner, 0))
		if res.Status != StatusFailed || res.ErrorName != "NeedsReset" {
			t.Errorf("result = %s %s, want failed NeedsReset", res.Status, res.ErrorName)
		}
		if len(s.publisher.topic(messaging.TopicMineEvents)) != 0 {
			t.Error("failed mine published an event")
		}
	})

	t.Run("invalid hash", func(t *testing.T) {
		s := newTestService(t, miner)
		s.startEpoch(t)
		msg := s.mineMessage(t, miner, 0)
		msg.Nonce++
		res := s.ledgerd.Process(context.Background(), msg)
		if res.Status != StatusFailed || res.ErrorCode != uint32(protocol.ErrHashInvalid.Code) {
			t.Errorf("result = %s %d, want failed HashInvalid", res.Status, res.ErrorCode)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		s := newTestService(t, miner)
		res := s.ledgerd.Process(context.Background(), &messaging.TransactionMessage{
			TxID: "bad", Kind: messaging.KindMine, Signer: miner.String(), Digest: "zz",
		})
		if res.Status != StatusRejected {
			t.Errorf("Status = %s, want rejected", res.Status)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		s := newTestService(t, miner)
		s.startEpoch(t)
		s.recorder.deny = true
		msg := s.mineMessage(t, miner, 0)
		res := s.ledgerd.Process(context.Background(), msg)
		if res.Status != StatusRejected || !res.Retryable {
			t.Errorf("result = %s retryable=%v, want retryable rejection", res.Status, res.Retryable)
		}

		acct, _ := s.bank.Account(s.processor.ProofAddress(miner))
		proof, err := account.DecodeProof(acct.Data)
		if err != nil {
			t.Fatal(err)
		}
		if proof.TotalHashes != 0 {
			t.Error("rate limited submission reached the bank")
		}
	})
}

func TestHandleMessage(t *testing.T) {
	s := newTestService(t)
	l := s.ledgerd

	data, err := json.Marshal(messaging.TransactionMessage{Kind: messaging.KindReset, Signer: testKey("c").String()})
	if err != nil {
		t.Fatal(err)
	}
	handled := make(chan error, 1)
	go func() { handled <- l.HandleMessage(context.Background(), "kafka-key", data) }()

	var sub *Submission
	select {
	case sub = <-l.queue:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleMessage() did not queue the submission")
	}
	if sub.Message.TxID != "kafka-key" {
		t.Errorf("TxID = %q, want the message key", sub.Message.TxID)
	}
	if sub.Message.Kind != messaging.KindReset {
		t.Errorf("Kind = %q, want reset", sub.Message.Kind)
	}

	select {
	case err := <-handled:
		t.Fatalf("HandleMessage() returned %v before the submission ran", err)
	case <-time.After(20 * time.Millisecond):
	}
	sub.ResultChan <- messaging.TransactionResult{TxID: sub.Message.TxID, Status: StatusCommitted}
	if err := <-handled; err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	err = l.HandleMessage(context.Background(), "k", []byte("{not json"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, messaging.ErrRedeliver) {
		t.Error("a message that cannot be decoded should not be redelivered")
	}
}

func TestHandleMessageWaitsForResult(t *testing.T) {
	s := newTestService(t)
	l := s.ledgerd

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- l.Start(ctx) }()

	data, err := json.Marshal(messaging.TransactionMessage{
		TxID:   "reset-1",
		Kind:   messaging.KindReset,
		Signer: testKey("cranker").String(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.HandleMessage(ctx, "reset-1", data); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	var found bool
	for _, m := range s.publisher.topic(messaging.TopicTransactionResults) {
		if m.key == "reset-1" {
			found = true
		}
	}
	if !found {
		t.Error("HandleMessage() returned before the result was published")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := l.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-started; err != nil {
		t.Errorf("Start() returned %v after shutdown", err)
	}
	if s.store.saves != 1 {
		t.Errorf("saves = %d, want a final snapshot", s.store.saves)
	}

	err = l.HandleMessage(ctx, "late", data)
	if !errors.Is(err, messaging.ErrRedeliver) {
		t.Errorf("HandleMessage() after shutdown = %v, want ErrRedeliver", err)
	}
}

func TestWorkerDrainsQueueOnShutdown(t *testing.T) {
	s := newTestService(t)
	l := s.ledgerd

	var subs []*Submission
	for i := 0; i < 5; i++ {
		sub := &Submission{
			Message: &messaging.TransactionMessage{
				TxID:   fmt.Sprintf("reset-%d", i),
				Kind:   messaging.KindReset,
				Signer: testKey("cranker").String(),
			},
			ResultChan: make(chan messaging.TransactionResult, 1),
		}
		l.queue <- sub
		subs = append(subs, sub)
	}

	l.stop()
	l.wg.Add(1)
	l.workers.Add(1)
	l.worker(context.Background(), 0)

	for _, sub := range subs {
		select {
		case res := <-sub.ResultChan:
			if res.TxID != sub.Message.TxID {
				t.Errorf("result TxID = %q, want %q", res.TxID, sub.Message.TxID)
			}
		default:
			t.Errorf("%s was dropped at shutdown", sub.Message.TxID)
		}
	}
	if got := l.Processed(); got != int64(len(subs)) {
		t.Errorf("Processed() = %d, want %d", got, len(subs))
	}
	if len(l.queue) != 0 {
		t.Errorf("queue holds %d submissions after drain", len(l.queue))
	}
}

func TestSnapshotLoopSamplesSystem(t *testing.T) {
	s := newTestService(t, testKey("miner"))
	l := s.ledgerd
	l.cfg.SnapshotInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- l.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.recorder.sampled() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no system sample recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := l.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	<-started
}
