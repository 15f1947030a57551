package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/config"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/ledger"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/pkg/log"
)

// Publisher sends messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

// Recorder indexes processed transactions and their events
type Recorder interface {
	AllowSubmission(ctx context.Context, resource, authority string, perMinute int) bool
	RecordMine(ctx context.Context, ev messaging.MineEventMessage) error
	RecordReset(ctx context.Context, ev messaging.ResetEventMessage) error
	RecordTransaction(resource, kind string, res messaging.TransactionResult)
	RecordSystem(service string, accounts int, slot uint64)
}

// Snapshotter persists the bank
type Snapshotter interface {
	Save(b *ledger.Bank) error
}

// AccountCache holds decoded account views that committed transactions make stale
type AccountCache interface {
	Invalidate(key account.Pubkey)
	Purge()
}

// Submission is a queued transaction awaiting a worker
type Submission struct {
	Message    *messaging.TransactionMessage
	ResultChan chan messaging.TransactionResult
}

// Ledgerd executes submitted transactions against the bank
type Ledgerd struct {
	cfg       *config.Config
	logger    *log.Logger
	bank      *ledger.Bank
	processor *program.Processor
	publisher Publisher
	recorder  Recorder
	store     Snapshotter
	cache     AccountCache
	encoding  messaging.Encoding

	// Signs the service's own reset transactions
	crank account.Pubkey

	processed atomic.Int64

	queue chan *Submission

	// closing is set under gate when Shutdown starts; nothing is queued after.
	gate    sync.RWMutex
	closing bool
	done    chan struct{}
	// stopped is closed once every worker has returned
	stopped chan struct{}
	workers sync.WaitGroup
	wg      sync.WaitGroup
}

// ErrShuttingDown is returned for submissions arriving after Shutdown
var ErrShuttingDown = errors.New("ledgerd shutting down")

// NewLedgerd creates the transaction service. recorder and store may be nil.
func NewLedgerd(cfg *config.Config, logger *log.Logger, bank *ledger.Bank, processor *program.Processor,
	publisher Publisher, recorder Recorder, store Snapshotter) *Ledgerd {
	encoding, _ := messaging.ParseEncoding(cfg.MessageEncoding)
	return &Ledgerd{
		cfg:       cfg,
		encoding:  encoding,
		logger:    logger.WithComponent("ledgerd").WithResource(processor.Resource.Name()),
		bank:      bank,
		processor: processor,
		publisher: publisher,
		recorder:  recorder,
		store:     store,
		crank:     account.DeriveAddress(processor.ID, []byte(cfg.ServiceName), []byte("crank")),
		queue:     make(chan *Submission, cfg.WorkerPoolSize*10),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// UseCache registers a cache to refresh after each commit. Call before Start.
func (l *Ledgerd) UseCache(c AccountCache) { l.cache = c }

// refresh drops cached views of the accounts tx wrote. A reset rewrites
// every bus, so it clears the whole cache.
func (l *Ledgerd) refresh(kind string, tx ledger.Transaction) {
	if l.cache == nil {
		return
	}
	if kind == messaging.KindReset {
		l.cache.Purge()
		return
	}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsWritable {
				l.cache.Invalidate(meta.Pubkey)
			}
		}
	}
}

// Start runs the workers and background loops until ctx is done or
// Shutdown is called
func (l *Ledgerd) Start(ctx context.Context) error {
	l.logger.Info("ledgerd starting", "workers", l.cfg.WorkerPoolSize, "program", l.processor.ID.String())

	for i := 0; i < l.cfg.WorkerPoolSize; i++ {
		l.wg.Add(1)
		l.workers.Add(1)
		go l.worker(ctx, i)
	}
	go func() {
		l.workers.Wait()
		close(l.stopped)
	}()

	l.wg.Add(1)
	go l.resetLoop(ctx)

	if l.store != nil {
		l.wg.Add(1)
		go l.snapshotLoop(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	}
}

// stop refuses new submissions and tells the workers to drain the queue
func (l *Ledgerd) stop() {
	l.gate.Lock()
	defer l.gate.Unlock()
	if !l.closing {
		l.closing = true
		close(l.done)
	}
}

// Shutdown stops accepting submissions, waits for the workers to finish
// everything already queued and writes a final snapshot
func (l *Ledgerd) Shutdown(ctx context.Context) error {
	l.logger.Info("shutting down ledgerd")
	l.stop()

	stopped := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	if l.store != nil {
		if err := l.store.Save(l.bank); err != nil {
			return fmt.Errorf("final snapshot: %w", err)
		}
	}
	return nil
}

// worker processes submissions from the queue. After Shutdown it drains
// what is left before returning.
func (l *Ledgerd) worker(ctx context.Context, workerID int) {
	defer l.wg.Done()
	defer l.workers.Done()
	logger := l.logger.WithFields("worker_id", workerID)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-l.queue:
			l.run(ctx, sub)
		case <-l.done:
			for {
				select {
				case sub := <-l.queue:
					l.run(ctx, sub)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledgerd) run(ctx context.Context, sub *Submission) {
	// ResultChan is buffered
	sub.ResultChan <- l.Process(ctx, sub.Message)
}

// enqueue queues msg unless Shutdown has started, waiting for queue space
// until ctx is done or the workers have stopped
func (l *Ledgerd) enqueue(ctx context.Context, msg *messaging.TransactionMessage) (*Submission, error) {
	sub := &Submission{Message: msg, ResultChan: make(chan messaging.TransactionResult, 1)}

	l.gate.RLock()
	defer l.gate.RUnlock()
	if l.closing {
		return nil, ErrShuttingDown
	}
	select {
	case l.queue <- sub:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.stopped:
		return nil, ErrShuttingDown
	}
}

// HandleMessage decodes a submission from Kafka, queues it and returns once
// a worker has executed it and published the result, so the consumer
// commits only processed submissions. A submission that could not be
// queued is refused with messaging.ErrRedeliver.
func (l *Ledgerd) HandleMessage(ctx context.Context, key string, value []byte) error {
	var msg messaging.TransactionMessage
	if err := messaging.Decode(l.encoding, value, &msg); err != nil {
		return fmt.Errorf("decode transaction %s: %w", key, err)
	}
	if msg.TxID == "" {
		msg.TxID = key
	}

	sub, err := l.enqueue(ctx, &msg)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", messaging.ErrRedeliver, msg.TxID, err)
	}

	// Queued work is drained at shutdown, so the result arrives unless the
	// workers were cancelled.
	select {
	case <-sub.ResultChan:
		return nil
	case <-l.stopped:
		select {
		case <-sub.ResultChan:
			return nil
		default:
			return fmt.Errorf("%w: %s: %v", messaging.ErrRedeliver, msg.TxID, ErrShuttingDown)
		}
	}
}

// Process executes one submission and publishes its outcome
func (l *Ledgerd) Process(ctx context.Context, msg *messaging.TransactionMessage) messaging.TransactionResult {
	start := time.Now()
	logger := l.logger.WithFields("tx_id", msg.TxID, "kind", msg.Kind)

	if msg.Kind == messaging.KindMine && l.recorder != nil &&
		!l.recorder.AllowSubmission(ctx, l.processor.Resource.Name(), msg.Signer, l.cfg.SubmissionRateLimit) {
		res := NewResult(msg.TxID, l.bank.Clock().Slot, start, fmt.Errorf("submission rate limit exceeded"))
		res.Status = StatusRejected
		res.Retryable = true
		l.finish(ctx, msg, res)
		return res
	}

	tx, err := BuildTransaction(l.processor, msg)
	if err != nil {
		logger.WithError(err).Info("rejected malformed transaction")
		res := NewResult(msg.TxID, l.bank.Clock().Slot, start, err)
		res.Status = StatusRejected
		l.finish(ctx, msg, res)
		return res
	}

	receipt, err := l.bank.Execute(ctx, tx)
	if err != nil {
		res := NewResult(msg.TxID, l.bank.Clock().Slot, start, err)
		l.finish(ctx, msg, res)
		return res
	}
	l.refresh(msg.Kind, tx)

	switch msg.Kind {
	case messaging.KindMine:
		l.emitMine(ctx, msg, receipt)
	case messaging.KindReset:
		l.emitReset(ctx, msg.TxID, receipt)
	}

	res := NewResult(msg.TxID, receipt.Slot, start, nil)
	l.finish(ctx, msg, res)
	return res
}

// Processed returns the number of submissions handled since start
func (l *Ledgerd) Processed() int64 { return l.processed.Load() }

func (l *Ledgerd) finish(ctx context.Context, msg *messaging.TransactionMessage, res messaging.TransactionResult) {
	l.processed.Add(1)
	if err := l.publisher.Publish(ctx, messaging.TopicTransactionResults, res.TxID, res); err != nil {
		l.logger.WithError(err).Error("failed to publish transaction result", "tx_id", res.TxID)
	}
	if l.recorder != nil {
		l.recorder.RecordTransaction(l.processor.Resource.Name(), msg.Kind, res)
	}
}

func (l *Ledgerd) emitMine(ctx context.Context, msg *messaging.TransactionMessage, receipt *ledger.Receipt) {
	var balance uint64
	if signer, err := account.ParsePubkey(msg.Signer); err == nil {
		if acct, ok := l.bank.Account(l.processor.ProofAddress(signer)); ok {
			if proof, err := account.DecodeProof(acct.Data); err == nil {
				balance = proof.Balance
			}
		}
	}

	logger := l.logger.WithBus(msg.BusID)
	ev, err := MineEventMessage(l.processor, msg, receipt, balance)
	if err != nil {
		logger.WithError(err).Error("failed to decode mine event", "tx_id", msg.TxID)
		return
	}
	logger = logger.WithProof(ev.Proof, ev.Authority)
	logger.LogMineEvent(ev.Difficulty, ev.Reward, ev.Timing)

	if err := l.publisher.Publish(ctx, messaging.TopicMineEvents, ev.Authority, ev); err != nil {
		logger.WithError(err).Error("failed to publish mine event", "tx_id", msg.TxID)
	}
	if l.recorder != nil {
		if err := l.recorder.RecordMine(ctx, ev); err != nil {
			logger.WithError(err).Error("failed to record mine event", "tx_id", msg.TxID)
		}
	}
}

func (l *Ledgerd) emitReset(ctx context.Context, txID string, receipt *ledger.Receipt) {
	ev, ok, err := ResetEventMessage(l.processor, txID, receipt)
	if err != nil {
		l.logger.WithError(err).Error("failed to decode reset event", "tx_id", txID)
		return
	}
	if !ok {
		l.logger.Debug("reset skipped, epoch still open", "tx_id", txID)
		return
	}
	l.logger.WithEpoch(ev.LastResetAt).LogEpochReset(ev.LastResetAt, ev.BaseRewardRate, ev.MinDifficulty, ev.MintAmount)

	if err := l.publisher.Publish(ctx, messaging.TopicResetEvents, ev.Resource, ev); err != nil {
		l.logger.WithError(err).Error("failed to publish reset event", "tx_id", txID)
	}
	if l.recorder != nil {
		if err := l.recorder.RecordReset(ctx, ev); err != nil {
			l.logger.WithError(err).Error("failed to record reset event", "tx_id", txID)
		}
	}
}

// ResetDue reports whether the current epoch has ended
func (l *Ledgerd) ResetDue() bool {
	acct, ok := l.bank.Account(l.processor.ConfigAddress())
	if !ok {
		return false
	}
	cfg, err := account.DecodeConfig(acct.Data)
	if err != nil {
		return false
	}
	return epoch.Due(cfg.LastResetAt, l.bank.Clock().UnixTimestamp, l.processor.Resource.EpochDuration)
}

// CrankReset submits a reset signed by the service when the epoch has ended
func (l *Ledgerd) CrankReset(ctx context.Context) (messaging.TransactionResult, bool) {
	if !l.ResetDue() {
		return messaging.TransactionResult{}, false
	}
	msg := &messaging.TransactionMessage{
		TxID:        messaging.NewID(),
		Kind:        messaging.KindReset,
		Resource:    l.processor.Resource.Name(),
		Signer:      l.crank.String(),
		SubmittedAt: time.Now(),
	}
	return l.Process(ctx, msg), true
}

// resetLoop closes epochs as they end
func (l *Ledgerd) resetLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.ResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			if res, ran := l.CrankReset(ctx); ran && res.Status != StatusCommitted {
				l.logger.Warn("epoch reset failed", "error", res.ErrorName)
			}
		}
	}
}

// snapshotLoop persists the bank periodically
func (l *Ledgerd) snapshotLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.SnapshotInterval)
	defer ticker.Stop()
	last, lastAt := l.Processed(), time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			start := time.Now()
			if err := l.store.Save(l.bank); err != nil {
				l.logger.WithError(err).Error("snapshot failed")
				continue
			}
			l.logger.LogDuration("snapshot", time.Since(start))
			if l.recorder != nil {
				l.recorder.RecordSystem(l.cfg.ServiceName, l.bank.Len(), l.bank.SlotHashes().CurrentSlot())
			}

			n := l.Processed()
			l.logger.LogThroughput("transactions", n-last, time.Since(lastAt))
			last, lastAt = n, time.Now()
		}
	}
}
