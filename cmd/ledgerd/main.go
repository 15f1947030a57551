// Package main implements ledgerd, the gocoal ledger daemon. It executes
// mine and reset transactions consumed from Kafka against an in-process
// bank, publishes the resulting events, closes epochs as they end and
// serves a read API over the program's accounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bardlex/gocoal/internal/api"
	"github.com/bardlex/gocoal/internal/chain"
	"github.com/bardlex/gocoal/internal/config"
	"github.com/bardlex/gocoal/internal/database"
	"github.com/bardlex/gocoal/internal/database/influx"
	"github.com/bardlex/gocoal/internal/database/postgres"
	"github.com/bardlex/gocoal/internal/database/redis"
	"github.com/bardlex/gocoal/internal/ledger"
	"github.com/bardlex/gocoal/internal/messaging"
	"github.com/bardlex/gocoal/internal/program"
	"github.com/bardlex/gocoal/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("ledgerd failed")
		os.Exit(1)
	}
	logger.Info("ledgerd stopped")
}

func run(cfg *config.Config, logger *log.Logger) error {
	processor, err := cfg.Processor()
	if err != nil {
		return err
	}
	logger.Info("starting ledgerd",
		"version", cfg.Version,
		"resource", processor.Resource.Name(),
		"program", processor.ID.String(),
		"worker_pool_size", cfg.WorkerPoolSize,
	)

	store, err := ledger.OpenStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("failed to close store")
		}
	}()

	bank := ledger.NewBank(ledger.WithLogger(logger))
	if err := openBank(bank, store, processor, logger); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Slot hashes come from the ZMQ feed when configured, local ticks otherwise
	if cfg.SlotFeedAddr != "" {
		feed, err := ledger.NewSlotFeed(cfg.SlotFeedAddr, bank.SlotHashes(), logger)
		if err != nil {
			return fmt.Errorf("slot feed: %w", err)
		}
		defer func() { _ = feed.Close() }()
		if err := feed.Connect(); err != nil {
			return fmt.Errorf("slot feed: %w", err)
		}
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("slot feed stopped")
			}
		}()
	} else {
		go tickSlots(ctx, bank.SlotHashes(), cfg.SlotInterval)
	}

	encoding, _ := messaging.ParseEncoding(cfg.MessageEncoding)
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, encoding, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	// The event index is optional; ledgerd keeps executing without it
	var recorder Recorder
	apiOpts := []api.Option{}
	db, err := database.NewManager(ctx, &database.Config{
		Postgres: postgres.DefaultConfig(cfg.PostgresURL),
		Redis:    redis.DefaultConfig(cfg.RedisURL),
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("event index unavailable, continuing without it")
	} else {
		defer func() { _ = db.Close() }()
		db.StartPeriodicTasks(ctx)
		recorder = db
		apiOpts = append(apiOpts, api.WithSummaries(db), api.WithHistory(db), api.WithHealthChecks(db))
	}

	service := NewLedgerd(cfg, logger, bank, processor, kafkaClient, recorder, store)

	reader := chain.NewReader(chain.BankSource{Bank: bank}, processor, cfg.ChainCacheSize, cfg.ChainCacheTTL)
	service.UseCache(reader)
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.ListenPort)),
		Handler:      api.NewServer(reader, logger, apiOpts...).Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("read API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("read API failed")
			cancel()
		}
	}()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		err := kafkaClient.StartConsumer(consumerCtx, messaging.TopicTransactions, cfg.KafkaGroupID, service)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("transaction consumer stopped")
		}
	}()

	go func() {
		if err := service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("ledgerd service failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("read API shutdown failed")
	}
	// Stop fetching first; the submission being handled finishes and is
	// committed before the workers drain and stop.
	stopConsumer()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("transaction consumer did not stop in time")
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	cancel()
	return nil
}

// openBank restores the bank from store, or creates the program's genesis
// accounts on first start
func openBank(bank *ledger.Bank, store *ledger.Store, processor *program.Processor, logger *log.Logger) error {
	found, err := store.Restore(bank)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if found {
		bank.Register(processor.ID, processor)
		logger.Info("restored ledger", "slot", bank.Clock().Slot)
		return nil
	}

	if err := bank.Genesis(processor); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if err := store.Save(bank); err != nil {
		return fmt.Errorf("save genesis: %w", err)
	}
	logger.Info("created genesis accounts", "config", processor.ConfigAddress().String())
	return nil
}

// tickSlots advances the local slot-hash ring every interval
func tickSlots(ctx context.Context, slots *ledger.SlotHashes, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slots.Tick()
		}
	}
}
