package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrisync/agent/internal/cache"
	"github.com/agrisync/agent/internal/client"
	"github.com/agrisync/agent/internal/config"
	"github.com/agrisync/agent/internal/connectivity"
	"github.com/agrisync/agent/internal/db"
	"github.com/agrisync/agent/internal/kafka"
	"github.com/agrisync/agent/internal/logger"
	"github.com/agrisync/agent/internal/mediator"
	"github.com/agrisync/agent/internal/queue"
	"github.com/agrisync/agent/internal/repository/postgresql"
	"github.com/agrisync/agent/internal/server"
	"github.com/agrisync/agent/internal/validation"
	"github.com/agrisync/agent/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	log := logger.New(cfg.Debug)
	defer func() { _ = log.Sync() }()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	monitor := connectivity.NewMonitor(cfg.UpstreamURL, httpClient, cfg.ProbeInterval, cfg.SettleDelay, log)

	cacheStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		log.Fatal("Cache store init failed", zap.Error(err))
	}

	med := mediator.New(mediator.Config{
		UpstreamURL:      cfg.UpstreamURL,
		StaticPartition:  cfg.StaticPartition,
		DynamicPartition: cfg.DynamicPartition,
		Manifest:         cfg.PrecacheManifest,
	}, cacheStore, httpClient, monitor, log)

	// Precache failures are expected when the agent starts offline; cached
	// copies from a previous run still serve.
	if err := med.Install(ctx); err != nil {
		log.Warn("Precache incomplete, continuing with existing cache", zap.Error(err))
	}
	if err := med.Activate(ctx); err != nil {
		log.Warn("Stale partition cleanup failed", zap.Error(err))
	}

	deliverer := client.New(cfg.UpstreamURL, httpClient, monitor, log)

	queueStore, historyRepo, err := newQueueStores(ctx, cfg)
	if err != nil {
		log.Fatal("Queue store init failed", zap.Error(err))
	}

	var historyRecorder queue.HistoryRecorder
	var historySource server.HistorySource
	if historyRepo != nil {
		historyRecorder = historyRepo
		historySource = historyRepo
	}

	q := queue.New(queueStore, historyRecorder, deliverer, monitor,
		cfg.SubmitPolicy, cfg.SyncMaxAttempts, cfg.SyncBackoffBase, log)

	drainer := worker.NewDrainer(q, cfg.SyncInterval, log)
	q.OnSyncRequested(func() { drainer.Trigger(false) })
	monitor.OnTransition(func(online bool) {
		if online {
			drainer.Trigger(true)
		}
	})

	var producer kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewWriterProducer(cfg.KafkaBrokers, log)
	} else {
		producer = kafka.NewConsoleProducer(log)
	}

	auditManager := server.NewAuditManager(producer, cfg.AuditTopic, 2, 5, 500*time.Millisecond, log)
	srv := server.New(q, validation.New(), drainer, monitor, historySource, med, auditManager, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		drainer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx, cfg.ListenPort)
	})

	if cfg.KafkaEnabled {
		alerts := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroupID, cfg.AlertsTopic,
			kafka.NewAlertHandler(log), log)
		syncTriggers := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroupID, cfg.SyncTopic,
			kafka.NewSyncTriggerHandler(func() { drainer.Trigger(true) }), log)

		g.Go(func() error { return alerts.Run(gctx) })
		g.Go(func() error { return syncTriggers.Run(gctx) })

		defer func() {
			_ = alerts.Close()
			_ = syncTriggers.Close()
		}()
	}

	log.Info("Agent started", zap.String("port", cfg.ListenPort), zap.String("upstream", cfg.UpstreamURL))

	<-gctx.Done()
	log.Info("Shutting down agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	drainer.Shutdown()
	if err := producer.Close(); err != nil {
		log.Error("Producer close failed", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		log.Error("Agent exited with error", zap.Error(err))
		return
	}
	log.Info("Agent stopped")
}

func newCacheStore(ctx context.Context, cfg *config.Config) (cache.PartitionStore, error) {
	caps := map[string]int{cfg.DynamicPartition: cfg.DynamicCacheCap}
	if cfg.RedisAddr != "" {
		return cache.NewRedisStore(ctx, cfg.RedisAddr, caps)
	}
	return cache.NewFileStore(cfg.CacheFile, caps)
}

func newQueueStores(ctx context.Context, cfg *config.Config) (queue.Store, *postgresql.DeliveryHistoryRepo, error) {
	dsn := cfg.PostgresDSN()
	if dsn == "" {
		store, err := queue.NewFileStore(cfg.QueueFile)
		return store, nil, err
	}

	database, err := db.NewDb(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return postgresql.NewPendingTransactionRepo(database), postgresql.NewDeliveryHistoryRepo(database), nil
}
