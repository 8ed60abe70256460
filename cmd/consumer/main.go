package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/config"
	"github.com/agrisync/agent/internal/logger"
)

// Standalone tail of the audit topic, for watching what the agent fleet is
// submitting and syncing.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	log := logger.New(cfg.Debug)
	defer func() { _ = log.Sync() }()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.ConsumerGroupID + "-audit",
		Topic:          cfg.AuditTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error("Failed to close reader", zap.Error(err))
		}
	}()

	log.Info("Audit consumer connected",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.AuditTopic))

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Shutdown signal received, stopping consumer")
				return
			}
			log.Error("Failed to read message", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		log.Info("audit entry",
			zap.Time("timestamp", m.Time),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key),
			zap.ByteString("value", m.Value),
		)
	}
}
