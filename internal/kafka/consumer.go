package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one consumed message. A returned error is logged and
// the offset is still committed; poison messages must not wedge the group.
type Handler func(ctx context.Context, key, value []byte) error

// Consumer tails a single topic within the agent's consumer group and feeds
// every message to its handler.
type Consumer struct {
	reader *kafkago.Reader
	handle Handler
	logger *zap.Logger
}

func NewConsumer(brokers []string, groupID, topic string, handle Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			MaxWait:        3 * time.Second,
		}),
		handle: handle,
		logger: logger.With(zap.String("topic", topic)),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("kafka consumer stopping")
				return nil
			}
			c.logger.Error("failed to read message", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := c.handle(ctx, m.Key, m.Value); err != nil {
			c.logger.Error("failed to handle message",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// NewAlertHandler surfaces price-alert pushes as structured log lines, the
// agent-side stand-in for a desktop notification.
func NewAlertHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, key, value []byte) error {
		logger.Info("price alert received",
			zap.ByteString("crop", key),
			zap.ByteString("alert", value))
		return nil
	}
}

// NewSyncTriggerHandler kicks the sync worker when the backend asks clients
// to flush their pending queues.
func NewSyncTriggerHandler(trigger func()) Handler {
	return func(context.Context, []byte, []byte) error {
		trigger()
		return nil
	}
}
