package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer interface {
	SendMessage(ctx context.Context, topic string, key []byte, value []byte) error
	Close() error
}

// WriterProducer publishes through a shared kafka-go writer. The topic is
// set per message so one writer serves every topic the agent emits to.
type WriterProducer struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

func NewWriterProducer(brokers []string, logger *zap.Logger) *WriterProducer {
	return &WriterProducer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 100 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *WriterProducer) SendMessage(ctx context.Context, topic string, key []byte, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to topic %s: %w", topic, err)
	}
	return nil
}

func (p *WriterProducer) Close() error {
	p.logger.Info("closing kafka producer")
	return p.writer.Close()
}

// ConsoleProducer prints messages instead of publishing them. Used when no
// brokers are configured, so the agent stays runnable on a laptop without
// a Kafka cluster.
type ConsoleProducer struct {
	logger *zap.Logger
}

func NewConsoleProducer(logger *zap.Logger) *ConsoleProducer {
	logger.Info("kafka brokers not configured, using console producer")
	return &ConsoleProducer{logger: logger}
}

func (p *ConsoleProducer) SendMessage(ctx context.Context, topic string, key []byte, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.logger.Info("console producer message",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.ByteString("value", value),
	)
	return nil
}

func (p *ConsoleProducer) Close() error {
	return nil
}
