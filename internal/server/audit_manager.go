package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/kafka"
)

// AuditManager aggregates audit entries into batches and hands them to a
// worker pool that publishes each entry to the audit topic. Entries that
// cannot be dispatched are written to the log instead of being dropped.
type AuditManager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration

	producer Producer
	topic    string
	logger   *zap.Logger

	inputChan  chan AuditLogEntry
	batchChan  chan []AuditLogEntry
	shutdownCh chan struct{}
	once       sync.Once

	wg sync.WaitGroup
}

// Producer is the publish primitive the audit pipeline needs.
type Producer interface {
	SendMessage(ctx context.Context, topic string, key []byte, value []byte) error
}

var _ Producer = (kafka.Producer)(nil)

func NewAuditManager(producer Producer, topic string, workerCount, batchSize int, timeout time.Duration, logger *zap.Logger) *AuditManager {
	return &AuditManager{
		workerCount: workerCount,
		batchSize:   batchSize,
		timeout:     timeout,
		producer:    producer,
		topic:       topic,
		logger:      logger,
		inputChan:   make(chan AuditLogEntry, workerCount*batchSize*2),
		batchChan:   make(chan []AuditLogEntry, workerCount*2),
		shutdownCh:  make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.logger.Info("Starting audit manager",
		zap.Int("workers", m.workerCount),
		zap.Int("batch_size", m.batchSize))

	m.wg.Add(1)
	go m.runAggregator(ctx)

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}

	go m.monitorShutdown(ctx)
}

func (m *AuditManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.logger.Info("Initiating audit manager shutdown")
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("Audit manager shutdown completed")
		case <-ctx.Done():
			m.logger.Warn("Audit manager shutdown interrupted")
		}
	})
}

func (m *AuditManager) monitorShutdown(ctx context.Context) {
	<-ctx.Done()
	m.Shutdown(context.Background())
}

func (m *AuditManager) LogEntry(ctx context.Context, entry AuditLogEntry) {
	select {
	case m.inputChan <- entry:
	case <-ctx.Done():
		m.emergencyLog(entry)
	}
}

func (m *AuditManager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []AuditLogEntry
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if len(batch) > 0 {
			m.dispatchBatch(batch)
		}
		close(m.batchChan)
	}()

	for {
		select {
		case entry, ok := <-m.inputChan:
			if !ok {
				return
			}

			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				timeoutC = nil
			} else if len(batch) == 1 {
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}

		case <-timeoutC:
			m.dispatchBatch(batch)
			batch = nil
			timeoutC = nil

		case <-ctx.Done():
			return

		case <-m.shutdownCh:
			return
		}
	}
}

func (m *AuditManager) dispatchBatch(batch []AuditLogEntry) {
	batchCopy := make([]AuditLogEntry, len(batch))
	copy(batchCopy, batch)

	select {
	case m.batchChan <- batchCopy:
	default:
		// Workers are saturated; publish inline rather than drop.
		m.publishBatch(context.Background(), batchCopy)
	}
}

func (m *AuditManager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case batch, ok := <-m.batchChan:
			if !ok {
				return
			}
			m.publishBatch(ctx, batch)
		case <-ctx.Done():
			// Drain what the aggregator already dispatched before exiting.
			for {
				select {
				case batch, ok := <-m.batchChan:
					if !ok {
						return
					}
					m.publishBatch(context.Background(), batch)
				default:
					return
				}
			}
		}
	}
}

func (m *AuditManager) publishBatch(ctx context.Context, batch []AuditLogEntry) {
	for _, entry := range batch {
		value, err := json.Marshal(entry)
		if err != nil {
			m.logger.Error("Failed to marshal audit entry", zap.Error(err))
			continue
		}
		if err := m.producer.SendMessage(ctx, m.topic, []byte(entry.ID.String()), value); err != nil {
			m.logger.Error("Failed to publish audit entry, logging instead",
				zap.Error(err),
				zap.ByteString("entry", value))
		}
	}
}

func (m *AuditManager) emergencyLog(entry AuditLogEntry) {
	value, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("Failed to marshal emergency audit entry", zap.Error(err))
		return
	}
	m.logger.Warn("Audit entry bypassed pipeline", zap.ByteString("entry", value))
}
