package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/metrics"
)

// Syncer runs one drain pass over the pending queue.
type Syncer interface {
	Sync(ctx context.Context, force bool) error
}

// Drainer owns the background sync schedule. It drains on a poll interval
// and whenever something asks for an immediate pass: a queued submission, a
// connectivity-restored event, or a sync message from the broker.
type Drainer struct {
	queue    Syncer
	interval time.Duration
	logger   *zap.Logger

	trigger        chan bool
	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewDrainer(queue Syncer, interval time.Duration, logger *zap.Logger) *Drainer {
	return &Drainer{
		queue:          queue,
		interval:       interval,
		logger:         logger,
		trigger:        make(chan bool, 1),
		shutdownSignal: make(chan struct{}),
	}
}

// Trigger requests a drain pass without waiting for the ticker. force skips
// per-record backoff. Collapses into an already-pending trigger.
func (d *Drainer) Trigger(force bool) {
	select {
	case d.trigger <- force:
	default:
	}
}

func (d *Drainer) Run(ctx context.Context) {
	d.logger.Info("Starting sync drainer", zap.Duration("interval", d.interval))
	d.wg.Add(1)
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.drain(ctx, false)
		case force := <-d.trigger:
			d.drain(ctx, force)
		case <-d.shutdownSignal:
			d.logger.Info("Sync drainer received shutdown signal, stopping")
			return
		case <-ctx.Done():
			d.logger.Info("Sync drainer context cancelled, stopping")
			d.Shutdown()
			return
		}
	}
}

func (d *Drainer) drain(ctx context.Context, force bool) {
	if err := d.queue.Sync(ctx, force); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("sync_drain").Inc()
		d.logger.Error("Sync drain pass failed", zap.Error(err))
	}
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
func (d *Drainer) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.shutdownSignal)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Info("Sync drainer shutdown complete")
		case <-shutdownCtx.Done():
			d.logger.Warn("Sync drainer shutdown timed out")
		}
	})
}
