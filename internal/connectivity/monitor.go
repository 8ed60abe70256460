package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/metrics"
)

// Monitor tracks whether the upstream backend is reachable. It probes on an
// interval, but callers that already talk to the upstream can report their
// observed result so state flips without waiting for the next probe.
//
// Transition listeners fire on every state change. The offline-to-online
// notification is delayed by settleDelay and suppressed if the connection
// drops again while settling, so a sync pass never races a flapping link.
type Monitor struct {
	probeURL    string
	client      *http.Client
	interval    time.Duration
	settleDelay time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

func NewMonitor(probeURL string, client *http.Client, interval, settleDelay time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		probeURL:    probeURL,
		client:      client,
		interval:    interval,
		settleDelay: settleDelay,
		logger:      logger,
		online:      true,
	}
}

// OnTransition registers a listener. Must be called before Run.
func (m *Monitor) OnTransition(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Online reports the last known connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ReportSuccess records an observed successful upstream exchange.
func (m *Monitor) ReportSuccess() {
	m.setOnline(true)
}

// ReportFailure records an observed failed upstream exchange.
func (m *Monitor) ReportFailure() {
	m.setOnline(false)
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if online {
		metrics.UpstreamOnline.Set(1)
		m.logger.Info("Upstream connectivity restored, settling before notifying",
			zap.Duration("settle_delay", m.settleDelay))
		time.AfterFunc(m.settleDelay, func() {
			if !m.Online() {
				m.logger.Warn("Connection dropped again while settling, online notification suppressed")
				return
			}
			for _, fn := range listeners {
				fn(true)
			}
		})
		return
	}

	metrics.UpstreamOnline.Set(0)
	m.logger.Warn("Upstream connectivity lost")
	for _, fn := range listeners {
		fn(false)
	}
}

// Run probes the upstream until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopping")
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error("Failed to build probe request", zap.Error(err))
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.setOnline(false)
		return
	}
	resp.Body.Close()

	// Any HTTP response proves the network path works, even an error status.
	m.setOnline(true)
}
