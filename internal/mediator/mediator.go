package mediator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrisync/agent/internal/cache"
	"github.com/agrisync/agent/internal/metrics"
)

// Reporter receives the observed result of proxied upstream exchanges.
type Reporter interface {
	ReportSuccess()
	ReportFailure()
}

// Config is the explicit mediator configuration: partition names and the
// pre-cache manifest live here instead of in package-level state, and one
// mediator instance owns them for the life of the process.
type Config struct {
	UpstreamURL      string
	StaticPartition  string
	DynamicPartition string
	Manifest         []string
}

// Mediator fronts every request the UI makes. All paths are network-first;
// what happens on network failure depends on the path: market-data requests
// degrade to cache and then to a synthetic offline payload, navigations
// degrade to cache and then to the pre-cached offline page.
type Mediator struct {
	cfg      Config
	store    cache.PartitionStore
	http     *http.Client
	reporter Reporter
	logger   *zap.Logger
	timeNow  func() time.Time
}

func New(cfg Config, store cache.PartitionStore, httpClient *http.Client, reporter Reporter, logger *zap.Logger) *Mediator {
	return &Mediator{
		cfg:      cfg,
		store:    store,
		http:     httpClient,
		reporter: reporter,
		logger:   logger,
		timeNow:  time.Now,
	}
}

// Install pre-caches the manifest into the static partition. A URL that
// cannot be fetched is logged and skipped; the agent still comes up and the
// missed asset stays network-first on demand. Installing twice with the same
// manifest leaves the same set of keys.
func (m *Mediator) Install(ctx context.Context) error {
	m.logger.Info("Pre-caching static manifest",
		zap.String("partition", m.cfg.StaticPartition),
		zap.Int("urls", len(m.cfg.Manifest)))

	for _, path := range m.cfg.Manifest {
		if err := m.precacheOne(ctx, path); err != nil {
			metrics.OperationErrorsTotal.WithLabelValues("precache").Inc()
			m.logger.Warn("Failed to pre-cache asset", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

func (m *Mediator) precacheOne(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.UpstreamURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	key := http.MethodGet + " " + path
	return m.store.Put(ctx, m.cfg.StaticPartition, key, cache.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		StoredAt: m.timeNow().UTC(),
	})
}

// Activate garbage-collects partitions left behind by previous versions:
// everything that is not the current static or dynamic partition is deleted.
func (m *Mediator) Activate(ctx context.Context) error {
	names, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate cache partitions: %w", err)
	}

	for _, name := range names {
		if name == m.cfg.StaticPartition || name == m.cfg.DynamicPartition {
			continue
		}
		m.logger.Info("Deleting stale cache partition", zap.String("partition", name))
		if err := m.store.DeletePartition(ctx, name); err != nil {
			return fmt.Errorf("failed to delete partition %s: %w", name, err)
		}
	}
	return nil
}

func isMarketDataPath(path string) bool {
	return strings.HasPrefix(path, "/market_prices") || strings.HasPrefix(path, "/market_intelligence")
}

func isNavigation(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (m *Mediator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(r)

	entry, err := m.forward(r)
	if err == nil {
		m.cachePopulate(r, key, entry)
		writeEntry(w, entry)
		return
	}

	m.logger.Debug("Upstream fetch failed, degrading",
		zap.String("key", key), zap.Error(err))

	if cached := m.lookup(r.Context(), key); cached != nil {
		writeEntry(w, cached)
		return
	}

	if isMarketDataPath(r.URL.Path) {
		metrics.OfflineFallbacksTotal.WithLabelValues("market_data").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(marketFallback(m.timeNow()))
		return
	}

	if isNavigation(r) {
		if page := m.lookup(r.Context(), http.MethodGet+" /offline.html"); page != nil {
			metrics.OfflineFallbacksTotal.WithLabelValues("offline_page").Inc()
			writeEntry(w, page)
			return
		}
	}

	http.Error(w, "upstream unreachable", http.StatusBadGateway)
}

// forward relays the request to the upstream and reads the full response so
// the body can be both returned and cached.
func (m *Mediator) forward(r *http.Request) (*cache.Entry, error) {
	url := m.cfg.UpstreamURL + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()

	resp, err := m.http.Do(req)
	if err != nil {
		if m.reporter != nil {
			m.reporter.ReportFailure()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if m.reporter != nil {
		m.reporter.ReportSuccess()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &cache.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		StoredAt: m.timeNow().UTC(),
	}, nil
}

// cachePopulate writes successful idempotent fetches through to the dynamic
// partition. Fire and forget: the response is already on its way back.
func (m *Mediator) cachePopulate(r *http.Request, key string, entry *cache.Entry) {
	if r.Method != http.MethodGet || entry.Status < 200 || entry.Status > 299 {
		return
	}
	entryCopy := *entry
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Put(ctx, m.cfg.DynamicPartition, key, entryCopy); err != nil {
			metrics.OperationErrorsTotal.WithLabelValues("cache_populate").Inc()
			m.logger.Warn("Failed to populate dynamic cache", zap.String("key", key), zap.Error(err))
		}
	}()
}

// lookup checks the static partition first, then the dynamic one, mirroring
// partition creation order. A miss is counted only when no partition holds
// the key; a static miss resolved by the dynamic partition is still a hit.
func (m *Mediator) lookup(ctx context.Context, key string) *cache.Entry {
	partitions := []string{m.cfg.StaticPartition, m.cfg.DynamicPartition}
	for _, partition := range partitions {
		entry, err := m.store.Get(ctx, partition, key)
		if err == nil {
			metrics.CacheHitsTotal.WithLabelValues(partition).Inc()
			return entry
		}
	}
	for _, partition := range partitions {
		metrics.CacheMissesTotal.WithLabelValues(partition).Inc()
	}
	return nil
}

func writeEntry(w http.ResponseWriter, entry *cache.Entry) {
	for name, values := range entry.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}
