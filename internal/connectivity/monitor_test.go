package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitor_ReportTransitions(t *testing.T) {
	m := NewMonitor("http://unused", http.DefaultClient, time.Hour, 10*time.Millisecond, zap.NewNop())

	var onlineEvents, offlineEvents atomic.Int32
	m.OnTransition(func(online bool) {
		if online {
			onlineEvents.Add(1)
		} else {
			offlineEvents.Add(1)
		}
	})

	assert.True(t, m.Online(), "monitor starts optimistic")

	m.ReportFailure()
	assert.False(t, m.Online())
	assert.Equal(t, int32(1), offlineEvents.Load())

	// Duplicate reports must not re-fire listeners.
	m.ReportFailure()
	assert.Equal(t, int32(1), offlineEvents.Load())

	m.ReportSuccess()
	assert.True(t, m.Online())

	// The online notification only fires after the settle delay.
	assert.Equal(t, int32(0), onlineEvents.Load())
	require.Eventually(t, func() bool {
		return onlineEvents.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_SettleSuppressedWhenConnectionDrops(t *testing.T) {
	m := NewMonitor("http://unused", http.DefaultClient, time.Hour, 50*time.Millisecond, zap.NewNop())

	var onlineEvents atomic.Int32
	m.OnTransition(func(online bool) {
		if online {
			onlineEvents.Add(1)
		}
	})

	m.ReportFailure()
	m.ReportSuccess()
	m.ReportFailure() // drops again mid-settle

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), onlineEvents.Load())
}

func TestMonitor_ProbeFlipsState(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			// Simulate a dead upstream by hijacking and dropping the conn.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	m := NewMonitor(backend.URL, backend.Client(), time.Hour, time.Millisecond, zap.NewNop())

	m.probe(context.Background())
	assert.True(t, m.Online())

	healthy.Store(false)
	m.probe(context.Background())
	assert.False(t, m.Online())

	healthy.Store(true)
	m.probe(context.Background())
	assert.True(t, m.Online())
}
