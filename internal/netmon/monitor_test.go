package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestMonitor(settle time.Duration) *Monitor {
	logger := zerolog.New(os.Stdout)
	return NewMonitor(&logger, settle, 1.5)
}

func TestMonitorStartsOnline(t *testing.T) {
	m := newTestMonitor(time.Millisecond)
	assert.True(t, m.Online())
	assert.False(t, m.SlowConnection())
}

func TestReconnectCallbackAfterSettleDelay(t *testing.T) {
	m := newTestMonitor(20 * time.Millisecond)

	var fired atomic.Int32
	m.OnReconnect(func() { fired.Add(1) })

	m.SetOnline(false)
	m.SetOnline(true)

	// Not fired before the settle delay.
	assert.Equal(t, int32(0), fired.Load())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReconnectCancelledWhenOfflineAgain(t *testing.T) {
	m := newTestMonitor(30 * time.Millisecond)

	var fired atomic.Int32
	m.OnReconnect(func() { fired.Add(1) })

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(false)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestOnlineToOnlineDoesNotFire(t *testing.T) {
	m := newTestMonitor(time.Millisecond)

	var fired atomic.Int32
	m.OnReconnect(func() { fired.Add(1) })

	m.SetOnline(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSlowConnection(t *testing.T) {
	m := newTestMonitor(time.Millisecond)

	m.UpdateQuality("2g", 5, 300*time.Millisecond)
	assert.True(t, m.SlowConnection())

	m.UpdateQuality("slow-2g", 5, 2*time.Second)
	assert.True(t, m.SlowConnection())

	m.UpdateQuality("4g", 1.0, 50*time.Millisecond)
	assert.True(t, m.SlowConnection(), "downlink below threshold counts as slow")

	m.UpdateQuality("4g", 10, 50*time.Millisecond)
	assert.False(t, m.SlowConnection())
}

func TestProbeUpdatesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newTestMonitor(time.Millisecond)
	m.SetOnline(false)

	m.Probe(context.Background(), server.Client(), server.URL)

	snap := m.Snapshot()
	assert.True(t, snap.Online)
	assert.NotEmpty(t, snap.EffectiveType)
	assert.Greater(t, snap.RTT, time.Duration(0))
}

func TestProbeMarksOfflineOnError(t *testing.T) {
	m := newTestMonitor(time.Millisecond)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	m.Probe(context.Background(), client, "http://127.0.0.1:1/health")

	assert.False(t, m.Online())
}

func TestEffectiveTypeFor(t *testing.T) {
	assert.Equal(t, "slow-2g", effectiveTypeFor(2*time.Second))
	assert.Equal(t, "2g", effectiveTypeFor(500*time.Millisecond))
	assert.Equal(t, "3g", effectiveTypeFor(150*time.Millisecond))
	assert.Equal(t, "4g", effectiveTypeFor(20*time.Millisecond))
}
