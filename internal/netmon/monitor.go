package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is the latest connectivity observation.
type Snapshot struct {
	Online        bool          `json:"online"`
	EffectiveType string        `json:"effective_type"`
	DownlinkMbps  float64       `json:"downlink_mbps"`
	RTT           time.Duration `json:"rtt"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// Monitor tracks connectivity transitions and connection quality. Status is
// pushed by observers (the proxy's fetch results, active probes) and read
// synchronously by the engine. An offline-to-online transition schedules the
// reconnect callback after a settle delay.
type Monitor struct {
	mu           sync.RWMutex
	snapshot     Snapshot
	logger       *zerolog.Logger
	settleDelay  time.Duration
	slowDownlink float64
	onReconnect  func()
	settleTimer  *time.Timer
}

func NewMonitor(logger *zerolog.Logger, settleDelay time.Duration, slowDownlink float64) *Monitor {
	return &Monitor{
		snapshot:     Snapshot{Online: true, EffectiveType: "4g", CheckedAt: time.Now()},
		logger:       logger,
		settleDelay:  settleDelay,
		slowDownlink: slowDownlink,
	}
}

// OnReconnect registers the callback invoked after connectivity returns and
// the settle delay has elapsed.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = fn
}

// Snapshot returns the latest observation.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Online reports current connectivity.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Online
}

// SlowConnection reports whether the link should be treated as constrained.
func (m *Monitor) SlowConnection() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.snapshot.EffectiveType {
	case "2g", "slow-2g":
		return true
	}
	return m.snapshot.DownlinkMbps > 0 && m.snapshot.DownlinkMbps < m.slowDownlink
}

// SetOnline records a connectivity transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.snapshot.Online
	m.snapshot.Online = online
	m.snapshot.CheckedAt = time.Now()

	if online && !wasOnline {
		m.logger.Info().Msg("Connection restored")
		if m.settleTimer != nil {
			m.settleTimer.Stop()
		}
		fn := m.onReconnect
		if fn != nil {
			m.settleTimer = time.AfterFunc(m.settleDelay, func() {
				if m.Online() {
					fn()
				}
			})
		}
	}
	if !online && wasOnline {
		m.logger.Warn().Msg("Connection lost")
	}
	m.mu.Unlock()
}

// UpdateQuality records connection-quality signals where available.
func (m *Monitor) UpdateQuality(effectiveType string, downlinkMbps float64, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.EffectiveType = effectiveType
	m.snapshot.DownlinkMbps = downlinkMbps
	m.snapshot.RTT = rtt
	m.snapshot.CheckedAt = time.Now()
}

// Probe issues a HEAD request against probeURL and updates the snapshot from
// the outcome, deriving an effective type from the measured round trip.
func (m *Monitor) Probe(ctx context.Context, client *http.Client, probeURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Probe request build failed")
		return
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		m.SetOnline(false)
		return
	}
	resp.Body.Close()

	rtt := time.Since(start)
	m.mu.Lock()
	m.snapshot.RTT = rtt
	m.snapshot.EffectiveType = effectiveTypeFor(rtt)
	m.mu.Unlock()

	m.SetOnline(true)
}

// Run probes on a fixed interval until ctx is done. Used when no external
// connectivity signal feeds the monitor.
func (m *Monitor) Run(ctx context.Context, client *http.Client, probeURL string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx, client, probeURL)
		}
	}
}

func effectiveTypeFor(rtt time.Duration) string {
	switch {
	case rtt > 1400*time.Millisecond:
		return "slow-2g"
	case rtt > 270*time.Millisecond:
		return "2g"
	case rtt > 85*time.Millisecond:
		return "3g"
	default:
		return "4g"
	}
}
