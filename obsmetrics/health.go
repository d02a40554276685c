package obsmetrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// HealthTracker keeps a rolling per-chain success/latency snapshot so an
// operator-facing health endpoint can answer "is chain X degraded" without
// querying the Prometheus registry. It is deliberately separate from the
// Recorder: Recorder feeds Prometheus for dashboards and alerts, HealthTracker
// answers a synchronous question for /healthz.
//
// Degraded criteria (matches chainadapter/metrics' original thresholds):
//   - success rate < 90%
//   - average latency > 5s
//   - no successful call in the last 5 minutes
type HealthTracker struct {
	mu    sync.RWMutex
	chain map[int64]*chainHealth
}

type chainHealth struct {
	total, success int64
	totalDuration  time.Duration
	lastSuccess    time.Time
}

// NewHealthTracker returns an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{chain: make(map[int64]*chainHealth)}
}

// Observe records one RPC outcome for chainID.
func (h *HealthTracker) Observe(chainID int64, duration time.Duration, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.chain[chainID]
	if !ok {
		c = &chainHealth{}
		h.chain[chainID] = c
	}
	c.total++
	c.totalDuration += duration
	if success {
		c.success++
		c.lastSuccess = time.Now()
	}
}

// ChainStatus reports the current health status for one chain.
type ChainStatus struct {
	ChainID     int64
	Status      string
	Message     string
	SuccessRate float64
	AvgLatency  time.Duration
}

// Status returns the current health for chainID. A chain with no observed
// calls yet reports OK ("no calls recorded").
func (h *HealthTracker) Status(chainID int64) ChainStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.chain[chainID]
	if !ok || c.total == 0 {
		return ChainStatus{ChainID: chainID, Status: "OK", Message: "no calls recorded"}
	}

	successRate := float64(c.success) / float64(c.total)
	avgLatency := c.totalDuration / time.Duration(c.total)

	lowSuccess := successRate < 0.90
	highLatency := avgLatency > 5*time.Second
	noRecent := !c.lastSuccess.IsZero() && time.Since(c.lastSuccess) > 5*time.Minute

	if !lowSuccess && !highLatency && !noRecent {
		return ChainStatus{
			ChainID: chainID, Status: "OK", SuccessRate: successRate, AvgLatency: avgLatency,
			Message: fmt.Sprintf("success rate %.1f%%, avg latency %v", successRate*100, avgLatency),
		}
	}

	var reasons []string
	if lowSuccess {
		reasons = append(reasons, fmt.Sprintf("low success rate (%.1f%%)", successRate*100))
	}
	if highLatency {
		reasons = append(reasons, fmt.Sprintf("high latency (%v)", avgLatency))
	}
	if noRecent {
		reasons = append(reasons, fmt.Sprintf("no recent success (%v ago)", time.Since(c.lastSuccess)))
	}
	return ChainStatus{
		ChainID: chainID, Status: "Degraded", SuccessRate: successRate, AvgLatency: avgLatency,
		Message: strings.Join(reasons, ", "),
	}
}
