// Package gateway implements the fleet-observing side of the mesh: the
// FleetPoller, Merger, DivergenceTracker, ChaosController, MetricsRegistry,
// and scenario state machines, grounded throughout on
// original_source/src/services/gateway.py and scenarios.py.
package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const maxSeriesSamples = 1024

// MetricsRegistry holds named counters and bounded time series, mirrored
// into a private prometheus.Registry for external scraping. Grounded on
// gateway.py's runtime_metrics dict; the counter names match it field for
// field.
type MetricsRegistry struct {
	mu       sync.Mutex
	counters map[string]float64
	series   map[string][]float64

	promCounters map[string]prometheus.Counter
	promSummary  map[string]prometheus.Summary
	promRegistry *prometheus.Registry
}

// NewMetricsRegistry builds an empty registry with the counters gateway.go
// reports named up front, so /gateway/runtime-metrics always has a zero
// value rather than a missing key.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		counters:     make(map[string]float64),
		series:       make(map[string][]float64),
		promCounters: make(map[string]prometheus.Counter),
		promSummary:  make(map[string]prometheus.Summary),
		promRegistry: prometheus.NewRegistry(),
	}
	for _, name := range []string{
		"polls_started", "polls_completed", "polls_failed",
		"total_http_requests", "total_http_success", "total_http_failures",
		"http_retries", "state_merges_successful", "state_merges_failed",
		"stale_state_skips", "total_convergence_events",
	} {
		m.registerCounterLocked(name)
	}
	return m
}

func (m *MetricsRegistry) registerCounterLocked(name string) prometheus.Counter {
	if c, ok := m.promCounters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edgemesh",
		Subsystem: "gateway",
		Name:      name,
		Help:      "edge mesh gateway counter: " + name,
	})
	m.promRegistry.MustRegister(c)
	m.promCounters[name] = c
	return c
}

func (m *MetricsRegistry) summaryLocked(name string) prometheus.Summary {
	if s, ok := m.promSummary[name]; ok {
		return s
	}
	s := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "edgemesh",
		Subsystem: "gateway",
		Name:      name,
		Help:      "edge mesh gateway time series: " + name,
	})
	m.promRegistry.MustRegister(s)
	m.promSummary[name] = s
	return s
}

// IncCounter increments a named counter by delta (1 for the common case).
func (m *MetricsRegistry) IncCounter(name string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	m.registerCounterLocked(name).Add(delta)
}

// SetGauge records an instantaneous value, overwriting the previous one.
// Used for fields like last_reachable_nodes that are snapshots, not sums.
func (m *MetricsRegistry) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = value
}

// RecordSample appends value to name's bounded time series, dropping the
// oldest sample once maxSeriesSamples is exceeded.
func (m *MetricsRegistry) RecordSample(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := append(m.series[name], value)
	if len(s) > maxSeriesSamples {
		s = s[len(s)-maxSeriesSamples:]
	}
	m.series[name] = s
	m.summaryLocked(name).Observe(value)
}

// Counters returns a copy of every counter/gauge value.
func (m *MetricsRegistry) Counters() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Samples returns the most recent n samples for name (all of them if n<=0).
func (m *MetricsRegistry) Samples(name string, n int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.series[name]
	if n <= 0 || n > len(s) {
		n = len(s)
	}
	out := make([]float64, n)
	copy(out, s[len(s)-n:])
	return out
}

// PromRegistry exposes the private prometheus.Registry for promhttp.
func (m *MetricsRegistry) PromRegistry() *prometheus.Registry {
	return m.promRegistry
}
