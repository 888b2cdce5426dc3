package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistryIncCounterAccumulates(t *testing.T) {
	m := NewMetricsRegistry()
	m.IncCounter("polls_completed", 1)
	m.IncCounter("polls_completed", 1)
	assert.Equal(t, float64(2), m.Counters()["polls_completed"])
}

func TestMetricsRegistrySetGaugeOverwrites(t *testing.T) {
	m := NewMetricsRegistry()
	m.SetGauge("last_reachable_nodes", 3)
	m.SetGauge("last_reachable_nodes", 5)
	assert.Equal(t, float64(5), m.Counters()["last_reachable_nodes"])
}

func TestMetricsRegistryRecordSampleCapsAtMax(t *testing.T) {
	m := NewMetricsRegistry()
	for i := 0; i < maxSeriesSamples+50; i++ {
		m.RecordSample("merge_time_ms", float64(i))
	}
	samples := m.Samples("merge_time_ms", 0)
	assert.Len(t, samples, maxSeriesSamples)
	assert.Equal(t, float64(maxSeriesSamples+49), samples[len(samples)-1])
}

func TestMetricsRegistrySamplesRespectsLimit(t *testing.T) {
	m := NewMetricsRegistry()
	for i := 0; i < 10; i++ {
		m.RecordSample("merge_time_ms", float64(i))
	}
	samples := m.Samples("merge_time_ms", 3)
	assert.Equal(t, []float64{7, 8, 9}, samples)
}

func TestMetricsRegistryPromRegistryExportsCounters(t *testing.T) {
	m := NewMetricsRegistry()
	m.IncCounter("polls_completed", 1)
	metricFamilies, err := m.PromRegistry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}
