package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromSink_CounterGaugeHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPromSink("openmatch_test", reg)

	sink.Counter("pairs_evaluated", 3, map[string]string{"stage": "match"})
	sink.Counter("pairs_evaluated", 2, map[string]string{"stage": "match"})
	sink.Gauge("cluster_count", 7, nil)
	sink.Histogram("stage_duration", 0.25, map[string]string{"stage": "block"})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawCounter, sawGauge, sawHistogram bool
	for _, fam := range families {
		switch fam.GetName() {
		case "openmatch_test_pipeline_pairs_evaluated_total":
			sawCounter = true
			assert.Equal(t, float64(5), fam.GetMetric()[0].GetCounter().GetValue())
		case "openmatch_test_pipeline_cluster_count":
			sawGauge = true
			assert.Equal(t, float64(7), fam.GetMetric()[0].GetGauge().GetValue())
		case "openmatch_test_pipeline_stage_duration_seconds":
			sawHistogram = true
		}
	}

	assert.True(t, sawCounter, "expected counter family")
	assert.True(t, sawGauge, "expected gauge family")
	assert.True(t, sawHistogram, "expected histogram family")
}

func TestNoopSink(t *testing.T) {
	var sink Sink = NoopSink{}
	sink.Counter("x", 1, nil)
	sink.Gauge("y", 1, nil)
	sink.Histogram("z", 1, nil)
}
