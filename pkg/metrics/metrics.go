// Package metrics is a fire-and-forget counter/gauge/histogram sink the
// Pipeline Orchestrator reports per-stage progress and derived statistics
// to, per spec.
package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the abstract metrics interface orchestration code depends on.
// Calls never block and never return an error: a metrics outage must
// never fail a pipeline run.
type Sink interface {
	Counter(name string, delta float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)
}

// NoopSink discards everything; useful for dry runs and tests.
type NoopSink struct{}

func (NoopSink) Counter(string, float64, map[string]string)   {}
func (NoopSink) Gauge(string, float64, map[string]string)     {}
func (NoopSink) Histogram(string, float64, map[string]string) {}

// PromSink backs Sink with Prometheus vectors registered lazily per metric
// name the first time it is observed, since the orchestrator reports
// dynamically named stage counters rather than a fixed set known at
// compile time.
type PromSink struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromSink builds a PromSink registered against registry. Pass
// prometheus.NewRegistry() for an isolated registry, or nil to use the
// default global one.
func NewPromSink(namespace string, registry *prometheus.Registry) *PromSink {
	return &PromSink{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PromSink) register(c prometheus.Collector) {
	if p.registry != nil {
		p.registry.MustRegister(c)
	} else {
		prometheus.MustRegister(c)
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *PromSink) Counter(name string, delta float64, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "pipeline",
			Name:      sanitize(name) + "_total",
			Help:      "Entity-resolution pipeline counter: " + name,
		}, labelKeys(labels))
		p.counters[name] = vec
		p.register(vec)
	}
	p.mu.Unlock()

	vec.With(toStringLabels(labels)).Add(delta)
}

func (p *PromSink) Gauge(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "pipeline",
			Name:      sanitize(name),
			Help:      "Entity-resolution pipeline gauge: " + name,
		}, labelKeys(labels))
		p.gauges[name] = vec
		p.register(vec)
	}
	p.mu.Unlock()

	vec.With(toStringLabels(labels)).Set(value)
}

func (p *PromSink) Histogram(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "pipeline",
			Name:      sanitize(name) + "_seconds",
			Help:      "Entity-resolution pipeline histogram: " + name,
			Buckets:   prometheus.DefBuckets,
		}, labelKeys(labels))
		p.histograms[name] = vec
		p.register(vec)
	}
	p.mu.Unlock()

	vec.With(toStringLabels(labels)).Observe(value)
}

func toStringLabels(labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
