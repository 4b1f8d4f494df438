// Package metrics exposes the process-wide metrics sink. The sink is an
// interface so tests can substitute a no-op; the concrete implementation
// registers prometheus collectors lazily per metric name and serves them
// over a dedicated /metrics endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Labels attach dimensions to a metric sample. The label keys of the
// first sample fix the schema of that metric name.
type Labels map[string]string

// DefBuckets are the fixed latency buckets used for every histogram.
var DefBuckets = []float64{0.2, 0.5, 1, 2, 4, 10}

// TimeUnit selects the unit durations are observed in. The buckets above
// read naturally as seconds; Milliseconds reproduces the raw-millisecond
// recording of older deployments.
type TimeUnit int

const (
	Seconds TimeUnit = iota
	Milliseconds
)

// Scale converts a duration into the unit's scalar value.
func (u TimeUnit) Scale(d time.Duration) float64 {
	if u == Milliseconds {
		return float64(d.Milliseconds())
	}
	return d.Seconds()
}

// Sink is the write side of the metrics registry.
type Sink interface {
	IncCounter(name string, labels Labels)
	Observe(name string, labels Labels, value float64)
	SetGauge(name string, labels Labels, value float64)
}

// ObserveDuration records an elapsed time on a histogram in the given
// unit.
func ObserveDuration(s Sink, name string, labels Labels, d time.Duration, unit TimeUnit) {
	s.Observe(name, labels, unit.Scale(d))
}

var (
	defaultOnce sync.Once
	defaultSink *PromSink
)

// Default returns the lazily-initialized process-wide sink. The first
// construction wins; later calls return the same instance.
func Default() *PromSink {
	defaultOnce.Do(func() {
		defaultSink = NewPromSink()
	})
	return defaultSink
}

// PromSink is the prometheus-backed Sink. Collectors are created on
// first use of each metric name and held in a private registry.
type PromSink struct {
	mu       sync.Mutex
	reg      *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
	gauges   map[string]*prometheus.GaugeVec
	buckets  []float64
}

// NewPromSink builds a sink with its own registry and the default
// buckets.
func NewPromSink() *PromSink {
	return &PromSink{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
		hists:    make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		buckets:  DefBuckets,
	}
}

// Registry exposes the backing registry for exposition and for optional
// system collectors.
func (s *PromSink) Registry() *prometheus.Registry { return s.reg }

func labelKeys(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *PromSink) IncCounter(name string, labels Labels) {
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelKeys(labels))
		s.reg.MustRegister(vec)
		s.counters[name] = vec
	}
	s.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Inc()
}

func (s *PromSink) Observe(name string, labels Labels, value float64) {
	s.mu.Lock()
	vec, ok := s.hists[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: name, Help: name, Buckets: s.buckets,
		}, labelKeys(labels))
		s.reg.MustRegister(vec)
		s.hists[name] = vec
	}
	s.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Observe(value)
}

func (s *PromSink) SetGauge(name string, labels Labels, value float64) {
	s.mu.Lock()
	vec, ok := s.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelKeys(labels))
		s.reg.MustRegister(vec)
		s.gauges[name] = vec
	}
	s.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Set(value)
}

// NopSink discards every sample; inject it in tests.
type NopSink struct{}

func NewNop() NopSink { return NopSink{} }

func (NopSink) IncCounter(string, Labels)       {}
func (NopSink) Observe(string, Labels, float64) {}
func (NopSink) SetGauge(string, Labels, float64) {}
