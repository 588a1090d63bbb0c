// Package prom exposes the metrics Sink through a Prometheus registry.
package prom

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astracore/astracore/internal/observability/metrics"
)

// Sink turns StatsD-style calls into Prometheus vectors, created on first use.
// The label set of a metric is fixed by its first observation; later calls with
// different tag keys are dropped and logged once.
type Sink struct {
	namespace string
	registry  *prometheus.Registry
	logger    *slog.Logger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
	warned     map[string]bool
}

var _ metrics.Sink = (*Sink)(nil)

// NewSink creates a sink with its own registry including Go and process collectors.
func NewSink(namespace string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Sink{
		namespace:  metricName(namespace),
		registry:   reg,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
		warned:     make(map[string]bool),
	}
}

// Registry returns the underlying registry.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Count adds value to a counter named <name>_total.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if s == nil || value < 0 {
		return
	}
	key := metricName(name) + "_total"
	keys, values := splitTags(tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkLabels(key, keys) {
		return
	}
	vec, ok := s.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      key,
			Help:      "Counter " + name + ".",
		}, keys)
		if !s.register(key, vec) {
			return
		}
		s.counters[key] = vec
	}
	vec.WithLabelValues(values...).Add(float64(value))
}

// Gauge sets a gauge to value.
func (s *Sink) Gauge(name string, value float64, tags map[string]string) {
	if s == nil {
		return
	}
	key := metricName(name)
	keys, values := splitTags(tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkLabels(key, keys) {
		return
	}
	vec, ok := s.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      key,
			Help:      "Gauge " + name + ".",
		}, keys)
		if !s.register(key, vec) {
			return
		}
		s.gauges[key] = vec
	}
	vec.WithLabelValues(values...).Set(value)
}

// Timing observes value in seconds on a histogram named <name>_seconds.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	if s == nil {
		return
	}
	key := metricName(name) + "_seconds"
	keys, values := splitTags(tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkLabels(key, keys) {
		return
	}
	vec, ok := s.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      key,
			Help:      "Duration of " + name + ".",
			Buckets:   prometheus.DefBuckets,
		}, keys)
		if !s.register(key, vec) {
			return
		}
		s.histograms[key] = vec
	}
	vec.WithLabelValues(values...).Observe(value.Seconds())
}

// checkLabels must be called with s.mu held.
func (s *Sink) checkLabels(key string, keys []string) bool {
	known, ok := s.labels[key]
	if !ok {
		s.labels[key] = keys
		return true
	}
	if strings.Join(known, ",") == strings.Join(keys, ",") {
		return true
	}
	if !s.warned[key] {
		s.warned[key] = true
		s.logger.Warn("prometheus metric label mismatch; dropping observation",
			"metric", key, "labels", known, "got", keys)
	}
	return false
}

func (s *Sink) register(key string, c prometheus.Collector) bool {
	if err := s.registry.Register(c); err != nil {
		s.logger.Warn("prometheus register failed", "metric", key, "error", err)
		return false
	}
	return true
}

func splitTags(tags map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if name := metricName(k); name != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = tags[k]
		keys[i] = metricName(k)
	}
	return keys, values
}

// metricName maps dotted StatsD names onto the Prometheus charset.
func metricName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
