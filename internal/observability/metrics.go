package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsClient is the narrow metrics surface the retrieval core uses:
// counters and histograms, both dynamically registered by name the first
// time they're seen, adapted from pkg/observability/prometheus_metrics.go.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	Close() error
}

// PrometheusMetricsClient implements MetricsClient on top of a prometheus
// registry, creating vectors on first use.
type PrometheusMetricsClient struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetricsClient creates a PrometheusMetricsClient under namespace "rag".
func NewMetricsClient() *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  "rag",
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry, e.g. for a /metrics handler.
func (c *PrometheusMetricsClient) Registry() *prometheus.Registry { return c.registry }

func (c *PrometheusMetricsClient) counterFor(name string, labelNames []string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cv, ok := c.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      "counter for " + name,
	}, labelNames)
	c.registry.MustRegister(cv)
	c.counters[name] = cv
	return cv
}

func (c *PrometheusMetricsClient) histogramFor(name string, labelNames []string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hv, ok := c.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      "histogram for " + name,
		Buckets:   prometheus.DefBuckets,
	}, labelNames)
	c.registry.MustRegister(hv)
	c.histograms[name] = hv
	return hv
}

func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.counterFor(name, nil).WithLabelValues().Add(value)
}

func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	names, values := splitLabels(labels)
	c.counterFor(name, names).WithLabelValues(values...).Add(value)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	names, values := splitLabels(labels)
	c.histogramFor(name, names).WithLabelValues(values...).Observe(value)
}

func (c *PrometheusMetricsClient) Close() error { return nil }

func splitLabels(labels map[string]string) (names, values []string) {
	names = make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	// Deterministic ordering so repeated calls reuse the same vector.
	sortStrings(names)
	values = make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return names, values
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// NoopMetrics discards everything. Useful as a test default.
type NoopMetrics struct{}

func (NoopMetrics) IncrementCounter(string, float64)                       {}
func (NoopMetrics) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (NoopMetrics) RecordHistogram(string, float64, map[string]string)     {}
func (NoopMetrics) Close() error                                          { return nil }
