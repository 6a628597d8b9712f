package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromCollector adapts a Registry to the prometheus.Collector interface so
// the workload and orchestrator processes can serve /metrics through the
// real client_golang exposition path instead of hand-formatting text.
// The hand-rolled PrometheusExporter in this package remains available for
// environments that cannot depend on client_golang (e.g. embedded tooling);
// PromCollector is what the long-running node processes wire up.
type PromCollector struct {
	registry *Registry
}

// NewPromCollector wraps registry for use with a prometheus.Registry.
func NewPromCollector(registry *Registry) *PromCollector {
	return &PromCollector{registry: registry}
}

// Describe satisfies prometheus.Collector. Descriptions are unchecked
// (NewDesc with no constraints) since the underlying Registry creates
// series lazily on first access.
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	// Intentionally empty: an unchecked collector (see Collect) does not
	// need to declare descriptors up front.
}

// Collect satisfies prometheus.Collector, snapshotting every counter,
// gauge, and histogram currently registered and emitting it as a const
// metric. Names are sanitized the same way the hand-rolled exporter does
// (dots and dashes become underscores), so counter and gauge series names
// match the text exporter's; histograms are emitted here as a summary
// named with an extra "_summary" suffix.
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.mu.RLock()
	counters := make(map[string]*Counter, len(c.registry.counters))
	for k, v := range c.registry.counters {
		counters[k] = v
	}
	gauges := make(map[string]*Gauge, len(c.registry.gauges))
	for k, v := range c.registry.gauges {
		gauges[k] = v
	}
	histograms := make(map[string]*Histogram, len(c.registry.histograms))
	for k, v := range c.registry.histograms {
		histograms[k] = v
	}
	c.registry.mu.RUnlock()

	for name, ctr := range counters {
		desc := prometheus.NewDesc(sanitizeName(name), name+" (counter)", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(ctr.Value()))
	}
	for name, g := range gauges {
		desc := prometheus.NewDesc(sanitizeName(name), name+" (gauge)", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(g.Value()))
	}
	for name, h := range histograms {
		desc := prometheus.NewDesc(sanitizeName(name)+"_summary", name+" (summary)", nil, nil)
		ch <- prometheus.MustNewConstSummary(desc, uint64(h.Count()), h.Sum(), nil)
	}
}

// Handler returns an http.Handler serving /metrics via the real
// prometheus client library, backed by registry.
func Handler(registry *Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewPromCollector(registry))
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

func sanitizeName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c == '.' || c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}
