package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexus-gateway/nexus/registry"
)

// metricsCollector is a live prometheus.Collector over the Registry
// and Quality Store: instead of scattering .Set() calls through every
// handler (the teacher's style for request counters), gauges here are
// computed fresh on every /metrics scrape directly from the source of
// truth, so they can never drift out of sync with it.
type metricsCollector struct {
	g *Gateway

	pendingDesc   *prometheus.Desc
	latencyDesc   *prometheus.Desc
	healthDesc    *prometheus.Desc
	errorRateDesc *prometheus.Desc
}

func newMetricsCollector(g *Gateway) *metricsCollector {
	return &metricsCollector{
		g: g,
		pendingDesc: prometheus.NewDesc(
			"nexus_backend_pending_requests",
			"In-flight requests currently routed to this backend",
			[]string{"backend_id"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"nexus_backend_latency_ema_milliseconds",
			"Exponential moving average response latency for this backend",
			[]string{"backend_id"}, nil,
		),
		healthDesc: prometheus.NewDesc(
			"nexus_backend_healthy",
			"1 if the backend is currently healthy, 0 otherwise",
			[]string{"backend_id"}, nil,
		),
		errorRateDesc: prometheus.NewDesc(
			"nexus_backend_error_rate_1h",
			"Fraction of the last hour's requests to this backend that failed",
			[]string{"backend_id"}, nil,
		),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingDesc
	ch <- c.latencyDesc
	ch <- c.healthDesc
	ch <- c.errorRateDesc
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, b := range c.g.Registry.All() {
		ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(b.Pending()), b.ID)
		ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, b.LatencyEMA(), b.ID)

		healthy := 0.0
		if b.Status() == registry.StatusHealthy {
			healthy = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.healthDesc, prometheus.GaugeValue, healthy, b.ID)

		m := c.g.Quality.Get(b.ID)
		ch <- prometheus.MustNewConstMetric(c.errorRateDesc, prometheus.GaugeValue, float64(m.ErrorRate1h), b.ID)
	}
}

// RegisterMetrics registers the Gateway's live collector against reg.
func (g *Gateway) RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(newMetricsCollector(g))
}
