package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports breaker state and rolling statistics as Prometheus metrics.
// Values are read from the registry on every scrape.
type Collector struct {
	registry *Registry

	state     *prometheus.Desc
	total     *prometheus.Desc
	failures  *prometheus.Desc
	timeouts  *prometheus.Desc
	rejects   *prometheus.Desc
	errorRate *prometheus.Desc
}

// NewCollector creates a collector over r.
func NewCollector(r *Registry) *Collector {
	labels := []string{"breaker"}
	return &Collector{
		registry: r,
		state: prometheus.NewDesc("bulwark_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)", labels, nil),
		total: prometheus.NewDesc("bulwark_circuit_breaker_window_calls",
			"Executed calls in the rolling window", labels, nil),
		failures: prometheus.NewDesc("bulwark_circuit_breaker_window_failures",
			"Failed calls (timeouts included) in the rolling window", labels, nil),
		timeouts: prometheus.NewDesc("bulwark_circuit_breaker_window_timeouts",
			"Timed out calls in the rolling window", labels, nil),
		rejects: prometheus.NewDesc("bulwark_circuit_breaker_window_rejects",
			"Rejected calls in the rolling window", labels, nil),
		errorRate: prometheus.NewDesc("bulwark_circuit_breaker_error_rate_percent",
			"Error rate in the rolling window", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.total
	ch <- c.failures
	ch <- c.timeouts
	ch <- c.rejects
	ch <- c.errorRate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.GetAllStatus() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, stateToFloat(s.State), s.Name)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Stats.Total), s.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.Stats.Failures), s.Name)
		ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.GaugeValue, float64(s.Stats.Timeouts), s.Name)
		ch <- prometheus.MustNewConstMetric(c.rejects, prometheus.GaugeValue, float64(s.Stats.Rejects), s.Name)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.Stats.ErrorRate, s.Name)
	}
}

func stateToFloat(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
