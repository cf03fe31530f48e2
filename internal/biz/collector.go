package biz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConsistencyCollector exports ledger totals and the last run time.
type ConsistencyCollector struct {
	scheduler *Scheduler

	records   *prometheus.Desc
	pending   *prometheus.Desc
	lastRun   *prometheus.Desc
	threshold *prometheus.Desc
}

// NewConsistencyCollector creates a collector reading s on every scrape.
func NewConsistencyCollector(s *Scheduler) *ConsistencyCollector {
	return &ConsistencyCollector{
		scheduler: s,
		records: prometheus.NewDesc("bulwark_consistency_inconsistencies",
			"Inconsistency records in the ledger", []string{"entity", "type", "fixed"}, nil),
		pending: prometheus.NewDesc("bulwark_consistency_pending",
			"Unfixed inconsistency records in the ledger", nil, nil),
		lastRun: prometheus.NewDesc("bulwark_consistency_last_run_timestamp_seconds",
			"Completion time of the last full reconciliation run", nil, nil),
		threshold: prometheus.NewDesc("bulwark_consistency_alert_threshold",
			"Pending count above which a run raises an alert", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ConsistencyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.pending
	ch <- c.lastRun
	ch <- c.threshold
}

type recordKey struct {
	entity string
	typ    InconsistencyType
	fixed  bool
}

// Collect implements prometheus.Collector.
func (c *ConsistencyCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[recordKey]int)
	pending := 0
	for _, rec := range c.scheduler.Ledger().Query(LedgerFilter{}) {
		counts[recordKey{rec.EntityType, rec.Type, rec.Fixed}]++
		if !rec.Fixed {
			pending++
		}
	}
	for k, n := range counts {
		fixed := "false"
		if k.fixed {
			fixed = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(n), k.entity, string(k.typ), fixed)
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(pending))

	var last float64
	if t := c.scheduler.LastRun(); !t.IsZero() {
		last = float64(t.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastRun, prometheus.GaugeValue, last)
	ch <- prometheus.MustNewConstMetric(c.threshold, prometheus.GaugeValue, float64(c.scheduler.AlertThreshold()))
}
