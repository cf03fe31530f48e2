package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline outcomes. A nil *Metrics records nothing.
type Metrics struct {
	published  *prometheus.CounterVec
	consumed   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulwark_messages_published_total",
			Help: "Messages handed to the producer, by topic and result",
		}, []string{"topic", "result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulwark_messages_consumed_total",
			Help: "Messages dispatched by the consumer, by topic and result",
		}, []string{"topic", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulwark_message_retries_total",
			Help: "Handler retries scheduled after a failure",
		}, []string{"topic"}),
		deadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulwark_dead_letters_total",
			Help: "Dead-letter forwards, by original topic and result",
		}, []string{"topic", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.consumed, m.retries, m.deadLetter)
	}
	return m
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) observePublish(topic string, n int, ok bool) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result(ok)).Add(float64(n))
}

func (m *Metrics) observeConsume(topic, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) observeRetry(topic string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(topic).Inc()
}

func (m *Metrics) observeDeadLetter(topic string, ok bool) {
	if m == nil {
		return
	}
	m.deadLetter.WithLabelValues(topic, result(ok)).Inc()
}
