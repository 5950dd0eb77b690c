// Package metric provides Prometheus metrics for the SondeAlert
// pipeline and an optional HTTP server exposing them together with a
// health endpoint.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sondealert"

// Metrics holds all counters and gauges for the alerting pipeline.
type Metrics struct {
	PredictionsReceived prometheus.Counter
	PredictionsDropped  prometheus.Counter
	AlertsEnqueued      prometheus.Counter
	RelaysEnqueued      prometheus.Counter
	MessagesSent        prometheus.Counter
	SendErrors          prometheus.Counter
	PollsTotal          prometheus.Counter
	PollErrors          prometheus.Counter
	QueueDepth          prometheus.Gauge
	ActiveProfiles      prometheus.Gauge

	MatcherSubmitted prometheus.Counter
	MatcherProcessed prometheus.Counter
	MatcherFailed    prometheus.Counter
	MatcherDropped   prometheus.Counter

	registry *prometheus.Registry
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		PredictionsReceived: counter("predictions_received_total",
			"Landing prediction events received from the stream"),
		PredictionsDropped: counter("predictions_dropped_total",
			"Prediction payloads dropped as undecodable or empty"),
		AlertsEnqueued: counter("alerts_enqueued_total",
			"Landing alerts enqueued for delivery"),
		RelaysEnqueued: counter("relays_enqueued_total",
			"APRS relay messages enqueued for delivery"),
		MessagesSent: counter("messages_sent_total",
			"Outbound messages delivered to the messaging transport"),
		SendErrors: counter("send_errors_total",
			"Outbound message delivery failures"),
		PollsTotal: counter("aprs_polls_total",
			"APRS message poll requests issued"),
		PollErrors: counter("aprs_poll_errors_total",
			"APRS message poll requests that failed"),
		QueueDepth: gauge("outbox_depth",
			"Messages currently waiting in the delivery queue"),
		ActiveProfiles: gauge("active_profiles",
			"Subscriber profiles currently registered"),

		MatcherSubmitted: counter("matcher_submitted_total",
			"Prediction events submitted to the matcher pool"),
		MatcherProcessed: counter("matcher_processed_total",
			"Prediction events processed by the matcher pool"),
		MatcherFailed: counter("matcher_failed_total",
			"Prediction events whose matching failed"),
		MatcherDropped: counter("matcher_dropped_total",
			"Prediction events dropped because the matcher pool was full"),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.PredictionsReceived, m.PredictionsDropped,
		m.AlertsEnqueued, m.RelaysEnqueued,
		m.MessagesSent, m.SendErrors,
		m.PollsTotal, m.PollErrors,
		m.QueueDepth, m.ActiveProfiles,
		m.MatcherSubmitted, m.MatcherProcessed,
		m.MatcherFailed, m.MatcherDropped,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}
