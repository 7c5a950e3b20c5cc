package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	streamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bedside_sim_streams_active",
			Help: "Number of registered device streams by registry category.",
		},
		[]string{"category"},
	)

	messagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedside_sim_messages_published_total",
			Help: "Messages handed to a sink, by plane and device kind.",
		},
		[]string{"plane", "kind"},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedside_sim_publish_failures_total",
			Help: "Publish attempts rejected by a sink, by plane and device kind.",
		},
		[]string{"plane", "kind"},
	)

	streamTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedside_sim_stream_terminations_total",
			Help: "Stream execution loops that exited, by device kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	tapFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bedside_sim_tap_findings_total",
			Help: "Anomalies found by the data-plane verifier, by finding type.",
		},
		[]string{"finding"},
	)
)

func SetActiveStreams(category string, n int) {
	streamsActive.WithLabelValues(category).Set(float64(n))
}

func ObservePublish(plane, kind string, err error) {
	if err != nil {
		publishFailures.WithLabelValues(plane, kind).Inc()
		return
	}
	messagesPublished.WithLabelValues(plane, kind).Inc()
}

func ObserveTermination(kind string, failed bool) {
	outcome := "stopped"
	if failed {
		outcome = "failed"
	}
	streamTerminations.WithLabelValues(kind, outcome).Inc()
}

func ObserveFinding(finding string) {
	tapFindings.WithLabelValues(finding).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
