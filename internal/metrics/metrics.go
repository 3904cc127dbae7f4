// Package metrics provides Prometheus metrics for the broker proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// transcodeBuckets cover in-process conversions, which are far below network latency.
var transcodeBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TranscodeErrors   *prometheus.CounterVec
	TranscodeDuration *prometheus.HistogramVec

	// BrokerResults counts broker calls by operation (get, post) and outcome
	// (ok, empty, error).
	BrokerResults    *prometheus.CounterVec
	TargetRejections *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		TranscodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_proxy_transcode_errors_total",
			Help: "Payloads that could not be converted, by direction (xml_to_json, json_to_xml).",
		}, []string{"direction"}),

		TranscodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_proxy_transcode_duration_seconds",
			Help:    "Payload conversion time in seconds, by direction.",
			Buckets: transcodeBuckets,
		}, []string{"direction"}),

		BrokerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_proxy_broker_results_total",
			Help: "Broker calls by operation and outcome.",
		}, []string{"operation", "outcome"}),

		TargetRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_proxy_target_rejections_total",
			Help: "Requests rejected before forwarding, by reason (missing, invalid, not_allowed).",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TranscodeErrors,
		m.TranscodeDuration,
		m.BrokerResults,
		m.TargetRejections,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/Broker", "/healthz", "/proxy/status", "/openapi.yaml", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Matching is case-insensitive because the broker route is served as both
// /Broker and /broker.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
			continue
		}
		if rest := path[len(prefix):]; rest == "" || rest[0] == '/' || rest[0] == '?' {
			return prefix
		}
	}
	return "other"
}
