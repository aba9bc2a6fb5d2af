// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Buffered body sizes from 1 KiB to 64 MiB.
var bodyBuckets = prometheus.ExponentialBuckets(1024, 4, 9)

// Route lookup results.
const (
	LookupHit       = "hit"
	LookupMiss      = "miss"
	LookupError     = "error"
	LookupMalformed = "malformed"
)

// Body rewrite outcomes.
const (
	RewriteRewritten   = "rewritten"
	RewriteUnchanged   = "unchanged"
	RewritePassthrough = "passthrough"
	RewriteAborted     = "aborted"
)

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RouteLookups      *prometheus.CounterVec
	BodyRewrites      *prometheus.CounterVec
	BufferedBodyBytes prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefix_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prefix_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prefix_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prefix_gateway_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds, up to response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefix_gateway_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RouteLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefix_gateway_route_lookups_total",
			Help: "Route store lookups by result.",
		}, []string{"result"}),

		BodyRewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prefix_gateway_body_rewrites_total",
			Help: "Finalized response bodies by rewrite outcome.",
		}, []string{"outcome"}),

		BufferedBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prefix_gateway_buffered_body_bytes",
			Help:    "Size of response bodies buffered before rewrite.",
			Buckets: bodyBuckets,
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RouteLookups,
		m.BodyRewrites,
		m.BufferedBodyBytes,
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

// knownRoutes lists the gateway's own endpoints.
var knownRoutes = []string{"/healthz", "/readyz", "/statusz", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics. Proxied
// traffic is labelled "proxy" regardless of its route prefix.
func NormalizePath(path string) string {
	for _, route := range knownRoutes {
		if path == route || strings.HasPrefix(path, route+"?") {
			return route
		}
	}
	return "proxy"
}
