// Package metrics wires the Prometheus counters and gauges exported by the
// broker's core components: event-bus dispatch, auto-mapper confidence
// rejections, and export publish/suppress counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and gauge this daemon registers. It is a
// package-level singleton, the way ap.iotd's metrics struct is, because
// there is exactly one of each metric per process.
var Metrics = struct {
	EventsDispatched   prometheus.Counter
	EventHandlerPanics prometheus.Counter

	AutoMapResolved prometheus.Counter
	AutoMapRejected prometheus.Counter

	ExportPublished prometheus.Counter
	ExportSuppressed prometheus.Counter

	IngressDataPoints prometheus.Counter
}{
	EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_events_dispatched_total",
		Help: "Number of events dispatched by the event bus.",
	}),
	EventHandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_event_handler_panics_total",
		Help: "Number of event-bus handler invocations that panicked.",
	}),
	AutoMapResolved: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_automap_resolved_total",
		Help: "Number of topics the auto-mapper resolved with sufficient confidence.",
	}),
	AutoMapRejected: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_automap_rejected_total",
		Help: "Number of topics the auto-mapper could not resolve with sufficient confidence.",
	}),
	ExportPublished: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_export_published_total",
		Help: "Number of data points published by a data-export destination.",
	}),
	ExportSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_export_suppressed_total",
		Help: "Number of data points suppressed (unchanged value or within the rate-limit window) by a data-export destination.",
	}),
	IngressDataPoints: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unsbrokerd_ingress_datapoints_total",
		Help: "Number of data points decomposed from inbound payloads.",
	}),
}

var registerOnce = false

// Register registers every metric with the default Prometheus registry. It
// is idempotent; calling it more than once is a no-op after the first call.
func Register() {
	if registerOnce {
		return
	}
	registerOnce = true
	prometheus.MustRegister(
		Metrics.EventsDispatched,
		Metrics.EventHandlerPanics,
		Metrics.AutoMapResolved,
		Metrics.AutoMapRejected,
		Metrics.ExportPublished,
		Metrics.ExportSuppressed,
		Metrics.IngressDataPoints,
	)
}

// Serve registers the metrics and starts an HTTP server exposing them at
// /metrics on addr (e.g. ":9100"). It returns immediately; the server runs
// in a background goroutine for the life of the process.
func Serve(addr string) {
	Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, mux)
}
