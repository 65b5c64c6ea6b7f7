package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus collectors for the service. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Updates        *prometheus.CounterVec
	Renders        *prometheus.CounterVec
	RenderDuration prometheus.Histogram
	Deliveries     prometheus.Counter
	Drops          prometheus.Counter
	Viewers        prometheus.Gauge
	IngestErrors   *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the service collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_updates_total",
			Help: "Readings accepted into the coordinate store, by ingress source.",
		}, []string{"source"}),
		Renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_renders_total",
			Help: "Render calls by outcome.",
		}, []string{"outcome"}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "probe_render_duration_seconds",
			Help:    "Time spent building and rasterizing a scene.",
			Buckets: prometheus.DefBuckets,
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "probe_broadcast_deliveries_total",
			Help: "Readings successfully pushed to viewer channels.",
		}),
		Drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "probe_broadcast_drops_total",
			Help: "Viewer channels dropped after a failed push.",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "probe_viewers",
			Help: "Currently registered viewer channels.",
		}),
		IngestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_ingest_errors_total",
			Help: "Serial lines or MQTT messages rejected by the reading decoder, by source.",
		}, []string{"source"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.Updates,
		m.Renders,
		m.RenderDuration,
		m.Deliveries,
		m.Drops,
		m.Viewers,
		m.IngestErrors,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request against route.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
