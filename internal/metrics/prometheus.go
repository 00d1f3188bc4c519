package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the mesh's gateway,
// orchestrator, and ESB bridge.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	proxyRequestsTotal *prometheus.CounterVec
	proxyTimeoutsTotal prometheus.Counter
	proxyDuration      *prometheus.HistogramVec

	jobTransitionsTotal *prometheus.CounterVec

	esbUploadsTotal  *prometheus.CounterVec
	esbUploadBytes   prometheus.Counter

	rateLimitRejectionsTotal prometheus.Counter
	authRejectionsTotal      prometheus.Counter

	uptime prometheus.GaugeFunc
}

// Default histogram buckets for proxy latency (milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		proxyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Total gateway proxy requests by route and status class",
			},
			[]string{"category", "action", "status"},
		),

		proxyTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_timeouts_total",
				Help:      "Total gateway proxy requests that timed out waiting on an upstream",
			},
		),

		proxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_duration_milliseconds",
				Help:      "Duration of gateway proxy round-trips in milliseconds",
				Buckets:   buckets,
			},
			[]string{"category", "action"},
		),

		jobTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Total orchestrator job state transitions",
			},
			[]string{"agent", "status"},
		),

		esbUploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "esb_uploads_total",
				Help:      "Total file uploads relayed through the ESB bridge",
			},
			[]string{"result"},
		),

		esbUploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "esb_upload_bytes_total",
				Help:      "Total bytes uploaded through the ESB bridge",
			},
		),

		rateLimitRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Total requests rejected by the gateway rate limiter",
			},
		),

		authRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_rejections_total",
				Help:      "Total requests rejected by the gateway API key check",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.proxyRequestsTotal,
		pm.proxyTimeoutsTotal,
		pm.proxyDuration,
		pm.jobTransitionsTotal,
		pm.esbUploadsTotal,
		pm.esbUploadBytes,
		pm.rateLimitRejectionsTotal,
		pm.authRejectionsTotal,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusProxyRequest records a gateway proxy call.
func RecordPrometheusProxyRequest(category, action string, durationMs int64, status int, timedOut bool) {
	if promMetrics == nil {
		return
	}
	statusClass := statusClassOf(status)
	promMetrics.proxyRequestsTotal.WithLabelValues(category, action, statusClass).Inc()
	promMetrics.proxyDuration.WithLabelValues(category, action).Observe(float64(durationMs))
	if timedOut {
		promMetrics.proxyTimeoutsTotal.Inc()
	}
}

// RecordPrometheusJobTransition records an orchestrator job state change.
func RecordPrometheusJobTransition(agent, status string) {
	if promMetrics == nil {
		return
	}
	promMetrics.jobTransitionsTotal.WithLabelValues(agent, status).Inc()
}

// RecordPrometheusESBUpload records an ESB file upload result.
func RecordPrometheusESBUpload(bytes int64, success bool) {
	if promMetrics == nil {
		return
	}
	result := "success"
	if !success {
		result = "failed"
	}
	promMetrics.esbUploadsTotal.WithLabelValues(result).Inc()
	if success {
		promMetrics.esbUploadBytes.Add(float64(bytes))
	}
}

// RecordPrometheusRateLimitRejection records a 429 rejection.
func RecordPrometheusRateLimitRejection() {
	if promMetrics == nil {
		return
	}
	promMetrics.rateLimitRejectionsTotal.Inc()
}

// RecordPrometheusAuthRejection records a 401 rejection.
func RecordPrometheusAuthRejection() {
	if promMetrics == nil {
		return
	}
	promMetrics.authRejectionsTotal.Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the registry for custom collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}

func statusClassOf(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
