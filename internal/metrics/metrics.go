// Package metrics collects and exposes agent mesh observability data.
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (atomic counters) for the lightweight
//     JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// RecordProxyRequest and RecordJobTransition are called from the gateway
// proxy and orchestrator job pipeline respectively and must stay
// allocation-light; they use atomic increments for the in-process
// counters and forward to the Prometheus bridge.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects agent mesh runtime metrics: gateway proxy traffic,
// orchestrator job lifecycle transitions, and ESB file transfers.
type Metrics struct {
	ProxyRequestsTotal   atomic.Int64
	ProxyErrorsTotal     atomic.Int64
	ProxyTimeoutsTotal   atomic.Int64
	ProxyLatencyTotalMs  atomic.Int64

	JobsReceived  atomic.Int64
	JobsRunning   atomic.Int64
	JobsSucceeded atomic.Int64
	JobsFailed    atomic.Int64

	ESBUploadsTotal  atomic.Int64
	ESBUploadBytes   atomic.Int64
	ESBUploadFailed  atomic.Int64

	RateLimitRejections atomic.Int64
	AuthRejections      atomic.Int64

	// Per-route metrics
	routeMetrics sync.Map // "category/action" -> *RouteMetrics

	startTime time.Time
}

// RouteMetrics tracks metrics for a single gateway route.
type RouteMetrics struct {
	Requests   atomic.Int64
	Errors     atomic.Int64
	LatencyMs  atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordProxyRequest records a gateway proxy call for a resolved route.
func (m *Metrics) RecordProxyRequest(category, action string, durationMs int64, status int, timedOut bool) {
	m.ProxyRequestsTotal.Add(1)
	m.ProxyLatencyTotalMs.Add(durationMs)
	isError := status >= 400
	if isError {
		m.ProxyErrorsTotal.Add(1)
	}
	if timedOut {
		m.ProxyTimeoutsTotal.Add(1)
	}

	rm := m.getRouteMetrics(category, action)
	rm.Requests.Add(1)
	rm.LatencyMs.Add(durationMs)
	if isError {
		rm.Errors.Add(1)
	}

	RecordPrometheusProxyRequest(category, action, durationMs, status, timedOut)
}

// RecordJobTransition records an orchestrator job entering a terminal or
// intermediate state.
func (m *Metrics) RecordJobTransition(agent string, status string) {
	switch status {
	case "RECEIVED":
		m.JobsReceived.Add(1)
	case "RUNNING":
		m.JobsRunning.Add(1)
	case "SUCCEEDED":
		m.JobsSucceeded.Add(1)
	case "FAILED":
		m.JobsFailed.Add(1)
	}
	RecordPrometheusJobTransition(agent, status)
}

// RecordESBUpload records a completed or failed ESB file upload.
func (m *Metrics) RecordESBUpload(bytes int64, success bool) {
	m.ESBUploadsTotal.Add(1)
	m.ESBUploadBytes.Add(bytes)
	if !success {
		m.ESBUploadFailed.Add(1)
	}
	RecordPrometheusESBUpload(bytes, success)
}

// RecordRateLimitRejection records a 429 issued by the gateway middleware.
func (m *Metrics) RecordRateLimitRejection() {
	m.RateLimitRejections.Add(1)
	RecordPrometheusRateLimitRejection()
}

// RecordAuthRejection records a 401 issued by the gateway middleware.
func (m *Metrics) RecordAuthRejection() {
	m.AuthRejections.Add(1)
	RecordPrometheusAuthRejection()
}

func (m *Metrics) getRouteMetrics(category, action string) *RouteMetrics {
	key := category + "/" + action
	if v, ok := m.routeMetrics.Load(key); ok {
		return v.(*RouteMetrics)
	}
	rm := &RouteMetrics{}
	actual, _ := m.routeMetrics.LoadOrStore(key, rm)
	return actual.(*RouteMetrics)
}

// Snapshot returns a point-in-time view of the global counters.
func (m *Metrics) Snapshot() map[string]interface{} {
	proxyTotal := m.ProxyRequestsTotal.Load()
	avgLatency := float64(0)
	if proxyTotal > 0 {
		avgLatency = float64(m.ProxyLatencyTotalMs.Load()) / float64(proxyTotal)
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"proxy": map[string]interface{}{
			"requests_total":  proxyTotal,
			"errors_total":    m.ProxyErrorsTotal.Load(),
			"timeouts_total":  m.ProxyTimeoutsTotal.Load(),
			"avg_latency_ms":  avgLatency,
		},
		"jobs": map[string]interface{}{
			"received":  m.JobsReceived.Load(),
			"running":   m.JobsRunning.Load(),
			"succeeded": m.JobsSucceeded.Load(),
			"failed":    m.JobsFailed.Load(),
		},
		"esb": map[string]interface{}{
			"uploads_total":  m.ESBUploadsTotal.Load(),
			"upload_bytes":   m.ESBUploadBytes.Load(),
			"uploads_failed": m.ESBUploadFailed.Load(),
		},
		"rate_limit_rejections": m.RateLimitRejections.Load(),
		"auth_rejections":       m.AuthRejections.Load(),
	}
}

// RouteStats returns per-route proxy metrics.
func (m *Metrics) RouteStats() map[string]interface{} {
	result := make(map[string]interface{})
	m.routeMetrics.Range(func(key, value interface{}) bool {
		route := key.(string)
		rm := value.(*RouteMetrics)
		total := rm.Requests.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(rm.LatencyMs.Load()) / float64(total)
		}
		result[route] = map[string]interface{}{
			"requests": total,
			"errors":   rm.Errors.Load(),
			"avg_ms":   avgMs,
		}
		return true
	})
	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["routes"] = m.RouteStats()
		json.NewEncoder(w).Encode(result)
	})
}
