package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP server metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Client-side session and scoping metrics.
var (
	sessionPurges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kxfer_session_purges_total",
			Help: "Sessions purged, by reason.",
		},
		[]string{"reason"},
	)

	policyViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kxfer_policy_violations_total",
			Help: "Backend responses rejected for returning content above the viewer's clearance.",
		},
		[]string{"operation"},
	)

	chatFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kxfer_chat_fallbacks_total",
		Help: "Chat questions answered with the fixed fallback message.",
	})

	clientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kxfer_client_requests_total",
			Help: "Requests issued by the API client, by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			sessionPurges, policyViolations, chatFallbacks, clientRequests,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionPurge counts a purge; reason is "logout", "unauthorized" or "stale".
func RecordSessionPurge(reason string) { sessionPurges.WithLabelValues(reason).Inc() }

// RecordPolicyViolation counts a rejected over-clearance response.
func RecordPolicyViolation(operation string) { policyViolations.WithLabelValues(operation).Inc() }

// RecordChatFallback counts a fallback chat reply.
func RecordChatFallback() { chatFallbacks.Inc() }

// RecordClientRequest counts an outbound API call. Status 0 means transport failure.
func RecordClientRequest(endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	clientRequests.WithLabelValues(endpoint, label).Inc()
}

// Instrument records RPS, latency and in-flight gauges for next.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses artifact ids so metric label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const artifacts = "/api/v1/artifacts/"
	if rest, ok := strings.CutPrefix(path, artifacts); ok && rest != "" && !strings.Contains(rest, "/") {
		return artifacts + ":id"
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
