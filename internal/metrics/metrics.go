package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes engine and HTTP metrics for Prometheus. All methods are
// safe on a nil receiver so library code can run without a registry.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	datasetLoads        *prometheus.CounterVec
	datasetLoadDuration *prometheus.HistogramVec
	featuresRendered    *prometheus.CounterVec
	featuresSkipped     *prometheus.CounterVec
	staleWrites         prometheus.Counter
	activeSessions      prometheus.Gauge
	sessionDuration     prometheus.Histogram
}

// New creates a fresh Metrics registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citymap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "citymap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	datasetLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citymap",
		Name:      "dataset_loads_total",
		Help:      "Dataset loads by dataset and outcome (ok, cache, error)",
	}, []string{"dataset", "outcome"})

	datasetLoadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "citymap",
		Name:      "dataset_load_duration_seconds",
		Help:      "Time to fetch and parse a dataset",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"dataset"})

	featuresRendered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citymap",
		Name:      "features_rendered_total",
		Help:      "Drawables added to layer groups",
	}, []string{"layer"})

	featuresSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citymap",
		Name:      "features_skipped_total",
		Help:      "Records skipped because their geometry could not be mapped",
	}, []string{"layer"})

	staleWrites := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "citymap",
		Name:      "stale_session_writes_total",
		Help:      "Layer mutations suppressed because their session had ended",
	})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "citymap",
		Name:      "active_sessions",
		Help:      "Map sessions currently open",
	})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "citymap",
		Name:      "session_ready_seconds",
		Help:      "Time from session start to the ready signal",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		datasetLoads,
		datasetLoadDuration,
		featuresRendered,
		featuresSkipped,
		staleWrites,
		activeSessions,
		sessionDuration,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		datasetLoads:        datasetLoads,
		datasetLoadDuration: datasetLoadDuration,
		featuresRendered:    featuresRendered,
		featuresSkipped:     featuresSkipped,
		staleWrites:         staleWrites,
		activeSessions:      activeSessions,
		sessionDuration:     sessionDuration,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveDatasetLoad records one dataset load attempt.
func (m *Metrics) ObserveDatasetLoad(dataset, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.datasetLoads.WithLabelValues(dataset, outcome).Inc()
	m.datasetLoadDuration.WithLabelValues(dataset).Observe(duration.Seconds())
}

// AddRendered counts drawables added to a layer.
func (m *Metrics) AddRendered(layer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.featuresRendered.WithLabelValues(layer).Add(float64(n))
}

// AddSkipped counts records skipped while rendering a layer.
func (m *Metrics) AddSkipped(layer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.featuresSkipped.WithLabelValues(layer).Add(float64(n))
}

// IncStaleWrite counts a suppressed post-teardown mutation.
func (m *Metrics) IncStaleWrite() {
	if m == nil {
		return
	}
	m.staleWrites.Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ObserveSessionReady records time-to-ready for a session.
func (m *Metrics) ObserveSessionReady(duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionDuration.Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency for every request. next
// should be the ServeMux so the path label is the matched route pattern,
// not the raw URL.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveHTTPRequest(r.Method, routeLabel(r), rec.status, time.Since(start))
	})
}

// routeLabel returns the ServeMux pattern that handled r, without its
// method prefix, or "unmatched".
func routeLabel(r *http.Request) string {
	p := r.Pattern
	if p == "" {
		return "unmatched"
	}
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = strings.TrimLeft(p[i+1:], " ")
	}
	return p
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
