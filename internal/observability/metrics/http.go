package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIMetrics holds the HTTP and pipeline instruments behind one private
// registry, exposed via Handler.
type APIMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	resolutionTotal    *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	retrievedChunks    *prometheus.HistogramVec
	duplicatesRemoved  *prometheus.HistogramVec
	adviceTotal        *prometheus.CounterVec
	adviceConfidence   *prometheus.HistogramVec
	adviceDuration     *prometheus.HistogramVec
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oncall",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	resolutionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total condition resolutions by terminal level and source.",
		},
		[]string{"service", "level", "source"},
	)
	resolutionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Condition resolution duration in seconds by terminal level.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "level"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "retrieval",
			Name:      "chunks",
			Help:      "Distribution of retrieved chunks per request by corpus.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "corpus"},
	)
	duplicatesRemoved := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "retrieval",
			Name:      "duplicates_removed",
			Help:      "Distribution of chunks dropped by deduplication per request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"service"},
	)
	adviceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall",
			Subsystem: "advice",
			Name:      "generations_total",
			Help:      "Total advice generations by status.",
		},
		[]string{"service", "status"},
	)
	adviceConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "advice",
			Name:      "confidence",
			Help:      "Distribution of advice confidence scores.",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service"},
	)
	adviceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oncall",
			Subsystem: "advice",
			Name:      "duration_seconds",
			Help:      "End-to-end advice pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		resolutionTotal,
		resolutionDuration,
		retrievedChunks,
		duplicatesRemoved,
		adviceTotal,
		adviceConfidence,
		adviceDuration,
	)

	return &APIMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		resolutionTotal:    resolutionTotal,
		resolutionDuration: resolutionDuration,
		retrievedChunks:    retrievedChunks,
		duplicatesRemoved:  duplicatesRemoved,
		adviceTotal:        adviceTotal,
		adviceConfidence:   adviceConfidence,
		adviceDuration:     adviceDuration,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *APIMetrics) RecordResolution(service, level, source string, duration time.Duration) {
	if source == "" {
		source = "none"
	}
	m.resolutionTotal.WithLabelValues(service, level, source).Inc()
	m.resolutionDuration.WithLabelValues(service, level).Observe(duration.Seconds())
}

func (m *APIMetrics) RecordRetrieval(service, corpus string, chunks int) {
	m.retrievedChunks.WithLabelValues(service, corpus).Observe(float64(chunks))
}

func (m *APIMetrics) RecordDuplicatesRemoved(service string, removed int) {
	if removed < 0 {
		return
	}
	m.duplicatesRemoved.WithLabelValues(service).Observe(float64(removed))
}

func (m *APIMetrics) RecordAdvice(service, status string, confidence float64, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.adviceTotal.WithLabelValues(service, status).Inc()
	m.adviceConfidence.WithLabelValues(service).Observe(confidence)
	m.adviceDuration.WithLabelValues(service).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
