package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates the Prometheus collectors used across the HTTP surface
// and the ingestion pipeline. Each Recorder owns its registry so tests can
// instantiate isolated instances.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ingestsTotal      *prometheus.CounterVec
	transcodeDuration prometheus.Histogram
	activeTranscodes  prometheus.Gauge
	queuedTranscodes  prometheus.Gauge
	thumbnailFailures prometheus.Counter
	cleanupsTotal     prometheus.Counter
}

// New constructs a Recorder with a fresh registry and all collectors
// registered.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelhouse_http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reelhouse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ingestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelhouse_ingests_total",
			Help: "Completed ingestion flows by outcome kind.",
		}, []string{"outcome"}),
		transcodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reelhouse_transcode_duration_seconds",
			Help:    "Wall-clock duration of ffmpeg packaging runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		activeTranscodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reelhouse_transcodes_active",
			Help: "Number of ffmpeg invocations currently running.",
		}),
		queuedTranscodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reelhouse_transcodes_queued",
			Help: "Number of transcode requests waiting for admission.",
		}),
		thumbnailFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelhouse_thumbnail_failures_total",
			Help: "Thumbnail generation attempts that failed (non-fatal).",
		}),
		cleanupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelhouse_cleanups_total",
			Help: "Asset directory cleanups performed after failures.",
		}),
	}
}

var defaultRecorder = New()

// Default returns the process-wide Recorder shared by packages that do not
// carry their own instrumentation handle.
func Default() *Recorder {
	return defaultRecorder
}

// Handler exposes the recorder's registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest accumulates request count and latency by method, normalized
// path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IngestCompleted records the outcome of one ingestion flow. Outcome is
// "ready" for success or the failure kind otherwise.
func (r *Recorder) IngestCompleted(outcome string) {
	if r == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	r.ingestsTotal.WithLabelValues(outcome).Inc()
}

// TranscodeStarted increments the active-transcode gauge.
func (r *Recorder) TranscodeStarted() {
	if r == nil {
		return
	}
	r.activeTranscodes.Inc()
}

// TranscodeFinished decrements the active-transcode gauge and records the run
// duration.
func (r *Recorder) TranscodeFinished(duration time.Duration) {
	if r == nil {
		return
	}
	r.activeTranscodes.Dec()
	r.transcodeDuration.Observe(duration.Seconds())
}

// TranscodeQueued tracks a request entering the admission queue.
func (r *Recorder) TranscodeQueued() {
	if r == nil {
		return
	}
	r.queuedTranscodes.Inc()
}

// TranscodeDequeued tracks a request leaving the admission queue.
func (r *Recorder) TranscodeDequeued() {
	if r == nil {
		return
	}
	r.queuedTranscodes.Dec()
}

// ThumbnailFailed counts a swallowed thumbnail failure.
func (r *Recorder) ThumbnailFailed() {
	if r == nil {
		return
	}
	r.thumbnailFailures.Inc()
}

// CleanupPerformed counts an executed cleanup pass.
func (r *Recorder) CleanupPerformed() {
	if r == nil {
		return
	}
	r.cleanupsTotal.Inc()
}

// normalizePath collapses per-asset path segments so metric cardinality stays
// bounded regardless of how many assets exist.
func normalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if i >= 2 && looksLikeID(segment) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func looksLikeID(segment string) bool {
	if len(segment) < 8 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
