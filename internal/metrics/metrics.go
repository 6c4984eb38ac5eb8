// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serviceRequestsTotal          *prometheus.CounterVec
	serviceRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds        *prometheus.HistogramVec
	checkpointFlushesTotal        *prometheus.CounterVec
	downloadBytesTotal            prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		serviceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_service_requests_total",
				Help: "Total panorama service calls, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		serviceRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_service_request_duration_seconds",
				Help:    "Histogram of panorama service call latencies, labeled by operation.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of pacing waits before external calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"name"},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_checkpoint_flushes_total",
				Help: "Total checkpoint flushes, labeled by result.",
			},
			[]string{"result"},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_download_bytes_total",
				Help: "Total bytes of raw panorama imagery downloaded.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_http_request_duration_seconds",
				Help:    "Status server request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveServiceRequest records one panorama service call.
func ObserveServiceRequest(op string, err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	serviceRequestsTotal.WithLabelValues(op, result).Inc()
	serviceRequestDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(name string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveCheckpointFlush records a checkpoint flush attempt.
func ObserveCheckpointFlush(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointFlushesTotal.WithLabelValues(result).Inc()
}

// AddDownloadBytes adds n downloaded bytes.
func AddDownloadBytes(n int) {
	Init()
	if n > 0 {
		downloadBytesTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
