// Package metrics exposes Prometheus collectors for the stock monitor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleSkipsTotal            prometheus.Counter
	cycleDurationSeconds       prometheus.Histogram
	probesTotal                *prometheus.CounterVec
	probeDurationSeconds       *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	trackedProducts            prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacingDelaySeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbot_cycles_total",
				Help: "Total number of monitor cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stockbot_cycle_skips_total",
				Help: "Cycle triggers skipped because a cycle was already running.",
			},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockbot_cycle_duration_seconds",
				Help:    "Histogram of monitor cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbot_probes_total",
				Help: "Total number of page probes, labeled by site and resulting status.",
			},
			[]string{"site", "status"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockbot_probe_duration_seconds",
				Help:    "Histogram of page probe latencies, labeled by site.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"site"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbot_notifications_total",
				Help: "Total number of change notifications, labeled by result.",
			},
			[]string{"result"},
		)

		trackedProducts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockbot_tracked_products",
				Help: "Number of products loaded by the most recent cycle.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockbot_pacing_delay_seconds",
				Help:    "Histogram of pacing waits between probes.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveCycleSkip counts a trigger refused by the single-flight guard.
func ObserveCycleSkip() {
	Init()
	cycleSkipsTotal.Inc()
}

// ObserveProbe records one probe outcome.
func ObserveProbe(rawURL, status string, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	probesTotal.WithLabelValues(site, status).Inc()
	probeDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveNotification counts a notification attempt by result.
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// SetTrackedProducts sets the tracked product gauge.
func SetTrackedProducts(n int) {
	Init()
	trackedProducts.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(site string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}
