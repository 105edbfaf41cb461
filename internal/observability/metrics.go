package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	uploadLatencySeconds prometheus.Histogram
	uploadRejectedTotal  *prometheus.CounterVec
	uploadRequestsTotal  *prometheus.CounterVec

	codingAttemptsTotal       *prometheus.CounterVec
	submissionsCompletedTotal *prometheus.CounterVec
	sessionsExpiredTotal      prometheus.Counter
	dashboardCacheTotal       *prometheus.CounterVec

	eventsPublishedTotal *prometheus.CounterVec
	sessionStreamsActive prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors shared by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "api_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codequest",
			Name:      "api_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5, 10},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "api_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codequest",
			Name:      "upload_latency_seconds",
			Help:      "Time spent validating and storing uploaded assets.",
			Buckets:   prometheus.DefBuckets,
		})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "upload_rejected_total",
			Help:      "Uploads rejected during validation or storage.",
		}, []string{"reason"})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "upload_requests_total",
			Help:      "Uploads stored successfully.",
		}, []string{"mime"})

		codingAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "coding_attempts_total",
			Help:      "Coding attempts judged, by language and outcome.",
		}, []string{"language", "status"})

		submissionsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "submissions_completed_total",
			Help:      "Submissions finalised, by certificate type.",
		}, []string{"result"})

		sessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "sessions_expired_total",
			Help:      "Test sessions expired after running past their deadline.",
		})

		dashboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "dashboard_cache_total",
			Help:      "Dashboard cache lookups by outcome.",
		}, []string{"dashboard", "outcome"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codequest",
			Name:      "events_total",
			Help:      "Domain events handled, by type and origin.",
		}, []string{"type", "origin"})

		sessionStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codequest",
			Name:      "session_streams_active",
			Help:      "Open proctoring websocket connections.",
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			uploadLatencySeconds, uploadRejectedTotal, uploadRequestsTotal,
			codingAttemptsTotal, submissionsCompletedTotal, sessionsExpiredTotal, dashboardCacheTotal,
			eventsPublishedTotal, sessionStreamsActive,
		)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the request latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the error response counter.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}

func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// CodingAttempts counts judged attempts.
func CodingAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return codingAttemptsTotal
}

// SubmissionsCompleted counts finalised submissions.
func SubmissionsCompleted() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsCompletedTotal
}

// SessionsExpired counts sessions closed by the deadline.
func SessionsExpired() prometheus.Counter {
	RegisterMetrics()
	return sessionsExpiredTotal
}

// DashboardCache counts dashboard cache hits and misses.
func DashboardCache() *prometheus.CounterVec {
	RegisterMetrics()
	return dashboardCacheTotal
}

// Events counts domain events published locally or received from peers.
func Events() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}

// SessionStreamsActive tracks open session websockets.
func SessionStreamsActive() prometheus.Gauge {
	RegisterMetrics()
	return sessionStreamsActive
}
