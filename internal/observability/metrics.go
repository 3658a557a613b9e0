package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	apiRequestsTotal    *prometheus.CounterVec
	apiLatencySeconds   *prometheus.HistogramVec
	apiErrorsTotal      *prometheus.CounterVec
	gradingJobsTotal    *prometheus.CounterVec
	gradingJobSeconds   prometheus.Histogram
	gradingEventsTotal  *prometheus.CounterVec
	hintRequestsTotal   *prometheus.CounterVec
	hintStreamsActive   prometheus.Gauge
	eventClientsActive  prometheus.Gauge
	webhookEventsTotal  *prometheus.CounterVec
	rateLimitedTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors shared by the API and the worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_jobs_total",
			Help: "Grading jobs processed by the worker, by outcome.",
		}, []string{"outcome"})

		gradingJobSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gema_grading_job_duration_seconds",
			Help:    "Wall time spent on one grading job.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		})

		gradingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_events_total",
			Help: "Grading events published or received, by transport and direction.",
		}, []string{"transport", "direction"})

		hintRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_hint_requests_total",
			Help: "Hint requests, by transport and outcome.",
		}, []string{"transport", "outcome"})

		hintStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gema_hint_streams_active",
			Help: "Hint streams currently open.",
		})

		eventClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gema_grading_event_clients_active",
			Help: "Admin clients subscribed to the grading event stream.",
		})

		webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grade_webhook_events_total",
			Help: "Database webhook deliveries, by result.",
		}, []string{"result"})

		rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by scope.",
		}, []string{"scope"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			gradingJobsTotal, gradingJobSeconds, gradingEventsTotal,
			hintRequestsTotal, hintStreamsActive, eventClientsActive,
			webhookEventsTotal, rateLimitedTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingJobs counts worker jobs by outcome.
func GradingJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingJobsTotal
}

// GradingJobDuration observes the time spent per job.
func GradingJobDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingJobSeconds
}

// GradingEvents counts grading events per transport.
func GradingEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingEventsTotal
}

// HintRequests counts hint requests.
func HintRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return hintRequestsTotal
}

// HintStreamsActive tracks open hint streams.
func HintStreamsActive() prometheus.Gauge {
	RegisterMetrics()
	return hintStreamsActive
}

// EventClientsActive tracks admin SSE subscribers.
func EventClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return eventClientsActive
}

// WebhookEvents counts webhook deliveries.
func WebhookEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return webhookEventsTotal
}

// RateLimited exposes the counter for rejected requests.
func RateLimited() *prometheus.CounterVec {
	RegisterMetrics()
	return rateLimitedTotal
}

var queueDepthOnce sync.Once

// RegisterQueueDepth exposes the grading backlog as a gauge sampled on
// every scrape. Only the first call registers.
func RegisterQueueDepth(depth func() float64) {
	queueDepthOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gema_grading_queue_depth",
			Help: "Submission ids waiting in the grading queue.",
		}, depth))
	})
}
