// package metrics exposes prometheus collectors for the job engine, rate limiters and reconcilers.
//
// Every method tolerates a nil [*Metrics] so components can be built without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crate"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	JobsSubmitted  *prometheus.CounterVec
	JobsRejected   *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobRetries     *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	WorkersBusy    prometheus.Gauge
	LimiterWait    *prometheus.HistogramVec
	ServiceCalls   *prometheus.CounterVec
	WebhookEvents  *prometheus.CounterVec
	MatchOutcomes  *prometheus.CounterVec
	ScanUnmatched  prometheus.Gauge
	WatcherTrigger prometheus.Counter
}

// New registers every collector, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted into the queue",
		}, []string{"type"}),
		JobsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Job submissions rejected as duplicates",
		}, []string{"type"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"type", "status"}),
		JobRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Task attempts retried after a transient failure",
		}, []string{"type"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to completion",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"type"}),
		WorkersBusy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_workers_busy",
			Help:      "Workers currently running a job",
		}),
		LimiterWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting for a rate-limit token",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"service"}),
		ServiceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Outbound calls to external services by status code",
		}, []string{"service", "code"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound download events by type and result",
		}, []string{"event", "result"}),
		MatchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_outcomes_total",
			Help:      "Matching results by status and cache use",
		}, []string{"status", "cached"}),
		ScanUnmatched: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_unmatched_directories",
			Help:      "Album directories without a catalog match in the last scan",
		}),
		WatcherTrigger: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_triggers_total",
			Help:      "Debounced filesystem scan triggers",
		}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) JobSubmitted(jobType string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobRejected(jobType string) {
	if m == nil {
		return
	}
	m.JobsRejected.WithLabelValues(jobType).Inc()
}

// JobFinished records a terminal job and how long it ran.
func (m *Metrics) JobFinished(jobType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) JobRetried(jobType string) {
	if m == nil {
		return
	}
	m.JobRetries.WithLabelValues(jobType).Inc()
}

// WorkerBusy adjusts the busy-worker gauge by delta.
func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(delta)
}

func (m *Metrics) ObserveLimiterWait(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.LimiterWait.WithLabelValues(service).Observe(d.Seconds())
}

// ServiceCall counts an outbound call; code 0 means the request never got a response.
func (m *Metrics) ServiceCall(service string, code int) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, strconv.Itoa(code)).Inc()
}

func (m *Metrics) WebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) MatchOutcome(status string, cached bool) {
	if m == nil {
		return
	}
	m.MatchOutcomes.WithLabelValues(status, strconv.FormatBool(cached)).Inc()
}

func (m *Metrics) ScanFinished(unmatched int) {
	if m == nil {
		return
	}
	m.ScanUnmatched.Set(float64(unmatched))
}

func (m *Metrics) WatcherTriggered() {
	if m == nil {
		return
	}
	m.WatcherTrigger.Inc()
}
