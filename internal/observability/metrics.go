package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "holoctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "JSON-line control requests by action.",
		},
		[]string{"action", "success"},
	)
	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Background tasks finished, by kind and execution result.",
		},
		[]string{"kind", "result"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "holoctl",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Background task duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "result"},
	)
	tasksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "tasks",
			Name:      "rejected_total",
			Help:      "Calls rejected before a task was created.",
		},
		[]string{"kind", "reason"},
	)
	transportConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Engine connection attempts by endpoint mode and outcome.",
		},
		[]string{"mode", "success"},
	)
	validationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "validation",
			Name:      "runs_total",
			Help:      "Configuration validation runs by verdict.",
		},
		[]string{"verdict"},
	)
	validationFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "validation",
			Name:      "findings_total",
			Help:      "Validation errors and warnings emitted.",
		},
		[]string{"severity"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holoctl",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Completion events published by sink.",
		},
		[]string{"sink", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			controlRequests,
			tasksCompleted, taskDuration, tasksRejected,
			transportConnects,
			validationRuns, validationFindings,
			eventsPublished,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordControlRequest(action string, success bool) {
	RegisterMetrics()
	controlRequests.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func RecordTask(kind string, result int, duration time.Duration) {
	RegisterMetrics()
	resultLabel := strconv.Itoa(result)
	tasksCompleted.WithLabelValues(kind, resultLabel).Inc()
	taskDuration.WithLabelValues(kind, resultLabel).Observe(duration.Seconds())
}

func RecordTaskRejected(kind, reason string) {
	RegisterMetrics()
	tasksRejected.WithLabelValues(kind, reason).Inc()
}

func RecordTransportConnect(mode string, success bool) {
	RegisterMetrics()
	transportConnects.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
}

func RecordValidation(errors, warnings int) {
	RegisterMetrics()
	verdict := "ok"
	if errors > 0 {
		verdict = "rejected"
	}
	validationRuns.WithLabelValues(verdict).Inc()
	validationFindings.WithLabelValues("error").Add(float64(errors))
	validationFindings.WithLabelValues("warning").Add(float64(warnings))
}

func RecordEventPublished(sink string, success bool) {
	RegisterMetrics()
	eventsPublished.WithLabelValues(sink, strconv.FormatBool(success)).Inc()
}
