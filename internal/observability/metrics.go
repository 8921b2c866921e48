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
			Namespace: "notebookd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notebookd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	kernelMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "kernel",
			Name:      "messages_total",
			Help:      "Kernel messages received, by channel and message type.",
		},
		[]string{"channel", "msg_type"},
	)
	kernelConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "kernel",
			Name:      "connect_attempts_total",
			Help:      "Kernel connection attempts, by result.",
		},
		[]string{"success"},
	)
	kernelFramesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "kernel",
			Name:      "frames_skipped_total",
			Help:      "Kernel channel frames skipped without ending the session, by reason.",
		},
		[]string{"reason"},
	)
	reconcileRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "reconcile",
			Name:      "records_total",
			Help:      "Output records handled by the reconciler, by result (emitted|dropped).",
		},
		[]string{"result"},
	)
	reconcileSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "reconcile",
			Name:      "classification_failures_total",
			Help:      "Kernel messages skipped because they could not be classified.",
		},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Cell executions, by outcome.",
		},
		[]string{"outcome"},
	)
	executionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "notebookd",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Cell execution duration from submit to completion.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			kernelMessages,
			kernelConnects,
			kernelFramesSkipped,
			reconcileRecords,
			reconcileSkipped,
			executions,
			executionDuration,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordKernelMessage(channel, msgType string) {
	RegisterMetrics()
	kernelMessages.WithLabelValues(channel, msgType).Inc()
}

func RecordKernelConnect(success bool) {
	RegisterMetrics()
	kernelConnects.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordKernelFrameSkipped counts a channel frame that was not a decodable
// text message (reason: binary|malformed).
func RecordKernelFrameSkipped(reason string) {
	RegisterMetrics()
	kernelFramesSkipped.WithLabelValues(reason).Inc()
}

func RecordRecordsEmitted(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	reconcileRecords.WithLabelValues("emitted").Add(float64(n))
}

func RecordRecordsDropped(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	reconcileRecords.WithLabelValues("dropped").Add(float64(n))
}

func RecordClassificationFailure() {
	RegisterMetrics()
	reconcileSkipped.Inc()
}

func RecordExecution(outcome string, duration time.Duration) {
	RegisterMetrics()
	executions.WithLabelValues(outcome).Inc()
	executionDuration.Observe(duration.Seconds())
}
