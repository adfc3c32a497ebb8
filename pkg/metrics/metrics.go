// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nbtool"

var (
	registerOnce sync.Once

	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool invocations by tool and result.",
		},
		[]string{"tool", "success"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	kernelStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "starts_total",
			Help:      "Kernel launch attempts by spec and result.",
		},
		[]string{"spec", "success"},
	)
	cellExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cell",
			Name:      "executions_total",
			Help:      "Cell executions by outcome (ok, error, timeout, failed).",
		},
		[]string{"outcome"},
	)
	cellDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cell",
			Name:      "execution_duration_seconds",
			Help:      "Cell execution duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(toolCalls, toolDuration, httpRequests, httpDuration,
			kernelStarts, cellExecutions, cellDuration)
	})
}

func RecordToolCall(tool string, success bool, duration time.Duration) {
	Register()
	toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	Register()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordKernelStart(spec string, success bool) {
	Register()
	kernelStarts.WithLabelValues(spec, strconv.FormatBool(success)).Inc()
}

func RecordCellExecution(outcome string, duration time.Duration) {
	Register()
	cellExecutions.WithLabelValues(outcome).Inc()
	cellDuration.Observe(duration.Seconds())
}
