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
			Namespace: "peerlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the peer.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	bridgeEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerlink",
			Subsystem: "bridge",
			Name:      "emits_total",
			Help:      "Events sent by the host bridge.",
		},
		[]string{"mode", "success"},
	)
	bridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerlink",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Correlated calls by completion event and outcome.",
		},
		[]string{"completion", "role", "outcome"},
	)
	bridgeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerlink",
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Correlated call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"completion", "outcome"},
	)
	bridgeWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peerlink",
			Subsystem: "bridge",
			Name:      "waiters_in_flight",
			Help:      "Waiters currently registered.",
		},
	)
	connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerlink",
			Subsystem: "connection",
			Name:      "lifecycle_events_total",
			Help:      "Connection lifecycle transitions observed by the host.",
		},
		[]string{"event"},
	)
	peerTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerlink",
			Subsystem: "peer",
			Name:      "triggers_total",
			Help:      "Trigger events handled by the peer dispatcher.",
		},
		[]string{"node", "trigger", "status"},
	)
	peerTriggerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerlink",
			Subsystem: "peer",
			Name:      "trigger_duration_seconds",
			Help:      "Peer handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "trigger", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			bridgeEmits,
			bridgeCalls,
			bridgeCallDuration,
			bridgeWaiters,
			connectionEvents,
			peerTriggers,
			peerTriggerDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordEmit counts one send; mode is "async" or "sync".
func RecordEmit(mode string, success bool) {
	RegisterMetrics()
	bridgeEmits.WithLabelValues(mode, strconv.FormatBool(success)).Inc()
}

// RecordCall counts one correlated call; role is "owner", "joined" or "queued".
func RecordCall(completion, role, outcome string, duration time.Duration) {
	RegisterMetrics()
	bridgeCalls.WithLabelValues(completion, role, outcome).Inc()
	bridgeCallDuration.WithLabelValues(completion, outcome).Observe(duration.Seconds())
}

func SetWaitersInFlight(n int) {
	RegisterMetrics()
	bridgeWaiters.Set(float64(n))
}

func RecordConnectionEvent(event string) {
	RegisterMetrics()
	connectionEvents.WithLabelValues(event).Inc()
}

func RecordPeerTrigger(node, trigger, status string, duration time.Duration) {
	RegisterMetrics()
	peerTriggers.WithLabelValues(node, trigger, status).Inc()
	peerTriggerDuration.WithLabelValues(node, trigger, status).Observe(duration.Seconds())
}
