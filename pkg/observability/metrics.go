package observability

import (
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    registerOnce sync.Once

    streamBytes = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "quicbridge",
            Subsystem: "stream",
            Name:      "bytes_total",
            Help:      "Bytes moved by stream tasks.",
        },
        []string{"role", "direction"},
    )
    streamDropped = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "quicbridge",
            Subsystem: "stream",
            Name:      "dropped_total",
            Help:      "Chunks dropped because a bounded queue was full or the task exited.",
        },
        []string{"role", "direction"},
    )
    streamClosed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "quicbridge",
            Subsystem: "stream",
            Name:      "closed_total",
            Help:      "Stream tasks that exited, by disconnect reason.",
        },
        []string{"role", "direction", "reason"},
    )
    connectionEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "quicbridge",
            Subsystem: "connection",
            Name:      "events_total",
            Help:      "Connection lifecycle events.",
        },
        []string{"role", "event"},
    )
    tickDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "quicbridge",
            Subsystem: "host",
            Name:      "tick_duration_seconds",
            Help:      "Time spent in one host tick.",
            Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
        },
    )
)

func RegisterMetrics() {
    registerOnce.Do(func() {
        prometheus.MustRegister(streamBytes, streamDropped, streamClosed, connectionEvents, tickDuration)
    })
}

func RecordStreamBytes(role, direction string, n int) {
    RegisterMetrics()
    streamBytes.WithLabelValues(role, direction).Add(float64(n))
}

func RecordStreamDropped(role, direction string, n int) {
    RegisterMetrics()
    streamDropped.WithLabelValues(role, direction).Add(float64(n))
}

func RecordStreamClosed(role, direction, reason string) {
    RegisterMetrics()
    streamClosed.WithLabelValues(role, direction, reason).Inc()
}

func RecordConnectionEvent(role, event string) {
    RegisterMetrics()
    connectionEvents.WithLabelValues(role, event).Inc()
}

func RecordTick(d time.Duration) {
    RegisterMetrics()
    tickDuration.Observe(d.Seconds())
}
