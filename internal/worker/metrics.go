package worker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	messagesTotal   *prometheus.CounterVec
	deadLetterTotal *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lens",
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Messages dispatched to handlers, by outcome",
		}, []string{"stream", "group", "result"})

		deadLetterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lens",
			Subsystem: "worker",
			Name:      "dead_letters_total",
			Help:      "Messages moved to a dead-letter stream after exhausting retries",
		}, []string{"stream", "group"})

		handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lens",
			Subsystem: "worker",
			Name:      "handle_seconds",
			Help:      "Handler latency per message",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stream", "group"})
	})
}

func observeHandle(stream, group string, d time.Duration, ok bool) {
	ensureMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	messagesTotal.WithLabelValues(stream, group, result).Inc()
	handleDuration.WithLabelValues(stream, group).Observe(d.Seconds())
}

func observeDeadLetter(stream, group string) {
	ensureMetrics()
	deadLetterTotal.WithLabelValues(stream, group).Inc()
}
