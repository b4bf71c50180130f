// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"expvar"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	questsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xgate",
			Subsystem: "gateway",
			Name:      "quests_total",
			Help:      "Quests answered by the gateway.",
		},
		[]string{"service", "method", "status"},
	)
	questDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xgate",
			Subsystem: "gateway",
			Name:      "quest_duration_seconds",
			Help:      "Time to dispatch and encode a quest, in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xgate",
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Responses written, by framing version.",
		},
		[]string{"version"},
	)
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(questsTotal, questDuration, framesTotal)
	})
}

func recordQuest(service, method string, status int64, elapsed time.Duration) {
	registerMetrics()
	statusLabel := strconv.FormatInt(status, 10)
	questsTotal.WithLabelValues(service, method, statusLabel).Inc()
	questDuration.WithLabelValues(service, method, statusLabel).Observe(elapsed.Seconds())
}

func recordFrame(m *expvar.Map, version int) {
	registerMetrics()
	framesTotal.WithLabelValues(strconv.Itoa(version)).Inc()
	if m != nil {
		m.Add("frames_v"+strconv.Itoa(version), 1)
	}
}

// MetricsHandler returns an HTTP handler exporting the gateway metrics in
// the Prometheus text format at /metrics, and the server's expvar map at
// /debug/vars.
func MetricsHandler() http.Handler {
	registerMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}
