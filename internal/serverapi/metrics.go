package serverapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics mirrors the counter/gauge shape tiering.AccessTracker's
// RecordAccess call site expects a metrics sink to provide, generalized
// from blob access counts to HTTP request counts/latencies.
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	blobBytesInOut  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivesync",
			Subsystem: "serverapi",
			Name:      "requests_total",
			Help:      "Total /api/v1 and /content requests by route and status.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archivesync",
			Subsystem: "serverapi",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		blobBytesInOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivesync",
			Subsystem: "serverapi",
			Name:      "blob_bytes_total",
			Help:      "Total blob bytes transferred through /content, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.blobBytesInOut)
	return m
}

// instrument wraps a handler with per-route request counting and latency
// observation.
func (m *metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
