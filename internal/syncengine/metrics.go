package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors serverapi's metrics shape on the client side: counters
// for each sync outcome plus a duration histogram per phase, generalized
// from the teacher's tiering.AccessTracker counters.
type Metrics struct {
	filesTotal    *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics instance. A nil Registerer is valid: the
// metrics are created but never exposed, which is what tests and one-off
// CLI invocations that skip /metrics want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivesync",
			Subsystem: "syncengine",
			Name:      "files_total",
			Help:      "Total files processed by a sync run, by outcome.",
		}, []string{"outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivesync",
			Subsystem: "syncengine",
			Name:      "bytes_total",
			Help:      "Total encrypted bytes transferred, by direction.",
		}, []string{"direction"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archivesync",
			Subsystem: "syncengine",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each sync phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.filesTotal, m.bytesTotal, m.phaseDuration)
	}
	return m
}

func (m *Metrics) observePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countFile(outcome string) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) countBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}
