package metrics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "scanner_"

var (
	registerOnce sync.Once

	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "view_outcomes_total",
			Help: "Per-view unit outcomes by kind",
		},
		[]string{"view", "outcome"},
	)
	unitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "unit_duration_seconds",
			Help:    "Time from activating a unit to deactivating it",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "sessions_total",
			Help: "Finished scan sessions by mode and result",
		},
		[]string{"mode", "result"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_sessions",
			Help: "Scan sessions currently running",
		},
	)
)

// Init registers the collectors with reg, or the default registerer when reg is nil.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{outcomes, unitLatency, sessions, activeSessions} {
			if err := reg.Register(c); err != nil {
				log.Printf("Metrics: register collector: %v", err)
			}
		}
	})
}

func RecordOutcome(viewID int, outcome string) {
	outcomes.WithLabelValues(strconv.Itoa(viewID), outcome).Inc()
}

func ObserveUnit(mode string, d time.Duration) {
	unitLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func SessionStarted() {
	activeSessions.Inc()
}

func SessionFinished(mode string, err error) {
	activeSessions.Dec()
	result := "success"
	if err != nil {
		result = "error"
	}
	sessions.WithLabelValues(mode, result).Inc()
}
