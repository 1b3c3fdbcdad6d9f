package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type RiskMetrics struct {
	evaluations   *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	searches      prometheus.Histogram
	scanDuration  prometheus.Histogram
}

var (
	riskOnce     sync.Once
	riskRegistry *RiskMetrics
)

// Risk returns the lazily registered liquidation engine metrics.
func Risk() *RiskMetrics {
	riskOnce.Do(func() {
		riskRegistry = &RiskMetrics{
			evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tonstable",
				Subsystem: "risk",
				Name:      "evaluations_total",
				Help:      "Positions evaluated, by outcome.",
			}, []string{"outcome"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tonstable",
				Subsystem: "risk",
				Name:      "liquidations_submitted_total",
				Help:      "Liquidation messages handed to the sender, by result.",
			}, []string{"result"}),
			confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tonstable",
				Subsystem: "risk",
				Name:      "confirmations_total",
				Help:      "Confirmation polls, by whether the transaction was observed.",
			}, []string{"result"}),
			searches: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tonstable",
				Subsystem: "risk",
				Name:      "liquidation_searches",
				Help:      "Bisection steps spent sizing a liquidation.",
				Buckets:   []float64{1, 2, 4, 8, 16, 24, 32},
			}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tonstable",
				Subsystem: "risk",
				Name:      "scan_duration_seconds",
				Help:      "Wall time of a full position scan.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			riskRegistry.evaluations,
			riskRegistry.submissions,
			riskRegistry.confirmations,
			riskRegistry.searches,
			riskRegistry.scanDuration,
		)
	})
	return riskRegistry
}

func (m *RiskMetrics) ObserveEvaluation(outcome string, searches int) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	if searches > 0 {
		m.searches.Observe(float64(searches))
	}
}

func (m *RiskMetrics) ObserveSubmission(err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result(err == nil)).Inc()
}

func (m *RiskMetrics) ObserveConfirmation(confirmed bool) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result(confirmed)).Inc()
}

func (m *RiskMetrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
