package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hammerSearchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgenode",
		Subsystem: "hammer_search",
		Name:      "runs_total",
		Help:      "Count of hammer search sessions by outcome.",
	}, []string{"network", "outcome"})

	hammerSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forgenode",
		Subsystem: "hammer_search",
		Name:      "duration_seconds",
		Help:      "Duration of hammer search sessions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "outcome"})

	hammerSearchHammers = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forgenode",
		Subsystem: "hammer_search",
		Name:      "hammers_per_run",
		Help:      "Number of ready hammers available per search session.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
	}, []string{"network"})

	hammerPopulation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "forgenode",
		Subsystem: "hammer_search",
		Name:      "wallet_hammers",
		Help:      "Wallet hammer population by lifecycle status.",
	}, []string{"network", "status"})
)

// Hammer search outcomes.
const (
	SearchOutcomeSolved  = "solved"
	SearchOutcomeDry     = "dry"
	SearchOutcomeAborted = "aborted"
	SearchOutcomeSkipped = "skipped"
	SearchOutcomeError   = "error"
)

// HammerSearch tracks metrics for the mining-side hammer search.
type HammerSearch struct {
	network string
}

// NewHammerSearch constructs a HammerSearch with defaults.
func NewHammerSearch(network string) *HammerSearch {
	if network == "" {
		network = "unknown"
	}
	return &HammerSearch{network: network}
}

// ObserveRun records a finished search session.
func (m *HammerSearch) ObserveRun(outcome string, totalHammers int64, elapsed time.Duration) {
	hammerSearchRunsTotal.WithLabelValues(m.network, outcome).Inc()
	hammerSearchDuration.WithLabelValues(m.network, outcome).Observe(elapsed.Seconds())
	if totalHammers > 0 {
		hammerSearchHammers.WithLabelValues(m.network).Observe(float64(totalHammers))
	}
}

// ObserveSkip records a tip that was skipped before any search started.
func (m *HammerSearch) ObserveSkip() {
	hammerSearchRunsTotal.WithLabelValues(m.network, SearchOutcomeSkipped).Inc()
}

// SetWalletPopulation updates the wallet hammer population gauges.
func (m *HammerSearch) SetWalletPopulation(created, ready, dead int64) {
	hammerPopulation.WithLabelValues(m.network, "created").Set(float64(created))
	hammerPopulation.WithLabelValues(m.network, "ready").Set(float64(ready))
	hammerPopulation.WithLabelValues(m.network, "dead").Set(float64(dead))
}
