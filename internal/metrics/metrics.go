// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors are registered at declaration so any package touching them
// observes a live collector, tests included.
var (
	linksRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsflow_links_registered_total",
			Help: "Discovered URLs offered to the dedup gate, labeled by result.",
		},
		[]string{"result"},
	)

	linkOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsflow_link_outcomes_total",
			Help: "Processing outcomes, labeled by class.",
		},
		[]string{"outcome"},
	)

	blacklistSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsflow_blacklist_skips_total",
			Help: "Items skipped because their domain is blacklisted.",
		},
	)

	claimRacesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsflow_claim_races_total",
			Help: "Claims lost to a concurrent worker.",
		},
	)

	stuckReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsflow_stuck_reclaimed_total",
			Help: "Processing items reclaimed to pending by the sweep.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsflow_active_workers",
			Help: "Workers currently driving an item.",
		},
	)

	domainCooldownSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsflow_domain_cooldown_seconds",
			Help:    "Remaining cooldown observed when a domain was skipped.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsflow_scheduler_batch_size",
			Help:    "Items selected per scheduling round.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)
)

// Init is kept as an explicit startup hook; registration happens at
// declaration via promauto.
func Init() {}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRegistration counts a dedup gate decision ("accepted" or "duplicate").
func ObserveRegistration(result string) {
	linksRegisteredTotal.WithLabelValues(result).Inc()
}

// ObserveOutcome counts a worker outcome ("completed", "failed_retryable",
// "failed_permanent", "blocked").
func ObserveOutcome(outcome string) {
	linkOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveBlacklistSkip counts a blacklist suppression.
func ObserveBlacklistSkip() {
	blacklistSkipsTotal.Inc()
}

// ObserveClaimRace counts a lost pending->processing claim.
func ObserveClaimRace() {
	claimRacesTotal.Inc()
}

// ObserveStuckReclaimed counts items reset by the recovery sweep.
func ObserveStuckReclaimed(n int) {
	stuckReclaimedTotal.Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveCooldownSkip records the remaining cooldown seen when a domain was
// passed over by the scheduler.
func ObserveCooldownSkip(domain string, remaining time.Duration) {
	domainCooldownSeconds.WithLabelValues(domain).Observe(remaining.Seconds())
}

// ObserveBatchSize records the size of a scheduling round.
func ObserveBatchSize(n int) {
	batchSize.Observe(float64(n))
}
