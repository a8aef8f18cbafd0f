// Package metrics exposes Prometheus instrumentation for the signal domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the signal-domain Prometheus collectors.
type Metrics struct {
	SignalsCreated     prometheus.Counter
	SignalsAutoFlagged prometheus.Counter
	VotesCast          prometheus.Counter
	VoteConflicts      prometheus.Counter
	MergesCompleted    prometheus.Counter
	SignalsAbsorbed    prometheus.Counter
	DedupeRuns         prometheus.Counter
	DedupeClusters     prometheus.Histogram
}

// New creates and registers all signal-domain metrics.
func New() *Metrics {
	return &Metrics{
		SignalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_signals_created_total",
			Help: "Total number of signals created.",
		}),
		SignalsAutoFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_signals_auto_flagged_total",
			Help: "Total number of signals auto-flagged at creation.",
		}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_votes_cast_total",
			Help: "Total number of votes recorded.",
		}),
		VoteConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_vote_conflicts_total",
			Help: "Total number of duplicate vote attempts rejected.",
		}),
		MergesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_merges_completed_total",
			Help: "Total number of merge operations completed.",
		}),
		SignalsAbsorbed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_signals_absorbed_total",
			Help: "Total number of duplicate signals absorbed by merges.",
		}),
		DedupeRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signalos_dedupe_runs_total",
			Help: "Total number of duplicate detection scans.",
		}),
		DedupeClusters: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalos_dedupe_clusters",
			Help:    "Number of duplicate clusters found per scan.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
	}
}
