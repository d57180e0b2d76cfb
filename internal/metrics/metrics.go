// Package metrics holds the Prometheus collectors updated by the mailbox
// engine and the header cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_scan_entries_total",
			Help: "Number of directory entries accepted by mailbox scans.",
		},
		[]string{"flavor"},
	)
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_scan_duration_seconds",
			Help:    "Duration of full mailbox scans including delayed parsing.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 30},
		},
		[]string{"flavor"},
	)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_hcache_lookups_total",
			Help: "Header cache lookups by result.",
		},
		// hit, miss, stale
		[]string{"result"},
	)
	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_parse_errors_total",
			Help: "Messages dropped because their header could not be parsed.",
		},
	)
	CommitCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_commit_collisions_total",
			Help: "Commit renames retried because the target name existed.",
		},
	)
	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_commits_total",
			Help: "Messages committed into a mailbox.",
		},
		[]string{"flavor"},
	)
	Checks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_checks_total",
			Help: "Mailbox checks by resulting status.",
		},
		[]string{"status"},
	)
	Occult = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_occult_messages_total",
			Help: "Messages found removed from disk by another agent.",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
