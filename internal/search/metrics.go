package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels: index, op (index, delete), status (ok, error)
	flushOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microblog",
		Subsystem: "search",
		Name:      "flush_operations_total",
		Help:      "Index writes issued after relational commits",
	}, []string{"index", "op", "status"})

	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "microblog",
		Subsystem: "search",
		Name:      "flush_duration_seconds",
		Help:      "Time spent applying one captured change set",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// Labels: outcome (flushed, empty, discarded)
	changeSets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microblog",
		Subsystem: "search",
		Name:      "change_sets_total",
		Help:      "Unit-of-work change sets by outcome",
	}, []string{"outcome"})

	// Labels: index, status (ok, error, disabled)
	queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microblog",
		Subsystem: "search",
		Name:      "queries_total",
		Help:      "Full-text queries sent to the search backend",
	}, []string{"index", "status"})

	reindexedDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microblog",
		Subsystem: "search",
		Name:      "reindexed_documents_total",
		Help:      "Documents written by full reindex runs",
	}, []string{"index", "status"})
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
