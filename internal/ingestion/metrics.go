package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome and status label values.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomeBusy  = "busy"

	fileIndexed = "indexed"
	fileSkipped = "skipped"
	fileFailed  = "failed"
)

// pipelineMetrics holds the Prometheus metrics owned by a Pipeline.
type pipelineMetrics struct {
	// runsTotal counts Index calls by outcome: "ok", "error", or "busy".
	runsTotal *prometheus.CounterVec

	// durationSeconds records the wall-clock time of completed passes.
	durationSeconds *prometheus.HistogramVec

	// chunksTotal counts chunks written to the vector store.
	chunksTotal prometheus.Counter

	// filesTotal counts visited files by status.
	filesTotal *prometheus.CounterVec
}

// newPipelineMetrics registers the pipeline metrics against reg.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)

	return &pipelineMetrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leann",
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Total number of indexing passes requested, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leann",
			Subsystem: "index",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of indexing passes.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "leann",
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Total number of chunks written to the vector store.",
		}),

		filesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leann",
			Subsystem: "index",
			Name:      "files_total",
			Help:      "Total number of files visited, partitioned by status.",
		}, []string{"status"}),
	}
}
