package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	importRows     *prometheus.CounterVec
	importRuns     *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	migrationRows  *prometheus.CounterVec
	wizardSteps    *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		importRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cveteval",
			Name:      "import_rows_total",
			Help:      "Rows processed by importers, by outcome (imported, skipped, failed).",
		}, []string{"kind", "outcome"}),
		importRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cveteval",
			Name:      "import_runs_total",
			Help:      "Import runs, by final status (ok, failed).",
		}, []string{"kind", "status"}),
		importDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cveteval",
			Name:      "import_duration_seconds",
			Help:      "Wall time of complete import runs.",
			Buckets: []float64{
				0.01, 0.05,
				0.1, 0.5,
				1, 2, 5, 10, 30, 60,
			},
		}, []string{"kind"}),
		migrationRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cveteval",
			Name:      "migration_cloned_rows_total",
			Help:      "User data rows cloned from one history to another.",
		}, []string{"table"}),
		wizardSteps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cveteval",
			Name:      "wizard_transitions_total",
			Help:      "Migration wizard transitions, by resulting step.",
		}, []string{"step"}),
	}
})

func get() *metrics {
	return metricsSingleton()
}

// ObserveImportRows counts n rows of a run once their outcome is final.
func ObserveImportRows(kind, outcome string, n int) {
	if n <= 0 {
		return
	}
	get().importRows.WithLabelValues(kind, outcome).Add(float64(n))
}

func ObserveImportRun(kind string, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m := get()
	m.importRuns.WithLabelValues(kind, status).Inc()
	m.importDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func ObserveClonedRows(table string, n int) {
	if n <= 0 {
		return
	}
	get().migrationRows.WithLabelValues(table).Add(float64(n))
}

func ObserveWizardStep(step string) {
	get().wizardSteps.WithLabelValues(step).Inc()
}
