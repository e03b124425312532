package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vm_network_migration"

var registerMetricsOnce sync.Once

var (
	// Registry holds every collector of this tool. It is separate from the
	// default registry so the textfile output only carries our metrics.
	Registry = prometheus.NewRegistry()

	ReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ip_preservation",
		Name:      "reservations_total",
		Help:      "Total number of external IP preservation attempts, by outcome.",
	}, []string{"outcome"})

	MigrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "migrations_total",
		Help:      "Total number of instance migrations, by result.",
	}, []string{"result"})

	MigrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "migration_duration_seconds",
		Help:      "Time taken by an instance migration.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
	})

	RollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Total number of rollbacks of the original instance, by result.",
	}, []string{"result"})
)

// IMPORTANT: register the metrics here
func RegisterMetrics() {
	registerMetricsOnce.Do(func() {
		Registry.MustRegister(ReservationsTotal, MigrationsTotal, MigrationDuration, RollbacksTotal)
	})
}

// WriteTextfile writes the current metrics in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
