package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	rebuilds         prometheus.Counter
	overridesCreated prometheus.Counter
	occurrences      *prometheus.CounterVec
	detached         prometheus.Counter
	mastersAdvanced  prometheus.Counter
	mastersDeleted   prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskinst_rebuilds_total",
			Help: "Total number of instance rebuilds",
		}),
		overridesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskinst_overrides_created_total",
			Help: "Total number of overrides created from a master occurrence",
		}),
		occurrences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskinst_occurrence_operations_total",
			Help: "Total number of occurrence operations by operation and task kind",
		}, []string{"operation", "kind"}),
		detached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskinst_detached_total",
			Help: "Total number of completed occurrences detached from their master",
		}),
		mastersAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskinst_masters_advanced_total",
			Help: "Total number of masters moved past completed occurrences",
		}),
		mastersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskinst_masters_deleted_total",
			Help: "Total number of masters deleted because their series ended",
		}),
	}
}

func (m *metrics) register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.rebuilds, m.overridesCreated, m.occurrences, m.detached, m.mastersAdvanced, m.mastersDeleted,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
