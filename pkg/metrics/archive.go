package metrics

import "github.com/prometheus/client_golang/prometheus"

// ArchiveMetrics records dead-letter archiving.
type ArchiveMetrics struct {
	archived *prometheus.CounterVec
}

func NewArchiveMetrics(reg prometheus.Registerer) *ArchiveMetrics {
	if reg == nil {
		return &ArchiveMetrics{}
	}
	archived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dlq",
		Name:      "records_total",
		Help:      "Dead-letter records handled by the archiver, by result.",
	}, []string{"result"})
	reg.MustRegister(archived)
	return &ArchiveMetrics{archived: archived}
}

// Inc counts one record; result is "archived", "duplicate", "malformed" or "failed".
func (m *ArchiveMetrics) Inc(result string) {
	if m == nil || m.archived == nil {
		return
	}
	m.archived.WithLabelValues(normalizeLabel(result)).Inc()
}
