package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "points"

// Metrics counts points operations and implements points.OperationLogger.
type Metrics struct {
	operations *prometheus.CounterVec
	moved      *prometheus.CounterVec
}

// NewMetrics registers the points collectors on registerer. When locks is
// non-nil a gauge reports the number of live per-user critical sections.
func NewMetrics(registerer prometheus.Registerer, locks *points.LockManager) (*Metrics, error) {
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Charge and use operations by outcome",
			},
			[]string{"operation", "status"},
		),
		moved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "moved_total",
				Help:      "Points committed by charge and use",
			},
			[]string{"operation"},
		),
	}
	collectors := []prometheus.Collector{metrics.operations, metrics.moved}
	if locks != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "lock_sections",
				Help:      "Per-user critical sections currently held or awaited",
			},
			func() float64 { return float64(locks.Len()) },
		))
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *Metrics) LogOperation(_ context.Context, entry points.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Status == points.OperationStatusOK {
		metrics.moved.WithLabelValues(entry.Operation).Add(float64(entry.Amount.Int64()))
	}
}
