package pathdb

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts store operations. A nil *Metrics records nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Changes    *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "store_operations_total", Help: "Number of store operations by operation and outcome."},
			[]string{"op", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "store_operation_seconds", Help: "Store operation latency.", Buckets: prometheus.DefBuckets},
			[]string{"op"},
		),
		Changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "store_changes_total", Help: "Number of path changes written, by kind."},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(m.Operations)
	reg.MustRegister(m.Duration)
	reg.MustRegister(m.Changes)
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcomeOf(err)).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countChanges(diffs Diffs) {
	if m == nil {
		return
	}
	for _, chg := range diffs {
		m.Changes.WithLabelValues(chg.Op().String()).Inc()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidationError(err):
		return "invalid"
	case errors.Is(err, ErrMultipleMatches):
		return "ambiguous"
	default:
		return "error"
	}
}
