package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// Metrics holds the Prometheus metrics for pool operations.
type Metrics struct {
	opsTotal        *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	pools           prometheus.Gauge
	collateralValue prometheus.Counter
}

// NewMetrics creates and registers the pool service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolregistry_operations_total",
			Help: "Pool registry operations, labeled by operation and result.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolregistry_operation_duration_seconds",
			Help:    "Time spent inside a pool registry operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolregistry_pools",
			Help: "Number of pools currently held in the registry.",
		}),
		collateralValue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolregistry_collateral_value_usd_added_total",
			Help: "Sum of value_usd accepted through add-collateral.",
		}),
	}
	reg.MustRegister(m.opsTotal, m.opDuration, m.pools, m.collateralValue)
	return m
}

func (m *Metrics) observe(op string, err error) {
	m.opsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// resultLabel maps an operation error onto a low-cardinality label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrInactivePool):
		return "inactive_pool"
	case errors.Is(err, domain.ErrInvalidCollateral):
		return "invalid_collateral"
	default:
		return "error"
	}
}
