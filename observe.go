package marqo

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// storeMetrics holds prometheus metrics registered for the store.
type storeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newStoreMetrics(reg prometheus.Registerer) (*storeMetrics, error) {
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marqo_haystack",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total document store operations by type and status.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marqo_haystack",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Document store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one, so several
// stores can share one registerer.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("%w: metric already registered with incompatible type: %T",
					ErrConfig, are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("%w: register metric: %w", ErrConfig, err)
	}
	return nil
}

// observer provides logging and metrics for store operations.
type observer struct {
	logger  *zap.Logger
	metrics *storeMetrics
}

func newObserver(logger *zap.Logger, reg prometheus.Registerer) (*observer, error) {
	var m *storeMetrics
	if reg != nil {
		var err error
		m, err = newStoreMetrics(reg)
		if err != nil {
			return nil, err
		}
	}
	return &observer{logger: logger, metrics: m}, nil
}

func (o *observer) observe(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)

	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.operations.WithLabelValues(op, status).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
	}

	if o.logger != nil {
		if err != nil {
			o.logger.Warn("operation failed",
				zap.String("op", op),
				zap.Duration("duration", dur),
				zap.Error(err),
			)
		} else {
			o.logger.Debug("operation completed",
				zap.String("op", op),
				zap.Duration("duration", dur),
			)
		}
	}
}
