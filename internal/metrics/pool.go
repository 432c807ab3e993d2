package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/allisson/mqingest/internal/broker"
)

// PoolStatusSource reports a connection pool snapshot. *broker.Pool implements it.
type PoolStatusSource interface {
	Status() broker.PoolStatus
}

// RegisterPoolMetrics exposes pool occupancy as observable gauges read at
// collection time.
func RegisterPoolMetrics(meterProvider metric.MeterProvider, namespace string, pool PoolStatusSource) error {
	meter := meterProvider.Meter(namespace)

	total, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_pool_connections", namespace),
		metric.WithDescription("Broker connections owned by the pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pool connections gauge: %w", err)
	}

	active, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_pool_connections_active", namespace),
		metric.WithDescription("Broker connections currently lent out"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active connections gauge: %w", err)
	}

	available, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_pool_connections_available", namespace),
		metric.WithDescription("Broker connections waiting to be lent"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create available connections gauge: %w", err)
	}

	maxSize, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_pool_connections_max", namespace),
		metric.WithDescription("Configured maximum pool size"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create max connections gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		status := pool.Status()
		o.ObserveInt64(total, int64(status.Total))
		o.ObserveInt64(active, int64(status.Active))
		o.ObserveInt64(available, int64(status.Available))
		o.ObserveInt64(maxSize, int64(status.MaxPoolSize))
		return nil
	}, total, active, available, maxSize)
	if err != nil {
		return fmt.Errorf("failed to register pool metrics callback: %w", err)
	}
	return nil
}
