package app

import (
	"context"
	"fmt"

	"github.com/allisson/mqingest/internal/broker"
	"github.com/allisson/mqingest/internal/metrics"
)

// BrokerFactory returns the circuit-breaking AMQP connection factory.
func (c *Container) BrokerFactory() *broker.AMQPFactory {
	c.brokerFactoryInit.Do(func() {
		c.brokerFactory = broker.NewAMQPFactory(broker.FactoryConfig{
			Host:            c.config.BrokerHost,
			Port:            c.config.BrokerPort,
			Vhost:           c.config.BrokerVhost,
			User:            c.config.BrokerUser,
			Password:        c.config.BrokerPassword,
			ConnectionName:  c.config.BrokerConnectionName,
			DialTimeout:     c.config.BrokerDialTimeout,
			Heartbeat:       c.config.BrokerHeartbeat,
			BreakerFailures: c.config.BrokerBreakerFailures,
			BreakerTimeout:  c.config.BrokerBreakerTimeout,
		}, c.Logger())
	})
	return c.brokerFactory
}

// BrokerPool returns the initialized connection pool.
func (c *Container) BrokerPool() (*broker.Pool, error) {
	var err error
	c.brokerPoolInit.Do(func() {
		c.brokerPool, err = c.initBrokerPool()
		if err != nil {
			c.initErrors["brokerPool"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["brokerPool"]; exists {
		return nil, storedErr
	}
	return c.brokerPool, nil
}

func (c *Container) initBrokerPool() (*broker.Pool, error) {
	pool := broker.NewPool(broker.PoolConfig{
		MinPoolSize: c.config.PoolMinSize,
		MaxPoolSize: c.config.PoolMaxSize,
		MaxWait:     c.config.PoolMaxWait,
		IdleTimeout: c.config.PoolIdleTimeout,
	}, c.BrokerFactory(), c.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := pool.Initialize(ctx); err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("failed to initialize broker pool: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		pool.Shutdown()
		return nil, fmt.Errorf("failed to get metrics provider for broker pool: %w", err)
	}
	if provider != nil {
		if err := metrics.RegisterPoolMetrics(provider.MeterProvider(), c.config.MetricsNamespace, pool); err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to register pool metrics: %w", err)
		}
	}

	return pool, nil
}
