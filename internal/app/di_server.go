package app

import (
	"context"
	"fmt"

	"github.com/allisson/mqingest/internal/http"
)

// OpsServer returns the ops HTTP server with health, readiness, pool and
// metrics routes configured.
func (c *Container) OpsServer() (*http.Server, error) {
	var err error
	c.opsServerInit.Do(func() {
		c.opsServer, err = c.initOpsServer()
		if err != nil {
			c.initErrors["opsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["opsServer"]; exists {
		return nil, storedErr
	}
	return c.opsServer, nil
}

func (c *Container) initOpsServer() (*http.Server, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for ops server: %w", err)
	}

	pool, err := c.BrokerPool()
	if err != nil {
		return nil, fmt.Errorf("failed to get broker pool for ops server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for ops server: %w", err)
	}

	checks := map[string]http.Checker{
		"database": db.PingContext,
		"broker": func(ctx context.Context) error {
			conn, err := pool.GetConnection(ctx)
			if err != nil {
				return err
			}
			pool.ReleaseConnection(conn)
			return nil
		},
	}

	server := http.NewServer(c.config.ServerHost, c.config.MetricsPort, c.Logger())
	server.SetupRouter(checks, pool, provider, c.config.MetricsNamespace)
	return server, nil
}
